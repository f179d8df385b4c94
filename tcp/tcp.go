// Package tcp is the raw byte transport below the wrapper or HDLC layer: a client stream dialing
// a meter and the accept loop of a server.
package tcp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"go.uber.org/zap"
)

var ErrTooMuchData = errors.New("received more than allowed")

// Conn is what a stream needs from a connection, net.Conn and a QUIC stream both qualify.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// Dialer opens the connection of a stream.
type Dialer func(timeout time.Duration) (Conn, error)

type stream struct {
	name            string
	dial            Dialer
	logger          *zap.SugaredLogger
	connected       bool
	timeout         time.Duration
	conn            Conn
	offset          int
	read            int
	buffer          []byte
	deadline        time.Time
	totalincoming   int64
	totaloutgoing   int64
	currentincoming int64
	maxincoming     int64
}

// New is a stream to hostname:port, timeout bounds the connect and every single read or write.
func New(hostname string, port int, timeout time.Duration) base.Stream {
	address := net.JoinHostPort(hostname, strconv.Itoa(port))
	return NewStream(address, func(timeout time.Duration) (Conn, error) {
		return net.DialTimeout("tcp", address, timeout)
	}, timeout)
}

// NewStream is a stream over whatever dial opens, name only shows in logs.
func NewStream(name string, dial Dialer, timeout time.Duration) base.Stream {
	return &stream{
		name:    name,
		dial:    dial,
		timeout: timeout,
		buffer:  make([]byte, 2048),
	}
}

// NewConn is an already open stream over conn, e.g. an accepted connection.
func NewConn(conn Conn, name string, timeout time.Duration) base.Stream {
	s := NewStream(name, func(time.Duration) (Conn, error) {
		return nil, fmt.Errorf("%s cannot be reopened", name)
	}, timeout).(*stream)
	s.conn = conn
	s.connected = true
	return s
}

func (t *stream) logf(format string, v ...any) {
	if t.logger != nil {
		t.logger.Infof(format, v...)
	}
}

func (t *stream) Close() error {
	return nil // the association above is released, the connection stays
}

func (t *stream) Open() error {
	if t.connected {
		return nil
	}
	conn, err := t.dial(t.timeout)
	if err != nil {
		t.logf("Connect to %s failed: %v", t.name, err)
		return fmt.Errorf("connect failed: %w", err)
	}
	t.logf("Connected to %s", t.name)
	t.conn = conn
	t.connected = true
	t.offset = 0
	t.read = 0
	return nil
}

func (t *stream) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.connected = false
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.logf("Disconnected from %s", t.name)
	t.logf("Total bytes incoming: %v, outgoing: %v", t.totalincoming, t.totaloutgoing)
	return nil
}

func (t *stream) IsOpen() bool {
	return t.connected
}

func (t *stream) SetMaxReceivedBytes(m int64) {
	t.currentincoming = 0
	t.maxincoming = m
}

func (t *stream) SetDeadline(d time.Time) {
	t.deadline = d
}

func (t *stream) SetTimeout(d time.Duration) {
	t.timeout = d
}

func (t *stream) SetLogger(logger *zap.SugaredLogger) {
	t.logger = logger
}

func (t *stream) GetRxTxBytes() (int64, int64) {
	return t.totalincoming, t.totaloutgoing
}

// setcommdeadline applies the nearer of the operation timeout and the overall deadline.
func (t *stream) setcommdeadline() {
	var d time.Time
	if t.timeout > 0 {
		d = time.Now().Add(t.timeout)
	}
	if !t.deadline.IsZero() && (d.IsZero() || t.deadline.Before(d)) {
		d = t.deadline
	}
	_ = t.conn.SetDeadline(d)
}

func (t *stream) Write(src []byte) error {
	if !t.connected {
		return base.ErrNotOpened
	}
	for len(src) > 0 {
		t.setcommdeadline()
		n, err := t.conn.Write(src)
		t.totaloutgoing += int64(n)
		if t.logger != nil && n > 0 {
			t.logger.Debugf("TX (%s): %6d %s", t.name, n, encodeHexString(src[:n]))
		}
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		src = src[n:]
	}
	return nil
}

func (t *stream) Read(p []byte) (n int, err error) {
	if !t.connected {
		return 0, base.ErrNotOpened
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	if rem := t.read - t.offset; rem > 0 {
		n = copy(p, t.buffer[t.offset:t.read])
		t.offset += n
		return n, nil
	}

	t.setcommdeadline()
	rx, err := t.conn.Read(t.buffer)
	t.totalincoming += int64(rx)
	t.currentincoming += int64(rx)
	if t.maxincoming > 0 && t.currentincoming > t.maxincoming {
		return 0, ErrTooMuchData
	}
	if rx > 0 {
		t.read = rx
		n = copy(p, t.buffer[:rx])
		t.offset = n
		if t.logger != nil {
			t.logger.Debugf("RX (%s): %6d %s", t.name, rx, encodeHexString(t.buffer[:rx]))
		}
		return n, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 0, fmt.Errorf("%w: %w", base.ErrCommunicationTimeout, err)
	}
	if err != nil {
		return 0, err
	}
	return 0, io.EOF
}

func encodeHexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
