package llc

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

const (
	DSAP         = 0xe6
	RequestSSAP  = 0xe6 // client to server
	ResponseSSAP = 0xe7 // server to client
	Quality      = 0x00
	HeaderSize   = 3
)

var ErrHeader = errors.New("llc: invalid header")

// Strip checks the LLC header of a received information field and returns
// the APDU behind it. Both request and response headers are accepted.
func Strip(payload []byte) ([]byte, error) {
	if len(payload) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeader, len(payload))
	}
	if payload[0] != DSAP || (payload[1] != RequestSSAP && payload[1] != ResponseSSAP) || payload[2] != Quality {
		return nil, fmt.Errorf("%w: %X", ErrHeader, payload[:HeaderSize])
	}
	return payload[HeaderSize:], nil
}

// WriteResponse puts the server to client header at the writer position.
func WriteResponse(dst *cursor.Cursor) error {
	return dst.WriteBuffer([]byte{DSAP, ResponseSSAP, Quality})
}

// WriteRequest puts the client to server header at the writer position.
func WriteRequest(dst *cursor.Cursor) error {
	return dst.WriteBuffer([]byte{DSAP, RequestSSAP, Quality})
}

type llc struct {
	transport base.Stream
	logger    *zap.SugaredLogger
	header    [HeaderSize]byte
	state     int // 0 - start, 1 - writing, 2 - reading
}

// New decorates a client stream (usually hdlc) with the request/response LLC headers.
func New(transport base.Stream) base.Stream {
	return &llc{
		transport: transport,
	}
}

func (l *llc) Close() error {
	return l.transport.Close()
}

func (l *llc) Disconnect() error {
	return l.transport.Disconnect()
}

func (l *llc) IsOpen() bool {
	return l.transport.IsOpen()
}

func (l *llc) Open() error {
	l.state = 0
	return l.transport.Open()
}

func (l *llc) Read(p []byte) (n int, err error) {
	if l.state == 2 {
		return l.transport.Read(p)
	}
	l.state = 2
	if _, err = io.ReadFull(l.transport, l.header[:]); err != nil {
		return
	}
	if l.header[0] != DSAP || l.header[1] != ResponseSSAP || l.header[2] != Quality {
		return 0, fmt.Errorf("%w: %X received", ErrHeader, l.header[:])
	}
	return l.transport.Read(p)
}

func (l *llc) Write(src []byte) error {
	if l.state == 1 {
		return l.transport.Write(src)
	}
	l.state = 1
	l.header = [HeaderSize]byte{DSAP, RequestSSAP, Quality}
	if err := l.transport.Write(l.header[:]); err != nil {
		return err
	}
	return l.transport.Write(src)
}

func (l *llc) SetMaxReceivedBytes(m int64) {
	l.transport.SetMaxReceivedBytes(m)
}

func (l *llc) SetDeadline(t time.Time) {
	l.transport.SetDeadline(t)
}

func (l *llc) SetTimeout(t time.Duration) {
	l.transport.SetTimeout(t)
}

func (l *llc) SetLogger(logger *zap.SugaredLogger) {
	l.logger = logger
	l.transport.SetLogger(logger)
}

func (l *llc) GetRxTxBytes() (int64, int64) {
	return l.transport.GetRxTxBytes()
}
