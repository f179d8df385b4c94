// Package wrapper implements the DLMS Wrapper protocol for TCP/IP transport.
//
// The wrapper adds a 8-byte header in front of every APDU:
//   - Version (2 bytes): always 0x0001
//   - Source WPORT (2 bytes): sender SAP
//   - Destination WPORT (2 bytes): receiver SAP
//   - Length (2 bytes): APDU length
package wrapper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

const (
	Version    = 1
	HeaderSize = 8
	MaxAPDU    = 65535
)

var (
	ErrVersion = errors.New("wrapper: invalid version")
	ErrLength  = errors.New("wrapper: length mismatch")
)

type Header struct {
	Version     uint16
	Source      uint16
	Destination uint16
	Length      uint16
}

// Encode writes header and apdu at the writer position of dst.
func Encode(dst *cursor.Cursor, source uint16, destination uint16, apdu []byte) error {
	if len(apdu) > MaxAPDU {
		return fmt.Errorf("%w: apdu of %d bytes", ErrLength, len(apdu))
	}
	if dst.Free() < HeaderSize+len(apdu) {
		return cursor.ErrOverflow
	}
	_ = dst.WriteU16(Version)
	_ = dst.WriteU16(source)
	_ = dst.WriteU16(destination)
	_ = dst.WriteU16(uint16(len(apdu)))
	return dst.WriteBuffer(apdu)
}

func parseheader(b []byte) (h Header, err error) {
	h.Version = binary.BigEndian.Uint16(b)
	h.Source = binary.BigEndian.Uint16(b[2:])
	h.Destination = binary.BigEndian.Uint16(b[4:])
	h.Length = binary.BigEndian.Uint16(b[6:])
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}

// Decode parses one complete wrapper PDU, buf must hold exactly header and APDU.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrLength, len(buf))
	}
	h, err := parseheader(buf)
	if err != nil {
		return h, nil, err
	}
	if len(buf) != int(h.Length)+HeaderSize {
		return h, nil, fmt.Errorf("%w: header says %d, have %d", ErrLength, h.Length, len(buf)-HeaderSize)
	}
	return h, buf[HeaderSize:], nil
}

// ReadPDU reads one wrapper PDU from r into buf and returns its header and APDU.
func ReadPDU(r io.Reader, buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: buffer of %d bytes", ErrLength, len(buf))
	}
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return Header{}, nil, err
	}
	h, err := parseheader(buf)
	if err != nil {
		return h, nil, err
	}
	if int(h.Length)+HeaderSize > len(buf) {
		return h, nil, fmt.Errorf("%w: apdu of %d bytes does not fit %d", ErrLength, h.Length, len(buf)-HeaderSize)
	}
	if _, err = io.ReadFull(r, buf[HeaderSize:HeaderSize+int(h.Length)]); err != nil {
		return h, nil, err
	}
	return h, buf[HeaderSize : HeaderSize+int(h.Length)], nil
}

type wrapper struct {
	transport   base.Stream
	logger      *zap.SugaredLogger
	source      uint16
	destination uint16
	buffer      []byte // send buffer and header buffer
	remaining   int
	expresp     bool
	towrite     int
}

func (w *wrapper) logf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Infof(format, v...)
	}
}

// New creates a client wrapper layer around the provided transport stream.
// The source and destination are WPORT addresses used in the wrapper header.
func New(transport base.Stream, source uint16, destination uint16) (base.Stream, error) {
	return &wrapper{
		transport:   transport,
		source:      source,
		destination: destination,
		buffer:      make([]byte, 2048),
	}, nil
}

func (w *wrapper) Close() error {
	return w.transport.Close()
}

func (w *wrapper) Disconnect() error {
	return w.transport.Disconnect()
}

func (w *wrapper) IsOpen() bool {
	return w.transport.IsOpen()
}

func (w *wrapper) Open() error {
	w.logf("opening wrapper with source %d and destination %d", w.source, w.destination)
	w.remaining = 0
	w.towrite = 0
	w.expresp = false
	return w.transport.Open()
}

func (w *wrapper) SetMaxReceivedBytes(m int64) {
	w.transport.SetMaxReceivedBytes(m)
}

func (w *wrapper) SetTimeout(to time.Duration) {
	w.transport.SetTimeout(to)
}

func (w *wrapper) SetDeadline(t time.Time) {
	w.transport.SetDeadline(t)
}

func (w *wrapper) SetLogger(logger *zap.SugaredLogger) {
	w.logger = logger
	w.transport.SetLogger(logger)
}

func (w *wrapper) Write(src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if w.towrite+len(src) > MaxAPDU+HeaderSize {
		return fmt.Errorf("%w: size=%d max=%d", ErrLength, w.towrite+len(src), MaxAPDU+HeaderSize)
	}
	// unread rest of the previous answer
	for w.remaining > 0 {
		n, err := w.transport.Read(w.buffer[:min(w.remaining, len(w.buffer))])
		w.remaining -= n
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no data read")
		}
	}

	if w.towrite == 0 {
		binary.BigEndian.PutUint16(w.buffer, Version)
		binary.BigEndian.PutUint16(w.buffer[2:], w.source)
		binary.BigEndian.PutUint16(w.buffer[4:], w.destination)
		w.towrite = HeaderSize
	}

	if w.towrite+len(src) > len(w.buffer) {
		tmp := make([]byte, w.towrite+len(src))
		copy(tmp, w.buffer[:w.towrite])
		w.buffer = tmp
	}

	copy(w.buffer[w.towrite:], src)
	w.towrite += len(src)
	w.expresp = true
	return nil
}

func (w *wrapper) flush() error {
	if w.towrite == 0 {
		return fmt.Errorf("there is nothing to flush")
	}
	binary.BigEndian.PutUint16(w.buffer[6:], uint16(w.towrite-HeaderSize))
	if err := w.transport.Write(w.buffer[:w.towrite]); err != nil {
		return err
	}
	w.towrite = 0
	return nil
}

func (w *wrapper) Read(p []byte) (n int, err error) {
	if w.expresp {
		if err = w.flush(); err != nil {
			return
		}
		if _, err = io.ReadFull(w.transport, w.buffer[:HeaderSize]); err != nil {
			return
		}
		h, err := parseheader(w.buffer)
		if err != nil {
			return 0, err
		}
		if h.Source != w.destination || h.Destination != w.source {
			return 0, fmt.Errorf("invalid source or destination %d -> %d", h.Source, h.Destination)
		}
		w.remaining = int(h.Length)
		w.expresp = false
	}

	n = len(p)
	if n == 0 {
		return 0, base.ErrNothingToRead
	}
	if w.remaining == 0 {
		return 0, io.EOF
	}
	if n > w.remaining {
		n = w.remaining
	}
	n, err = w.transport.Read(p[:n])
	w.remaining -= n
	return
}

func (w *wrapper) GetRxTxBytes() (int64, int64) {
	return w.transport.GetRxTxBytes()
}
