package base

import (
	"time"

	"go.uber.org/zap"
)

// Stream is a byte transport below the COSEM application layer. Decorators (hdlc, llc, wrapper)
// stack on top of raw transports (tcp, serial, quic) and expose the same interface.
type Stream interface {
	Close() error
	Open() error
	Disconnect() error // hard end of connection without solving any release or so
	IsOpen() bool
	SetLogger(logger *zap.SugaredLogger)
	SetDeadline(t time.Time)     // zero time means no deadline
	SetTimeout(t time.Duration)  // single read/write operation timeout
	SetMaxReceivedBytes(m int64) // every call resets current counter, exceeding bytes count means comm error, only incomming bytes are counted
	Read(p []byte) (n int, err error)
	Write(src []byte) error // always write everything
	GetRxTxBytes() (int64, int64)
}
