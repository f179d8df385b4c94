package serial

import (
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"go.uber.org/zap"
)

// gateway is a serial line behind a transparent network gateway, usually reached over tcp. The
// line settings live on the gateway, changing them here is only logged.
type gateway struct {
	transport base.Stream
	isopen    bool
	logger    *zap.SugaredLogger
}

func NewGateway(t base.Stream) base.SerialStream {
	return &gateway{transport: t}
}

func (g *gateway) logf(format string, v ...any) {
	if g.logger != nil {
		g.logger.Infof(format, v...)
	}
}

func (g *gateway) Close() error {
	return nil
}

func (g *gateway) Disconnect() error {
	g.isopen = false
	return g.transport.Disconnect()
}

func (g *gateway) GetRxTxBytes() (int64, int64) {
	return g.transport.GetRxTxBytes()
}

func (g *gateway) Open() error {
	if g.isopen {
		return nil
	}
	if err := g.transport.Open(); err != nil {
		return err
	}
	g.isopen = true
	return nil
}

func (g *gateway) IsOpen() bool {
	return g.isopen
}

func (g *gateway) Read(p []byte) (int, error) {
	if !g.isopen {
		return 0, base.ErrNotOpened
	}
	return g.transport.Read(p)
}

func (g *gateway) Write(src []byte) error {
	if !g.isopen {
		return base.ErrNotOpened
	}
	return g.transport.Write(src)
}

func (g *gateway) SetTimeout(t time.Duration) {
	g.transport.SetTimeout(t)
}

func (g *gateway) SetDeadline(t time.Time) {
	g.transport.SetDeadline(t)
}

func (g *gateway) SetLogger(logger *zap.SugaredLogger) {
	g.logger = logger
	g.transport.SetLogger(logger)
}

func (g *gateway) SetMaxReceivedBytes(m int64) {
	g.transport.SetMaxReceivedBytes(m)
}

func (g *gateway) SetSpeed(baudRate int, dataBits base.SerialDataBits, parity base.SerialParity, stopBits base.SerialStopBits) error {
	if !g.isopen {
		return base.ErrNotOpened
	}
	g.logf("SetSpeed: %d,%v,%v,%v (set on the gateway, ignoring)", baudRate, dataBits, parity, stopBits)
	return nil
}

func (g *gateway) SetDTR(dtr bool) error {
	if !g.isopen {
		return base.ErrNotOpened
	}
	g.logf("SetDTR: %v (ignoring)", dtr)
	return nil
}

func (g *gateway) SetRTS(rts bool) error {
	if !g.isopen {
		return base.ErrNotOpened
	}
	g.logf("SetRTS: %v (ignoring)", rts)
	return nil
}
