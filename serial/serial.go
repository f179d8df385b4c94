// Package serial carries HDLC over a local serial port, or over a transparent network to serial
// gateway whose line settings are fixed on the gateway itself.
package serial

import (
	"fmt"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Mode converts line settings, zero fields become 9600 8N1.
func Mode(s base.SerialStreamSettings) (*serial.Mode, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m := &serial.Mode{BaudRate: s.BaudRate, DataBits: int(s.DataBits)}
	switch s.Parity {
	case base.SerialNoParity:
		m.Parity = serial.NoParity
	case base.SerialOddParity:
		m.Parity = serial.OddParity
	case base.SerialEvenParity:
		m.Parity = serial.EvenParity
	case base.SerialMarkParity:
		m.Parity = serial.MarkParity
	case base.SerialSpaceParity:
		m.Parity = serial.SpaceParity
	}
	switch s.StopBits {
	case base.SerialOneStopBit:
		m.StopBits = serial.OneStopBit
	case base.SerialOneAndHalfStopBits:
		m.StopBits = serial.OnePointFiveStopBits
	case base.SerialTwoStopBits:
		m.StopBits = serial.TwoStopBits
	}
	if s.FlowControl != base.SerialNoFlowControl {
		return nil, fmt.Errorf("flow control %d is not supported", s.FlowControl)
	}
	return m, nil
}

// OpenPort opens a port for a server loop, reads block until data comes or the port is closed.
func OpenPort(name string, settings base.SerialStreamSettings) (serial.Port, error) {
	m, err := Mode(settings)
	if err != nil {
		return nil, err
	}
	return serial.Open(name, m)
}

type port struct {
	name          string
	settings      base.SerialStreamSettings
	logger        *zap.SugaredLogger
	port          serial.Port
	timeout       time.Duration
	deadline      time.Time
	totalincoming int64
	totaloutgoing int64
	current       int64
	max           int64
}

// New is a client stream over a local port, timeout bounds every single read.
func New(name string, settings base.SerialStreamSettings, timeout time.Duration) (base.SerialStream, error) {
	if _, err := Mode(settings); err != nil {
		return nil, err
	}
	return &port{name: name, settings: settings, timeout: timeout}, nil
}

func (p *port) logf(format string, v ...any) {
	if p.logger != nil {
		p.logger.Infof(format, v...)
	}
}

func (p *port) Open() error {
	if p.port != nil {
		return nil
	}
	sp, err := OpenPort(p.name, p.settings)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.name, err)
	}
	p.port = sp
	p.logf("%s opened at %d baud", p.name, p.settings.BaudRate)
	return nil
}

func (p *port) Close() error {
	return nil // the line stays up between associations
}

func (p *port) Disconnect() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	p.logf("%s closed, bytes incoming: %d, outgoing: %d", p.name, p.totalincoming, p.totaloutgoing)
	return err
}

func (p *port) IsOpen() bool {
	return p.port != nil
}

func (p *port) SetLogger(logger *zap.SugaredLogger) {
	p.logger = logger
}

func (p *port) SetDeadline(t time.Time) {
	p.deadline = t
}

func (p *port) SetTimeout(t time.Duration) {
	p.timeout = t
}

func (p *port) SetMaxReceivedBytes(m int64) {
	p.current = 0
	p.max = m
}

func (p *port) GetRxTxBytes() (int64, int64) {
	return p.totalincoming, p.totaloutgoing
}

func (p *port) readtimeout() (time.Duration, error) {
	t := p.timeout
	if !p.deadline.IsZero() {
		left := time.Until(p.deadline)
		if left <= 0 {
			return 0, base.ErrCommunicationTimeout
		}
		if t <= 0 || left < t {
			t = left
		}
	}
	if t <= 0 {
		return serial.NoTimeout, nil
	}
	return t, nil
}

func (p *port) Read(b []byte) (int, error) {
	if p.port == nil {
		return 0, base.ErrNotOpened
	}
	if len(b) == 0 {
		return 0, base.ErrNothingToRead
	}
	t, err := p.readtimeout()
	if err != nil {
		return 0, err
	}
	if err = p.port.SetReadTimeout(t); err != nil {
		return 0, err
	}
	n, err := p.port.Read(b)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, base.ErrCommunicationTimeout
	}
	p.totalincoming += int64(n)
	p.current += int64(n)
	if p.max > 0 && p.current > p.max {
		return 0, fmt.Errorf("received more than allowed")
	}
	if p.logger != nil {
		p.logger.Debugf("RX (%s): %6d %X", p.name, n, b[:n])
	}
	return n, nil
}

func (p *port) Write(src []byte) error {
	if p.port == nil {
		return base.ErrNotOpened
	}
	for len(src) > 0 {
		n, err := p.port.Write(src)
		p.totaloutgoing += int64(n)
		if err != nil {
			return err
		}
		if p.logger != nil {
			p.logger.Debugf("TX (%s): %6d %X", p.name, n, src[:n])
		}
		src = src[n:]
	}
	return nil
}

func (p *port) SetSpeed(baudRate int, dataBits base.SerialDataBits, parity base.SerialParity, stopBits base.SerialStopBits) error {
	if p.port == nil {
		return base.ErrNotOpened
	}
	s := p.settings
	s.BaudRate, s.DataBits, s.Parity, s.StopBits = baudRate, dataBits, parity, stopBits
	m, err := Mode(s)
	if err != nil {
		return err
	}
	if err = p.port.SetMode(m); err != nil {
		return err
	}
	p.settings = s
	return nil
}

func (p *port) SetDTR(dtr bool) error {
	if p.port == nil {
		return base.ErrNotOpened
	}
	return p.port.SetDTR(dtr)
}

func (p *port) SetRTS(rts bool) error {
	if p.port == nil {
		return base.ErrNotOpened
	}
	return p.port.SetRTS(rts)
}
