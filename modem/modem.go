// Package modem dials a meter through a Hayes compatible modem on a serial line. The returned
// stream carries data once the modem reports CONNECT and hangs up on Disconnect.
package modem

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"go.uber.org/zap"
)

var (
	ErrNoAnswer = errors.New("modem: not responding")
	ErrRefused  = errors.New("modem: command refused")
	ErrDial     = errors.New("modem: dial failed")
)

const (
	cr       = '\r'
	lf       = '\n'
	maxLine  = 1024
	maxLines = 128
)

var (
	okRex    = regexp.MustCompile(`^OK(?:\s+.*)?$`)
	errorRex = regexp.MustCompile(`^ERROR(?:\s+.*)?$`)
)

// Command is one AT command with the final result codes it accepts or refuses. Lines matching
// neither are information text and skipped.
type Command struct {
	Send string
	OK   *regexp.Regexp
	Fail *regexp.Regexp
}

// At is a command ending with OK or ERROR.
func At(send string) Command {
	return Command{Send: send, OK: okRex, Fail: errorRex}
}

type Settings struct {
	Init        []Command // sent after the modem answers AT
	Dial        string    // prefix of the phone number
	HangUp      string
	Escape      string
	EscapeGuard time.Duration // silence around the escape sequence
	Command     time.Duration // answer timeout of a command
	DialTimeout time.Duration
	Settle      time.Duration // pause after CONNECT
	Connect     *regexp.Regexp
	NoConnect   *regexp.Regexp
}

// DefaultSettings resets the modem, turns the echo off and dials with tone.
func DefaultSettings() Settings {
	return Settings{
		Init:        []Command{At("ATH"), At("AT&F"), At("ATE0")},
		Dial:        "ATDT",
		HangUp:      "ATH",
		Escape:      "+++",
		EscapeGuard: 1500 * time.Millisecond,
		Command:     2500 * time.Millisecond,
		DialTimeout: 60 * time.Second,
		Settle:      500 * time.Millisecond,
		Connect:     regexp.MustCompile(`^CONNECT(?:\s+.*)?$`),
		NoConnect:   regexp.MustCompile(`^(?:NO CARRIER|NO ANSWER|NO DIALTONE|ERROR|BUSY)(?:\s+.*)?$`),
	}
}

// WithInit replaces the init commands by the ';' separated ones of s, e.g. "ATZ;ATE0".
func (s Settings) WithInit(init string) Settings {
	s.Init = nil
	for _, c := range strings.Split(init, ";") {
		if c = strings.TrimSpace(c); c != "" {
			s.Init = append(s.Init, At(c))
		}
	}
	return s
}

type modem struct {
	line      base.SerialStream
	number    string
	settings  Settings
	logger    *zap.SugaredLogger
	isopen    bool
	connected bool
	timeout   time.Duration // data phase
	sleep     func(time.Duration)
}

// New dials number over line on Open, timeout applies to the data phase.
func New(line base.SerialStream, number string, settings Settings, timeout time.Duration) base.Stream {
	return &modem{line: line, number: number, settings: settings, timeout: timeout, sleep: time.Sleep}
}

func (m *modem) logf(format string, v ...any) {
	if m.logger != nil {
		m.logger.Infof(format, v...)
	}
}

// readline returns the next non empty line, result codes are framed by CR LF.
func (m *modem) readline() (string, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := m.line.Read(b[:]); err != nil {
			return "", err
		}
		c := b[0] & 0x7f
		switch {
		case c == lf:
			if len(line) > 0 {
				return string(line), nil
			}
		case c == cr:
		case len(line) >= maxLine:
			return "", fmt.Errorf("modem: line over %d bytes", maxLine)
		default:
			line = append(line, c)
		}
	}
}

// answer waits for the final result code of cmd.
func (m *modem) answer(cmd Command) error {
	for range maxLines {
		l, err := m.readline()
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrNoAnswer, cmd.Send, err)
		}
		m.logf("modem: %s", l)
		if cmd.OK.MatchString(l) {
			return nil
		}
		if cmd.Fail != nil && cmd.Fail.MatchString(l) {
			return fmt.Errorf("%w: %q answered %q", ErrRefused, cmd.Send, l)
		}
	}
	return fmt.Errorf("modem: no result code in %d lines", maxLines)
}

func (m *modem) send(cmd Command) error {
	m.logf("modem: %s", cmd.Send)
	if err := m.line.Write(append([]byte(cmd.Send), cr)); err != nil {
		return err
	}
	return m.answer(cmd)
}

// Open raises DTR, checks the modem is there, initializes it and dials.
func (m *modem) Open() error {
	if m.connected {
		return nil
	}
	if err := m.line.Open(); err != nil {
		return err
	}
	m.isopen = true
	if err := m.line.SetDTR(true); err != nil {
		return err
	}
	m.line.SetTimeout(m.settings.Command)
	var err error
	for range 3 {
		if err = m.send(At("AT")); err == nil {
			break
		}
		m.sleep(m.settings.EscapeGuard)
	}
	if err != nil {
		return err
	}
	for _, cmd := range m.settings.Init {
		if err = m.send(cmd); err != nil {
			return err
		}
	}

	m.line.SetTimeout(m.settings.DialTimeout)
	dial := Command{Send: m.settings.Dial + m.number, OK: m.settings.Connect, Fail: m.settings.NoConnect}
	if err = m.send(dial); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDial, m.number, err)
	}
	m.logf("modem: connected to %s", m.number)
	m.sleep(m.settings.Settle)
	m.line.SetTimeout(m.timeout)
	m.connected = true
	return nil
}

// hangup escapes to command mode and hangs up, DTR drops whatever the modem answers.
func (m *modem) hangup() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	defer func() {
		if err := m.line.SetDTR(false); err != nil {
			m.logf("modem: DTR: %v", err)
		}
	}()
	m.sleep(m.settings.EscapeGuard)
	if err := m.line.Write([]byte(m.settings.Escape)); err != nil {
		return err
	}
	m.sleep(m.settings.EscapeGuard)
	m.line.SetTimeout(m.settings.Command)
	if err := m.answer(At(m.settings.Escape)); err != nil {
		m.logf("modem: escape: %v", err)
	}
	var err error
	for range 3 {
		if err = m.send(At(m.settings.HangUp)); err == nil {
			return nil
		}
	}
	return fmt.Errorf("modem: hang up: %w", err)
}

func (m *modem) Close() error {
	return nil
}

func (m *modem) Disconnect() error {
	if !m.isopen {
		return nil
	}
	m.isopen = false
	err := m.hangup()
	if derr := m.line.Disconnect(); err == nil {
		err = derr
	}
	return err
}

func (m *modem) IsOpen() bool {
	return m.connected
}

func (m *modem) Read(p []byte) (int, error) {
	if !m.connected {
		return 0, base.ErrNotOpened
	}
	return m.line.Read(p)
}

func (m *modem) Write(src []byte) error {
	if !m.connected {
		return base.ErrNotOpened
	}
	return m.line.Write(src)
}

func (m *modem) SetTimeout(t time.Duration) {
	m.timeout = t
	if m.connected {
		m.line.SetTimeout(t)
	}
}

func (m *modem) SetDeadline(t time.Time) {
	m.line.SetDeadline(t)
}

func (m *modem) SetLogger(logger *zap.SugaredLogger) {
	m.logger = logger
	m.line.SetLogger(logger)
}

func (m *modem) SetMaxReceivedBytes(n int64) {
	m.line.SetMaxReceivedBytes(n)
}

func (m *modem) GetRxTxBytes() (int64, int64) {
	return m.line.GetRxTxBytes()
}
