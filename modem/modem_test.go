package modem

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"go.uber.org/zap"
)

// line is a serial line with a modem answering from a table.
type line struct {
	answers map[string]string
	rx      bytes.Buffer
	sent    []string
	data    []byte
	dtr     bool
	open    bool
	online  bool
}

func (l *line) Open() error                  { l.open = true; return nil }
func (l *line) Close() error                 { return nil }
func (l *line) Disconnect() error            { l.open = false; return nil }
func (l *line) IsOpen() bool                 { return l.open }
func (l *line) SetLogger(*zap.SugaredLogger) {}
func (l *line) SetDeadline(time.Time)        {}
func (l *line) SetTimeout(time.Duration)     {}
func (l *line) SetMaxReceivedBytes(int64)    {}
func (l *line) GetRxTxBytes() (int64, int64) { return 0, 0 }
func (l *line) SetRTS(bool) error            { return nil }
func (l *line) SetDTR(dtr bool) error        { l.dtr = dtr; return nil }
func (l *line) SetSpeed(int, base.SerialDataBits, base.SerialParity, base.SerialStopBits) error {
	return nil
}

func (l *line) Read(p []byte) (int, error) {
	if l.rx.Len() == 0 {
		return 0, base.ErrCommunicationTimeout
	}
	return l.rx.Read(p)
}

func (l *line) Write(src []byte) error {
	cmd := strings.TrimSuffix(string(src), "\r")
	if l.online && cmd != "+++" {
		l.data = append(l.data, src...)
		return nil
	}
	l.sent = append(l.sent, cmd)
	if a, ok := l.answers[cmd]; ok {
		l.rx.WriteString(a)
		if strings.Contains(a, "CONNECT") {
			l.online = true
		}
		if cmd == "+++" {
			l.online = false
		}
	}
	return nil
}

func hayes() map[string]string {
	return map[string]string{
		"AT":      "\r\nOK\r\n",
		"ATH":     "\r\nOK\r\n",
		"AT&F":    "\r\nOK\r\n",
		"ATE0":    "ATE0\r\r\nOK\r\n",
		"+++":     "\r\nOK\r\n",
		"ATDT555": "\r\nRINGING\r\n\r\nCONNECT 9600/ARQ\r\n",
		"ATDT666": "\r\nBUSY\r\n",
	}
}

func quick() Settings {
	s := DefaultSettings()
	s.EscapeGuard = 0
	s.Settle = 0
	return s
}

func dialer(l *line, number string, s Settings) *modem {
	m := New(l, number, s, time.Second).(*modem)
	m.sleep = func(time.Duration) {}
	return m
}

func TestDial(t *testing.T) {
	l := &line{answers: hayes()}
	m := dialer(l, "555", quick())
	if err := m.Write([]byte{1}); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("Write() before Open() error = %v", err)
	}
	if err := m.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !m.IsOpen() || !l.dtr {
		t.Errorf("open %v, DTR %v", m.IsOpen(), l.dtr)
	}
	if want := []string{"AT", "ATH", "AT&F", "ATE0", "ATDT555"}; strings.Join(l.sent, " ") != strings.Join(want, " ") {
		t.Errorf("commands = %q, want %q", l.sent, want)
	}
	if err := m.Write([]byte{0x7e, 0xa0}); err != nil || !bytes.Equal(l.data, []byte{0x7e, 0xa0}) {
		t.Errorf("Write() = %v, data %X", err, l.data)
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if got := l.sent[len(l.sent)-2:]; got[0] != "+++" || got[1] != "ATH" {
		t.Errorf("hang up commands = %q", got)
	}
	if l.dtr || l.open || m.IsOpen() {
		t.Errorf("after Disconnect(): DTR %v, line open %v, modem open %v", l.dtr, l.open, m.IsOpen())
	}
}

func TestDialFailures(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		answers map[string]string
		init    string
		err     error
	}{
		{"busy", "666", hayes(), "", ErrDial},
		{"silent modem", "555", map[string]string{}, "", ErrNoAnswer},
		{"init refused", "555", map[string]string{"AT": "\r\nOK\r\n", "AT+CBST=71": "\r\nERROR\r\n"}, "AT+CBST=71", ErrRefused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := quick()
			if tt.init != "" {
				s = s.WithInit(tt.init)
			}
			m := dialer(&line{answers: tt.answers}, tt.number, s)
			if err := m.Open(); !errors.Is(err, tt.err) {
				t.Errorf("Open() error = %v, want %v", err, tt.err)
			}
			if m.IsOpen() {
				t.Errorf("modem open after a failed dial")
			}
		})
	}
}

func TestWithInit(t *testing.T) {
	s := DefaultSettings().WithInit(" ATZ ; ATE0;;")
	if len(s.Init) != 2 || s.Init[0].Send != "ATZ" || s.Init[1].Send != "ATE0" {
		t.Errorf("Init = %+v", s.Init)
	}
}
