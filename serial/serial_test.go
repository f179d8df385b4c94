package serial

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/tcp"
	"go.bug.st/serial"
)

func TestMode(t *testing.T) {
	tests := []struct {
		name     string
		settings base.SerialStreamSettings
		want     serial.Mode
		ok       bool
	}{
		{"defaults", base.SerialStreamSettings{}, serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, true},
		{"iec 62056-21 start", base.SerialStreamSettings{BaudRate: 300, DataBits: base.Serial7DataBits, Parity: base.SerialEvenParity}, serial.Mode{BaudRate: 300, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.OneStopBit}, true},
		{"two stop bits", base.SerialStreamSettings{BaudRate: 19200, StopBits: base.SerialTwoStopBits, Parity: base.SerialOddParity}, serial.Mode{BaudRate: 19200, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}, true},
		{"hardware flow control", base.SerialStreamSettings{FlowControl: base.SerialHWFlowControl}, serial.Mode{}, false},
		{"baud rate", base.SerialStreamSettings{BaudRate: 100}, serial.Mode{}, false},
		{"data bits", base.SerialStreamSettings{DataBits: 9}, serial.Mode{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Mode(tt.settings)
			if !tt.ok {
				if err == nil {
					t.Errorf("Mode() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Mode() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("Mode() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestPortNotOpened(t *testing.T) {
	p, err := New("/dev/null-port", base.SerialStreamSettings{}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.IsOpen() {
		t.Errorf("port open before Open()")
	}
	if _, err = p.Read(make([]byte, 1)); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("Read() error = %v", err)
	}
	if err = p.SetDTR(true); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("SetDTR() error = %v", err)
	}
	if _, err = New("/dev/null-port", base.SerialStreamSettings{FlowControl: base.SerialHWFlowControl}, time.Second); err == nil {
		t.Errorf("New() with flow control succeeded")
	}
}

func TestGateway(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	g := NewGateway(tcp.NewConn(a, "gateway", time.Second))
	if err := g.Write([]byte{0x7e}); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("Write() before Open() error = %v", err)
	}
	if err := g.Open(); err != nil {
		t.Fatal(err)
	}
	if err := g.SetSpeed(300, base.Serial7DataBits, base.SerialEvenParity, base.SerialOneStopBit); err != nil {
		t.Errorf("SetSpeed() error = %v", err)
	}
	go func() {
		buf := make([]byte, 2)
		if _, err := io.ReadFull(b, buf); err == nil {
			_, _ = b.Write(buf)
		}
	}()
	if err := g.Write([]byte{0x7e, 0xa0}); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 2)
	if _, err := io.ReadFull(g, got); err != nil || !bytes.Equal(got, []byte{0x7e, 0xa0}) {
		t.Errorf("Read() = %X, %v", got, err)
	}
	if err := g.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if g.IsOpen() {
		t.Errorf("gateway open after Disconnect()")
	}
}
