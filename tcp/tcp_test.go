package tcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
)

func TestConnStream(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	s := NewConn(a, "pipe", 200*time.Millisecond)
	if !s.IsOpen() {
		t.Fatalf("stream over an accepted connection is not open")
	}

	go func() {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(b, buf); err != nil {
			return
		}
		_, _ = b.Write(append(buf, '!'))
	}()
	if err := s.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got := make([]byte, 6)
	if _, err := io.ReadFull(s, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello!")) {
		t.Errorf("Read() = %q", got)
	}
	if rx, tx := s.GetRxTxBytes(); rx != 6 || tx != 5 {
		t.Errorf("GetRxTxBytes() = %d, %d", rx, tx)
	}

	if _, err := s.Read(got); !errors.Is(err, base.ErrCommunicationTimeout) {
		t.Errorf("Read() of a silent peer error = %v, want timeout", err)
	}

	s.SetMaxReceivedBytes(2)
	go func() { _, _ = b.Write([]byte("abc")) }()
	if _, err := s.Read(got); !errors.Is(err, ErrTooMuchData) {
		t.Errorf("Read() over the limit error = %v", err)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(got); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("Read() after Disconnect() error = %v", err)
	}
	if err := s.Open(); err == nil {
		t.Errorf("Open() of an accepted connection succeeded")
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, time.Second, func(_ context.Context, rw io.ReadWriter) error {
			_, err := io.Copy(rw, rw)
			return err
		}, nil)
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	for round := range 2 {
		s := New(host, p, 2*time.Second)
		if err = s.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		msg := []byte{0x00, 0x01, byte(round)}
		if err = s.Write(msg); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got := make([]byte, len(msg))
		if _, err = io.ReadFull(s, got); err != nil || !bytes.Equal(got, msg) {
			t.Errorf("echo = %X, %v", got, err)
		}
		if err = s.Disconnect(); err != nil {
			t.Fatal(err)
		}
	}

	cancel()
	select {
	case err = <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve() did not return")
	}
}

func TestDialFailure(t *testing.T) {
	s := NewStream("nowhere", func(time.Duration) (Conn, error) {
		return nil, errors.New("refused")
	}, time.Second)
	if err := s.Open(); err == nil || s.IsOpen() {
		t.Errorf("Open() error = %v, open %v", err, s.IsOpen())
	}
	if err := s.Write([]byte{1}); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("Write() error = %v", err)
	}
}
