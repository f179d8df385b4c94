package quic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// freeaddr is a loopback UDP address nobody listens on.
func freeaddr(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	addr := pc.LocalAddr().String()
	_ = pc.Close()
	return addr
}

func TestStream(t *testing.T) {
	conf, err := SelfSigned()
	if err != nil {
		t.Fatal(err)
	}
	addr := freeaddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr, conf, 5*time.Second, func(_ context.Context, rw io.ReadWriter) error {
			_, err := io.Copy(rw, rw)
			return err
		}, nil)
	}()

	s := New(addr, Insecure(), 5*time.Second)
	var opened error
	for range 20 {
		if opened = s.Open(); opened == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if opened != nil {
		t.Fatalf("Open() error = %v", opened)
	}
	msg := []byte{0x00, 0x01, 0x00, 0x10, 0x00, 0x01, 0x00, 0x01, 0x60}
	if err = s.Write(msg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got := make([]byte, len(msg))
	if _, err = io.ReadFull(s, got); err != nil || !bytes.Equal(got, msg) {
		t.Errorf("echo = %X, %v", got, err)
	}
	if err = s.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}

	cancel()
	select {
	case err = <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Serve() did not return")
	}
}
