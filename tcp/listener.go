package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler serves one accepted connection until it returns.
type Handler func(ctx context.Context, rw io.ReadWriter) error

// idleconn closes a connection that stays silent for longer than idle.
type idleconn struct {
	net.Conn
	idle time.Duration
}

func (c *idleconn) Read(p []byte) (int, error) {
	if c.idle > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Read(p)
}

// Serve accepts connections on ln and runs handle for each of them in its own goroutine. It
// returns once ctx is done and every connection ended.
func Serve(ctx context.Context, ln net.Listener, idle time.Duration, handle Handler, logger *zap.SugaredLogger) error {
	var active sync.WaitGroup
	defer active.Wait()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}
		active.Add(1)
		go func() {
			defer active.Done()
			defer conn.Close()
			if logger != nil {
				logger.Infof("connection from %s", conn.RemoteAddr())
			}
			err := handle(ctx, &idleconn{Conn: conn, idle: idle})
			if logger != nil {
				if err != nil {
					logger.Warnf("connection from %s ended: %v", conn.RemoteAddr(), err)
				} else {
					logger.Infof("connection from %s closed", conn.RemoteAddr())
				}
			}
		}()
	}
}
