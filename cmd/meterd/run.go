package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/config"
	"github.com/cybroslabs/libcosem-go/database"
	"github.com/cybroslabs/libcosem-go/hdlc"
	"github.com/cybroslabs/libcosem-go/quic"
	"github.com/cybroslabs/libcosem-go/serial"
	"github.com/cybroslabs/libcosem-go/server"
	"github.com/cybroslabs/libcosem-go/tcp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// managementLogical is the logical device HDLC frames are addressed to.
const managementLogical = 1

// group runs the listeners, the first failure cancels the others.
type group struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
}

func (g *group) start(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		err := fn()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		g.mu.Lock()
		if g.err == nil {
			g.err = fmt.Errorf("%s: %w", name, err)
		}
		g.mu.Unlock()
		g.cancel()
	}()
}

func (g *group) wait() error {
	g.wg.Wait()
	return g.err
}

func run(ctx context.Context, f *config.ServerFile, db *database.Database, srv *server.Server, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g := &group{cancel: cancel}
	fail := func(err error) error {
		cancel()
		_ = g.wait()
		return err
	}
	idle := time.Duration(*f.IdleTimeout) * time.Second
	l := &f.Listeners

	if l.TCP != "" {
		ln, err := net.Listen("tcp", l.TCP)
		if err != nil {
			return fail(err)
		}
		logger.Infof("wrapper listening on %s", ln.Addr())
		g.start("tcp", func() error {
			return tcp.Serve(ctx, ln, idle, srv.ServeWrapper, logger)
		})
	}
	if l.HDLC != "" {
		ln, err := net.Listen("tcp", l.HDLC)
		if err != nil {
			return fail(err)
		}
		logger.Infof("hdlc listening on %s", ln.Addr())
		link := hdlc.LinkSettings{Logical: managementLogical, Physical: uint16(*l.HDLCPhysical)}
		g.start("hdlc", func() error {
			return tcp.Serve(ctx, ln, idle, func(ctx context.Context, rw io.ReadWriter) error {
				return srv.ServeHDLC(ctx, rw, link)
			}, logger)
		})
	}
	if l.QUIC != "" {
		conf, err := quic.SelfSigned()
		if err != nil {
			return fail(err)
		}
		g.start("quic", func() error {
			return quic.Serve(ctx, l.QUIC, conf, idle, srv.ServeWrapper, logger)
		})
	}
	for _, sl := range l.Serial {
		port, err := serial.OpenPort(sl.Port, base.SerialStreamSettings{BaudRate: *sl.BaudRate})
		if err != nil {
			return fail(fmt.Errorf("%s: %w", sl.Port, err))
		}
		logger.Infof("hdlc on %s at %d baud", sl.Port, *sl.BaudRate)
		link := hdlc.LinkSettings{Logical: managementLogical, Physical: uint16(*sl.PhysicalAddress)}
		g.start(sl.Port, func() error {
			defer port.Close()
			return srv.ServeHDLC(ctx, port, link)
		})
	}
	if *f.CaptureProfile {
		g.start("capture", func() error {
			return capture(ctx, db, logger)
		})
	}
	if l.Health != "" {
		if err := serveHealth(ctx, g, l.Health, logger); err != nil {
			return fail(err)
		}
	}
	return g.wait()
}

// capture fills the load profile at its capture period, the period is read again after every
// entry since a client may change it.
func capture(ctx context.Context, db *database.Database, logger *zap.SugaredLogger) error {
	lp := db.Find(database.ClassProfile, database.ProfileObis)
	if lp == nil {
		return fmt.Errorf("no profile %s", database.ProfileObis)
	}
	for {
		period := lp.Period()
		if period <= 0 {
			period = time.Minute // capture disabled, look again later
		}
		t := time.NewTimer(period)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if lp.Period() <= 0 {
			continue
		}
		if err := db.Capture(database.ProfileObis); err != nil {
			logger.Warnf("capture failed: %v", err)
		}
	}
}

// serveHealth runs the standard gRPC health service, SERVING until ctx is done.
func serveHealth(ctx context.Context, g *group, address string, logger *zap.SugaredLogger) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Infof("health service on %s", ln.Addr())

	g.start("health", func() error {
		if err := gs.Serve(ln); !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.start("health shutdown", func() error {
		<-ctx.Done()
		hs.Shutdown()
		gs.GracefulStop()
		return nil
	})
	return nil
}
