// Command meterd simulates an electricity meter: the object model of database.NewMeter served over
// the DLMS wrapper on TCP and QUIC, and over HDLC on TCP and serial ports.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/config"
	"github.com/cybroslabs/libcosem-go/database"
	"github.com/cybroslabs/libcosem-go/server"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

func newlogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// settings converts the associations of the config file.
func settings(f *config.ServerFile) (server.Settings, error) {
	s := server.Settings{Channels: *f.Channels}
	for _, a := range f.Associations {
		sec, err := a.Ciphering()
		if err != nil {
			return s, fmt.Errorf("association of client %d: %w", a.Client, err)
		}
		s.Associations = append(s.Associations, server.AssociationConfig{
			ClientSAP:     a.Client,
			LogicalDevice: uint16(*a.LogicalDevice),
			Settings: association.Settings{
				Security:       sec,
				Conformance:    base.ConformanceBlockServerLN,
				MaxPduRecvSize: uint16(*a.MaxPdu),
			},
		})
	}
	return s, nil
}

func main() {
	file := flag.String("config", "", "server configuration file, defaults apply without one")
	debug := flag.Bool("debug", false, "log every apdu")
	flag.Parse()

	zl, err := newlogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	var f config.ServerFile
	if *file != "" {
		err = config.Load(*file, &f)
	} else {
		err = config.Defaults(&f)
	}
	if err != nil {
		logger.Fatal(err)
	}

	db, err := database.NewMeter(clock.RealClock{}, f.Name)
	if err != nil {
		logger.Fatal(err)
	}
	db.SetLogger(logger)
	ss, err := settings(&f)
	if err != nil {
		logger.Fatal(err)
	}
	srv, err := server.New(db, ss)
	if err != nil {
		logger.Fatal(err)
	}
	srv.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Infof("meter %s with %d objects, %d channels", f.Name, db.Len(), *f.Channels)
	if err = run(ctx, &f, db, srv, logger); err != nil {
		logger.Errorf("stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
