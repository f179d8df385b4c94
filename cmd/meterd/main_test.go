package main

import (
	"context"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/config"
	"github.com/cybroslabs/libcosem-go/database"
	"github.com/cybroslabs/libcosem-go/server"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"
)

func defaults(t *testing.T) config.ServerFile {
	t.Helper()
	f := config.ServerFile{
		Associations: []config.Association{
			{Client: 16, Security: config.Security{Level: "NO_SECURITY"}},
			{Client: 1, Security: config.Security{Level: "LOW_LEVEL_SECURITY", Password: "00000000"}, MaxPdu: ptr.To(0x200)},
		},
	}
	if err := config.Defaults(&f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSettings(t *testing.T) {
	f := defaults(t)
	s, err := settings(&f)
	if err != nil {
		t.Fatal(err)
	}
	if s.Channels != 4 || len(s.Associations) != 2 {
		t.Fatalf("settings = %+v", s)
	}
	low := s.Associations[1]
	if low.ClientSAP != 1 || low.LogicalDevice != 1 || low.Settings.MaxPduRecvSize != 0x200 ||
		low.Settings.Security.Mechanism != base.AuthenticationLow || string(low.Settings.Security.Secret) != "00000000" {
		t.Errorf("association = %+v", low)
	}
}

func TestRun(t *testing.T) {
	f := defaults(t)
	f.Listeners = config.Listeners{TCP: "127.0.0.1:0", HDLC: "127.0.0.1:0", HDLCPhysical: ptr.To(0), Health: "127.0.0.1:0"}
	db, err := database.NewMeter(clocktesting.NewFakeClock(time.Now()), f.Name)
	if err != nil {
		t.Fatal(err)
	}
	s, err := settings(&f)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := server.New(db, s)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, &f, db, srv, zap.NewNop().Sugar()) }()
	time.AfterFunc(200*time.Millisecond, cancel)
	select {
	case err = <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run() did not stop")
	}
}
