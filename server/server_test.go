package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"github.com/cybroslabs/libcosem-go/client"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
	"github.com/cybroslabs/libcosem-go/database"
	"github.com/cybroslabs/libcosem-go/hdlc"
	"github.com/cybroslabs/libcosem-go/llc"
	"github.com/cybroslabs/libcosem-go/tcp"
	"github.com/cybroslabs/libcosem-go/wrapper"
	clocktesting "k8s.io/utils/clock/testing"
)

var (
	start     = time.Date(2024, 10, 18, 12, 0, 0, 0, time.UTC)
	password  = []byte("12345678")
	hlssecret = []byte("0123456789ABCDEF")
)

const (
	publicClient = 16
	readerClient = 1
	hlsClient    = 2
)

func security(mech base.Authentication, secret []byte) ciphering.Settings {
	return ciphering.Settings{Mechanism: mech, Secret: secret}
}

func newserver(t *testing.T, channels int) *Server {
	t.Helper()
	db, err := database.NewMeter(clocktesting.NewFakeClock(start), "LCG0000000000001")
	if err != nil {
		t.Fatal(err)
	}
	var supported uint32 = base.ConformanceBlockServerLN
	s, err := New(db, Settings{
		Channels: channels,
		Associations: []AssociationConfig{
			{ClientSAP: publicClient, LogicalDevice: 1, Settings: association.Settings{Conformance: supported}},
			{ClientSAP: readerClient, LogicalDevice: 1, Settings: association.Settings{Conformance: supported, Security: security(base.AuthenticationLow, password)}},
			{ClientSAP: hlsClient, LogicalDevice: 1, Settings: association.Settings{Conformance: supported, Security: security(base.AuthenticationHighMD5, hlssecret)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// pipe serves one end of an in memory connection and returns a client stream on the other one,
// speaking the wrapper or HDLC.
func pipe(t *testing.T, s *Server, sap uint16, overhdlc bool) base.Stream {
	t.Helper()
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		if overhdlc {
			done <- s.ServeHDLC(ctx, a, hdlc.LinkSettings{Logical: 1, Physical: 17})
		} else {
			done <- s.ServeWrapper(ctx, a)
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("serve error = %v", err)
		}
	})

	raw := tcp.NewConn(b, "pipe", 5*time.Second)
	if overhdlc {
		mac, err := hdlc.New(raw, &hdlc.Settings{Logical: 1, Physical: 17, Client: byte(sap)})
		if err != nil {
			t.Fatal(err)
		}
		return llc.New(mac)
	}
	w, err := wrapper.New(raw, sap, 1)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func connect(t *testing.T, s *Server, sap uint16, sec ciphering.Settings, maxpdu uint16, overhdlc bool) *client.Client {
	t.Helper()
	c, err := client.New(pipe(t, s, sap, overhdlc), client.Settings{
		Association: association.Settings{Security: sec, MaxPduRecvSize: maxpdu},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

var (
	ldn     = cosem.Descriptor{ClassID: database.ClassData, Obis: database.LogicalDeviceNameObis, ID: 2}
	clockd  = cosem.Descriptor{ClassID: database.ClassClock, Obis: database.ClockObis, ID: 2}
	energy  = cosem.Descriptor{ClassID: database.ClassRegister, Obis: database.EnergyObis, ID: 2}
	voltage = cosem.Descriptor{ClassID: database.ClassRegister, Obis: database.VoltageObis, ID: 2}
	objects = cosem.Descriptor{ClassID: database.ClassCurrent, Obis: database.CurrentObis, ID: 2}
)

func TestSession(t *testing.T) {
	tests := []struct {
		name     string
		sap      uint16
		sec      ciphering.Settings
		maxpdu   uint16
		overhdlc bool
	}{
		{"public over wrapper", publicClient, security(base.AuthenticationNone, nil), 0x400, false},
		{"low level over wrapper", readerClient, security(base.AuthenticationLow, password), 0x400, false},
		{"high level md5 over wrapper", hlsClient, security(base.AuthenticationHighMD5, hlssecret), 0x400, false},
		{"object list by block", publicClient, security(base.AuthenticationNone, nil), 64, false},
		{"public over hdlc", publicClient, security(base.AuthenticationNone, nil), 0x400, true},
		{"high level md5 over hdlc", hlsClient, security(base.AuthenticationHighMD5, hlssecret), 128, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newserver(t, 2)
			c := connect(t, s, tt.sap, tt.sec, tt.maxpdu, tt.overhdlc)
			if err := c.Open(); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got := c.Association().State(); got != association.StateAssociated {
				t.Fatalf("state = %s, want associated", got)
			}

			v, err := c.Get(ldn, nil)
			if err != nil {
				t.Fatalf("Get(ldn) error = %v", err)
			}
			if b, _ := v.Value.([]byte); !bytes.Equal(b, []byte("LCG0000000000001")) {
				t.Errorf("logical device name = %v", v.Value)
			}

			list, err := c.Get(objects, nil)
			if err != nil {
				t.Fatalf("Get(object list) error = %v", err)
			}
			if items, _ := list.Value.([]axdr.Data); list.Tag != axdr.TagArray || len(items) != 6 {
				t.Errorf("object list = %v", list)
			}

			if err = c.Set(voltage, axdr.Data{Tag: axdr.TagLongUnsigned, Value: uint16(1)}); !isresult(err, base.TagResultReadWriteDenied) {
				t.Errorf("Set(voltage) error = %v, want read-write-denied", err)
			}
			if _, err = c.Action(cosem.Descriptor{ClassID: database.ClassRegister, Obis: database.EnergyObis, ID: 1}, nil); err != nil {
				t.Errorf("Action(reset) error = %v", err)
			}
			if v, err = c.Get(energy, nil); err != nil || v.Value != uint32(0) {
				t.Errorf("Get(energy) = %v, %v", v, err)
			}

			if err = c.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
		})
	}
}

func isresult(err error, result base.DlmsResultTag) bool {
	var re *cosem.ResultError
	return errors.As(err, &re) && re.Result == result
}

func TestRefusedAuthentication(t *testing.T) {
	tests := []struct {
		name string
		sap  uint16
		sec  ciphering.Settings
	}{
		{"wrong password", readerClient, security(base.AuthenticationLow, []byte("87654321"))},
		{"wrong secret", hlsClient, security(base.AuthenticationHighMD5, []byte("FEDCBA9876543210"))},
		{"mechanism of another client", publicClient, security(base.AuthenticationLow, password)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newserver(t, 1)
			c := connect(t, s, tt.sap, tt.sec, 0x400, false)
			if err := c.Open(); err == nil {
				t.Fatalf("Open() succeeded")
			}
			if _, err := c.Get(ldn, nil); !errors.Is(err, base.ErrNotOpened) {
				t.Errorf("Get() after refusal error = %v", err)
			}
		})
	}
}

func TestChannels(t *testing.T) {
	s := newserver(t, 2)
	a, err := s.Connect()
	if err != nil || a != 1 {
		t.Fatalf("Connect() = %d, %v", a, err)
	}
	b, err := s.Connect()
	if err != nil || b != 2 {
		t.Fatalf("Connect() = %d, %v", b, err)
	}
	if _, err = s.Connect(); !errors.Is(err, ErrNoChannel) {
		t.Errorf("third Connect() error = %v, want ErrNoChannel", err)
	}
	s.Disconnect(a)
	if got := s.State(a); got != association.StateInactive {
		t.Errorf("state of a free channel = %s", got)
	}
	if c, err := s.Connect(); err != nil || c != a {
		t.Errorf("Connect() after Disconnect() = %d, %v", c, err)
	}
	if _, err = s.Execute(9, publicClient, 1, []byte{0x60}); !errors.Is(err, ErrChannel) {
		t.Errorf("Execute() on channel 9 error = %v", err)
	}
}

func aarq(t *testing.T, sec ciphering.Settings) []byte {
	t.Helper()
	a, err := association.New(association.Settings{Security: sec, Conformance: 0x00ffff}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = a.Start()
	out := cursor.NewSize(256)
	if err = a.EncodeAARQ(out); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestExecute(t *testing.T) {
	s := newserver(t, 1)
	id, err := s.Connect()
	if err != nil {
		t.Fatal(err)
	}
	get := []byte{0xc0, 0x01, 0xc1, 0x00, 0x01, 0x00, 0x00, 0x2a, 0x00, 0x00, 0xff, 0x02, 0x00}

	reply, err := s.Execute(id, publicClient, 1, get)
	if err != nil {
		t.Fatalf("Execute(get) before AARQ error = %v", err)
	}
	if !bytes.Equal(reply, []byte{0xd8, 0x01, 0x01}) {
		t.Errorf("reply before AARQ = %X, want exception", reply)
	}
	if _, err = s.Execute(id, 77, 1, get); !errors.Is(err, ErrNoAssociation) {
		t.Errorf("Execute() from client 77 error = %v", err)
	}
	if _, err = s.Execute(id, readerClient, 1, aarq(t, security(base.AuthenticationLow, password))); !errors.Is(err, ErrNoAssociation) {
		t.Errorf("Execute() of a second client on a bound channel error = %v", err)
	}

	if _, err = s.Execute(id, publicClient, 1, aarq(t, security(base.AuthenticationNone, nil))); err != nil {
		t.Fatalf("Execute(aarq) error = %v", err)
	}
	if got := s.State(id); got != association.StateAssociated {
		t.Fatalf("state = %s, want associated", got)
	}
	if reply, err = s.Execute(id, publicClient, 1, get); err != nil || reply[0] != byte(base.TagGetResponse) {
		t.Errorf("Execute(get) = %X, %v", reply, err)
	}

	if err = s.Reset(id); err != nil {
		t.Fatal(err)
	}
	if got := s.State(id); got != association.StateIdle {
		t.Errorf("state after Reset() = %s, want idle", got)
	}
	if _, err = s.Execute(id, readerClient, 1, aarq(t, security(base.AuthenticationLow, password))); err != nil {
		t.Errorf("Execute(aarq) of another client after Reset() error = %v", err)
	}
	if _, err = s.Execute(id, readerClient, 1, nil); err == nil {
		t.Errorf("Execute() of an empty apdu succeeded")
	}
}

func TestNew(t *testing.T) {
	db, err := database.NewMeter(clocktesting.NewFakeClock(start), "LCG0000000000001")
	if err != nil {
		t.Fatal(err)
	}
	public := AssociationConfig{ClientSAP: publicClient, LogicalDevice: 1}
	tests := []struct {
		name     string
		settings Settings
		ok       bool
	}{
		{"defaults", Settings{Associations: []AssociationConfig{public}}, true},
		{"no association", Settings{}, false},
		{"duplicate", Settings{Associations: []AssociationConfig{public, public}}, false},
		{"too many channels", Settings{Associations: []AssociationConfig{public}, Channels: 256}, false},
		{"small buffer", Settings{Associations: []AssociationConfig{public}, BufferSize: 16}, false},
		{"invalid security", Settings{Associations: []AssociationConfig{{ClientSAP: 1, Settings: association.Settings{Security: security(base.AuthenticationLow, nil)}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(db, tt.settings); (err == nil) != tt.ok {
				t.Errorf("New() error = %v", err)
			}
		})
	}
}
