package database

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
	clocktesting "k8s.io/utils/clock/testing"
)

var start = time.Date(2024, 10, 18, 12, 0, 0, 0, time.UTC)

func decodehex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func reader(t *testing.T, b []byte) *cursor.Cursor {
	t.Helper()
	c, err := cursor.New(b, len(b), 0)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newmeter(t *testing.T) (*Database, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(start)
	d, err := NewMeter(clk, "D8S0000000000001")
	if err != nil {
		t.Fatal(err)
	}
	return d, clk
}

// pair associates a client and a server association, the server one with a scratch large enough
// for the whole object list.
func pair(t *testing.T, mech base.Authentication, maxpdu uint16) (*association.Association, *association.Association) {
	t.Helper()
	sec := ciphering.Settings{Mechanism: mech}
	if mech != base.AuthenticationNone {
		sec.Secret = []byte("12345678")
	}
	scratch, err := cursor.New(make([]byte, 4096), 0, ciphering.SecurityHeaderSize)
	if err != nil {
		t.Fatal(err)
	}
	server, err := association.New(association.Settings{Security: sec, Conformance: base.ConformanceBlockServerLN}, scratch)
	if err != nil {
		t.Fatal(err)
	}
	client, err := association.New(association.Settings{Security: sec, Conformance: 0x00ffff, MaxPduRecvSize: maxpdu}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = server.Start()
	_ = client.Start()
	aarq, aare := cursor.NewSize(256), cursor.NewSize(256)
	if err = client.EncodeAARQ(aarq); err != nil {
		t.Fatal(err)
	}
	if err = server.Execute(aarq, aare); err != nil {
		t.Fatal(err)
	}
	if err = client.DecodeAARE(aare); err != nil {
		t.Fatal(err)
	}
	return client, server
}

func call(service cosem.Service, classid uint16, obis axdr.Obis, id int8) *cosem.Call {
	return &cosem.Call{
		Channel: 1,
		Request: cosem.Request{
			Service:    service,
			Type:       cosem.RequestNormal,
			Descriptor: cosem.Descriptor{ClassID: classid, Obis: obis, ID: id},
			HasData:    service == cosem.ServiceSet,
		},
	}
}

func get(t *testing.T, d *Database, c *cosem.Call) ([]byte, error) {
	t.Helper()
	out := cursor.NewSize(2048)
	_, err := d.Access(c, cursor.NewSize(0), out)
	return out.Bytes(), err
}

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		classid uint16
		obis    axdr.Obis
		id      int8
		want    string
		err     error
	}{
		{name: "logical device name", classid: ClassData, obis: LogicalDeviceNameObis, id: 2, want: "0910 44385330303030303030303030303031"},
		{name: "logical name", classid: ClassClock, obis: ClockObis, id: 1, want: "0906 0000010000FF"},
		{name: "clock", classid: ClassClock, obis: ClockObis, id: 2, want: "090C 07E80A12050C000000000000"},
		{name: "time zone", classid: ClassClock, obis: ClockObis, id: 3, want: "100000"},
		{name: "energy", classid: ClassRegister, obis: EnergyObis, id: 2, want: "0600000000"},
		{name: "voltage scaler unit", classid: ClassRegister, obis: VoltageObis, id: 3, want: "0202 0FFF 1623"},
		{name: "profile depth", classid: ClassProfile, obis: ProfileObis, id: 8, want: "06000002A0"},
		{name: "capture objects", classid: ClassProfile, obis: ProfileObis, id: 3,
			want: "0102 0204 120008 0906 0000010000FF 0F02 120000 0204 120003 0906 0100010800FF 0F02 120000"},
		{name: "unknown object", classid: ClassRegister, obis: axdr.Obis{A: 1, B: 0, C: 2, D: 8, E: 0, F: 255}, id: 2, err: cosem.ErrNotFound},
		{name: "wrong class", classid: ClassData, obis: EnergyObis, id: 2, err: cosem.ErrNotFound},
		{name: "unknown attribute", classid: ClassRegister, obis: EnergyObis, id: 4, err: cosem.ErrNotFound},
	}
	d, _ := newmeter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := get(t, d, call(cosem.ServiceGet, tt.classid, tt.obis, tt.id))
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("Access() error = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Access() error = %v", err)
			}
			if want := decodehex(t, tt.want); !bytes.Equal(got, want) {
				t.Errorf("value = %X, want %X", got, want)
			}
		})
	}
}

func TestAccessRights(t *testing.T) {
	d, _ := newmeter(t)
	secret := NewData(axdr.Obis{A: 0, B: 0, C: 96, D: 1, E: 9, F: 255}, axdr.NewOctetString([]byte("x")), AccessSet)
	if err := d.Register(secret); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(NewLogicalDeviceName("again")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Register() error = %v, want %v", err, ErrDuplicate)
	}

	var ae *cosem.AccessError
	if _, err := get(t, d, call(cosem.ServiceGet, ClassData, secret.Obis, 2)); !errors.As(err, &ae) || ae.Result != base.TagResultReadWriteDenied {
		t.Errorf("GET of a write-only attribute: %v", err)
	}
	set := func(c *cosem.Call, value string) error {
		_, err := d.Access(c, reader(t, decodehex(t, value)), cursor.NewSize(64))
		return err
	}
	if err := set(call(cosem.ServiceSet, ClassData, secret.Obis, 2), "0901AA"); err != nil {
		t.Errorf("SET of a write-only attribute: %v", err)
	}
	if err := set(call(cosem.ServiceSet, ClassData, secret.Obis, 2), "1200AA"); !errors.As(err, &ae) || ae.Result != base.TagResultTypeUnmatched {
		t.Errorf("SET of another type: %v", err)
	}
	if err := set(call(cosem.ServiceSet, ClassRegister, EnergyObis, 2), "0600000001"); !errors.Is(err, cosem.ErrDenied) {
		t.Errorf("SET of a read-only attribute: %v", err)
	}
	if err := set(call(cosem.ServiceSet, ClassRegister, EnergyObis, 1), "0906 0100010800FF"); !errors.Is(err, cosem.ErrDenied) {
		t.Errorf("SET of the logical name: %v", err)
	}
	c := call(cosem.ServiceGet, ClassRegister, EnergyObis, 2)
	c.Request.Access = &cosem.Access{Selector: cosem.SelectorEntry}
	if _, err := get(t, d, c); !errors.As(err, &ae) || ae.Result != base.TagResultTypeUnmatched {
		t.Errorf("selective access on a register: %v", err)
	}
	if got, _ := get(t, d, call(cosem.ServiceGet, ClassData, secret.Obis, 1)); !bytes.Equal(got, decodehex(t, "0906 00006001 09FF")) {
		t.Errorf("logical name of a write-only object = %X", got)
	}
}

func TestClock(t *testing.T) {
	d, clk := newmeter(t)
	set := func(id int8, value string) error {
		_, err := d.Access(call(cosem.ServiceSet, ClassClock, ClockObis, id), reader(t, decodehex(t, value)), cursor.NewSize(64))
		return err
	}
	if err := set(2, "090C 07E9010103000000FF000000"); err != nil {
		t.Fatalf("SET time: %v", err)
	}
	clk.Step(90 * time.Minute)
	got, err := get(t, d, call(cosem.ServiceGet, ClassClock, ClockObis, 2))
	if err != nil {
		t.Fatal(err)
	}
	if want := decodehex(t, "090C07E901010301 1E000000000000"); !bytes.Equal(got, want) {
		t.Errorf("time after set = %X, want %X", got, want)
	}

	if err = set(3, "10003C"); err != nil {
		t.Fatalf("SET time zone: %v", err)
	}
	got, _ = get(t, d, call(cosem.ServiceGet, ClassClock, ClockObis, 2))
	if want := decodehex(t, "090C07E901010302 1E000000003C00"); !bytes.Equal(got, want) {
		t.Errorf("time in zone +60 = %X, want %X", got, want)
	}
	if err = set(3, "100FFF"); err == nil {
		t.Error("time zone of 4095 minutes accepted")
	}
	if err = set(2, "090C FFFFFFFFFFFFFFFFFF8000FF"); err == nil {
		t.Error("undefined time accepted")
	}
}

func action(t *testing.T, d *Database, classid uint16, obis axdr.Obis, id int8, params string) ([]byte, error) {
	t.Helper()
	c := call(cosem.ServiceAction, classid, obis, id)
	c.Request.HasData = params != ""
	out := cursor.NewSize(256)
	_, err := d.Access(c, reader(t, decodehex(t, params)), out)
	return out.Bytes(), err
}

func TestRegisterReset(t *testing.T) {
	d, _ := newmeter(t)
	energy := d.Find(ClassRegister, EnergyObis)
	if err := energy.Store(2, axdr.Data{Tag: axdr.TagDoubleLongUnsigned, Value: uint32(1234)}); err != nil {
		t.Fatal(err)
	}
	if got, _ := get(t, d, call(cosem.ServiceGet, ClassRegister, EnergyObis, 2)); !bytes.Equal(got, decodehex(t, "06000004D2")) {
		t.Errorf("energy = %X", got)
	}
	if _, err := action(t, d, ClassRegister, EnergyObis, 1, "0F00"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := get(t, d, call(cosem.ServiceGet, ClassRegister, EnergyObis, 2)); !bytes.Equal(got, decodehex(t, "0600000000")) {
		t.Errorf("energy after reset = %X", got)
	}
	if _, err := action(t, d, ClassRegister, EnergyObis, 2, ""); !errors.Is(err, cosem.ErrNotFound) {
		t.Errorf("unknown method: %v", err)
	}
	if err := energy.Store(2, axdr.Data{Tag: axdr.TagLongUnsigned, Value: uint16(1)}); err == nil {
		t.Error("value of another type stored")
	}
}

// capture takes n entries a quarter hour apart, the energy growing by 100 Wh each.
func capture(t *testing.T, d *Database, clk *clocktesting.FakeClock, n int) {
	t.Helper()
	energy := d.Find(ClassRegister, EnergyObis)
	for i := 0; i < n; i++ {
		if err := energy.Store(2, axdr.Data{Tag: axdr.TagDoubleLongUnsigned, Value: uint32(100 * i)}); err != nil {
			t.Fatal(err)
		}
		if err := d.Capture(ProfileObis); err != nil {
			t.Fatal(err)
		}
		clk.Step(15 * time.Minute)
	}
}

func rows(t *testing.T, b []byte) []axdr.Data {
	t.Helper()
	v, err := axdr.DecodeData(reader(t, b))
	if err != nil {
		t.Fatalf("DecodeData(%X) error = %v", b, err)
	}
	items, ok := v.Value.([]axdr.Data)
	if v.Tag != axdr.TagArray || !ok {
		t.Fatalf("buffer is %v", v.Tag)
	}
	return items
}

func TestProfile(t *testing.T) {
	d, clk := newmeter(t)
	capture(t, d, clk, 4)

	all, err := get(t, d, call(cosem.ServiceGet, ClassProfile, ProfileObis, 2))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(rows(t, all)); n != 4 {
		t.Fatalf("%d entries, want 4", n)
	}
	if got, _ := get(t, d, call(cosem.ServiceGet, ClassProfile, ProfileObis, 7)); !bytes.Equal(got, decodehex(t, "0600000004")) {
		t.Errorf("entries in use = %X", got)
	}

	from := axdr.DateTimeFromTime(start.Add(20 * time.Minute))
	to := axdr.DateTimeFromTime(start.Add(30 * time.Minute))
	tests := []struct {
		name    string
		rg      *cosem.Range
		entries int
		first   uint32
	}{
		{"open end", cosem.ClockRange(start.Add(20*time.Minute), nil), 2, 200},
		{"closed", &cosem.Range{Restricting: cosem.CaptureObject{ClassID: 8, Obis: ClockObis, Attribute: 2}, From: from, To: to}, 1, 200},
		{"everything", cosem.ClockRange(start, nil), 4, 0},
		{"before the first entry", &cosem.Range{Restricting: cosem.CaptureObject{ClassID: 8, Obis: ClockObis, Attribute: 2}, From: axdr.UndefinedDateTime(), To: axdr.DateTimeFromTime(start.Add(-time.Minute))}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := call(cosem.ServiceGet, ClassProfile, ProfileObis, 2)
			c.Request.Access = tt.rg.Access()
			b, err := get(t, d, c)
			if err != nil {
				t.Fatal(err)
			}
			got := rows(t, b)
			if len(got) != tt.entries {
				t.Fatalf("%d entries, want %d", len(got), tt.entries)
			}
			if len(got) > 0 {
				if v := got[0].Value.([]axdr.Data)[1].Value; v != tt.first {
					t.Errorf("first energy %v, want %d", v, tt.first)
				}
			}
		})
	}

	c := call(cosem.ServiceGet, ClassProfile, ProfileObis, 2)
	c.Request.Access = &cosem.Access{Selector: cosem.SelectorRange, Parameters: axdr.NewStructure(
		axdr.NewStructure(
			axdr.Data{Tag: axdr.TagLongUnsigned, Value: uint16(3)},
			axdr.NewOctetString(VoltageObis.Bytes()),
			axdr.Data{Tag: axdr.TagInteger, Value: int8(2)},
			axdr.Data{Tag: axdr.TagLongUnsigned, Value: uint16(0)},
		),
		axdr.NewOctetString(from.Bytes()), axdr.NewOctetString(to.Bytes()), axdr.NewArray(),
	)}
	var ae *cosem.AccessError
	if _, err = get(t, d, c); !errors.As(err, &ae) || ae.Result != base.TagResultObjectUnavailable {
		t.Errorf("range on a column not captured: %v", err)
	}
}

func TestProfileByEntry(t *testing.T) {
	d, clk := newmeter(t)
	capture(t, d, clk, 5)
	entry := func(from, to uint32, fromvalue, tovalue uint16) *cosem.Access {
		return &cosem.Access{Selector: cosem.SelectorEntry, Parameters: axdr.NewStructure(
			axdr.Data{Tag: axdr.TagDoubleLongUnsigned, Value: from},
			axdr.Data{Tag: axdr.TagDoubleLongUnsigned, Value: to},
			axdr.Data{Tag: axdr.TagLongUnsigned, Value: fromvalue},
			axdr.Data{Tag: axdr.TagLongUnsigned, Value: tovalue},
		)}
	}
	tests := []struct {
		name    string
		access  *cosem.Access
		entries int
		columns int
	}{
		{"all", entry(1, 0, 1, 0), 5, 2},
		{"middle", entry(2, 3, 1, 2), 2, 2},
		{"energy only", entry(4, 0, 2, 2), 2, 1},
		{"past the end", entry(4, 100, 1, 0), 2, 2},
		{"after the last", entry(6, 0, 1, 0), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := call(cosem.ServiceGet, ClassProfile, ProfileObis, 2)
			c.Request.Access = tt.access
			b, err := get(t, d, c)
			if err != nil {
				t.Fatal(err)
			}
			got := rows(t, b)
			if len(got) != tt.entries {
				t.Fatalf("%d entries, want %d", len(got), tt.entries)
			}
			for _, r := range got {
				if n := len(r.Value.([]axdr.Data)); n != tt.columns {
					t.Errorf("%d columns, want %d", n, tt.columns)
				}
			}
		})
	}
	c := call(cosem.ServiceGet, ClassProfile, ProfileObis, 2)
	c.Request.Access = entry(0, 0, 1, 0)
	if _, err := get(t, d, c); err == nil {
		t.Error("entry 0 accepted")
	}
}

func TestProfileDepth(t *testing.T) {
	clk := clocktesting.NewFakeClock(start)
	d := New(clk)
	ck := d.NewClock(0)
	lp, err := NewProfile(ProfileObis, []Column{{Object: ck, Attribute: 2}}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err = d.Register(ck, lp); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err = action(t, d, ClassProfile, ProfileObis, 2, "0F00"); err != nil {
			t.Fatal(err)
		}
		clk.Step(time.Hour)
	}
	b, _ := get(t, d, call(cosem.ServiceGet, ClassProfile, ProfileObis, 2))
	got := rows(t, b)
	if len(got) != 2 {
		t.Fatalf("%d entries, want 2", len(got))
	}
	first := got[0].Value.([]axdr.Data)[0].Value.([]byte)
	if want := axdr.DateTimeFromTime(start.Add(time.Hour)); !bytes.Equal(first, want.Bytes()) {
		t.Errorf("oldest entry %X, want %X", first, want.Bytes())
	}
	if lp.Period() != 0 {
		t.Errorf("period %v", lp.Period())
	}
	if _, err = action(t, d, ClassProfile, ProfileObis, 1, ""); err != nil {
		t.Fatal(err)
	}
	if b, _ = get(t, d, call(cosem.ServiceGet, ClassProfile, ProfileObis, 2)); !bytes.Equal(b, decodehex(t, "0100")) {
		t.Errorf("buffer after reset = %X", b)
	}
	if _, err = NewProfile(ProfileObis, nil, 1, 0); err == nil {
		t.Error("profile without columns")
	}
}

func TestConcurrentCapture(t *testing.T) {
	d, _ := newmeter(t)
	energy := d.Find(ClassRegister, EnergyObis)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := energy.Store(2, axdr.Data{Tag: axdr.TagDoubleLongUnsigned, Value: uint32(i)}); err != nil {
					t.Error(err)
					return
				}
				if err := d.Capture(ProfileObis); err != nil {
					t.Error(err)
					return
				}
				if _, err := energy.Load(2); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if got, _ := get(t, d, call(cosem.ServiceGet, ClassProfile, ProfileObis, 7)); !bytes.Equal(got, decodehex(t, "06000000C8")) {
		t.Errorf("entries in use = %X, want 200", got)
	}
}

func TestObjectList(t *testing.T) {
	d, _ := newmeter(t)
	_, server := pair(t, base.AuthenticationNone, 64)
	e := cosem.NewEngine(d)
	c := &cosem.Call{Channel: 3, Association: server}

	var payload []byte
	in := "C001C1 000F 0000280000FF 02 00"
	blocks := 0
	for {
		out := cursor.NewSize(256)
		if err := e.Execute(c, reader(t, decodehex(t, in)), out); err != nil {
			t.Fatal(err)
		}
		var r cosem.Response
		if err := cosem.DecodeResponse(out, &r); err != nil {
			t.Fatalf("DecodeResponse(%X) error = %v", out.Bytes(), err)
		}
		if r.Type != cosem.ResponseWithDataBlock {
			t.Fatalf("response %X is not a data block", out.Bytes())
		}
		blocks++
		payload = append(payload, r.Raw...)
		if r.LastBlock {
			break
		}
		in = fmt.Sprintf("C002C1%08X", r.Block)
	}
	if blocks < d.Len() {
		t.Errorf("%d blocks for %d objects", blocks, d.Len())
	}
	list := rows(t, payload)
	if len(list) != d.Len() {
		t.Fatalf("%d objects listed, want %d", len(list), d.Len())
	}
	first := list[0].Value.([]axdr.Data)
	if first[0].Value != uint16(1) || !bytes.Equal(first[2].Value.([]byte), LogicalDeviceNameObis.Bytes()) {
		t.Errorf("first object %v", first)
	}
	current := list[2].Value.([]axdr.Data)
	rights := current[3].Value.([]axdr.Data)
	attributes := rights[0].Value.([]axdr.Data)
	methods := rights[1].Value.([]axdr.Data)
	if len(attributes) != 3 || len(methods) != 1 {
		t.Errorf("current association lists %d attributes and %d methods", len(attributes), len(methods))
	}
	if ln := attributes[0].Value.([]axdr.Data); ln[0].Value != int8(1) || ln[1].Value != uint8(AccessGet) || ln[2].Tag != axdr.TagNull {
		t.Errorf("logical name rights %v", ln)
	}
	if len(d.snapshots) != 0 {
		t.Errorf("%d snapshots left", len(d.snapshots))
	}
}

func TestHLSMethod(t *testing.T) {
	d, _ := newmeter(t)
	client, server := pair(t, base.AuthenticationHighSHA1, 0x400)
	e := cosem.NewEngine(d)
	c := &cosem.Call{Channel: 1, Association: server}

	proof, err := client.Proof()
	if err != nil {
		t.Fatal(err)
	}
	in := cursor.NewSize(128)
	data := axdr.NewOctetString(proof)
	if err = cosem.EncodeRequest(in, &cosem.Request{Service: cosem.ServiceAction, Type: cosem.RequestNormal, InvokeID: 0x41, Descriptor: cosem.HLSReply}, &data); err != nil {
		t.Fatal(err)
	}
	out := cursor.NewSize(128)
	if err = e.ExecuteAuthentication(c, in, out); err != nil {
		t.Fatal(err)
	}
	var r cosem.Response
	if err = cosem.DecodeResponse(out, &r); err != nil || r.Err() != nil || !r.HasData {
		t.Fatalf("response %X: %v %v", out.Bytes(), err, r.Err())
	}
	reply, err := axdr.ReadOctetString(out)
	if err != nil {
		t.Fatal(err)
	}
	if err = client.VerifyProof(reply); err != nil {
		t.Errorf("VerifyProof() error = %v", err)
	}
	if server.State() != association.StateAssociated {
		t.Errorf("state %s", server.State())
	}
	if got, _ := get(t, d, &cosem.Call{Association: server, Request: cosem.Request{Service: cosem.ServiceGet, Descriptor: cosem.Descriptor{ClassID: ClassCurrent, Obis: CurrentObis, ID: 8}}}); !bytes.Equal(got, decodehex(t, "1602")) {
		t.Errorf("association status = %X", got)
	}
}
