package hdlc

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

func newtestlink(t *testing.T) *Link {
	t.Helper()
	l, err := NewLink(&LinkSettings{Logical: 1, Physical: 17, Params: Params{MaxInfoTx: 128, MaxInfoRx: 128, WindowTx: 1, WindowRx: 1}})
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	return l
}

// feeds a client frame into the link and decodes the single answer
func exchange(t *testing.T, l *Link, control byte, info []byte, segmented bool) (Frame, []byte) {
	t.Helper()
	in := encodeframe(t, &Frame{Sender: RoleClient, Address: Address{Client: 16, Logical: 1, Physical: 17, Size: 4}, Control: control, Info: info, Segmented: segmented})
	f, err := Decode(in, RoleClient)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	out := cursor.NewSize(1024)
	payload, err := l.Process(&f, out)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Written() == 0 {
		return Frame{}, payload
	}
	a, err := Decode(out.Bytes(), RoleServer)
	if err != nil {
		t.Fatalf("Decode(answer) error = %v", err)
	}
	return a, payload
}

func TestLinkConnectAndDisconnect(t *testing.T) {
	l := newtestlink(t)
	a, _ := exchange(t, l, ControlDISC, nil, false)
	if a.Kind != KindDisconnectedMode {
		t.Errorf("DISC while disconnected answered %v, want DM", a.Kind)
	}
	a, _ = exchange(t, l, IControl(0, 0, true), []byte{1}, false)
	if a.Kind != KindDisconnectedMode {
		t.Errorf("I while disconnected answered %v, want DM", a.Kind)
	}

	var tmp [32]byte
	info := cursor.Cursor{}
	_ = info.Init(tmp[:], 0, 0)
	_ = EncodeParams(&info, &Params{MaxInfoTx: 512, MaxInfoRx: 64, WindowTx: 1, WindowRx: 7})
	a, _ = exchange(t, l, ControlSNRM, info.Bytes(), false)
	if a.Kind != KindUnnumberedAck || a.Address.Client != 16 {
		t.Fatalf("SNRM answered %v to client %d, want UA to 16", a.Kind, a.Address.Client)
	}
	p, err := DecodeParams(a.Info)
	if err != nil {
		t.Fatalf("DecodeParams(UA) error = %v", err)
	}
	if want := (Params{MaxInfoTx: 64, MaxInfoRx: 128, WindowTx: 1, WindowRx: 1}); p != want {
		t.Errorf("UA params = %+v, want %+v", p, want)
	}
	if !l.Connected() {
		t.Errorf("Connected() = false after SNRM")
	}

	a, _ = exchange(t, l, ControlDISC, nil, false)
	if a.Kind != KindUnnumberedAck || l.Connected() {
		t.Errorf("DISC answered %v, connected %v", a.Kind, l.Connected())
	}
}

func TestLinkSegmentation(t *testing.T) {
	l := newtestlink(t)
	exchange(t, l, ControlSNRM, nil, false)

	a, payload := exchange(t, l, IControl(0, 0, true), bytes.Repeat([]byte{1}, 100), true)
	if a.Kind != KindReceiveReady || a.RRR != 1 || payload != nil {
		t.Fatalf("segment answered %v N(R)=%d payload %v", a.Kind, a.RRR, payload)
	}
	a, payload = exchange(t, l, IControl(0, 1, true), bytes.Repeat([]byte{2}, 20), false)
	if a.Kind != KindUnknown {
		t.Errorf("last segment answered %v, want nothing", a.Kind)
	}
	if len(payload) != 120 || payload[0] != 1 || payload[119] != 2 {
		t.Fatalf("reassembled %d bytes", len(payload))
	}

	reply := make([]byte, 300)
	for i := range reply {
		reply[i] = byte(i)
	}
	out := cursor.NewSize(1024)
	if err := l.Reply(reply, out); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	var got []byte
	for i := 0; ; i++ {
		f, err := Decode(out.Bytes(), RoleServer)
		if err != nil {
			t.Fatalf("Decode(reply %d) error = %v", i, err)
		}
		if f.Kind != KindInformation || f.SSS != byte(i) || f.RRR != 2 {
			t.Errorf("reply %d: %v N(S)=%d N(R)=%d", i, f.Kind, f.SSS, f.RRR)
		}
		got = append(got, f.Info...)
		if !f.Segmented {
			break
		}
		if len(f.Info) != 128 {
			t.Errorf("reply %d carries %d bytes, want 128", i, len(f.Info))
		}
		out.Reset()
		rr := encodeframe(t, &Frame{Sender: RoleClient, Address: Address{Client: 16, Logical: 1, Physical: 17, Size: 4}, Control: RRControl(byte(i+1), true)})
		rf, _ := Decode(rr, RoleClient)
		if _, err = l.Process(&rf, out); err != nil {
			t.Fatalf("Process(RR) error = %v", err)
		}
	}
	if !bytes.Equal(got, reply) {
		t.Errorf("segmented reply differs from the original")
	}
	if l.Pending() {
		t.Errorf("Pending() = true after last segment")
	}
}

func TestLinkOutOfSequence(t *testing.T) {
	l := newtestlink(t)
	exchange(t, l, ControlSNRM, nil, false)
	a, payload := exchange(t, l, IControl(0, 3, true), []byte{1, 2, 3}, false)
	if a.Kind != KindReceiveReady || a.RRR != 0 || payload != nil {
		t.Errorf("out of sequence frame answered %v N(R)=%d", a.Kind, a.RRR)
	}
}

func TestLinkIgnoresOtherStation(t *testing.T) {
	l := newtestlink(t)
	in := encodeframe(t, &Frame{Sender: RoleClient, Address: Address{Client: 16, Logical: 2, Physical: 17, Size: 4}, Control: ControlSNRM})
	f, _ := Decode(in, RoleClient)
	out := cursor.NewSize(64)
	if _, err := l.Process(&f, out); !errors.Is(err, ErrNotAddressed) {
		t.Errorf("Process() error = %v, want ErrNotAddressed", err)
	}
	if out.Written() != 0 {
		t.Errorf("answered a frame for another station")
	}
}

// loopback is a transport whose far end is a Link answering with reply(request)
type loopback struct {
	t     *testing.T
	link  *Link
	reply func([]byte) []byte
	rx    bytes.Buffer
	open  bool
}

func (l *loopback) Close() error {
	l.open = false
	return nil
}

func (l *loopback) Open() error {
	l.open = true
	return nil
}

func (l *loopback) Disconnect() error {
	l.open = false
	return nil
}

func (l *loopback) IsOpen() bool                 { return l.open }
func (l *loopback) SetLogger(*zap.SugaredLogger) {}
func (l *loopback) SetDeadline(time.Time)        {}
func (l *loopback) SetTimeout(time.Duration)     {}
func (l *loopback) SetMaxReceivedBytes(int64)    {}
func (l *loopback) GetRxTxBytes() (int64, int64) { return 0, 0 }
func (l *loopback) Read(p []byte) (int, error)   { return l.rx.Read(p) }

func (l *loopback) Write(src []byte) error {
	f, err := Decode(src, RoleClient)
	if err != nil {
		l.t.Errorf("server side Decode() error = %v", err)
		return err
	}
	out := cursor.NewSize(1024)
	payload, err := l.link.Process(&f, out)
	if err != nil {
		return err
	}
	if payload != nil {
		if err = l.link.Reply(l.reply(payload), out); err != nil {
			return err
		}
	}
	_, _ = l.rx.Write(out.Bytes())
	return nil
}

func TestClientOverLink(t *testing.T) {
	lb := &loopback{t: t, link: newtestlink(t), reply: func(b []byte) []byte {
		r := make([]byte, 2*len(b))
		copy(r, b)
		copy(r[len(b):], b)
		return r
	}}
	s, err := New(lb, &Settings{Logical: 1, Physical: 17, Size: 4, Client: 16})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err = s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for round := 0; round < 3; round++ {
		req := make([]byte, 150+round*70)
		for i := range req {
			req[i] = byte(i * (round + 1))
		}
		if err = s.Write(req); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, err := io.ReadAll(s)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if want := append(bytes.Clone(req), req...); !bytes.Equal(got, want) {
			t.Errorf("round %d: got %d bytes, want %d", round, len(got), len(want))
		}
	}
	if err = s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if lb.link.Connected() {
		t.Errorf("link still connected after Close()")
	}
}
