package hdlc

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

var ErrNotAddressed = errors.New("hdlc: frame not addressed to this station")

// LinkSettings configure the server end of a link.
type LinkSettings struct {
	Logical  uint16
	Physical uint16
	Size     int // server address size, 0 picks the shortest
	Params   Params
	MaxData  int // reassembly and reply arena size
}

// Link is the server side state of one HDLC link: connection, sequence
// counters, reassembly of segmented requests and segmentation of replies.
type Link struct {
	address   Address
	own       Params
	params    Params
	logger    *zap.SugaredLogger
	connected bool
	vs        byte
	vr        byte
	rx        []byte
	tx        []byte
	txoff     int
	txpending bool
}

func NewLink(settings *LinkSettings) (*Link, error) {
	size := settings.Size
	if size == 0 {
		size = AddressSize(settings.Logical, settings.Physical)
	}
	a := Address{Logical: settings.Logical, Physical: settings.Physical, Size: size}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	own := settings.Params
	if own == (Params{}) {
		own = DefaultParams()
	}
	if own.MaxInfoTx == 0 || own.MaxInfoRx == 0 || own.WindowTx == 0 || own.WindowRx == 0 {
		return nil, fmt.Errorf("%w: zero parameter", ErrNegotiation)
	}
	maxdata := settings.MaxData
	if maxdata <= 0 {
		maxdata = 4096
	}
	return &Link{
		address: a,
		own:     own,
		params:  own,
		rx:      make([]byte, 0, maxdata),
		tx:      make([]byte, 0, maxdata),
	}, nil
}

func (l *Link) SetLogger(logger *zap.SugaredLogger) {
	l.logger = logger
}

func (l *Link) logf(format string, v ...any) {
	if l.logger != nil {
		l.logger.Infof(format, v...)
	}
}

func (l *Link) dlogf(format string, v ...any) {
	if l.logger != nil {
		l.logger.Debugf(format, v...)
	}
}

func (l *Link) Connected() bool {
	return l.connected
}

// Params returns the negotiated parameters from the server point of view.
func (l *Link) Params() Params {
	return l.params
}

// Client returns the client address of the connected peer.
func (l *Link) Client() byte {
	return l.address.Client
}

// Pending tells whether a segmented reply still waits for RR polls.
func (l *Link) Pending() bool {
	return l.txpending
}

func (l *Link) reset() {
	l.vs = 0
	l.vr = 0
	l.rx = l.rx[:0]
	l.tx = l.tx[:0]
	l.txoff = 0
	l.txpending = false
}

func (l *Link) write(out *cursor.Cursor, control byte, info []byte, segmented bool) error {
	return Encode(out, &Frame{Sender: RoleServer, Address: l.address, Control: control, Info: info, Segmented: segmented})
}

// Process handles one frame received from a client. Link level answers (UA,
// DM, RR, next reply segment) are written into out. When the frame completes
// a request, its information field is returned; it stays valid until the next
// call.
func (l *Link) Process(f *Frame, out *cursor.Cursor) ([]byte, error) {
	if f.Address.Logical != l.address.Logical || f.Address.Physical != l.address.Physical {
		return nil, fmt.Errorf("%w: %d/%d", ErrNotAddressed, f.Address.Logical, f.Address.Physical)
	}
	if l.connected && f.Address.Client != l.address.Client && f.Kind != KindSetNormalResponseMode {
		return nil, fmt.Errorf("%w: client %d while connected to %d", ErrNotAddressed, f.Address.Client, l.address.Client)
	}
	switch f.Kind {
	case KindSetNormalResponseMode:
		return nil, l.snrm(f, out)
	case KindDisconnect:
		l.address.Client = f.Address.Client
		if !l.connected {
			return nil, l.write(out, ControlDM, nil, false)
		}
		l.logf("link to client %d disconnected", f.Address.Client)
		l.connected = false
		l.reset()
		return nil, l.write(out, ControlUA, nil, false)
	case KindInformation:
		return l.information(f, out)
	case KindReceiveReady:
		if !l.connected {
			l.address.Client = f.Address.Client
			return nil, l.write(out, ControlDM, nil, false)
		}
		if l.txpending {
			return nil, l.segment(out)
		}
		return nil, l.write(out, RRControl(l.vr, true), nil, false)
	case KindUnnumberedInfo:
		l.dlogf("discarding UI frame")
		return nil, nil
	default:
		l.logf("unexpected %v frame (control %02X)", f.Kind, f.Control)
		return nil, nil
	}
}

func (l *Link) snrm(f *Frame, out *cursor.Cursor) error {
	l.address.Client = f.Address.Client
	peer, err := DecodeParams(f.Info)
	if err != nil {
		l.connected = false
		if werr := l.write(out, ControlDM, nil, false); werr != nil {
			return werr
		}
		return err
	}
	l.params = l.own.Answer(peer)
	l.reset()
	l.connected = true

	var tmp [32]byte
	info := cursor.Cursor{}
	_ = info.Init(tmp[:], 0, 0)
	if err = EncodeParams(&info, &l.params); err != nil {
		return err
	}
	l.logf("link to client %d established, max info tx %d rx %d", f.Address.Client, l.params.MaxInfoTx, l.params.MaxInfoRx)
	return l.write(out, ControlUA, info.Bytes(), false)
}

func (l *Link) information(f *Frame, out *cursor.Cursor) ([]byte, error) {
	if !l.connected {
		return nil, l.write(out, ControlDM, nil, false)
	}
	if f.SSS != l.vr {
		l.logf("out of sequence I frame N(S)=%d, expected %d", f.SSS, l.vr)
		return nil, l.write(out, RRControl(l.vr, true), nil, false)
	}
	l.vr = (l.vr + 1) & 7
	if l.txpending { // new request drops whatever was not polled
		l.tx = l.tx[:0]
		l.txoff = 0
		l.txpending = false
	}
	if len(l.rx)+len(f.Info) > cap(l.rx) {
		l.rx = l.rx[:0]
		return nil, fmt.Errorf("%w: reassembled request exceeds %d bytes", ErrSize, cap(l.rx))
	}
	l.rx = append(l.rx, f.Info...)
	if f.Segmented {
		l.dlogf("segment received, %d bytes so far", len(l.rx))
		return nil, l.write(out, RRControl(l.vr, true), nil, false)
	}
	r := l.rx
	l.rx = l.rx[:0]
	return r, nil
}

// Reply queues payload as the answer to the last request and writes its first
// segment into out. Remaining segments are sent on the client RR polls.
func (l *Link) Reply(payload []byte, out *cursor.Cursor) error {
	if !l.connected {
		return fmt.Errorf("hdlc: link not connected")
	}
	if len(payload) > cap(l.tx) {
		return fmt.Errorf("%w: reply of %d bytes exceeds %d", ErrSize, len(payload), cap(l.tx))
	}
	l.tx = append(l.tx[:0], payload...)
	l.txoff = 0
	l.txpending = true
	return l.segment(out)
}

func (l *Link) segment(out *cursor.Cursor) error {
	rest := l.tx[l.txoff:]
	n := min(len(rest), int(l.params.MaxInfoTx))
	seg := n < len(rest)
	if err := l.write(out, IControl(l.vr, l.vs, true), rest[:n], seg); err != nil {
		return err
	}
	l.vs = (l.vs + 1) & 7
	l.txoff += n
	if !seg {
		l.txpending = false
		l.tx = l.tx[:0]
		l.txoff = 0
	}
	return nil
}
