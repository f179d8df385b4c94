package hdlc

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

const (
	maxBytesBefore7e = 100
	maxLength        = 2050
	maxPackets       = 20
	initpacketlength = 2000
	maxRRframecycles = 10
	maxEmptycycles   = 10
	maxReadoutBytes  = 1000000

	// MaxFrameSize holds any frame including both flags.
	MaxFrameSize = maxLength
)

// client side MAC layer, a Stream carrying LLC payloads in I frames
type maclayer struct {
	transport   base.Stream
	address     Address
	logger      *zap.SugaredLogger
	params      Params
	isopen      bool
	vs          byte
	vr          byte
	state       int // 0 - start, 1 - writing, 2 - reading
	canwrite    bool
	sendbuffer  [maxLength]byte
	tosend      int
	framebuffer [maxLength + 16]byte
	recvbuffers [maxPackets][maxLength + 2]byte
	packets     [maxPackets]Frame
	toberead    []Frame
	current     *Frame
	emptyframes int
}

type Settings struct {
	Logical  uint16
	Physical uint16
	Size     int // server address size, 0 picks the shortest one
	Client   byte
	MaxRcv   uint
	MaxSnd   uint
}

func New(transport base.Stream, settings *Settings) (base.Stream, error) {
	size := settings.Size
	if size == 0 {
		size = AddressSize(settings.Logical, settings.Physical)
	}
	a := Address{Client: settings.Client, Logical: settings.Logical, Physical: settings.Physical, Size: size}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	clamp := func(v uint) uint16 {
		if v > initpacketlength {
			return initpacketlength
		} else if v < DefaultMaxInfo {
			return DefaultMaxInfo
		}
		return uint16(v)
	}

	w := &maclayer{
		transport: transport,
		address:   a,
		params: Params{
			MaxInfoTx: clamp(settings.MaxSnd),
			MaxInfoRx: clamp(settings.MaxRcv),
			WindowTx:  DefaultWindow,
			WindowRx:  DefaultWindow,
		},
		canwrite: true,
	}
	return w, nil
}

func (w *maclayer) logf(format string, v ...any) {
	if w.logger != nil {
		w.logger.Infof(format, v...)
	}
}

func (w *maclayer) IsOpen() bool {
	return w.isopen
}

func (w *maclayer) Close() error {
	if !w.isopen {
		return nil
	}
	if err := w.readout(); err != nil {
		return err
	}
	if err := w.writeframe(RRControl(w.vr, true), nil, false); err != nil {
		return err
	}
	if err := w.processRRresp(); err != nil {
		return err
	}

	if err := w.writeframe(ControlDISC, nil, false); err != nil {
		return fmt.Errorf("unable to send disconnect frame: %w", err)
	}
	if _, err := w.readframes(); err != nil { // UA or DM, both fine
		return err
	}

	w.isopen = false
	return w.transport.Close()
}

func (w *maclayer) Open() error {
	if w.isopen {
		return nil
	}
	if err := w.transport.Open(); err != nil {
		return err
	}
	w.canwrite = true
	var tmp [32]byte
	info := cursor.Cursor{}
	_ = info.Init(tmp[:], 0, 0)
	if err := EncodeParams(&info, &w.params); err != nil {
		return err
	}
	if err := w.writeframe(ControlSNRM, info.Bytes(), false); err != nil {
		return err
	}
	r, err := w.readframes()
	if err != nil {
		return err
	}
	if len(r) != 1 {
		return fmt.Errorf("expected single frame as snrm answer, got %d", len(r))
	}
	if r[0].Kind != KindUnnumberedAck {
		return fmt.Errorf("invalid snrm answer, expected UA, got %v", r[0].Kind)
	}
	ua, err := DecodeParams(r[0].Info)
	if err != nil {
		return err
	}
	w.params = w.params.Accept(ua)
	w.logf("snrm completed, max info tx: %v, rx: %v", w.params.MaxInfoTx, w.params.MaxInfoRx)

	w.vs = 0
	w.vr = 0
	w.state = 0
	w.tosend = 0
	w.isopen = true
	return nil
}

func (w *maclayer) Disconnect() error {
	w.isopen = false
	return w.transport.Disconnect()
}

func (w *maclayer) getnextI() (*Frame, error) {
	for len(w.toberead) > 0 {
		f := &w.toberead[0]
		w.toberead = w.toberead[1:]
		switch f.Kind {
		case KindInformation:
			if f.RRR != w.vs {
				return nil, fmt.Errorf("unexpected frame numbering N(R)=%d, expected %d", f.RRR, w.vs)
			}
			if f.SSS != w.vr {
				return nil, fmt.Errorf("unexpected frame numbering N(S)=%d, expected %d", f.SSS, w.vr)
			}
			w.vr = (w.vr + 1) & 7
			return f, nil
		case KindUnnumberedInfo:
			w.logf("received UI, discarding")
		case KindReceiveReady:
			if f.RRR != w.vs {
				return nil, fmt.Errorf("unexpected frame numbering N(R)=%d, expected %d", f.RRR, w.vs)
			}
		default:
			return nil, fmt.Errorf("unexpected frame %v", f.Kind)
		}
	}
	return nil, nil
}

func (w *maclayer) Read(p []byte) (n int, err error) {
	if !w.isopen {
		return 0, base.ErrNotOpened
	}
	if w.state == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	if err = w.writeout(); err != nil {
		return 0, err
	}
	if w.current != nil {
		if len(w.current.Info) > 0 {
			w.emptyframes = maxEmptycycles
			n = copy(p, w.current.Info)
			w.current.Info = w.current.Info[n:]
			return n, nil
		}
		w.emptyframes--
		if w.emptyframes <= 0 {
			return 0, fmt.Errorf("too many empty frames")
		}
		next, err := w.getnextI()
		if err != nil {
			return 0, err
		}
		if next != nil {
			w.current = next
			return w.Read(p)
		}
		if !w.current.Segmented {
			w.state = 0
			w.current = nil
			return 0, io.EOF
		}
		// segmented reply, poll for the next frame
		if err = w.writeframe(RRControl(w.vr, true), nil, false); err != nil {
			return 0, err
		}
		w.current = nil
	}

	for bcnt := maxRRframecycles; bcnt > 0; bcnt-- {
		w.toberead, err = w.readframes()
		if err != nil {
			return 0, err
		}
		w.current, err = w.getnextI()
		if err != nil {
			return 0, err
		}
		if w.current != nil {
			return w.Read(p)
		}
		if err = w.writeframe(RRControl(w.vr, true), nil, false); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("too many RR received")
}

func (w *maclayer) processRRresp() error {
	r, err := w.readframes()
	if err != nil {
		return err
	}
	hasRR := false
	for _, f := range r {
		switch f.Kind {
		case KindUnnumberedInfo:
			w.logf("received UI, discarding")
		case KindReceiveReady:
			if hasRR {
				return fmt.Errorf("duplicit RR received")
			}
			hasRR = true
			if f.RRR != w.vs {
				return fmt.Errorf("invalid N(R) numbering (repetition not supported)")
			}
		default:
			return fmt.Errorf("unexpected frame %v, RR expected", f.Kind)
		}
	}
	if !hasRR {
		return fmt.Errorf("no RR received")
	}
	return nil
}

func (w *maclayer) Write(src []byte) error {
	if !w.isopen {
		return base.ErrNotOpened
	}
	if len(src) == 0 {
		return nil
	}
	if err := w.readout(); err != nil {
		return err
	}
	maxsnd := int(w.params.MaxInfoTx)
	for len(src) > 0 {
		l := min(len(src), maxsnd-w.tosend)
		copy(w.sendbuffer[w.tosend:], src[:l])
		w.tosend += l
		src = src[l:]
		if w.tosend == maxsnd && len(src) > 0 { // full frame and more data, send segment
			if err := w.writeframe(w.nextcontrol(), w.sendbuffer[:w.tosend], true); err != nil {
				return err
			}
			if err := w.processRRresp(); err != nil {
				return err
			}
			w.tosend = 0
		}
	}
	return nil
}

func (w *maclayer) nextcontrol() byte {
	c := IControl(w.vr, w.vs, true)
	w.vs = (w.vs + 1) & 7
	return c
}

func (w *maclayer) writeout() error {
	if w.tosend > 0 {
		if err := w.writeframe(w.nextcontrol(), w.sendbuffer[:w.tosend], false); err != nil {
			return err
		}
		w.tosend = 0
	}
	if w.state != 2 {
		w.toberead = nil
		w.current = nil
		w.emptyframes = maxEmptycycles
		w.state = 2
	}
	return nil
}

func (w *maclayer) readout() error {
	switch w.state {
	case 0:
		w.tosend = 0
		w.state = 1
		return nil
	case 1:
		return nil
	}
	var tmp [256]byte
	bcnt := maxReadoutBytes
	for {
		n, err := w.Read(tmp[:])
		bcnt -= n
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.tosend = 0
				w.state = 1
				return nil
			}
			return err
		}
		if bcnt <= 0 {
			return fmt.Errorf("too many bytes read")
		}
	}
}

func (w *maclayer) SetMaxReceivedBytes(m int64) {
	w.transport.SetMaxReceivedBytes(m)
}

func (w *maclayer) SetDeadline(t time.Time) {
	w.transport.SetDeadline(t)
}

func (w *maclayer) SetTimeout(t time.Duration) {
	w.transport.SetTimeout(t)
}

func (w *maclayer) SetLogger(logger *zap.SugaredLogger) {
	w.logger = logger
	w.transport.SetLogger(logger)
}

func (w *maclayer) GetRxTxBytes() (int64, int64) {
	return w.transport.GetRxTxBytes()
}

func (w *maclayer) writeframe(control byte, info []byte, segmented bool) error {
	if !w.canwrite {
		return fmt.Errorf("cannot write right now")
	}
	out := cursor.Cursor{}
	_ = out.Init(w.framebuffer[:], 0, 0)
	err := Encode(&out, &Frame{Sender: RoleClient, Address: w.address, Control: control, Info: info, Segmented: segmented})
	if err != nil {
		return err
	}
	w.canwrite = control&pfBit == 0 // no windowing, poll bit hands over the turn
	return w.transport.Write(out.Bytes())
}

// receives frames until one carries the final bit
func (w *maclayer) readframes() ([]Frame, error) {
	if w.canwrite {
		return nil, fmt.Errorf("cannot read frames, write is expected")
	}
	off := 0
	for final := false; !final; off++ {
		if off >= maxPackets {
			return nil, fmt.Errorf("too many frames received")
		}
		f, err := w.readframe(w.recvbuffers[off][:], off == 0)
		if err != nil {
			return nil, err
		}
		final = f.PollFinal
		w.packets[off] = f
	}
	w.canwrite = true
	return w.packets[:off], nil
}

// reads one frame into buf, the first frame of a turn may be preceded by garbage
func (w *maclayer) readframe(buf []byte, first bool) (f Frame, err error) {
	f, err = readframe(w.transport, buf, RoleServer, first)
	if err != nil {
		return
	}
	if f.Address.Client != w.address.Client {
		return f, fmt.Errorf("%w: client %d", ErrAddress, f.Address.Client)
	}
	if f.Address.Logical != w.address.Logical || f.Address.Physical != w.address.Physical {
		return f, fmt.Errorf("%w: server %d/%d", ErrAddress, f.Address.Logical, f.Address.Physical)
	}
	return f, nil
}

// ReadFrame reads one frame sent by sender into buf, which must hold a frame of the maximum
// length. Up to 100 bytes of line noise before the opening flag are skipped.
func ReadFrame(r io.Reader, buf []byte, sender Role) (Frame, error) {
	return readframe(r, buf, sender, true)
}

func readframe(r io.Reader, buf []byte, sender Role, first bool) (f Frame, err error) {
	if len(buf) < minFrameLength+2 {
		return f, fmt.Errorf("%w: buffer of %d bytes", ErrSize, len(buf))
	}
	buf[0] = flag
	h := buf[1:3]
	if _, err = io.ReadFull(r, h); err != nil {
		return
	}
	for skipped := 0; h[0] == flag || h[0]&0xf0 != formatType; skipped++ {
		if skipped > maxBytesBefore7e || (!first && h[0] != flag) {
			return f, fmt.Errorf("%w: no frame start found", ErrFlag)
		}
		h[0] = h[1]
		if _, err = io.ReadFull(r, h[1:]); err != nil {
			return
		}
	}
	length := int(h[0]&7)<<8 | int(h[1])
	if length < minFrameLength || length+2 > len(buf) {
		return f, fmt.Errorf("%w: length %d", ErrSize, length)
	}
	if _, err = io.ReadFull(r, buf[3:length+2]); err != nil {
		return
	}
	return Decode(buf[:length+2], sender)
}
