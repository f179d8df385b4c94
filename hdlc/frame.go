package hdlc

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libcosem-go/cursor"
)

var (
	ErrFlag        = errors.New("hdlc: missing frame flag")
	ErrFormat      = errors.New("hdlc: invalid frame format")
	ErrSize        = errors.New("hdlc: frame size mismatch")
	ErrChecksum    = errors.New("hdlc: checksum mismatch")
	ErrFCS         = fmt.Errorf("%w: FCS", ErrChecksum)
	ErrHCS         = fmt.Errorf("%w: HCS", ErrChecksum)
	ErrAddress     = errors.New("hdlc: invalid address")
	ErrControl     = errors.New("hdlc: unknown control field")
	ErrNegotiation = errors.New("hdlc: invalid parameter negotiation")
)

const (
	flag           = 0x7e
	formatType     = 0xa0
	segmentBit     = 0x08
	pfBit          = 0x10
	maxFrameLength = 0x7ff
	minFrameLength = 7 // format(2) + 2 addresses + control + FCS
)

// Role of the station that sent a frame. It decides the order of addresses.
type Role byte

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

type Kind byte

const (
	KindUnknown Kind = iota
	KindInformation
	KindReceiveReady
	KindReceiveNotReady
	KindSetNormalResponseMode
	KindDisconnect
	KindUnnumberedAck
	KindDisconnectedMode
	KindFrameReject
	KindUnnumberedInfo
)

var kindnames = [...]string{"unknown", "I", "RR", "RNR", "SNRM", "DISC", "UA", "DM", "FRMR", "UI"}

func (k Kind) String() string {
	if int(k) < len(kindnames) {
		return kindnames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// tried in order, information frames only look at the lowest bit
var controls = [...]struct {
	mask  byte
	value byte
	kind  Kind
}{
	{0x01, 0x00, KindInformation},
	{0x0f, 0x01, KindReceiveReady},
	{0x0f, 0x05, KindReceiveNotReady},
	{0xef, 0x83, KindSetNormalResponseMode},
	{0xef, 0x43, KindDisconnect},
	{0xef, 0x63, KindUnnumberedAck},
	{0xef, 0x0f, KindDisconnectedMode},
	{0xef, 0x87, KindFrameReject},
	{0xef, 0x03, KindUnnumberedInfo},
}

// Control bytes of unnumbered frames, poll/final bit set.
const (
	ControlSNRM byte = 0x93
	ControlDISC byte = 0x53
	ControlUA   byte = 0x73
	ControlDM   byte = 0x1f
	ControlUI   byte = 0x13
)

// IControl builds an information frame control byte.
func IControl(rrr byte, sss byte, final bool) byte {
	c := (rrr&7)<<5 | (sss&7)<<1
	if final {
		c |= pfBit
	}
	return c
}

// RRControl builds a receive ready control byte carrying N(R).
func RRControl(rrr byte, final bool) byte {
	c := (rrr&7)<<5 | 0x01
	if final {
		c |= pfBit
	}
	return c
}

// Address of one link. The client address is always one byte, the server
// address (logical device + physical) takes Size bytes on the wire.
type Address struct {
	Client   byte
	Logical  uint16 // upper
	Physical uint16 // lower
	Size     int
}

// AddressSize picks the shortest server address encoding able to carry both parts.
func AddressSize(logical uint16, physical uint16) int {
	if logical <= 0x7f {
		if physical == 0 {
			return 1
		}
		if physical <= 0x7f {
			return 2
		}
	}
	return 4
}

func (a *Address) Validate() error {
	if a.Client > 0x7f {
		return fmt.Errorf("%w: client %d", ErrAddress, a.Client)
	}
	switch a.Size {
	case 1:
		if a.Logical > 0x7f || a.Physical != 0 {
			return fmt.Errorf("%w: server %d/%d does not fit single byte", ErrAddress, a.Logical, a.Physical)
		}
	case 2:
		if a.Logical > 0x7f || a.Physical > 0x7f {
			return fmt.Errorf("%w: server %d/%d does not fit two bytes", ErrAddress, a.Logical, a.Physical)
		}
	case 4:
		if a.Logical > 0x3fff || a.Physical > 0x3fff {
			return fmt.Errorf("%w: server %d/%d out of range", ErrAddress, a.Logical, a.Physical)
		}
	default:
		return fmt.Errorf("%w: server address size %d", ErrAddress, a.Size)
	}
	return nil
}

func (a *Address) putserver(b []byte) int {
	switch a.Size {
	case 1:
		b[0] = byte(a.Logical<<1) | 1
	case 2:
		b[0] = byte(a.Logical << 1)
		b[1] = byte(a.Physical<<1) | 1
	default:
		b[0] = byte(a.Logical>>7) << 1
		b[1] = byte(a.Logical << 1)
		b[2] = byte(a.Physical>>7) << 1
		b[3] = byte(a.Physical<<1) | 1
	}
	return a.Size
}

func (a *Address) getserver(b []byte) error {
	a.Size = len(b)
	switch len(b) {
	case 1:
		a.Logical = uint16(b[0] >> 1)
		a.Physical = 0
	case 2:
		a.Logical = uint16(b[0] >> 1)
		a.Physical = uint16(b[1] >> 1)
	case 4:
		a.Logical = uint16(b[0]>>1)<<7 | uint16(b[1]>>1)
		a.Physical = uint16(b[2]>>1)<<7 | uint16(b[3]>>1)
	default:
		return fmt.Errorf("%w: server address of %d bytes", ErrAddress, len(b))
	}
	return nil
}

// Frame is the decode/encode context of one HDLC frame.
type Frame struct {
	Sender    Role
	Address   Address
	Control   byte
	Kind      Kind
	PollFinal bool
	RRR       byte // N(R)
	SSS       byte // N(S)
	Segmented bool
	Info      []byte // aliases the decoded buffer
	Size      int    // whole frame including both flags
}

// EncodedSize returns the number of bytes Encode writes for the frame.
func (f *Frame) EncodedSize() int {
	n := 1 + 2 + 1 + f.Address.Size + 1 + 2 + 1
	if len(f.Info) > 0 {
		n += 2 + len(f.Info)
	}
	return n
}

// Encode writes the frame at the writer position of dst. Sender, Address,
// Control, Segmented and Info are used, the rest is ignored. Nothing is
// written on error.
func Encode(dst *cursor.Cursor, f *Frame) error {
	if err := f.Address.Validate(); err != nil {
		return err
	}
	n := f.EncodedSize()
	if n-2 > maxFrameLength {
		return fmt.Errorf("%w: frame length %d", ErrSize, n-2)
	}
	start := dst.Written()
	if err := dst.AdvanceWriter(n); err != nil {
		return err
	}
	b := dst.Bytes()[start : start+n]
	b[0] = flag
	b[1] = formatType | byte((n-2)>>8)&7
	if f.Segmented {
		b[1] |= segmentBit
	}
	b[2] = byte(n - 2)
	off := 3
	if f.Sender == RoleServer {
		b[off] = f.Address.Client<<1 | 1
		off++
		off += f.Address.putserver(b[off:])
	} else {
		off += f.Address.putserver(b[off:])
		b[off] = f.Address.Client<<1 | 1
		off++
	}
	b[off] = f.Control
	off++
	if len(f.Info) > 0 {
		putcrc(b[off:], crc16(b[1:off]))
		off += 2
		off += copy(b[off:], f.Info)
	}
	putcrc(b[off:], crc16(b[1:off]))
	b[n-1] = flag
	return nil
}

// address bytes run until the first byte with the lowest bit set, 4 at most
func addresslength(b []byte) (int, error) {
	for i := 0; i < len(b) && i < 4; i++ {
		if b[i]&1 != 0 {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: missing terminating bit", ErrAddress)
}

// Decode parses the frame at the start of buf. sender is the role of the
// station that sent it. Size of the returned frame tells how many bytes of
// buf the frame took, so concatenated frames can be walked. An unknown
// control field returns the frame together with ErrControl, sequence numbers
// and the poll/final bit are still valid in that case.
func Decode(buf []byte, sender Role) (f Frame, err error) {
	f.Sender = sender
	if len(buf) < 3 {
		return f, fmt.Errorf("%w: %d bytes", ErrSize, len(buf))
	}
	if buf[0] != flag {
		return f, ErrFlag
	}
	if buf[1]&0xf0 != formatType {
		return f, fmt.Errorf("%w: %02X", ErrFormat, buf[1])
	}
	length := int(buf[1]&7)<<8 | int(buf[2])
	if length < minFrameLength || length+2 > len(buf) {
		return f, fmt.Errorf("%w: length %d, have %d bytes", ErrSize, length, len(buf))
	}
	if buf[length+1] != flag {
		return f, ErrFlag
	}
	f.Size = length + 2
	f.Segmented = buf[1]&segmentBit != 0
	body := buf[1 : length+1]
	end := len(body) - 2
	if crc16(body[:end]) != getcrc(body[end:]) {
		return f, ErrFCS
	}

	off := 2
	dl, err := addresslength(body[off:end])
	if err != nil {
		return f, err
	}
	sl, err := addresslength(body[off+dl : end])
	if err != nil {
		return f, err
	}
	// the destination comes first
	client, server := body[off:off+dl], body[off+dl:off+dl+sl]
	if sender == RoleClient {
		client, server = server, client
	}
	if len(client) != 1 {
		return f, fmt.Errorf("%w: client address of %d bytes", ErrAddress, len(client))
	}
	f.Address.Client = client[0] >> 1
	if err = f.Address.getserver(server); err != nil {
		return f, err
	}
	off += dl + sl
	if off >= end {
		return f, fmt.Errorf("%w: no control field", ErrSize)
	}

	f.Control = body[off]
	off++
	f.PollFinal = f.Control&pfBit != 0
	f.RRR = f.Control >> 5 & 7
	f.SSS = f.Control >> 1 & 7

	switch rem := end - off; {
	case rem == 0:
	case rem < 2:
		return f, fmt.Errorf("%w: dangling header byte", ErrSize)
	default:
		if crc16(body[:off]) != getcrc(body[off:]) {
			return f, ErrHCS
		}
		f.Info = body[off+2 : end]
	}

	for _, c := range controls {
		if f.Control&c.mask == c.value {
			f.Kind = c.kind
			return f, nil
		}
	}
	return f, fmt.Errorf("%w: %02X", ErrControl, f.Control)
}
