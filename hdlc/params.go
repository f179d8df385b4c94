package hdlc

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/cursor"
)

const (
	paramFormat = 0x81
	paramGroup  = 0x80

	paramMaxInfoTx = 0x05
	paramMaxInfoRx = 0x06
	paramWindowTx  = 0x07
	paramWindowRx  = 0x08

	DefaultMaxInfo = 128
	DefaultWindow  = 1
)

// Params are the link parameters carried by SNRM and UA, seen from the
// station that sends them.
type Params struct {
	MaxInfoTx uint16
	MaxInfoRx uint16
	WindowTx  uint32
	WindowRx  uint32
}

func DefaultParams() Params {
	return Params{
		MaxInfoTx: DefaultMaxInfo,
		MaxInfoRx: DefaultMaxInfo,
		WindowTx:  DefaultWindow,
		WindowRx:  DefaultWindow,
	}
}

// Answer computes the parameters a responder sends back for the peer's
// proposal: it never transmits more than the peer accepts and vice versa.
func (p Params) Answer(peer Params) Params {
	return Params{
		MaxInfoTx: min(p.MaxInfoTx, peer.MaxInfoRx),
		MaxInfoRx: min(p.MaxInfoRx, peer.MaxInfoTx),
		WindowTx:  min(p.WindowTx, peer.WindowRx),
		WindowRx:  min(p.WindowRx, peer.WindowTx),
	}
}

// Accept clamps own parameters with the peer's answer.
func (p Params) Accept(answer Params) Params {
	return Params{
		MaxInfoTx: min(p.MaxInfoTx, answer.MaxInfoRx),
		MaxInfoRx: min(p.MaxInfoRx, answer.MaxInfoTx),
		WindowTx:  min(p.WindowTx, answer.WindowRx),
		WindowRx:  min(p.WindowRx, answer.WindowTx),
	}
}

func paramsize16(v uint16) byte {
	if v <= 0xff {
		return 1
	}
	return 2
}

// EncodeParams writes the SNRM/UA information field.
func EncodeParams(dst *cursor.Cursor, p *Params) error {
	if p.MaxInfoTx == 0 || p.MaxInfoRx == 0 || p.WindowTx == 0 || p.WindowRx == 0 {
		return fmt.Errorf("%w: zero parameter", ErrNegotiation)
	}
	var tmp [24]byte
	b := tmp[:0]
	b = append(b, paramFormat, paramGroup, 0)
	for _, m := range [...]struct {
		tag byte
		v   uint16
	}{{paramMaxInfoTx, p.MaxInfoTx}, {paramMaxInfoRx, p.MaxInfoRx}} {
		if paramsize16(m.v) == 1 {
			b = append(b, m.tag, 1, byte(m.v))
		} else {
			b = append(b, m.tag, 2, byte(m.v>>8), byte(m.v))
		}
	}
	b = append(b, paramWindowTx, 4, byte(p.WindowTx>>24), byte(p.WindowTx>>16), byte(p.WindowTx>>8), byte(p.WindowTx))
	b = append(b, paramWindowRx, 4, byte(p.WindowRx>>24), byte(p.WindowRx>>16), byte(p.WindowRx>>8), byte(p.WindowRx))
	b[2] = byte(len(b) - 3)
	return dst.WriteBuffer(b)
}

// DecodeParams parses the SNRM/UA information field. Missing parameters keep
// their defaults, an empty field means all defaults.
func DecodeParams(info []byte) (p Params, err error) {
	p = DefaultParams()
	if len(info) == 0 {
		return p, nil
	}
	if len(info) < 3 || info[0] != paramFormat || info[1] != paramGroup {
		return p, fmt.Errorf("%w: invalid header", ErrNegotiation)
	}
	if int(info[2]) != len(info)-3 {
		return p, fmt.Errorf("%w: invalid group length", ErrNegotiation)
	}
	seen := 0
	for i := 3; i < len(info) && seen < 4; seen++ {
		if i+2 > len(info) {
			return p, fmt.Errorf("%w: truncated parameter", ErrNegotiation)
		}
		tag, size := info[i], int(info[i+1])
		i += 2
		if size != 1 && size != 2 && size != 4 {
			return p, fmt.Errorf("%w: parameter %02X has size %d", ErrNegotiation, tag, size)
		}
		if i+size > len(info) {
			return p, fmt.Errorf("%w: truncated parameter %02X", ErrNegotiation, tag)
		}
		var v uint32
		for _, b := range info[i : i+size] {
			v = v<<8 | uint32(b)
		}
		i += size
		if v == 0 {
			return p, fmt.Errorf("%w: parameter %02X is zero", ErrNegotiation, tag)
		}
		switch tag {
		case paramMaxInfoTx, paramMaxInfoRx:
			if v > maxFrameLength {
				return p, fmt.Errorf("%w: max info %d too big", ErrNegotiation, v)
			}
			if tag == paramMaxInfoTx {
				p.MaxInfoTx = uint16(v)
			} else {
				p.MaxInfoRx = uint16(v)
			}
		case paramWindowTx:
			p.WindowTx = v
		case paramWindowRx:
			p.WindowRx = v
		default:
			return p, fmt.Errorf("%w: unknown parameter %02X", ErrNegotiation, tag)
		}
	}
	return p, nil
}
