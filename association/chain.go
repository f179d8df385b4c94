package association

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
)

type requirement byte

const (
	always   requirement = iota // must be there, unexpected tags in front of it are skipped
	optional                    // treated as absent on another tag
	security                    // only with authentication, see field.absent
	skip                        // recognized and ignored
)

// field is one position of an ordered ACSE codec chain. Decoders get a cursor over the value only,
// encoders are called right after the tag byte is written and write length and value.
type field struct {
	tag    byte
	need   requirement
	decode func(a *Association, v *cursor.Cursor) error
	encode func(a *Association, c *cursor.Cursor) error
	// when reports whether an optional or security field is encoded.
	when func(a *Association) bool
	// absent is asked when a security field is missing, a non nil error fails the decode.
	absent func(a *Association) error
}

type tlv struct {
	tag   byte
	value []byte
}

func nexttlv(in *cursor.Cursor) (t tlv, more bool, err error) {
	if in.Unread() == 0 {
		return t, false, nil
	}
	tag, n, err := axdr.ReadTag(in)
	if err != nil {
		return t, false, err
	}
	v, err := in.ReadSlice(n)
	if err != nil {
		return t, false, err
	}
	return tlv{tag: tag, value: v}, true, nil
}

// decodechain walks the fields of an AARQ or AARE in chain order.
func (a *Association) decodechain(in *cursor.Cursor, apdu base.CosemTag, chain []field) error {
	tag, n, err := axdr.ReadTag(in)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, apdu, err)
	}
	if tag != byte(apdu) {
		return fmt.Errorf("%w: tag %02X, expected %s", ErrDecode, tag, apdu)
	}
	if n != in.Unread() {
		return fmt.Errorf("%w: %s announces %d bytes, %d received", ErrDecode, apdu, n, in.Unread())
	}

	var v cursor.Cursor
	t, more, err := nexttlv(in)
	i := 0
	for ; i < len(chain) && more && err == nil; i++ {
		f := &chain[i]
		if t.tag == f.tag {
			if f.decode != nil {
				if err = v.Init(t.value, len(t.value), 0); err != nil {
					return err
				}
				if err = f.decode(a, &v); err != nil {
					return fmt.Errorf("%w: field %02X: %w", ErrDecode, f.tag, err)
				}
			}
			t, more, err = nexttlv(in)
			continue
		}
		switch f.need {
		case optional, skip:
		case security:
			if f.absent != nil {
				if err = f.absent(a); err != nil {
					return err
				}
			}
		default:
			a.logf("%s: unexpected tag %02X where %02X is expected, skipped", apdu, t.tag, f.tag)
			t, more, err = nexttlv(in)
			i-- // same position again
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, apdu, err)
	}
	for ; i < len(chain); i++ {
		f := &chain[i]
		switch f.need {
		case always:
			return fmt.Errorf("%w: %s without field %02X", ErrDecode, apdu, f.tag)
		case security:
			if f.absent != nil {
				if err = f.absent(a); err != nil {
					return err
				}
			}
		}
	}
	for more {
		a.dlogf("%s: trailing tag %02X ignored", apdu, t.tag)
		if t, more, err = nexttlv(in); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecode, apdu, err)
		}
	}
	return nil
}

var errLength = errors.New("association: apdu longer than 255 bytes")

// encodechain writes the APDU at the write position of c. Security fields are written only when
// secured is set. On error nothing is left behind.
func (a *Association) encodechain(c *cursor.Cursor, apdu base.CosemTag, chain []field, secured bool) (err error) {
	mark := c.Written()
	defer func() {
		if err != nil {
			_ = c.Truncate(mark)
		}
	}()
	if err = c.WriteU8(byte(apdu)); err != nil {
		return err
	}
	if err = c.WriteU8(0); err != nil {
		return err
	}
	for i := range chain {
		f := &chain[i]
		if f.encode == nil || f.need == skip {
			continue
		}
		if f.need == security && !secured {
			continue
		}
		if f.need == optional && f.when == nil {
			continue
		}
		if f.when != nil && !f.when(a) {
			continue
		}
		if err = c.WriteU8(f.tag); err != nil {
			return err
		}
		if err = f.encode(a, c); err != nil {
			return fmt.Errorf("%s field %02X: %w", apdu, f.tag, err)
		}
	}

	n := c.Written() - mark - 2
	switch {
	case n < 0x80:
		return c.Set(mark+1, byte(n))
	case n < 0x100:
		// one more length byte, shift the content
		if err = c.WriteU8(0); err != nil {
			return err
		}
		b := c.Bytes()
		copy(b[mark+3:], b[mark+2:len(b)-1])
		b[mark+1] = 0x81
		b[mark+2] = byte(n)
		return nil
	}
	return errLength
}

// bitstring 07 80: one bit set, the only value used by ACSE version and requirement fields
func decodeflag(v *cursor.Cursor) error {
	b := v.Remaining()
	if len(b) != 2 || b[0] != 0x07 || b[1] != 0x80 {
		return fmt.Errorf("%w: bit string %X", axdr.ErrLength, b)
	}
	return nil
}

func encodeflag(_ *Association, c *cursor.Cursor) error {
	return c.WriteBuffer([]byte{0x02, 0x07, 0x80})
}

// mechanism name is an implicitly tagged object identifier, the value lacks the 06 header
func decodemechanism(v *cursor.Cursor) (base.Authentication, error) {
	b := v.Remaining()
	if len(b) != len(axdr.OIDHeader)+2 || [5]byte(b[:5]) != axdr.OIDHeader || b[5] != axdr.OIDMechanismName {
		return 0, fmt.Errorf("%w: mechanism name %X", axdr.ErrLength, b)
	}
	return base.Authentication(b[6]), nil
}

func encodemechanism(a *Association, c *cursor.Cursor) error {
	if err := c.WriteU8(byte(len(axdr.OIDHeader) + 2)); err != nil {
		return err
	}
	if err := c.WriteBuffer(axdr.OIDHeader[:]); err != nil {
		return err
	}
	if err := c.WriteU8(axdr.OIDMechanismName); err != nil {
		return err
	}
	return c.WriteU8(byte(a.mechanism))
}

func decodecontext(v *cursor.Cursor) (base.ApplicationContext, error) {
	name, id, err := axdr.ReadOID(v)
	if err != nil {
		return 0, err
	}
	if name != axdr.OIDApplicationContext {
		return 0, fmt.Errorf("%w: object identifier %d is not an application context", axdr.ErrLength, name)
	}
	return base.ApplicationContext(id), nil
}

func encodecontext(a *Association, c *cursor.Cursor) error {
	if err := c.WriteU8(9); err != nil {
		return err
	}
	return axdr.WriteOID(c, axdr.OIDApplicationContext, byte(a.context))
}

// AP titles travel as 04 08 title
func decodetitle(v *cursor.Cursor) ([]byte, error) {
	t, err := axdr.ReadTagged(v, axdr.BEROctetString)
	if err != nil {
		return nil, err
	}
	if len(t) != 8 {
		return nil, fmt.Errorf("%w: system title of %d bytes", axdr.ErrLength, len(t))
	}
	return append([]byte(nil), t...), nil
}

func encodetitle(a *Association, c *cursor.Cursor) error {
	if err := c.WriteU8(byte(2 + len(a.ownTitle))); err != nil {
		return err
	}
	return axdr.WriteTagged(c, axdr.BEROctetString, a.ownTitle)
}

// authentication values are the charstring choice [0] of a constructed field
func decodeauthvalue(v *cursor.Cursor) ([]byte, error) {
	b, err := axdr.ReadTagged(v, 0x80)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || len(b) > 64 {
		return nil, fmt.Errorf("%w: authentication value of %d bytes", axdr.ErrLength, len(b))
	}
	return b, nil
}

func encodeauthvalue(c *cursor.Cursor, value []byte) error {
	if err := axdr.WriteLength(c, 2+len(value)); err != nil {
		return err
	}
	return axdr.WriteTagged(c, 0x80, value)
}
