// Package axdr holds the BER and A-XDR primitives the association and service layers are built on,
// the typed Data value codec, OBIS and date-time types and an XML printer for decoded values.
//
// All helpers read and write through a cursor.Cursor. A failing helper leaves the cursor as it was.
package axdr

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libcosem-go/cursor"
)

var (
	ErrTruncated   = errors.New("axdr: truncated input")
	ErrTagMismatch = errors.New("axdr: tag mismatch")
	ErrLength      = errors.New("axdr: invalid length")
	ErrType        = errors.New("axdr: unsupported value")
)

// OIDHeader prefixes every COSEM object identifier:
// joint-iso-ccitt(2) country(16) country-name(756) identified-organization(5) DLMS-UA(8).
var OIDHeader = [5]byte{0x60, 0x85, 0x74, 0x05, 0x08}

const (
	OIDApplicationContext = 1
	OIDMechanismName      = 2

	BERObjectIdentifier = 0x06
	BERInteger          = 0x02
	BEROctetString      = 0x04
	BERBitString        = 0x03

	berConstructed = 0x20
)

func truncated(err error) error {
	if errors.Is(err, cursor.ErrUnderflow) {
		return fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	return err
}

func reserve(c *cursor.Cursor, n int) error {
	if n > c.Free() {
		return fmt.Errorf("%w: need %d bytes, %d free", cursor.ErrOverflow, n, c.Free())
	}
	return nil
}

// IsConstructed reports whether a BER tag carries nested TLVs.
func IsConstructed(tag byte) bool {
	return tag&berConstructed != 0
}

// LengthSize is the encoded size of a length field.
func LengthSize(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

func WriteLength(c *cursor.Cursor, n int) error {
	if n < 0 || uint64(n) > 0xffffffff {
		return fmt.Errorf("%w: %d", ErrLength, n)
	}
	if err := reserve(c, LengthSize(n)); err != nil {
		return err
	}
	switch LengthSize(n) {
	case 1:
		_ = c.WriteU8(byte(n))
	case 2:
		_ = c.WriteU8(0x81)
		_ = c.WriteU8(byte(n))
	case 3:
		_ = c.WriteU8(0x82)
		_ = c.WriteU16(uint16(n))
	default:
		_ = c.WriteU8(0x84)
		_ = c.WriteU32(uint32(n))
	}
	return nil
}

func ReadLength(c *cursor.Cursor) (int, error) {
	pos := c.ReadPos()
	b, err := c.ReadU8()
	if err != nil {
		return 0, truncated(err)
	}
	if b < 0x80 {
		return int(b), nil
	}
	size := int(b & 0x7f)
	if size == 0 || size > 4 {
		_ = c.SeekReader(pos)
		return 0, fmt.Errorf("%w: length of length %d", ErrLength, size)
	}
	raw, err := c.ReadSlice(size)
	if err != nil {
		_ = c.SeekReader(pos)
		return 0, truncated(err)
	}
	n := 0
	for _, v := range raw {
		n = n<<8 | int(v)
	}
	return n, nil
}

// WriteTag writes a BER tag and a length, the value follows.
func WriteTag(c *cursor.Cursor, tag byte, n int) error {
	if err := reserve(c, 1+LengthSize(n)); err != nil {
		return err
	}
	_ = c.WriteU8(tag)
	return WriteLength(c, n)
}

// PeekTag returns the next tag byte without consuming it.
func PeekTag(c *cursor.Cursor) (byte, error) {
	b, err := c.Peek()
	return b, truncated(err)
}

// ReadTag consumes a tag and its length. The value is not consumed and must be fully present.
func ReadTag(c *cursor.Cursor) (tag byte, n int, err error) {
	pos := c.ReadPos()
	if tag, err = c.ReadU8(); err != nil {
		return 0, 0, truncated(err)
	}
	if n, err = ReadLength(c); err != nil {
		_ = c.SeekReader(pos)
		return 0, 0, err
	}
	if n > c.Unread() {
		_ = c.SeekReader(pos)
		return 0, 0, fmt.Errorf("%w: tag %02X announces %d bytes, %d left", ErrTruncated, tag, n, c.Unread())
	}
	return tag, n, nil
}

// ExpectTag is ReadTag failing with ErrTagMismatch, and consuming nothing, on another tag.
func ExpectTag(c *cursor.Cursor, want byte) (int, error) {
	b, err := PeekTag(c)
	if err != nil {
		return 0, err
	}
	if b != want {
		return 0, fmt.Errorf("%w: %02X, expected %02X", ErrTagMismatch, b, want)
	}
	_, n, err := ReadTag(c)
	return n, err
}

// Skip consumes one whole TLV.
func Skip(c *cursor.Cursor) error {
	pos := c.ReadPos()
	_, n, err := ReadTag(c)
	if err != nil {
		return err
	}
	if err = c.AdvanceReader(n); err != nil {
		_ = c.SeekReader(pos)
		return truncated(err)
	}
	return nil
}

// WriteTagged writes an octet string under an explicit tag.
func WriteTagged(c *cursor.Cursor, tag byte, v []byte) error {
	if err := reserve(c, 1+LengthSize(len(v))+len(v)); err != nil {
		return err
	}
	_ = WriteTag(c, tag, len(v))
	return c.WriteBuffer(v)
}

// ReadTagged reads an octet string under an explicit tag, the result aliases the cursor storage.
func ReadTagged(c *cursor.Cursor, tag byte) ([]byte, error) {
	pos := c.ReadPos()
	n, err := ExpectTag(c, tag)
	if err != nil {
		return nil, err
	}
	v, err := c.ReadSlice(n)
	if err != nil {
		_ = c.SeekReader(pos)
		return nil, truncated(err)
	}
	return v, nil
}

// WriteOID writes a COSEM object identifier: 06 07 60 85 74 05 08 name id.
func WriteOID(c *cursor.Cursor, name byte, id byte) error {
	if err := reserve(c, 9); err != nil {
		return err
	}
	_ = c.WriteU8(BERObjectIdentifier)
	_ = c.WriteU8(byte(len(OIDHeader) + 2))
	_ = c.WriteBuffer(OIDHeader[:])
	_ = c.WriteU8(name)
	return c.WriteU8(id)
}

// ReadOID reads a COSEM object identifier and returns its two discriminator bytes.
func ReadOID(c *cursor.Cursor) (name byte, id byte, err error) {
	pos := c.ReadPos()
	v, err := ReadTagged(c, BERObjectIdentifier)
	if err != nil {
		return 0, 0, err
	}
	if len(v) != len(OIDHeader)+2 || [5]byte(v[:5]) != OIDHeader {
		_ = c.SeekReader(pos)
		return 0, 0, fmt.Errorf("%w: object identifier %X", ErrLength, v)
	}
	return v[5], v[6], nil
}

// WriteBERUnsigned writes a one byte BER INTEGER: 02 01 v.
func WriteBERUnsigned(c *cursor.Cursor, v byte) error {
	return WriteTagged(c, BERInteger, []byte{v})
}

func ReadBERUnsigned(c *cursor.Cursor) (byte, error) {
	pos := c.ReadPos()
	v, err := ReadTagged(c, BERInteger)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		_ = c.SeekReader(pos)
		return 0, fmt.Errorf("%w: integer of %d bytes", ErrLength, len(v))
	}
	return v[0], nil
}

// A-XDR fixed size values

func writefixed(c *cursor.Cursor, tag Tag, v uint64, n int) error {
	if err := reserve(c, 1+n); err != nil {
		return err
	}
	_ = c.WriteU8(byte(tag))
	for i := n - 1; i >= 0; i-- {
		_ = c.WriteU8(byte(v >> (8 * i)))
	}
	return nil
}

func readfixed(c *cursor.Cursor, tag Tag, n int) (uint64, error) {
	if err := expect(c, tag); err != nil {
		return 0, err
	}
	if c.Unread() < 1+n {
		return 0, fmt.Errorf("%w: %v needs %d bytes, %d left", ErrTruncated, tag, n, c.Unread()-1)
	}
	_ = c.AdvanceReader(1)
	raw, _ := c.ReadSlice(n)
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func expect(c *cursor.Cursor, tag Tag) error {
	b, err := c.Peek()
	if err != nil {
		return truncated(err)
	}
	if Tag(b) != tag {
		return fmt.Errorf("%w: %v, expected %v", ErrTagMismatch, Tag(b), tag)
	}
	return nil
}

func WriteNull(c *cursor.Cursor) error {
	return c.WriteU8(byte(TagNull))
}

func ReadNull(c *cursor.Cursor) error {
	if err := expect(c, TagNull); err != nil {
		return err
	}
	return c.AdvanceReader(1)
}

func WriteBoolean(c *cursor.Cursor, v bool) error {
	var b uint64
	if v {
		b = 1
	}
	return writefixed(c, TagBoolean, b, 1)
}

func ReadBoolean(c *cursor.Cursor) (bool, error) {
	v, err := readfixed(c, TagBoolean, 1)
	return v != 0, err
}

func WriteInteger(c *cursor.Cursor, v int8) error {
	return writefixed(c, TagInteger, uint64(uint8(v)), 1)
}

func ReadInteger(c *cursor.Cursor) (int8, error) {
	v, err := readfixed(c, TagInteger, 1)
	return int8(v), err
}

func WriteLong(c *cursor.Cursor, v int16) error {
	return writefixed(c, TagLong, uint64(uint16(v)), 2)
}

func ReadLong(c *cursor.Cursor) (int16, error) {
	v, err := readfixed(c, TagLong, 2)
	return int16(v), err
}

func WriteDoubleLong(c *cursor.Cursor, v int32) error {
	return writefixed(c, TagDoubleLong, uint64(uint32(v)), 4)
}

func ReadDoubleLong(c *cursor.Cursor) (int32, error) {
	v, err := readfixed(c, TagDoubleLong, 4)
	return int32(v), err
}

func WriteLong64(c *cursor.Cursor, v int64) error {
	return writefixed(c, TagLong64, uint64(v), 8)
}

func ReadLong64(c *cursor.Cursor) (int64, error) {
	v, err := readfixed(c, TagLong64, 8)
	return int64(v), err
}

func WriteUnsigned(c *cursor.Cursor, v uint8) error {
	return writefixed(c, TagUnsigned, uint64(v), 1)
}

func ReadUnsigned(c *cursor.Cursor) (uint8, error) {
	v, err := readfixed(c, TagUnsigned, 1)
	return uint8(v), err
}

func WriteLongUnsigned(c *cursor.Cursor, v uint16) error {
	return writefixed(c, TagLongUnsigned, uint64(v), 2)
}

func ReadLongUnsigned(c *cursor.Cursor) (uint16, error) {
	v, err := readfixed(c, TagLongUnsigned, 2)
	return uint16(v), err
}

func WriteDoubleLongUnsigned(c *cursor.Cursor, v uint32) error {
	return writefixed(c, TagDoubleLongUnsigned, uint64(v), 4)
}

func ReadDoubleLongUnsigned(c *cursor.Cursor) (uint32, error) {
	v, err := readfixed(c, TagDoubleLongUnsigned, 4)
	return uint32(v), err
}

func WriteLong64Unsigned(c *cursor.Cursor, v uint64) error {
	return writefixed(c, TagLong64Unsigned, v, 8)
}

func ReadLong64Unsigned(c *cursor.Cursor) (uint64, error) {
	return readfixed(c, TagLong64Unsigned, 8)
}

func WriteEnum(c *cursor.Cursor, v uint8) error {
	return writefixed(c, TagEnum, uint64(v), 1)
}

func ReadEnum(c *cursor.Cursor) (uint8, error) {
	v, err := readfixed(c, TagEnum, 1)
	return uint8(v), err
}

// A-XDR variable size values

func writecount(c *cursor.Cursor, tag Tag, n int) error {
	if err := reserve(c, 1+LengthSize(n)); err != nil {
		return err
	}
	_ = c.WriteU8(byte(tag))
	return WriteLength(c, n)
}

func readcount(c *cursor.Cursor, tag Tag) (int, error) {
	if err := expect(c, tag); err != nil {
		return 0, err
	}
	pos := c.ReadPos()
	_ = c.AdvanceReader(1)
	n, err := ReadLength(c)
	if err != nil {
		_ = c.SeekReader(pos)
	}
	return n, err
}

// WriteStructure writes the structure header, n elements follow.
func WriteStructure(c *cursor.Cursor, n int) error {
	return writecount(c, TagStructure, n)
}

func ReadStructure(c *cursor.Cursor) (int, error) {
	return readcount(c, TagStructure)
}

// WriteArray writes the array header, n elements follow.
func WriteArray(c *cursor.Cursor, n int) error {
	return writecount(c, TagArray, n)
}

func ReadArray(c *cursor.Cursor) (int, error) {
	return readcount(c, TagArray)
}

func WriteOctetString(c *cursor.Cursor, v []byte) error {
	return WriteTagged(c, byte(TagOctetString), v)
}

// ReadOctetString returns a slice aliasing the cursor storage.
func ReadOctetString(c *cursor.Cursor) ([]byte, error) {
	return ReadTagged(c, byte(TagOctetString))
}

func WriteVisibleString(c *cursor.Cursor, v string) error {
	return WriteTagged(c, byte(TagVisibleString), []byte(v))
}

func ReadVisibleString(c *cursor.Cursor) (string, error) {
	v, err := ReadTagged(c, byte(TagVisibleString))
	return string(v), err
}

// WriteBitString writes bits MSB first, padded with zeros to a whole byte.
func WriteBitString(c *cursor.Cursor, bits []bool) error {
	n := (len(bits) + 7) >> 3
	if err := reserve(c, 1+LengthSize(len(bits))+n); err != nil {
		return err
	}
	_ = writecount(c, TagBitString, len(bits))
	for i := 0; i < n; i++ {
		var b byte
		for j := 0; j < 8 && i*8+j < len(bits); j++ {
			if bits[i*8+j] {
				b |= 0x80 >> j
			}
		}
		_ = c.WriteU8(b)
	}
	return nil
}

func ReadBitString(c *cursor.Cursor) ([]bool, error) {
	pos := c.ReadPos()
	n, err := readcount(c, TagBitString)
	if err != nil {
		return nil, err
	}
	raw, err := c.ReadSlice((n + 7) >> 3)
	if err != nil {
		_ = c.SeekReader(pos)
		return nil, truncated(err)
	}
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = raw[i>>3]&(0x80>>(i&7)) != 0
	}
	return bits, nil
}
