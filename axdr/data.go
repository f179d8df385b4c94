package axdr

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/cybroslabs/libcosem-go/cursor"
)

const maxDepth = 16

// Data is one decoded A-XDR value. Value holds, per tag:
//
//	null                     nil
//	array, structure         []Data
//	boolean                  bool
//	bit-string               []bool (a string of '0'/'1' is accepted when encoding)
//	integer types, enum      int8, int16, int32, int64, uint8, uint16, uint32, uint64
//	floats                   float32, float64
//	octet-string             []byte (Obis, DateTime and time.Time are accepted when encoding)
//	visible and utf8 string  string
//	bcd                      int8
//	date-time, date, time    DateTime, Date, Time
type Data struct {
	Tag   Tag
	Value any
}

// DecodeData reads one complete tagged value.
func DecodeData(c *cursor.Cursor) (Data, error) {
	pos := c.ReadPos()
	d, err := decodedata(c, 0)
	if err != nil {
		_ = c.SeekReader(pos)
	}
	return d, err
}

// SkipData consumes one complete tagged value without building it.
func SkipData(c *cursor.Cursor) error {
	_, err := DecodeData(c)
	return err
}

func decodedata(c *cursor.Cursor, depth int) (d Data, err error) {
	if depth > maxDepth {
		return d, fmt.Errorf("%w: nested deeper than %d", ErrLength, maxDepth)
	}
	b, err := c.Peek()
	if err != nil {
		return d, truncated(err)
	}
	d.Tag = Tag(b)
	switch d.Tag {
	case TagNull:
		err = ReadNull(c)
	case TagArray, TagStructure:
		var n int
		if n, err = readcount(c, d.Tag); err != nil {
			return d, err
		}
		if n > c.Unread() {
			return d, fmt.Errorf("%w: %v of %d elements, %d bytes left", ErrTruncated, d.Tag, n, c.Unread())
		}
		items := make([]Data, n)
		for i := range items {
			if items[i], err = decodedata(c, depth+1); err != nil {
				return d, err
			}
		}
		d.Value = items
	case TagBoolean:
		d.Value, err = ReadBoolean(c)
	case TagBitString:
		d.Value, err = ReadBitString(c)
	case TagDoubleLong:
		d.Value, err = ReadDoubleLong(c)
	case TagDoubleLongUnsigned:
		d.Value, err = ReadDoubleLongUnsigned(c)
	case TagFloatingPoint, TagFloat32:
		var v uint64
		v, err = readfixed(c, d.Tag, 4)
		d.Value = math.Float32frombits(uint32(v))
	case TagFloat64:
		var v uint64
		v, err = readfixed(c, d.Tag, 8)
		d.Value = math.Float64frombits(v)
	case TagOctetString:
		var v []byte
		v, err = ReadOctetString(c)
		d.Value = append([]byte(nil), v...)
	case TagVisibleString:
		d.Value, err = ReadVisibleString(c)
	case TagUTF8String:
		var v []byte
		if v, err = ReadTagged(c, byte(TagUTF8String)); err == nil && !utf8.Valid(v) {
			err = fmt.Errorf("%w: invalid utf-8 string", ErrType)
		}
		d.Value = string(v)
	case TagBCD:
		var v uint64
		v, err = readfixed(c, d.Tag, 1)
		bcd := int8(v&0xf) + 10*int8((v>>4)&7)
		if v&0x80 != 0 {
			bcd = -bcd
		}
		d.Value = bcd
	case TagInteger:
		d.Value, err = ReadInteger(c)
	case TagLong:
		d.Value, err = ReadLong(c)
	case TagUnsigned:
		d.Value, err = ReadUnsigned(c)
	case TagLongUnsigned:
		d.Value, err = ReadLongUnsigned(c)
	case TagLong64:
		d.Value, err = ReadLong64(c)
	case TagLong64Unsigned:
		d.Value, err = ReadLong64Unsigned(c)
	case TagEnum:
		d.Value, err = ReadEnum(c)
	case TagDateTime, TagDate, TagTime:
		d.Value, err = readdatetime(c, d.Tag)
	default:
		return d, fmt.Errorf("%w: %v", ErrType, d.Tag)
	}
	return d, err
}

func readdatetime(c *cursor.Cursor, tag Tag) (any, error) {
	n := DateTimeSize
	switch tag {
	case TagDate:
		n = 5
	case TagTime:
		n = 4
	}
	if err := expect(c, tag); err != nil {
		return nil, err
	}
	if c.Unread() < 1+n {
		return nil, fmt.Errorf("%w: %v needs %d bytes", ErrTruncated, tag, n)
	}
	_ = c.AdvanceReader(1)
	raw, _ := c.ReadSlice(n)
	switch tag {
	case TagDate:
		return Date{Year: uint16(raw[0])<<8 | uint16(raw[1]), Month: raw[2], Day: raw[3], DayOfWeek: raw[4]}, nil
	case TagTime:
		return Time{Hour: raw[0], Minute: raw[1], Second: raw[2], Hundredths: raw[3]}, nil
	}
	dt, err := DateTimeFromBytes(raw)
	return dt, err
}

// EncodeData writes d with its tag. On failure nothing is left written.
func EncodeData(c *cursor.Cursor, d *Data) error {
	mark := c.Written()
	if err := encodedata(c, d, 0); err != nil {
		_ = c.Truncate(mark)
		return err
	}
	return nil
}

func encodedata(c *cursor.Cursor, d *Data, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nested deeper than %d", ErrLength, maxDepth)
	}
	switch d.Tag {
	case TagNull:
		return WriteNull(c)
	case TagArray, TagStructure:
		items, ok := d.Value.([]Data)
		if !ok {
			return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
		}
		if err := writecount(c, d.Tag, len(items)); err != nil {
			return err
		}
		for i := range items {
			if err := encodedata(c, &items[i], depth+1); err != nil {
				return err
			}
		}
		return nil
	case TagBoolean:
		v, ok := d.Value.(bool)
		if !ok {
			return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
		}
		return WriteBoolean(c, v)
	case TagBitString:
		return encodebitstring(c, d)
	case TagDoubleLong, TagDoubleLongUnsigned:
		return encodeinteger(c, d, 4)
	case TagInteger, TagUnsigned, TagEnum:
		return encodeinteger(c, d, 1)
	case TagLong, TagLongUnsigned:
		return encodeinteger(c, d, 2)
	case TagLong64, TagLong64Unsigned:
		return encodeinteger(c, d, 8)
	case TagFloatingPoint, TagFloat32, TagFloat64:
		return encodefloat(c, d)
	case TagOctetString:
		return encodeoctetstring(c, d)
	case TagVisibleString, TagUTF8String:
		v, ok := d.Value.(string)
		if !ok {
			return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
		}
		return WriteTagged(c, byte(d.Tag), []byte(v))
	case TagBCD:
		var v int64
		switch t := d.Value.(type) {
		case int8:
			v = int64(t)
		case int:
			v = int64(t)
		default:
			return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
		}
		if v < -79 || v > 79 {
			return fmt.Errorf("%w: bcd %d out of range", ErrType, v)
		}
		b := byte(0)
		if v < 0 {
			b = 0x80
			v = -v
		}
		return writefixed(c, TagBCD, uint64(b|byte(v/10)<<4|byte(v%10)), 1)
	case TagDateTime:
		dt, err := todatetime(d.Value)
		if err != nil {
			return err
		}
		return writeraw(c, d.Tag, dt.Bytes())
	case TagDate:
		v, ok := d.Value.(Date)
		if !ok {
			return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
		}
		return writeraw(c, d.Tag, []byte{byte(v.Year >> 8), byte(v.Year), v.Month, v.Day, v.DayOfWeek})
	case TagTime:
		v, ok := d.Value.(Time)
		if !ok {
			return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
		}
		return writeraw(c, d.Tag, []byte{v.Hour, v.Minute, v.Second, v.Hundredths})
	}
	return fmt.Errorf("%w: %v", ErrType, d.Tag)
}

func writeraw(c *cursor.Cursor, tag Tag, v []byte) error {
	if err := reserve(c, 1+len(v)); err != nil {
		return err
	}
	_ = c.WriteU8(byte(tag))
	return c.WriteBuffer(v)
}

func todatetime(v any) (DateTime, error) {
	switch t := v.(type) {
	case DateTime:
		return t, nil
	case *DateTime:
		return *t, nil
	case time.Time:
		return DateTimeFromTime(t), nil
	}
	return DateTime{}, fmt.Errorf("%w: %T for date-time", ErrType, v)
}

func encodeoctetstring(c *cursor.Cursor, d *Data) error {
	switch t := d.Value.(type) {
	case []byte:
		return WriteOctetString(c, t)
	case Obis:
		return WriteOctetString(c, t.Bytes())
	case *Obis:
		return WriteOctetString(c, t.Bytes())
	case string:
		return WriteOctetString(c, []byte(t))
	}
	dt, err := todatetime(d.Value)
	if err != nil {
		return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
	}
	return WriteOctetString(c, dt.Bytes())
}

func encodebitstring(c *cursor.Cursor, d *Data) error {
	switch t := d.Value.(type) {
	case []bool:
		return WriteBitString(c, t)
	case string:
		bits := make([]bool, len(t))
		for i, r := range []byte(t) {
			switch r {
			case '0':
			case '1':
				bits[i] = true
			default:
				return fmt.Errorf("%w: invalid character in bit-string: %c", ErrType, r)
			}
		}
		return WriteBitString(c, bits)
	}
	return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
}

// encodeinteger accepts any Go integer that fits the target width and signedness.
func encodeinteger(c *cursor.Cursor, d *Data, size int) error {
	var v int64
	var u uint64
	unsigned := false
	switch t := d.Value.(type) {
	case int:
		v = int64(t)
	case int8:
		v = int64(t)
	case int16:
		v = int64(t)
	case int32:
		v = int64(t)
	case int64:
		v = t
	case uint:
		u, unsigned = uint64(t), true
	case uint8:
		u, unsigned = uint64(t), true
	case uint16:
		u, unsigned = uint64(t), true
	case uint32:
		u, unsigned = uint64(t), true
	case uint64:
		u, unsigned = t, true
	default:
		return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
	}
	signed := d.Tag == TagInteger || d.Tag == TagLong || d.Tag == TagDoubleLong || d.Tag == TagLong64
	bits := uint(size * 8)
	if signed {
		if unsigned {
			if u > math.MaxInt64 {
				return fmt.Errorf("%w: %d does not fit %v", ErrType, u, d.Tag)
			}
			v = int64(u)
		}
		if bits < 64 && (v < -(1<<(bits-1)) || v >= 1<<(bits-1)) {
			return fmt.Errorf("%w: %d does not fit %v", ErrType, v, d.Tag)
		}
		return writefixed(c, d.Tag, uint64(v), size)
	}
	if !unsigned {
		if v < 0 {
			return fmt.Errorf("%w: %d does not fit %v", ErrType, v, d.Tag)
		}
		u = uint64(v)
	}
	if bits < 64 && u >= 1<<bits {
		return fmt.Errorf("%w: %d does not fit %v", ErrType, u, d.Tag)
	}
	return writefixed(c, d.Tag, u, size)
}

func encodefloat(c *cursor.Cursor, d *Data) error {
	var f float64
	switch t := d.Value.(type) {
	case float32:
		f = float64(t)
	case float64:
		f = t
	default:
		return fmt.Errorf("%w: %T for %v", ErrType, d.Value, d.Tag)
	}
	if d.Tag == TagFloat64 {
		return writefixed(c, d.Tag, math.Float64bits(f), 8)
	}
	return writefixed(c, d.Tag, uint64(math.Float32bits(float32(f))), 4)
}

// Convenience constructors used when building values by hand.

func NewStructure(items ...Data) Data {
	return Data{Tag: TagStructure, Value: items}
}

func NewArray(items ...Data) Data {
	return Data{Tag: TagArray, Value: items}
}

func NewOctetString(v []byte) Data {
	return Data{Tag: TagOctetString, Value: v}
}
