package axdr

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type Tag byte

const (
	TagNull               Tag = 0
	TagArray              Tag = 1
	TagStructure          Tag = 2
	TagBoolean            Tag = 3
	TagBitString          Tag = 4
	TagDoubleLong         Tag = 5
	TagDoubleLongUnsigned Tag = 6
	TagFloatingPoint      Tag = 7
	TagOctetString        Tag = 9
	TagVisibleString      Tag = 10
	TagUTF8String         Tag = 12
	TagBCD                Tag = 13
	TagInteger            Tag = 15
	TagLong               Tag = 16
	TagUnsigned           Tag = 17
	TagLongUnsigned       Tag = 18
	TagCompactArray       Tag = 19
	TagLong64             Tag = 20
	TagLong64Unsigned     Tag = 21
	TagEnum               Tag = 22
	TagFloat32            Tag = 23
	TagFloat64            Tag = 24
	TagDateTime           Tag = 25
	TagDate               Tag = 26
	TagTime               Tag = 27
	TagDontCare           Tag = 255
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null-data"
	case TagArray:
		return "array"
	case TagStructure:
		return "structure"
	case TagBoolean:
		return "boolean"
	case TagBitString:
		return "bit-string"
	case TagDoubleLong:
		return "double-long"
	case TagDoubleLongUnsigned:
		return "double-long-unsigned"
	case TagFloatingPoint:
		return "floating-point"
	case TagOctetString:
		return "octet-string"
	case TagVisibleString:
		return "visible-string"
	case TagUTF8String:
		return "utf8-string"
	case TagBCD:
		return "bcd"
	case TagInteger:
		return "integer"
	case TagLong:
		return "long"
	case TagUnsigned:
		return "unsigned"
	case TagLongUnsigned:
		return "long-unsigned"
	case TagCompactArray:
		return "compact-array"
	case TagLong64:
		return "long64"
	case TagLong64Unsigned:
		return "long64-unsigned"
	case TagEnum:
		return "enum"
	case TagFloat32:
		return "float32"
	case TagFloat64:
		return "float64"
	case TagDateTime:
		return "date-time"
	case TagDate:
		return "date"
	case TagTime:
		return "time"
	case TagDontCare:
		return "dont-care"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

type Obis struct {
	A byte
	B byte
	C byte
	D byte
	E byte
	F byte
}

func (o Obis) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d.%d", o.A, o.B, o.C, o.D, o.E, o.F)
}

func (o Obis) Bytes() []byte {
	return []byte{o.A, o.B, o.C, o.D, o.E, o.F}
}

func ObisFromBytes(src []byte) (ob Obis, err error) {
	if len(src) != 6 {
		return ob, fmt.Errorf("%w: obis of %d bytes", ErrLength, len(src))
	}
	return Obis{A: src[0], B: src[1], C: src[2], D: src[3], E: src[4], F: src[5]}, nil
}

var obisPattern = regexp.MustCompile(`^((\d+)-(\d+):)?(\d+)\.(\d+)(\.(\d+)(\.(\d+))?)?$`)

// ParseObis accepts "A-B:C.D.E.F" with A-B, E and F optional. A missing E or F is 255.
func ParseObis(src string) (ob Obis, err error) {
	m := obisPattern.FindStringSubmatch(src)
	if m == nil {
		return ob, fmt.Errorf("invalid obis %q", src)
	}
	v := [6]int{0, 0, 0, 0, 255, 255}
	for i, g := range [6]int{2, 3, 4, 5, 7, 9} {
		if m[g] == "" {
			continue
		}
		if v[i], err = strconv.Atoi(m[g]); err != nil || v[i] > 255 {
			return ob, fmt.Errorf("invalid obis %q", src)
		}
	}
	return Obis{A: byte(v[0]), B: byte(v[1]), C: byte(v[2]), D: byte(v[3]), E: byte(v[4]), F: byte(v[5])}, nil
}

type Date struct {
	Year      uint16
	Month     byte
	Day       byte
	DayOfWeek byte
}

type Time struct {
	Hour       byte
	Minute     byte
	Second     byte
	Hundredths byte
}

type DateTime struct {
	Date      Date
	Time      Time
	Deviation int16
	Status    byte
}

const (
	DateTimeSize = 12

	DeviationUndefined int16 = -32768
)

// UndefinedDateTime has every field marked not specified.
func UndefinedDateTime() DateTime {
	return DateTime{
		Date:      Date{Year: 0xffff, Month: 0xff, Day: 0xff, DayOfWeek: 0xff},
		Time:      Time{Hour: 0xff, Minute: 0xff, Second: 0xff, Hundredths: 0xff},
		Deviation: DeviationUndefined,
		Status:    0xff,
	}
}

func DateTimeFromTime(src time.Time) DateTime {
	wd := byte(src.Weekday())
	if wd == 0 {
		wd = 7
	}
	_, off := src.Zone()
	return DateTime{
		Date:      Date{Year: uint16(src.Year()), Month: byte(src.Month()), Day: byte(src.Day()), DayOfWeek: wd},
		Time:      Time{Hour: byte(src.Hour()), Minute: byte(src.Minute()), Second: byte(src.Second()), Hundredths: byte(src.Nanosecond() / 10000000)},
		Deviation: int16(off / 60),
	}
}

func DateTimeFromBytes(src []byte) (dt DateTime, err error) {
	if len(src) != DateTimeSize {
		return dt, fmt.Errorf("%w: date-time of %d bytes", ErrLength, len(src))
	}
	return DateTime{
		Date:      Date{Year: uint16(src[0])<<8 | uint16(src[1]), Month: src[2], Day: src[3], DayOfWeek: src[4]},
		Time:      Time{Hour: src[5], Minute: src[6], Second: src[7], Hundredths: src[8]},
		Deviation: int16(src[9])<<8 | int16(src[10]),
		Status:    src[11],
	}, nil
}

func (t *DateTime) Bytes() []byte {
	return []byte{
		byte(t.Date.Year >> 8), byte(t.Date.Year), t.Date.Month, t.Date.Day, t.Date.DayOfWeek,
		t.Time.Hour, t.Time.Minute, t.Time.Second, t.Time.Hundredths,
		byte(t.Deviation >> 8), byte(t.Deviation), t.Status,
	}
}

func (t *DateTime) String() string {
	return fmt.Sprintf("%d-%d-%dT%d:%d:%d", t.Date.Year, t.Date.Month, t.Date.Day, t.Time.Hour, t.Time.Minute, t.Time.Second)
}

// ToTime fails when the date or the time to the minute is not specified.
func (t *DateTime) ToTime() (tt time.Time, err error) {
	if t.Date.Year == 0xffff || t.Date.Month == 0xff || t.Date.Day == 0xff || t.Time.Hour == 0xff || t.Time.Minute == 0xff {
		return tt, fmt.Errorf("date-time %v is not specified", t)
	}
	ns := 0
	if t.Time.Hundredths != 0xff {
		ns = int(t.Time.Hundredths) * 10000000
	}
	sec := 0
	if t.Time.Second != 0xff {
		sec = int(t.Time.Second)
	}
	loc := time.UTC
	if t.Deviation != DeviationUndefined {
		loc = time.FixedZone("", int(t.Deviation)*60)
	}
	return time.Date(int(t.Date.Year), time.Month(t.Date.Month), int(t.Date.Day), int(t.Time.Hour), int(t.Time.Minute), sec, ns, loc), nil
}

var units = map[byte]string{
	27: "W",
	28: "VA",
	29: "var",
	30: "Wh",
	31: "VAh",
	32: "varh",
	33: "A",
	34: "C",
	35: "V",
	44: "Hz",
}

// UnitName names the physical unit enumeration of register scalers.
func UnitName(u byte) string {
	if n, ok := units[u]; ok {
		return n
	}
	return "UnknownUnit"
}
