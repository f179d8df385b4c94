package cosem

import (
	"fmt"
	"time"

	"github.com/cybroslabs/libcosem-go/axdr"
)

// CaptureObject is a column of a profile generic buffer.
type CaptureObject struct {
	ClassID   uint16
	Obis      axdr.Obis
	Attribute int8
	DataIndex uint16
}

func (o *CaptureObject) data() axdr.Data {
	return axdr.NewStructure(
		axdr.Data{Tag: axdr.TagLongUnsigned, Value: o.ClassID},
		axdr.NewOctetString(o.Obis.Bytes()),
		axdr.Data{Tag: axdr.TagInteger, Value: o.Attribute},
		axdr.Data{Tag: axdr.TagLongUnsigned, Value: o.DataIndex},
	)
}

// Range is the range_descriptor of selective access by range. The selected values are always
// empty, all columns are read.
type Range struct {
	Restricting CaptureObject
	From        axdr.DateTime
	To          axdr.DateTime
}

// ClockRange restricts on the clock column of a profile, starting at from. A nil to leaves the
// end date undefined.
func ClockRange(from time.Time, to *time.Time) *Range {
	r := &Range{
		Restricting: CaptureObject{ClassID: 8, Obis: axdr.Obis{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255}, Attribute: 2},
		From:        axdr.DateTimeFromTime(from),
		To:          axdr.UndefinedDateTime(),
	}
	if to != nil {
		r.To = axdr.DateTimeFromTime(*to)
	}
	return r
}

func (r *Range) Access() *Access {
	return &Access{
		Selector: SelectorRange,
		Parameters: axdr.NewStructure(
			r.Restricting.data(),
			axdr.NewOctetString(r.From.Bytes()),
			axdr.NewOctetString(r.To.Bytes()),
			axdr.NewArray(),
		),
	}
}

func items(d *axdr.Data, tag axdr.Tag, n int) ([]axdr.Data, error) {
	v, ok := d.Value.([]axdr.Data)
	if d.Tag != tag || !ok || (n >= 0 && len(v) != n) {
		return nil, fmt.Errorf("%w: expected %v of %d, got %v", axdr.ErrType, tag, n, d.Tag)
	}
	return v, nil
}

func datetime(d *axdr.Data) (axdr.DateTime, error) {
	switch v := d.Value.(type) {
	case []byte:
		return axdr.DateTimeFromBytes(v)
	case axdr.DateTime:
		return v, nil
	}
	return axdr.DateTime{}, fmt.Errorf("%w: %v is not a date-time", axdr.ErrType, d.Tag)
}

// RangeFromAccess reads a range_descriptor received by the server.
func RangeFromAccess(a *Access) (*Range, error) {
	if a == nil || a.Selector != SelectorRange {
		return nil, fmt.Errorf("%w: not a range selector", ErrService)
	}
	fields, err := items(&a.Parameters, axdr.TagStructure, 4)
	if err != nil {
		return nil, err
	}
	co, err := items(&fields[0], axdr.TagStructure, 4)
	if err != nil {
		return nil, err
	}
	r := &Range{}
	var ok [4]bool
	r.Restricting.ClassID, ok[0] = co[0].Value.(uint16)
	var obis []byte
	obis, ok[1] = co[1].Value.([]byte)
	r.Restricting.Attribute, ok[2] = co[2].Value.(int8)
	r.Restricting.DataIndex, ok[3] = co[3].Value.(uint16)
	if ok != [4]bool{true, true, true, true} {
		return nil, fmt.Errorf("%w: capture object", axdr.ErrType)
	}
	if r.Restricting.Obis, err = axdr.ObisFromBytes(obis); err != nil {
		return nil, err
	}
	if r.From, err = datetime(&fields[1]); err != nil {
		return nil, err
	}
	if r.To, err = datetime(&fields[2]); err != nil {
		return nil, err
	}
	return r, nil
}
