package database

import (
	"fmt"
	"time"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
)

// Column is one capture object of a profile.
type Column struct {
	Object    *Object
	Attribute int8
}

func (c *Column) matches(o *cosem.CaptureObject) bool {
	return c.Object.ClassID == o.ClassID && c.Object.Obis == o.Obis && c.Attribute == o.Attribute
}

// profile is the state of a class 7 object. The buffer is ordered oldest first.
type profile struct {
	columns []Column
	depth   uint32
	period  uint32
	buffer  []axdr.Data
	self    *Object
}

// NewProfile is a profile generic (class 7) of fifo sort method keeping at most depth entries.
// Method 1 resets the buffer, method 2 captures one entry.
func NewProfile(obis axdr.Obis, columns []Column, depth uint32, period uint32) (*Object, error) {
	if len(columns) == 0 || depth == 0 {
		return nil, fmt.Errorf("profile %v needs columns and a depth", obis)
	}
	for _, c := range columns {
		if c.Object == nil || c.Object.attribute(c.Attribute) == nil && c.Attribute != 1 {
			return nil, fmt.Errorf("profile %v: %w: column %v", obis, cosem.ErrNotFound, c)
		}
	}
	p := &profile{columns: columns, depth: depth, period: period}
	sort := axdr.Data{Tag: axdr.TagEnum, Value: uint8(1)} // fifo
	o := &Object{
		ClassID: ClassProfile,
		Version: 1,
		Obis:    obis,
		Attributes: []Attribute{
			{ID: 2, Access: AccessGet, Selective: true, Get: p.get},
			{ID: 3, Access: AccessGet, Get: p.captureobjects},
			{ID: 4, Access: AccessGetSet,
				Get: func(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
					return cosem.StatusOK, axdr.WriteDoubleLongUnsigned(out, p.period)
				},
				Set: func(_ *cosem.Call, in *cursor.Cursor) (err error) {
					if p.period, err = axdr.ReadDoubleLongUnsigned(in); err != nil {
						return mismatch("capture period: %v", err)
					}
					return nil
				}},
			{ID: 5, Access: AccessGet, Get: getvalue(&sort)},
			{ID: 7, Access: AccessGet, Get: func(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
				return cosem.StatusOK, axdr.WriteDoubleLongUnsigned(out, uint32(len(p.buffer)))
			}},
			{ID: 8, Access: AccessGet, Get: func(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
				return cosem.StatusOK, axdr.WriteDoubleLongUnsigned(out, p.depth)
			}},
		},
		Methods: []Method{
			{ID: 1, Access: MethodExecute, Invoke: func(call *cosem.Call, in *cursor.Cursor, _ *cursor.Cursor) error {
				if err := skipparameters(call, in); err != nil {
					return err
				}
				p.buffer = p.buffer[:0]
				return nil
			}},
			{ID: 2, Access: MethodExecute, Invoke: func(call *cosem.Call, in *cursor.Cursor, _ *cursor.Cursor) error {
				if err := skipparameters(call, in); err != nil {
					return err
				}
				return p.capture()
			}},
		},
	}
	p.self = o
	return o, nil
}

// Period is the capture period in seconds, zero when capture is not periodic.
func (o *Object) Period() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a := o.attribute(4)
	if o.ClassID != ClassProfile || a == nil {
		return 0
	}
	d, err := o.load(4)
	if err != nil {
		return 0
	}
	v, _ := d.Value.(uint32)
	return time.Duration(v) * time.Second
}

// capture appends one entry. The caller holds the profile write lock, the columns are read
// locked together so the entry is consistent.
func (p *profile) capture() error {
	objects := make([]*Object, len(p.columns))
	for i := range p.columns {
		objects[i] = p.columns[i].Object
	}
	l := readlocker(objects, p.self)
	l.Lock()
	defer l.Unlock()

	values := make([]axdr.Data, len(p.columns))
	for i, c := range p.columns {
		var err error
		if c.Attribute == 1 {
			values[i] = axdr.NewOctetString(c.Object.Obis.Bytes())
			continue
		}
		if values[i], err = c.Object.load(c.Attribute); err != nil {
			return fmt.Errorf("capture of %v: %w", c.Object, err)
		}
	}
	if uint32(len(p.buffer)) >= p.depth {
		p.buffer = append(p.buffer[:0], p.buffer[1:]...)
	}
	p.buffer = append(p.buffer, axdr.NewStructure(values...))
	return nil
}

func (p *profile) captureobjects(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
	items := make([]axdr.Data, len(p.columns))
	for i, c := range p.columns {
		co := cosem.CaptureObject{ClassID: c.Object.ClassID, Obis: c.Object.Obis, Attribute: c.Attribute}
		items[i] = axdr.NewStructure(
			axdr.Data{Tag: axdr.TagLongUnsigned, Value: co.ClassID},
			axdr.NewOctetString(co.Obis.Bytes()),
			axdr.Data{Tag: axdr.TagInteger, Value: co.Attribute},
			axdr.Data{Tag: axdr.TagLongUnsigned, Value: co.DataIndex},
		)
	}
	v := axdr.NewArray(items...)
	return cosem.StatusOK, axdr.EncodeData(out, &v)
}

// get writes the buffer, filtered by range or by entry when selective access is requested.
func (p *profile) get(call *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
	rows := p.buffer
	a := call.Request.Access
	if a != nil {
		var err error
		switch a.Selector {
		case cosem.SelectorRange:
			rows, err = p.byrange(a)
		case cosem.SelectorEntry:
			rows, err = p.byentry(a)
		default:
			err = cosem.NewAccessError(base.TagResultTypeUnmatched)
		}
		if err != nil {
			return cosem.StatusOK, err
		}
	}
	v := axdr.NewArray(rows...)
	return cosem.StatusOK, axdr.EncodeData(out, &v)
}

// bound converts a range limit, an unspecified date-time leaves the range open on that side.
func bound(dt *axdr.DateTime) *time.Time {
	t, err := dt.ToTime()
	if err != nil {
		return nil
	}
	return &t
}

func (p *profile) byrange(a *cosem.Access) ([]axdr.Data, error) {
	r, err := cosem.RangeFromAccess(a)
	if err != nil {
		return nil, mismatch("range descriptor: %v", err)
	}
	column := -1
	for i := range p.columns {
		if p.columns[i].matches(&r.Restricting) {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, cosem.NewAccessError(base.TagResultObjectUnavailable)
	}
	from, to := bound(&r.From), bound(&r.To)
	var rows []axdr.Data
	for _, row := range p.buffer {
		items, _ := row.Value.([]axdr.Data)
		b, ok := items[column].Value.([]byte)
		if !ok {
			continue
		}
		dt, err := axdr.DateTimeFromBytes(b)
		if err != nil {
			continue
		}
		t := bound(&dt)
		if t == nil || (from != nil && t.Before(*from)) || (to != nil && t.After(*to)) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// byentry selects entries and columns, both counted from 1; a zero upper bound means the last one.
func (p *profile) byentry(a *cosem.Access) ([]axdr.Data, error) {
	v, ok := a.Parameters.Value.([]axdr.Data)
	if a.Parameters.Tag != axdr.TagStructure || !ok || len(v) != 4 {
		return nil, mismatch("entry descriptor")
	}
	fromentry, ok1 := v[0].Value.(uint32)
	toentry, ok2 := v[1].Value.(uint32)
	fromvalue, ok3 := v[2].Value.(uint16)
	tovalue, ok4 := v[3].Value.(uint16)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, mismatch("entry descriptor")
	}
	n, m := uint32(len(p.buffer)), uint16(len(p.columns))
	if toentry == 0 || toentry > n {
		toentry = n
	}
	if tovalue == 0 || tovalue > m {
		tovalue = m
	}
	if fromentry == 0 || fromvalue == 0 || fromvalue > tovalue {
		return nil, cosem.NewAccessError(base.TagResultObjectUnavailable)
	}
	var rows []axdr.Data
	for i := fromentry; i <= toentry; i++ {
		items, _ := p.buffer[i-1].Value.([]axdr.Data)
		if fromvalue == 1 && tovalue == m {
			rows = append(rows, p.buffer[i-1])
			continue
		}
		rows = append(rows, axdr.NewStructure(items[fromvalue-1:tovalue]...))
	}
	return rows, nil
}

// Capture runs the capture method of a profile, as its capture period elapses.
func (d *Database) Capture(obis axdr.Obis) error {
	o := d.Find(ClassProfile, obis)
	if o == nil {
		return fmt.Errorf("%w: profile %v", cosem.ErrNotFound, obis)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.method(2)
	if err := m.Invoke(internal, nil, nil); err != nil {
		return err
	}
	d.dlogf("profile %v captured", obis)
	return nil
}
