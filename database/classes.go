package database

import (
	"fmt"
	"time"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
)

const (
	ClassData     uint16 = 1
	ClassRegister uint16 = 3
	ClassProfile  uint16 = 7
	ClassClock    uint16 = 8
	ClassCurrent  uint16 = 15

	valueSize = 512 // one encoded attribute read on the server side
)

var (
	LogicalDeviceNameObis = axdr.Obis{A: 0, B: 0, C: 42, D: 0, E: 0, F: 255}
	ClockObis             = axdr.Obis{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255}
	CurrentObis           = axdr.Obis{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255}
)

var internal = &cosem.Call{}

func mismatch(format string, v ...any) error {
	return fmt.Errorf("%w: %s", cosem.NewAccessError(base.TagResultTypeUnmatched), fmt.Sprintf(format, v...))
}

// load reads an attribute bypassing locks and access rights.
func (o *Object) load(id int8) (axdr.Data, error) {
	a := o.attribute(id)
	if a == nil || a.Get == nil {
		return axdr.Data{}, fmt.Errorf("%w: %v attribute %d", cosem.ErrNotFound, o, id)
	}
	c := cursor.NewSize(valueSize)
	if _, err := a.Get(internal, c); err != nil {
		return axdr.Data{}, err
	}
	return axdr.DecodeData(c)
}

// Load reads an attribute value, ignoring its access right.
func (o *Object) Load(id int8) (axdr.Data, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.load(id)
}

// Store writes an attribute value, ignoring its access right. The meter side updates measured
// values this way.
func (o *Object) Store(id int8, v axdr.Data) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.attribute(id)
	if a == nil || a.Set == nil {
		return fmt.Errorf("%w: %v attribute %d", cosem.ErrNotFound, o, id)
	}
	c := cursor.NewSize(valueSize)
	if err := axdr.EncodeData(c, &v); err != nil {
		return err
	}
	return a.Set(internal, c)
}

func getvalue(v *axdr.Data) Getter {
	return func(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
		return cosem.StatusOK, axdr.EncodeData(out, v)
	}
}

// setvalue accepts a new value of the same type only.
func setvalue(v *axdr.Data) Setter {
	return func(_ *cosem.Call, in *cursor.Cursor) error {
		d, err := axdr.DecodeData(in)
		if err != nil {
			return mismatch("%v", err)
		}
		if d.Tag != v.Tag {
			return mismatch("%v instead of %v", d.Tag, v.Tag)
		}
		*v = d
		return nil
	}
}

// skipparameters drops the method parameters, usually integer(0).
func skipparameters(call *cosem.Call, in *cursor.Cursor) error {
	if !call.Request.HasData {
		return nil
	}
	if err := axdr.SkipData(in); err != nil {
		return mismatch("method parameters: %v", err)
	}
	return nil
}

// NewData is a class 1 object holding value in attribute 2.
func NewData(obis axdr.Obis, value axdr.Data, access Access) *Object {
	v := value
	return &Object{
		ClassID: ClassData,
		Obis:    obis,
		Attributes: []Attribute{
			{ID: 2, Access: access, Get: getvalue(&v), Set: setvalue(&v)},
		},
	}
}

// NewLogicalDeviceName is the read-only logical device name, 0.0.42.0.0.255.
func NewLogicalDeviceName(name string) *Object {
	return NewData(LogicalDeviceNameObis, axdr.NewOctetString([]byte(name)), AccessGet)
}

// NewRegister is a class 3 object. Method 1 resets the value to the initial one.
func NewRegister(obis axdr.Obis, value axdr.Data, scaler int8, unit byte, access Access) *Object {
	v := value
	su := axdr.NewStructure(
		axdr.Data{Tag: axdr.TagInteger, Value: scaler},
		axdr.Data{Tag: axdr.TagEnum, Value: unit},
	)
	return &Object{
		ClassID: ClassRegister,
		Obis:    obis,
		Attributes: []Attribute{
			{ID: 2, Access: access, Get: getvalue(&v), Set: setvalue(&v)},
			{ID: 3, Access: AccessGet, Get: getvalue(&su)},
		},
		Methods: []Method{
			{ID: 1, Access: MethodExecute, Invoke: func(call *cosem.Call, in *cursor.Cursor, _ *cursor.Cursor) error {
				if err := skipparameters(call, in); err != nil {
					return err
				}
				v = value
				return nil
			}},
		},
	}
}

// clockstate is the meter time: the database clock moved by what the clients set.
type clockstate struct {
	db       *Database
	offset   time.Duration
	timezone int16 // minutes
}

func (c *clockstate) now() time.Time {
	return c.db.clock.Now().Add(c.offset).In(time.FixedZone("", int(c.timezone)*60))
}

// NewClock is the class 8 clock object, 0.0.1.0.0.255. Setting attribute 2 moves the meter time
// away from the database clock.
func (d *Database) NewClock(timezone int16) *Object {
	c := &clockstate{db: d, timezone: timezone}
	status := axdr.Data{Tag: axdr.TagUnsigned, Value: uint8(0)}
	clockbase := axdr.Data{Tag: axdr.TagEnum, Value: uint8(1)} // internal crystal
	return &Object{
		ClassID: ClassClock,
		Obis:    ClockObis,
		Attributes: []Attribute{
			{ID: 2, Access: AccessGetSet,
				Get: func(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
					dt := axdr.DateTimeFromTime(c.now())
					return cosem.StatusOK, axdr.WriteOctetString(out, dt.Bytes())
				},
				Set: func(_ *cosem.Call, in *cursor.Cursor) error {
					b, err := axdr.ReadOctetString(in)
					if err != nil {
						return mismatch("time: %v", err)
					}
					dt, err := axdr.DateTimeFromBytes(b)
					if err != nil {
						return mismatch("time: %v", err)
					}
					t, err := dt.ToTime()
					if err != nil {
						return mismatch("time: %v", err)
					}
					c.offset = t.Sub(d.clock.Now())
					d.logf("clock set to %v", t)
					return nil
				}},
			{ID: 3, Access: AccessGetSet,
				Get: func(_ *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
					return cosem.StatusOK, axdr.WriteLong(out, c.timezone)
				},
				Set: func(_ *cosem.Call, in *cursor.Cursor) error {
					tz, err := axdr.ReadLong(in)
					if err != nil {
						return mismatch("time zone: %v", err)
					}
					if tz < -720 || tz > 840 {
						return mismatch("time zone %d", tz)
					}
					c.timezone = tz
					return nil
				}},
			{ID: 4, Access: AccessGet, Get: getvalue(&status)},
			{ID: 9, Access: AccessGet, Get: getvalue(&clockbase)},
		},
	}
}
