// Package database is an in-memory COSEM object model serving the cosem.Database contract: objects
// are found by class id and logical name, every attribute and method carries its access right, and
// the per object locks keep concurrent channels consistent.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

var ErrDuplicate = errors.New("database: object already registered")

// Access is the attribute_access_mode of an attribute.
type Access byte

const (
	AccessNone   Access = 0
	AccessGet    Access = 1
	AccessSet    Access = 2
	AccessGetSet Access = 3
)

func (a Access) String() string {
	switch a {
	case AccessNone:
		return "no-access"
	case AccessGet:
		return "read-only"
	case AccessSet:
		return "write-only"
	case AccessGetSet:
		return "read-and-write"
	default:
		return fmt.Sprintf("access %d", byte(a))
	}
}

// MethodAccess is the method_access_mode of a method.
type MethodAccess byte

const (
	MethodNone    MethodAccess = 0
	MethodExecute MethodAccess = 1
)

// Getter writes one encoded attribute value. It runs under the read lock of its object.
type Getter func(call *cosem.Call, out *cursor.Cursor) (cosem.Status, error)

// Setter reads the new value from in. It runs under the write lock of its object.
type Setter func(call *cosem.Call, in *cursor.Cursor) error

// Invoker runs a method, in holds the parameters when call.Request.HasData is set. It runs under
// the write lock of its object.
type Invoker func(call *cosem.Call, in *cursor.Cursor, out *cursor.Cursor) error

type Attribute struct {
	ID        int8
	Access    Access
	Selective bool // selective access is understood by Get
	Get       Getter
	Set       Setter
}

type Method struct {
	ID     int8
	Access MethodAccess
	Invoke Invoker
}

// Object is one COSEM interface object. The logical name, attribute 1, is implicit and read-only.
// Attributes and methods are fixed once the object is registered, the lock guards their values.
type Object struct {
	ClassID    uint16
	Version    byte
	Obis       axdr.Obis
	Attributes []Attribute
	Methods    []Method

	mu sync.RWMutex
}

func (o *Object) String() string {
	return fmt.Sprintf("class %d %v", o.ClassID, o.Obis)
}

func (o *Object) attribute(id int8) *Attribute {
	for i := range o.Attributes {
		if o.Attributes[i].ID == id {
			return &o.Attributes[i]
		}
	}
	return nil
}

func (o *Object) method(id int8) *Method {
	for i := range o.Methods {
		if o.Methods[i].ID == id {
			return &o.Methods[i]
		}
	}
	return nil
}

type key struct {
	classid uint16
	obis    axdr.Obis
}

// Database is safe for concurrent use by every channel of a server.
type Database struct {
	logger *zap.SugaredLogger
	clock  clock.PassiveClock

	mu      sync.RWMutex
	objects []*Object
	index   map[key]*Object

	snapmu    sync.Mutex
	snapshots map[uint8][]description // object_list in progress per channel
}

// New creates an empty database reading time from clk, nil is the real clock.
func New(clk clock.PassiveClock) *Database {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Database{
		clock:     clk,
		index:     make(map[key]*Object),
		snapshots: make(map[uint8][]description),
	}
}

func (d *Database) SetLogger(logger *zap.SugaredLogger) {
	d.logger = logger
}

func (d *Database) logf(format string, v ...any) {
	if d.logger != nil {
		d.logger.Infof(format, v...)
	}
}

func (d *Database) dlogf(format string, v ...any) {
	if d.logger != nil {
		d.logger.Debugf(format, v...)
	}
}

// Register adds objects, the order of registration is the order of the object list.
func (d *Database) Register(objects ...*Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range objects {
		k := key{classid: o.ClassID, obis: o.Obis}
		if _, ok := d.index[k]; ok {
			return fmt.Errorf("%w: %v", ErrDuplicate, o)
		}
		d.index[k] = o
		d.objects = append(d.objects, o)
	}
	return nil
}

// Find returns the object of class id and logical name, nil when there is none.
func (d *Database) Find(classid uint16, obis axdr.Obis) *Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index[key{classid: classid, obis: obis}]
}

// Len is the number of registered objects.
func (d *Database) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// readlocker atomically read locks the objects, skipping the one already held by the caller.
func readlocker(objects []*Object, held *Object) sync.Locker {
	lockers := make([]sync.Locker, 0, len(objects))
	for _, o := range objects {
		if o != held {
			lockers = append(lockers, o.mu.RLocker())
		}
	}
	return multilocker.New(lockers...)
}

// Access implements cosem.Database.
func (d *Database) Access(call *cosem.Call, in *cursor.Cursor, out *cursor.Cursor) (cosem.Status, error) {
	r := &call.Request
	o := d.Find(r.ClassID, r.Obis)
	if o == nil {
		d.logf("channel %d: object %v not found", call.Channel, r.Descriptor)
		return cosem.StatusOK, fmt.Errorf("%w: %v", cosem.ErrNotFound, r.Descriptor)
	}
	switch r.Service {
	case cosem.ServiceGet:
		o.mu.RLock()
		defer o.mu.RUnlock()
		return d.get(o, call, out)
	case cosem.ServiceSet:
		o.mu.Lock()
		defer o.mu.Unlock()
		return cosem.StatusOK, d.set(o, call, in)
	case cosem.ServiceAction:
		o.mu.Lock()
		defer o.mu.Unlock()
		return cosem.StatusOK, d.action(o, call, in, out)
	}
	return cosem.StatusOK, fmt.Errorf("%w: %s", cosem.ErrService, r.Service)
}

func (d *Database) get(o *Object, call *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
	r := &call.Request
	if r.ID == 1 {
		if r.Access != nil {
			return cosem.StatusOK, cosem.NewAccessError(base.TagResultTypeUnmatched)
		}
		return cosem.StatusOK, axdr.WriteOctetString(out, o.Obis.Bytes())
	}
	a := o.attribute(r.ID)
	if a == nil || a.Get == nil {
		return cosem.StatusOK, fmt.Errorf("%w: %v", cosem.ErrNotFound, r.Descriptor)
	}
	if a.Access&AccessGet == 0 {
		d.logf("channel %d: %v is %s", call.Channel, r.Descriptor, a.Access)
		return cosem.StatusOK, cosem.NewAccessError(base.TagResultReadWriteDenied)
	}
	if r.Access != nil && !a.Selective {
		return cosem.StatusOK, cosem.NewAccessError(base.TagResultTypeUnmatched)
	}
	return a.Get(call, out)
}

func (d *Database) set(o *Object, call *cosem.Call, in *cursor.Cursor) error {
	r := &call.Request
	if r.ID == 1 {
		return cosem.ErrDenied
	}
	a := o.attribute(r.ID)
	if a == nil {
		return fmt.Errorf("%w: %v", cosem.ErrNotFound, r.Descriptor)
	}
	if a.Access&AccessSet == 0 || a.Set == nil {
		d.logf("channel %d: %v is %s", call.Channel, r.Descriptor, a.Access)
		return cosem.ErrDenied
	}
	if r.Access != nil {
		return cosem.NewAccessError(base.TagResultTypeUnmatched)
	}
	if err := a.Set(call, in); err != nil {
		return err
	}
	d.dlogf("channel %d: %v written", call.Channel, r.Descriptor)
	return nil
}

func (d *Database) action(o *Object, call *cosem.Call, in *cursor.Cursor, out *cursor.Cursor) error {
	r := &call.Request
	m := o.method(r.ID)
	if m == nil || m.Invoke == nil {
		return fmt.Errorf("%w: %v", cosem.ErrNotFound, r.Descriptor)
	}
	if m.Access != MethodExecute {
		d.logf("channel %d: %v not executable", call.Channel, r.Descriptor)
		return cosem.ErrDenied
	}
	return m.Invoke(call, in, out)
}

// Close forgets the object list in progress of a channel.
func (d *Database) Close(channel uint8) {
	d.snapmu.Lock()
	delete(d.snapshots, channel)
	d.snapmu.Unlock()
}
