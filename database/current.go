package database

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/association"
	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/cosem"
	"github.com/cybroslabs/libcosem-go/cursor"
)

// description is one object_list element, taken when the list starts.
type description struct {
	classid    uint16
	version    byte
	obis       axdr.Obis
	attributes []Attribute
	methods    []Method
}

func describe(o *Object) description {
	return description{classid: o.ClassID, version: o.Version, obis: o.Obis, attributes: o.Attributes, methods: o.Methods}
}

// encode writes object_list_element: class id, version, logical name and access rights.
// The logical name attribute is always listed, read-only.
func (e *description) encode(out *cursor.Cursor) (err error) {
	w := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	w(func() error { return axdr.WriteStructure(out, 4) })
	w(func() error { return axdr.WriteLongUnsigned(out, e.classid) })
	w(func() error { return axdr.WriteUnsigned(out, e.version) })
	w(func() error { return axdr.WriteOctetString(out, e.obis.Bytes()) })
	w(func() error { return axdr.WriteStructure(out, 2) })
	w(func() error { return axdr.WriteArray(out, len(e.attributes)+1) })
	attribute := func(id int8, access Access) {
		w(func() error { return axdr.WriteStructure(out, 3) })
		w(func() error { return axdr.WriteInteger(out, id) })
		w(func() error { return axdr.WriteEnum(out, uint8(access)) })
		w(func() error { return axdr.WriteNull(out) })
	}
	attribute(1, AccessGet)
	for _, a := range e.attributes {
		attribute(a.ID, a.Access)
	}
	w(func() error { return axdr.WriteArray(out, len(e.methods)) })
	for _, m := range e.methods {
		w(func() error { return axdr.WriteStructure(out, 2) })
		w(func() error { return axdr.WriteInteger(out, m.ID) })
		w(func() error { return axdr.WriteEnum(out, uint8(m.Access)) })
	}
	return err
}

// objectlist is always sent by block, one loop per object. The first call snapshots the object
// table for the channel, the following calls encode one element each.
func (d *Database) objectlist(call *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
	if call.Association == nil {
		return cosem.StatusOK, fmt.Errorf("%w: object list outside of an association", cosem.ErrBlock)
	}
	d.snapmu.Lock()
	defer d.snapmu.Unlock()
	if call.Phase() == association.PhaseStart {
		d.mu.RLock()
		list := make([]description, len(d.objects))
		for i, o := range d.objects {
			list[i] = describe(o)
		}
		d.mu.RUnlock()
		d.snapshots[call.Channel] = list
		call.Loops = len(list)
		d.logf("channel %d: object list of %d objects", call.Channel, len(list))
		if err := axdr.WriteArray(out, len(list)); err != nil {
			return cosem.StatusOK, err
		}
	}
	list := d.snapshots[call.Channel]
	loop := call.Loop()
	if loop >= len(list) {
		return cosem.StatusOK, fmt.Errorf("%w: object list loop %d of %d", cosem.ErrBlock, loop, len(list))
	}
	if err := list[loop].encode(out); err != nil {
		return cosem.StatusOK, err
	}
	if loop == len(list)-1 {
		delete(d.snapshots, call.Channel)
	}
	return cosem.StatusNeedBlock, nil
}

// replyhls is reply_to_HLS_authentication: the client proof in, the server proof out.
func replyhls(call *cosem.Call, in *cursor.Cursor, out *cursor.Cursor) error {
	if !call.Request.HasData {
		return mismatch("no proof")
	}
	proof, err := axdr.ReadOctetString(in)
	if err != nil {
		return mismatch("proof: %v", err)
	}
	reply, err := call.Association.Authenticate(proof)
	if err != nil {
		return err
	}
	return axdr.WriteOctetString(out, reply)
}

// NewCurrentAssociation is the association LN object (class 15) of the association in use,
// 0.0.40.0.0.255. Attribute 2 lists every registered object, method 1 answers the high level
// security pass 3.
func (d *Database) NewCurrentAssociation() *Object {
	return &Object{
		ClassID: ClassCurrent,
		Version: 1,
		Obis:    CurrentObis,
		Attributes: []Attribute{
			{ID: 2, Access: AccessGet, Get: d.objectlist},
			{ID: 8, Access: AccessGet, Get: func(call *cosem.Call, out *cursor.Cursor) (cosem.Status, error) {
				return cosem.StatusOK, axdr.WriteEnum(out, status(call.Association))
			}},
		},
		Methods: []Method{
			{ID: 1, Access: MethodExecute, Invoke: replyhls},
		},
	}
}

// status is association_status: non-associated, association-pending or associated.
func status(a *association.Association) uint8 {
	if a == nil {
		return 0
	}
	switch a.State() {
	case association.StateAssociationPending:
		return 1
	case association.StateAssociated:
		return 2
	}
	return 0
}
