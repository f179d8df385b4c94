package cosem

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
)

// Request is a decoded GET, SET or ACTION request. For SET and ACTION the value or the method
// parameters are left unread in the input cursor.
type Request struct {
	Service  Service
	Type     RequestType
	InvokeID byte
	Descriptor
	Access  *Access
	Block   uint32 // next request only
	HasData bool
}

func (r *Request) String() string {
	if r.Type == RequestNext {
		return fmt.Sprintf("%s next block %d", r.Service, r.Block)
	}
	return fmt.Sprintf("%s %v", r.Service, r.Descriptor)
}

func servicefor(tag base.CosemTag) (Service, error) {
	switch tag {
	case base.TagGetRequest:
		return ServiceGet, nil
	case base.TagSetRequest:
		return ServiceSet, nil
	case base.TagActionRequest:
		return ServiceAction, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrService, tag)
}

// DecodeRequest reads the request header, the tag included.
func DecodeRequest(in *cursor.Cursor, r *Request) (err error) {
	*r = Request{}
	tag, err := in.ReadU8()
	if err != nil {
		return err
	}
	if r.Service, err = servicefor(base.CosemTag(tag)); err != nil {
		return err
	}
	t, err := in.ReadU8()
	if err != nil {
		return err
	}
	r.Type = RequestType(t)
	if r.InvokeID, err = in.ReadU8(); err != nil {
		return err
	}
	switch {
	case r.Type == RequestNormal:
	case r.Type == RequestNext && r.Service == ServiceGet:
		r.Block, err = in.ReadU32()
		return err
	default:
		return fmt.Errorf("%w: %s request type %d", ErrService, r.Service, t)
	}

	if r.ClassID, err = in.ReadU16(); err != nil {
		return err
	}
	obis, err := in.ReadSlice(6)
	if err != nil {
		return err
	}
	if r.Obis, err = axdr.ObisFromBytes(obis); err != nil {
		return err
	}
	id, err := in.ReadU8()
	if err != nil {
		return err
	}
	r.ID = int8(id)

	if r.Service != ServiceAction {
		present, err := in.ReadU8()
		if err != nil {
			return err
		}
		if present != 0 {
			a := &Access{}
			if a.Selector, err = in.ReadU8(); err != nil {
				return err
			}
			if a.Parameters, err = axdr.DecodeData(in); err != nil {
				return fmt.Errorf("selective access: %w", err)
			}
			r.Access = a
		}
	}
	switch r.Service {
	case ServiceSet:
		r.HasData = true
	case ServiceAction:
		present, err := in.ReadU8()
		if err != nil {
			return err
		}
		r.HasData = present != 0
	}
	return nil
}

// EncodeRequest writes a client request. data is the SET value or the ACTION parameters, a SET
// without data sends null. On error nothing is left written.
func EncodeRequest(out *cursor.Cursor, r *Request, data *axdr.Data) (err error) {
	mark := out.Written()
	defer func() {
		if err != nil {
			_ = out.Truncate(mark)
		}
	}()
	if err = out.WriteBuffer([]byte{byte(r.Service.requestTag()), byte(r.Type), r.InvokeID}); err != nil {
		return err
	}
	switch {
	case r.Type == RequestNormal:
	case r.Type == RequestNext && r.Service == ServiceGet:
		return out.WriteU32(r.Block)
	default:
		return fmt.Errorf("%w: %s request type %d", ErrService, r.Service, r.Type)
	}

	if err = out.WriteU16(r.ClassID); err != nil {
		return err
	}
	if err = out.WriteBuffer(r.Obis.Bytes()); err != nil {
		return err
	}
	if err = out.WriteU8(byte(r.ID)); err != nil {
		return err
	}
	if r.Service != ServiceAction {
		if r.Access == nil {
			err = out.WriteU8(0)
		} else {
			err = out.WriteBuffer([]byte{1, r.Access.Selector})
			if err == nil {
				err = axdr.EncodeData(out, &r.Access.Parameters)
			}
		}
		if err != nil {
			return err
		}
	}
	switch r.Service {
	case ServiceSet:
		if data == nil {
			return axdr.WriteNull(out)
		}
		return axdr.EncodeData(out, data)
	case ServiceAction:
		if data == nil {
			return out.WriteU8(0)
		}
		if err = out.WriteU8(1); err != nil {
			return err
		}
		return axdr.EncodeData(out, data)
	}
	return nil
}
