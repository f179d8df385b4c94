package cosem

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
)

// exception is the one EXCEPTION.response the engine sends: service-not-allowed, operation-not-possible
var exception = []byte{byte(base.TagExceptionResponse), StateErrorServiceNotAllowed, ServiceErrorOperationNotPossible}

// WriteException drops whatever out holds and writes the exception response.
func WriteException(out *cursor.Cursor) error {
	out.Reset()
	return out.WriteBuffer(exception)
}

// Response is a decoded GET, SET or ACTION response. When HasData is set the value follows at the
// read position, a data block is in Raw.
type Response struct {
	Service   Service
	Type      ResponseType
	InvokeID  byte
	Result    base.DlmsResultTag // data-access-result, or action-result for ACTION
	HasData   bool
	LastBlock bool
	Block     uint32
	Raw       []byte // aliases the input
}

// Err reports a result other than success.
func (r *Response) Err() error {
	if r.Result == base.TagResultSuccess {
		return nil
	}
	return &ResultError{Service: r.Service, Result: r.Result}
}

func readresult(in *cursor.Cursor, action bool) (base.DlmsResultTag, error) {
	b, err := in.ReadU8()
	if err != nil {
		return 0, err
	}
	if action {
		if !base.ActionResultTag(b).Valid() {
			return 0, fmt.Errorf("%w: action result %d", axdr.ErrTagMismatch, b)
		}
	} else if !base.DlmsResultTag(b).Valid() {
		return 0, fmt.Errorf("%w: data access result %d", axdr.ErrTagMismatch, b)
	}
	return base.DlmsResultTag(b), nil
}

// getdataresult reads the Get-Data-Result choice: 00 data follows, 01 data-access-result.
func (r *Response) getdataresult(in *cursor.Cursor) (err error) {
	choice, err := in.ReadU8()
	if err != nil {
		return err
	}
	switch choice {
	case 0:
		r.HasData = true
		return nil
	case 1:
		r.Result, err = readresult(in, false)
		return err
	}
	return fmt.Errorf("%w: get data result choice %d", axdr.ErrTagMismatch, choice)
}

// DecodeResponse reads a response, the tag included. An exception response is returned as a
// *Exception error.
func DecodeResponse(in *cursor.Cursor, r *Response) (err error) {
	*r = Response{}
	tag, err := in.ReadU8()
	if err != nil {
		return err
	}
	switch base.CosemTag(tag) {
	case base.TagGetResponse:
		r.Service = ServiceGet
	case base.TagSetResponse:
		r.Service = ServiceSet
	case base.TagActionResponse:
		r.Service = ServiceAction
	case base.TagExceptionResponse:
		b := in.Remaining()
		if len(b) < 2 {
			return fmt.Errorf("%w: exception response %X", axdr.ErrTruncated, b)
		}
		return &Exception{StateError: b[0], ServiceError: b[1]}
	default:
		return fmt.Errorf("%w: %s", ErrService, base.CosemTag(tag))
	}
	t, err := in.ReadU8()
	if err != nil {
		return err
	}
	r.Type = ResponseType(t)
	if r.InvokeID, err = in.ReadU8(); err != nil {
		return err
	}

	switch {
	case r.Type == ResponseNormal && r.Service == ServiceGet:
		return r.getdataresult(in)
	case r.Type == ResponseNormal && r.Service == ServiceSet:
		r.Result, err = readresult(in, false)
		return err
	case r.Type == ResponseNormal && r.Service == ServiceAction:
		if r.Result, err = readresult(in, true); err != nil {
			return err
		}
		if in.Unread() == 0 { // some meters drop the optional flag
			return nil
		}
		present, err := in.ReadU8()
		if err != nil {
			return err
		}
		switch present {
		case 0:
			return nil
		case 1:
			action := r.Result
			if err = r.getdataresult(in); err != nil {
				return err
			}
			if r.Result == base.TagResultSuccess {
				r.Result = action
			}
			return nil
		}
		return fmt.Errorf("%w: return parameters flag %d", axdr.ErrTagMismatch, present)
	case r.Type == ResponseWithDataBlock && r.Service == ServiceGet:
		last, err := in.ReadU8()
		if err != nil {
			return err
		}
		r.LastBlock = last != 0
		if r.Block, err = in.ReadU32(); err != nil {
			return err
		}
		choice, err := in.ReadU8()
		if err != nil {
			return err
		}
		switch choice {
		case 0:
			n, err := axdr.ReadLength(in)
			if err != nil {
				return err
			}
			r.Raw, err = in.ReadSlice(n)
			return err
		case 1:
			r.Result, err = readresult(in, false)
			return err
		}
		return fmt.Errorf("%w: data block choice %d", axdr.ErrTagMismatch, choice)
	}
	return fmt.Errorf("%w: %s response type %d", ErrService, r.Service, t)
}
