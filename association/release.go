package association

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/cursor"
)

// the server always answers with a normal release reason
var rlre = []byte{byte(base.TagRLRE), 0x03, base.BERTypeContext, 0x01, byte(base.ReleaseRequestReasonNormal)}

func (a *Association) releaseRequest(in *cursor.Cursor, out *cursor.Cursor) error {
	_, n, err := axdr.ReadTag(in)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err = in.AdvanceReader(n); err != nil {
		return err
	}
	if err = out.WriteBuffer(rlre); err != nil {
		return err
	}
	if a.state == StateAssociationPending {
		err = a.abandon()
	} else {
		err = a.release()
	}
	a.transfer.Reset()
	a.logf("association released")
	return err
}

// EncodeRLRQ writes the client release request.
func (a *Association) EncodeRLRQ(out *cursor.Cursor) error {
	if a.state != StateAssociated {
		return fmt.Errorf("%w: RLRQ in %s", ErrState, a.state)
	}
	var err error
	if a.settings.EmptyRLRQ {
		err = out.WriteBuffer([]byte{byte(base.TagRLRQ), 0x00})
	} else {
		err = out.WriteBuffer([]byte{byte(base.TagRLRQ), 0x03, base.BERTypeContext, 0x01, byte(base.ReleaseRequestReasonNormal)})
	}
	if err != nil {
		return err
	}
	return a.requestRelease()
}

// DecodeRLRE accepts any release response, its content is not checked.
func (a *Association) DecodeRLRE(in *cursor.Cursor) error {
	if a.state != StateReleasePending {
		return fmt.Errorf("%w: RLRE in %s", ErrState, a.state)
	}
	tag, err := axdr.PeekTag(in)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if base.CosemTag(tag) != base.TagRLRE {
		return fmt.Errorf("%w: %s instead of RLRE", ErrDecode, base.CosemTag(tag))
	}
	if err = axdr.Skip(in); err != nil {
		a.dlogf("malformed RLRE ignored: %v", err)
	}
	return a.released()
}
