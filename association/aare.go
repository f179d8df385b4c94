package association

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"github.com/cybroslabs/libcosem-go/cursor"
)

const (
	tagResult               = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeResult
	tagResultDiagnostic     = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeResultSourceDiagnostic
	tagRespondingAPTitle    = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeRespondingAPTitle
	tagResponderRequirement = base.BERTypeContext | base.PduTypeResponderAcseRequirements
	tagRespondingMechanism  = base.BERTypeContext | base.PduTypeRespondingMechanismName
	tagRespondingAuthValue  = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeRespondingAuthenticationValue
)

// aareEncoders is the server view of an AARE.
var aareEncoders = []field{
	{tag: tagApplicationContext, need: always, encode: encodecontext},
	{tag: tagResult, need: always, encode: func(a *Association, c *cursor.Cursor) error {
		if err := c.WriteU8(3); err != nil {
			return err
		}
		return axdr.WriteBERUnsigned(c, byte(a.handshake.Result))
	}},
	{tag: tagResultDiagnostic, need: always, encode: func(a *Association, c *cursor.Cursor) error {
		return c.WriteBuffer([]byte{5, byte(a.handshake.Source), 3, axdr.BERInteger, 1, byte(a.handshake.Diagnostic)})
	}},
	{tag: tagRespondingAPTitle, need: security, encode: encodetitle, when: func(a *Association) bool {
		return len(a.ownTitle) == ciphering.SystemTitleLength
	}},
	{tag: tagResponderRequirement, need: security, encode: encodeflag},
	{tag: tagRespondingMechanism, need: security, encode: encodemechanism},
	{tag: tagRespondingAuthValue, need: security, encode: func(a *Association, c *cursor.Cursor) error {
		return encodeauthvalue(c, a.handshake.StoC)
	}},
	{tag: tagUserInformation, need: always, encode: encodeinitiateresponse},
}

// aareDecoders is the client view of an AARE.
var aareDecoders = []field{
	{tag: tagProtocolVersion, need: optional, decode: func(_ *Association, v *cursor.Cursor) error {
		return decodeflag(v)
	}},
	{tag: tagApplicationContext, need: always, decode: func(a *Association, v *cursor.Cursor) error {
		ctx, err := decodecontext(v)
		if err != nil {
			return err
		}
		if ctx != a.settings.Context {
			return fmt.Errorf("application contexts differ: %s != %s", ctx, a.settings.Context)
		}
		return nil
	}},
	{tag: tagResult, need: always, decode: func(a *Association, v *cursor.Cursor) error {
		r, err := axdr.ReadBERUnsigned(v)
		if err != nil {
			return err
		}
		a.handshake.Result = base.AssociationResult(r)
		a.handshake.Accepted = a.handshake.Result == base.AssociationResultAccepted
		return nil
	}},
	{tag: tagResultDiagnostic, need: always, decode: func(a *Association, v *cursor.Cursor) error {
		source, _, err := axdr.ReadTag(v)
		if err != nil {
			return err
		}
		if source != byte(base.DiagnosticSourceUser) && source != byte(base.DiagnosticSourceProvider) {
			return fmt.Errorf("%w: diagnostic source %02X", axdr.ErrTagMismatch, source)
		}
		d, err := axdr.ReadBERUnsigned(v)
		if err != nil {
			return err
		}
		a.handshake.Source = base.DiagnosticSource(source)
		a.handshake.Diagnostic = base.SourceDiagnostic(d)
		return nil
	}},
	{tag: tagRespondingAPTitle, need: security, decode: func(a *Association, v *cursor.Cursor) (err error) {
		a.peerTitle, err = decodetitle(v)
		return err
	}},
	{tag: tagResponderRequirement, need: security, decode: func(_ *Association, v *cursor.Cursor) error {
		return decodeflag(v)
	}},
	{tag: tagRespondingMechanism, need: security, decode: func(a *Association, v *cursor.Cursor) error {
		mech, err := decodemechanism(v)
		if err != nil {
			return err
		}
		if mech != a.mechanism {
			return fmt.Errorf("server answers with mechanism %s, %s requested", mech, a.mechanism)
		}
		return nil
	}},
	{tag: tagRespondingAuthValue, need: security, decode: func(a *Association, v *cursor.Cursor) error {
		stoc, err := decodeauthvalue(v)
		if err != nil {
			return err
		}
		a.handshake.StoC = append(a.handshake.StoC[:0], stoc...)
		return nil
	}},
	{tag: tagUserInformation, need: always, decode: decodeinitiateresponse},
}

func (a *Association) vaa() uint16 {
	if a.context.IsLN() {
		return base.VAANameLN
	}
	return base.VAANameSN
}

// BE 10 04 0E 08 00 06 5F 1F 04 00 conformance max-pdu vaa, or
// BE 06 04 04 0E 01 06 error when the xDLMS part was refused
func encodeinitiateresponse(a *Association, c *cursor.Cursor) error {
	h := &a.handshake
	if h.Failure == FailureInitiate {
		return c.WriteBuffer([]byte{0x06, axdr.BEROctetString, 0x04, byte(base.TagConfirmedServiceError), 0x01, 0x06, h.InitiateError})
	}
	if err := c.WriteBuffer([]byte{0x10, axdr.BEROctetString, 0x0e, byte(base.TagInitiateResponse), 0x00, base.DlmsVersion}); err != nil {
		return err
	}
	if err := writeconformance(c, h.Conformance); err != nil {
		return err
	}
	if err := c.WriteU16(a.settings.MaxPduRecvSize); err != nil {
		return err
	}
	return c.WriteU16(a.vaa())
}

func decodeinitiateresponse(a *Association, v *cursor.Cursor) error {
	h := &a.handshake
	x, err := axdr.ReadTagged(v, axdr.BEROctetString)
	if err != nil {
		return err
	}
	var c cursor.Cursor
	if err = c.Init(x, len(x), 0); err != nil {
		return err
	}
	tag, err := c.ReadU8()
	if err != nil {
		return err
	}
	switch base.CosemTag(tag) {
	case base.TagInitiateResponse:
	case base.TagConfirmedServiceError:
		b := c.Remaining()
		if len(b) < 3 {
			return fmt.Errorf("%w: confirmed service error %X", axdr.ErrTruncated, b)
		}
		h.Failure = FailureInitiate
		h.InitiateError = b[2]
		return nil
	default:
		return fmt.Errorf("%w: user information %02X", axdr.ErrTagMismatch, tag)
	}
	present, err := readoptional(&c)
	if err != nil {
		return err
	}
	if present { // negotiated quality of service
		if _, err = c.ReadU8(); err != nil {
			return err
		}
	}
	version, err := c.ReadU8()
	if err != nil {
		return err
	}
	if version != base.DlmsVersion {
		return fmt.Errorf("wrong dlms version %d", version)
	}
	if h.Conformance, err = readconformance(&c); err != nil {
		return err
	}
	if h.ServerMaxPdu, err = c.ReadU16(); err != nil {
		return err
	}
	if h.VAAddress, err = c.ReadU16(); err != nil {
		return err
	}
	h.ProposedConformance = a.settings.Conformance
	h.ClientMaxPdu = a.settings.MaxPduRecvSize
	h.initiated = true
	return nil
}

// EncodeAARE writes the AARE for the last AARQ handled by Execute again, for a lost reply.
func (a *Association) EncodeAARE(out *cursor.Cursor) error {
	return a.encodechain(out, base.TagAARE, aareEncoders, a.mechanism.IsHigh() && a.state == StateAssociationPending)
}

// DecodeAARE reads the server answer to EncodeAARQ. An accepted association moves to Associated,
// or to AssociationPending when the server asks for the high level security passes.
func (a *Association) DecodeAARE(in *cursor.Cursor) error {
	if a.state != StateIdle {
		return fmt.Errorf("%w: AARE in %s", ErrState, a.state)
	}
	if err := a.decodechain(in, base.TagAARE, aareDecoders); err != nil {
		return err
	}
	h := &a.handshake
	if !h.Accepted {
		if h.Failure == FailureInitiate {
			return fmt.Errorf("%w: %s, %s, initiate error %d", ErrRejected, h.Result, h.Diagnostic, h.InitiateError)
		}
		return fmt.Errorf("%w: %s, %s", ErrRejected, h.Result, h.Diagnostic)
	}
	if !h.initiated {
		return fmt.Errorf("%w: accepted without initiate response", ErrDecode)
	}
	a.logf("Max PDU size: %v, conformance %06X", h.ServerMaxPdu, h.Conformance)

	switch h.Diagnostic {
	case base.SourceDiagnosticNone:
		if a.mechanism.IsHigh() {
			return fmt.Errorf("%w: %s accepted without authentication passes", ErrAuthentication, a.mechanism)
		}
		return a.grant()
	case base.SourceDiagnosticAuthenticationRequired:
		if !a.mechanism.IsHigh() {
			return fmt.Errorf("%w: authentication required for %s", ErrAuthentication, a.mechanism)
		}
		if len(h.StoC) < ciphering.MinChallengeLength {
			return fmt.Errorf("%w: server challenge of %d bytes", ErrAuthentication, len(h.StoC))
		}
		if a.needsTitles() && len(a.peerTitle) != ciphering.SystemTitleLength {
			return fmt.Errorf("%w: no responding AP title", ErrAuthentication)
		}
		return a.pend()
	}
	return fmt.Errorf("%w: invalid source diagnostic %s", ErrRejected, h.Diagnostic)
}
