package association

import (
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"github.com/cybroslabs/libcosem-go/cursor"
)

const (
	tagProtocolVersion    = base.BERTypeContext | base.PduTypeProtocolVersion
	tagApplicationContext = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName
	tagCalledAPTitle      = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle
	tagCalledAEQualifier  = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier
	tagCalledAPInvocation = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID
	tagCalledAEInvocation = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEInvocationID
	tagCallingAPTitle     = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPTitle
	tagCallingAEQualifier = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEQualifier
	tagCallingAPInvoke    = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPInvocationID
	tagCallingAEInvoke    = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEInvocationID
	tagSenderRequirements = base.BERTypeContext | base.PduTypeSenderAcseRequirements
	tagMechanismName      = base.BERTypeContext | base.PduTypeMechanismName
	tagCallingAuthValue   = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAuthenticationValue
	tagImplementationInfo = base.BERTypeContext | base.PduTypeImplementationInformation
	tagUserInformation    = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation
)

// aarqDecoders is the server view of an AARQ.
var aarqDecoders = []field{
	{tag: tagProtocolVersion, need: optional, decode: decodeversion},
	{tag: tagApplicationContext, need: always, decode: func(a *Association, v *cursor.Cursor) error {
		ctx, err := decodecontext(v)
		if err != nil {
			return a.fail(FailureContext, base.DiagnosticSourceUser, base.SourceDiagnosticApplicationContextNameNotSupported, "%v", err)
		}
		if ctx != a.settings.Context {
			return a.fail(FailureContext, base.DiagnosticSourceUser, base.SourceDiagnosticApplicationContextNameNotSupported, "context %s", ctx)
		}
		a.context = ctx
		return nil
	}},
	{tag: tagCalledAPTitle, need: skip},
	{tag: tagCalledAEQualifier, need: skip},
	{tag: tagCalledAPInvocation, need: skip},
	{tag: tagCalledAEInvocation, need: skip},
	{tag: tagCallingAPTitle, need: optional, decode: func(a *Association, v *cursor.Cursor) (err error) {
		if a.peerTitle, err = decodetitle(v); err != nil {
			return a.fail(FailureDecode, base.DiagnosticSourceUser, base.SourceDiagnosticCallingAPTitleNotRecognized, "%v", err)
		}
		return nil
	}},
	{tag: tagCallingAEQualifier, need: skip},
	{tag: tagCallingAPInvoke, need: skip},
	{tag: tagCallingAEInvoke, need: skip},
	{tag: tagSenderRequirements, need: security, decode: func(a *Association, v *cursor.Cursor) error {
		if err := decodeflag(v); err != nil {
			return err
		}
		a.acsereq = true
		return nil
	}},
	{tag: tagMechanismName, need: security, decode: func(a *Association, v *cursor.Cursor) error {
		mech, err := decodemechanism(v)
		if err != nil || mech > base.AuthenticationHighSha256 {
			return a.fail(FailureMechanism, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationMechanismNameNotRecognized, "mechanism %X", v.Bytes())
		}
		a.mechanism = mech
		return nil
	}, absent: func(a *Association) error {
		if a.acsereq {
			return a.fail(FailureMechanism, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationMechanismNameRequired, "authentication requested without mechanism")
		}
		return nil
	}},
	{tag: tagCallingAuthValue, need: security, decode: func(a *Association, v *cursor.Cursor) error {
		value, err := decodeauthvalue(v)
		if err != nil || (a.mechanism.IsHigh() && len(value) < ciphering.MinChallengeLength) {
			return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationFailure, "authentication value %X", v.Bytes())
		}
		a.handshake.CtoS = append(a.handshake.CtoS[:0], value...)
		return nil
	}, absent: func(a *Association) error {
		if a.mechanism != base.AuthenticationNone {
			return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationFailure, "%s without authentication value", a.mechanism)
		}
		return nil
	}},
	{tag: tagImplementationInfo, need: optional},
	{tag: tagUserInformation, need: optional, decode: decodeinitiaterequest},
}

// aarqEncoders is the client view of an AARQ.
var aarqEncoders = []field{
	{tag: tagApplicationContext, need: always, encode: encodecontext},
	{tag: tagCallingAPTitle, need: optional, encode: encodetitle, when: func(a *Association) bool {
		return a.needsTitles() && len(a.ownTitle) == ciphering.SystemTitleLength
	}},
	{tag: tagSenderRequirements, need: security, encode: encodeflag},
	{tag: tagMechanismName, need: security, encode: encodemechanism},
	{tag: tagCallingAuthValue, need: security, encode: func(a *Association, c *cursor.Cursor) error {
		return encodeauthvalue(c, a.handshake.CtoS)
	}},
	{tag: tagUserInformation, need: always, encode: encodeinitiaterequest},
}

func decodeversion(a *Association, v *cursor.Cursor) error {
	if err := decodeflag(v); err != nil {
		return a.fail(FailureVersion, base.DiagnosticSourceProvider, base.ProviderDiagnosticNoCommonVersion, "protocol version %X", v.Bytes())
	}
	return nil
}

// optional A-XDR component: 00 absent, 01 present followed by the value
func readoptional(c *cursor.Cursor) (bool, error) {
	b, err := c.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: optional flag %02X", axdr.ErrTagMismatch, b)
}

// decodeinitiaterequest reads 04 len InitiateRequest: 01, dedicated key, response allowed,
// quality of service, DLMS version, conformance block and client max receive PDU size.
func decodeinitiaterequest(a *Association, v *cursor.Cursor) error {
	h := &a.handshake
	x, err := axdr.ReadTagged(v, axdr.BEROctetString)
	if err != nil {
		return err
	}
	var c cursor.Cursor
	if err = c.Init(x, len(x), 0); err != nil {
		return err
	}
	if tag, err := c.ReadU8(); err != nil || base.CosemTag(tag) != base.TagInitiateRequest {
		return a.initiatefail(InitiateErrorOther, "user information is not an InitiateRequest")
	}
	present, err := readoptional(&c)
	if err != nil {
		return err
	}
	if present { // dedicated key, ciphered APDUs are not supported, it is only skipped
		n, err := c.ReadU8()
		if err != nil {
			return err
		}
		if err = c.AdvanceReader(int(n)); err != nil {
			return err
		}
	}
	if present, err = readoptional(&c); err != nil {
		return err
	}
	if present { // response allowed, default true
		if _, err = c.ReadU8(); err != nil {
			return err
		}
	}
	if present, err = readoptional(&c); err != nil {
		return err
	}
	if present {
		qos, err := c.ReadU8()
		if err != nil {
			return err
		}
		a.dlogf("proposed quality of service %d", qos)
	}
	version, err := c.ReadU8()
	if err != nil {
		return err
	}
	conf, err := readconformance(&c)
	if err != nil {
		return err
	}
	pdu, err := c.ReadU16()
	if err != nil {
		return err
	}
	h.initiated = true
	h.ProposedConformance = conf
	h.Conformance = conf & a.settings.Conformance
	h.ClientMaxPdu = pdu
	h.ServerMaxPdu = a.settings.MaxPduRecvSize
	switch {
	case version < base.DlmsVersion:
		return a.initiatefail(InitiateErrorDlmsVersionTooLow, "dlms version %d", version)
	case pdu != 0 && pdu < 12:
		return a.initiatefail(InitiateErrorPduSizeTooShort, "client max pdu %d", pdu)
	case h.Conformance == 0:
		return a.initiatefail(InitiateErrorIncompatibleConf, "conformance %06X", conf)
	}
	return nil
}

func (a *Association) initiatefail(code byte, format string, v ...any) error {
	a.handshake.InitiateError = code
	return a.fail(FailureInitiate, base.DiagnosticSourceUser, base.SourceDiagnosticNoReasonGiven, format, v...)
}

// conformance is [APPLICATION 31] IMPLICIT BIT STRING: 5F 1F 04 00 followed by 24 bits
func readconformance(c *cursor.Cursor) (uint32, error) {
	b, err := c.ReadSlice(7)
	if err != nil {
		return 0, err
	}
	if b[0] != 0x5f || b[1] != 0x1f || b[2] != 0x04 || b[3] != 0x00 {
		return 0, fmt.Errorf("%w: conformance block %X", axdr.ErrTagMismatch, b)
	}
	return uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]), nil
}

func writeconformance(c *cursor.Cursor, conf uint32) error {
	return c.WriteBuffer([]byte{0x5f, 0x1f, 0x04, 0x00, byte(conf >> 16), byte(conf >> 8), byte(conf)})
}

// BE 10 04 0E 01 00 00 00 06 5F 1F 04 00 conformance max-pdu
func encodeinitiaterequest(a *Association, c *cursor.Cursor) error {
	if err := c.WriteBuffer([]byte{0x10, axdr.BEROctetString, 0x0e, byte(base.TagInitiateRequest), 0x00, 0x00, 0x00, base.DlmsVersion}); err != nil {
		return err
	}
	if err := writeconformance(c, a.settings.Conformance); err != nil {
		return err
	}
	return c.WriteU16(a.settings.MaxPduRecvSize)
}

// EncodeAARQ writes the client AARQ. A new challenge is drawn for high level security.
func (a *Association) EncodeAARQ(out *cursor.Cursor) error {
	if a.state != StateIdle {
		return fmt.Errorf("%w: AARQ in %s", ErrState, a.state)
	}
	a.handshake.reset()
	a.context = a.settings.Context
	a.mechanism = a.settings.Security.Mechanism
	a.peerTitle = nil
	a.server = false
	switch {
	case a.mechanism == base.AuthenticationLow:
		a.handshake.CtoS = append(a.handshake.CtoS[:0], a.settings.Security.Secret...)
	case a.mechanism.IsHigh():
		ctos, err := ciphering.Challenge(a.settings.ChallengeSize)
		if err != nil {
			return err
		}
		a.handshake.CtoS = append(a.handshake.CtoS[:0], ctos...)
	}
	return a.encodechain(out, base.TagAARQ, aarqEncoders, a.mechanism != base.AuthenticationNone)
}
