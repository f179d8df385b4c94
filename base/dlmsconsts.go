package base

const (
	DlmsVersion = 0x06

	VAANameLN = 0x0007
	VAANameSN = 0xFA00
)

type Authentication byte

const (
	AuthenticationNone       Authentication = 0 // No authentication is used.
	AuthenticationLow        Authentication = 1 // Low authentication, password in clear.
	AuthenticationHigh       Authentication = 2 // High authentication, manufacturer specific digest.
	AuthenticationHighMD5    Authentication = 3 // High authentication, challenge hashed with MD5.
	AuthenticationHighSHA1   Authentication = 4 // High authentication, challenge hashed with SHA1.
	AuthenticationHighGmac   Authentication = 5 // High authentication, challenge authenticated with GMAC.
	AuthenticationHighSha256 Authentication = 6 // High authentication, challenge hashed with SHA-256.
)

func (a Authentication) String() string {
	switch a {
	case AuthenticationNone:
		return "none"
	case AuthenticationLow:
		return "low"
	case AuthenticationHigh:
		return "high"
	case AuthenticationHighMD5:
		return "high-md5"
	case AuthenticationHighSHA1:
		return "high-sha1"
	case AuthenticationHighGmac:
		return "high-gmac"
	case AuthenticationHighSha256:
		return "high-sha256"
	default:
		return "unknown"
	}
}

// IsHigh reports whether the mechanism needs the pass 3/4 exchange after AARE.
func (a Authentication) IsHigh() bool {
	return a >= AuthenticationHigh && a <= AuthenticationHighSha256
}

type DlmsSecurity byte

const (
	SecurityNone           DlmsSecurity = 0    // Transport security is not used.
	SecurityAuthentication DlmsSecurity = 0x10 // Authentication security is used.
	SecurityEncryption     DlmsSecurity = 0x20 // Encryption security is used.
)

type AssociationResult byte

const (
	AssociationResultAccepted          AssociationResult = 0
	AssociationResultPermanentRejected AssociationResult = 1
	AssociationResultTransientRejected AssociationResult = 2
)

func (r AssociationResult) String() string {
	switch r {
	case AssociationResultAccepted:
		return "accepted"
	case AssociationResultPermanentRejected:
		return "rejected-permanent"
	case AssociationResultTransientRejected:
		return "rejected-transient"
	default:
		return "unknown"
	}
}

// DiagnosticSource selects the choice inside the associate-source-diagnostic field.
type DiagnosticSource byte

const (
	DiagnosticSourceUser     DiagnosticSource = 0xa1
	DiagnosticSourceProvider DiagnosticSource = 0xa2
)

type SourceDiagnostic byte

const (
	SourceDiagnosticNone                                       SourceDiagnostic = 0
	SourceDiagnosticNoReasonGiven                              SourceDiagnostic = 1
	SourceDiagnosticApplicationContextNameNotSupported         SourceDiagnostic = 2
	SourceDiagnosticCallingAPTitleNotRecognized                SourceDiagnostic = 3
	SourceDiagnosticCallingAPInvocationIdentifierNotRecognized SourceDiagnostic = 4
	SourceDiagnosticCallingAEQualifierNotRecognized            SourceDiagnostic = 5
	SourceDiagnosticCallingAEInvocationIdentifierNotRecognized SourceDiagnostic = 6
	SourceDiagnosticCalledAPTitleNotRecognized                 SourceDiagnostic = 7
	SourceDiagnosticCalledAPInvocationIdentifierNotRecognized  SourceDiagnostic = 8
	SourceDiagnosticCalledAEQualifierNotRecognized             SourceDiagnostic = 9
	SourceDiagnosticCalledAEInvocationIdentifierNotRecognized  SourceDiagnostic = 10
	SourceDiagnosticAuthenticationMechanismNameNotRecognized   SourceDiagnostic = 11
	SourceDiagnosticAuthenticationMechanismNameRequired        SourceDiagnostic = 12
	SourceDiagnosticAuthenticationFailure                      SourceDiagnostic = 13
	SourceDiagnosticAuthenticationRequired                     SourceDiagnostic = 14
)

// service provider diagnostics share the byte with user ones, only 0..2 are defined
const (
	ProviderDiagnosticNull            SourceDiagnostic = 0
	ProviderDiagnosticNoReasonGiven   SourceDiagnostic = 1
	ProviderDiagnosticNoCommonVersion SourceDiagnostic = 2
)

func (s SourceDiagnostic) String() string {
	switch s {
	case SourceDiagnosticNone:
		return "null"
	case SourceDiagnosticNoReasonGiven:
		return "no-reason-given"
	case SourceDiagnosticApplicationContextNameNotSupported:
		return "application-context-name-not-supported"
	case SourceDiagnosticCallingAPTitleNotRecognized:
		return "calling-AP-title-not-recognized"
	case SourceDiagnosticAuthenticationMechanismNameNotRecognized:
		return "authentication-mechanism-name-not-recognised"
	case SourceDiagnosticAuthenticationMechanismNameRequired:
		return "authentication-mechanism-name-required"
	case SourceDiagnosticAuthenticationFailure:
		return "authentication-failure"
	case SourceDiagnosticAuthenticationRequired:
		return "authentication-required"
	default:
		if s < SourceDiagnosticAuthenticationMechanismNameNotRecognized {
			return "not-recognized"
		}
		return "unknown"
	}
}

type ApplicationContext byte

// Application context definitions
const (
	ApplicationContextLNNoCiphering ApplicationContext = 1
	ApplicationContextSNNoCiphering ApplicationContext = 2
	ApplicationContextLNCiphering   ApplicationContext = 3
	ApplicationContextSNCiphering   ApplicationContext = 4
)

func (a ApplicationContext) String() string {
	switch a {
	case ApplicationContextLNNoCiphering:
		return "LN"
	case ApplicationContextSNNoCiphering:
		return "SN"
	case ApplicationContextLNCiphering:
		return "LN-ciphering"
	case ApplicationContextSNCiphering:
		return "SN-ciphering"
	default:
		return "unknown"
	}
}

func (a ApplicationContext) Valid() bool {
	return a >= ApplicationContextLNNoCiphering && a <= ApplicationContextSNCiphering
}

func (a ApplicationContext) IsLN() bool {
	return a == ApplicationContextLNNoCiphering || a == ApplicationContextLNCiphering
}

const (
	PduTypeProtocolVersion            = 0
	PduTypeApplicationContextName     = 1
	PduTypeCalledAPTitle              = 2
	PduTypeCalledAEQualifier          = 3
	PduTypeCalledAPInvocationID       = 4
	PduTypeCalledAEInvocationID       = 5
	PduTypeCallingAPTitle             = 6
	PduTypeCallingAEQualifier         = 7
	PduTypeCallingAPInvocationID      = 8
	PduTypeCallingAEInvocationID      = 9
	PduTypeSenderAcseRequirements     = 10
	PduTypeMechanismName              = 11
	PduTypeCallingAuthenticationValue = 12
	PduTypeImplementationInformation  = 29
	PduTypeUserInformation            = 30

	// AARE side
	PduTypeResult                        = 2
	PduTypeResultSourceDiagnostic        = 3
	PduTypeRespondingAPTitle             = 4
	PduTypeResponderAcseRequirements     = 8
	PduTypeRespondingMechanismName       = 9
	PduTypeRespondingAuthenticationValue = 10
)

const (
	BERTypeContext     = 0x80
	BERTypeApplication = 0x40
	BERTypeConstructed = 0x20
)

// Conformance block
const (
	ConformanceBlockReservedZero         = 0b100000000000000000000000
	ConformanceBlockGeneralProtection    = 0b010000000000000000000000
	ConformanceBlockGeneralBlockTransfer = 0b001000000000000000000000
	ConformanceBlockRead                 = 0b000100000000000000000000

	ConformanceBlockWrite            = 0b000010000000000000000000
	ConformanceBlockUnconfirmedWrite = 0b000001000000000000000000
	ConformanceBlockReservedSix      = 0b000000100000000000000000
	ConformanceBlockReservedSeven    = 0b000000010000000000000000

	ConformanceBlockAttribute0SupportedWithSet = 0b000000001000000000000000
	ConformanceBlockPriorityMgmtSupported      = 0b000000000100000000000000
	ConformanceBlockAttribute0SupportedWithGet = 0b000000000010000000000000
	ConformanceBlockBlockTransferWithGetOrRead = 0b000000000001000000000000

	ConformanceBlockBlockTransferWithSetOrWrite = 0b000000000000100000000000
	ConformanceBlockBlockTransferWithAction     = 0b000000000000010000000000
	ConformanceBlockMultipleReferences          = 0b000000000000001000000000
	ConformanceBlockInformationReport           = 0b000000000000000100000000

	ConformanceBlockDataNotification   = 0b000000000000000010000000
	ConformanceBlockAccess             = 0b000000000000000001000000
	ConformanceBlockParametrizedAccess = 0b000000000000000000100000
	ConformanceBlockGet                = 0b000000000000000000010000

	ConformanceBlockSet               = 0b000000000000000000001000
	ConformanceBlockSelectiveAccess   = 0b000000000000000000000100
	ConformanceBlockEventNotification = 0b000000000000000000000010
	ConformanceBlockAction            = 0b000000000000000000000001

	// what a plain LN server offers
	ConformanceBlockServerLN = ConformanceBlockBlockTransferWithGetOrRead | ConformanceBlockBlockTransferWithSetOrWrite |
		ConformanceBlockGet | ConformanceBlockSet | ConformanceBlockSelectiveAccess | ConformanceBlockAction
)

type CosemTag byte

const (
	TagInitiateRequest       CosemTag = 1
	TagInitiateResponse      CosemTag = 8
	TagConfirmedServiceError CosemTag = 14
	TagAARQ                  CosemTag = 96
	TagAARE                  CosemTag = 97
	TagRLRQ                  CosemTag = 98
	TagRLRE                  CosemTag = 99
	// --- APDUs used for data communication services
	TagGetRequest               CosemTag = 192
	TagSetRequest               CosemTag = 193
	TagEventNotificationRequest CosemTag = 194
	TagActionRequest            CosemTag = 195
	TagGetResponse              CosemTag = 196
	TagSetResponse              CosemTag = 197
	TagActionResponse           CosemTag = 199
	TagExceptionResponse        CosemTag = 216
)

func (t CosemTag) String() string {
	switch t {
	case TagAARQ:
		return "AARQ"
	case TagAARE:
		return "AARE"
	case TagRLRQ:
		return "RLRQ"
	case TagRLRE:
		return "RLRE"
	case TagGetRequest:
		return "GET.request"
	case TagSetRequest:
		return "SET.request"
	case TagActionRequest:
		return "ACTION.request"
	case TagGetResponse:
		return "GET.response"
	case TagSetResponse:
		return "SET.response"
	case TagActionResponse:
		return "ACTION.response"
	case TagExceptionResponse:
		return "EXCEPTION.response"
	default:
		return "unknown"
	}
}

type DlmsResultTag byte

const (
	// DataAccessResult
	TagResultSuccess                 DlmsResultTag = 0
	TagResultHardwareFault           DlmsResultTag = 1
	TagResultTemporaryFailure        DlmsResultTag = 2
	TagResultReadWriteDenied         DlmsResultTag = 3
	TagResultObjectUndefined         DlmsResultTag = 4
	TagResultObjectClassInconsistent DlmsResultTag = 9
	TagResultObjectUnavailable       DlmsResultTag = 11
	TagResultTypeUnmatched           DlmsResultTag = 12
	TagResultScopeAccessViolated     DlmsResultTag = 13
	TagResultDataBlockUnavailable    DlmsResultTag = 14
	TagResultLongGetAborted          DlmsResultTag = 15
	TagResultNoLongGetInProgress     DlmsResultTag = 16
	TagResultLongSetAborted          DlmsResultTag = 17
	TagResultNoLongSetInProgress     DlmsResultTag = 18
	TagResultDataBlockNumberInvalid  DlmsResultTag = 19
	TagResultOtherReason             DlmsResultTag = 250
)

func (s DlmsResultTag) String() string {
	switch s {
	case TagResultSuccess:
		return "success"
	case TagResultHardwareFault:
		return "hardware-fault"
	case TagResultTemporaryFailure:
		return "temporary-failure"
	case TagResultReadWriteDenied:
		return "read-write-denied"
	case TagResultObjectUndefined:
		return "object-undefined"
	case TagResultObjectClassInconsistent:
		return "object-class-inconsistent"
	case TagResultObjectUnavailable:
		return "object-unavailable"
	case TagResultTypeUnmatched:
		return "type-unmatched"
	case TagResultScopeAccessViolated:
		return "scope-of-access-violated"
	case TagResultDataBlockUnavailable:
		return "data-block-unavailable"
	case TagResultLongGetAborted:
		return "long-get-aborted"
	case TagResultNoLongGetInProgress:
		return "no-long-get-in-progress"
	case TagResultLongSetAborted:
		return "long-set-aborted"
	case TagResultNoLongSetInProgress:
		return "no-long-set-in-progress"
	case TagResultDataBlockNumberInvalid:
		return "data-block-number-invalid"
	case TagResultOtherReason:
		return "other-reason"
	default:
		return "unknown"
	}
}

// Valid reports whether the byte is one of the defined data-access-result values.
func (s DlmsResultTag) Valid() bool {
	return s.String() != "unknown"
}

type ActionResultTag byte

const (
	TagActionSuccess                 ActionResultTag = 0
	TagActionHardwareFault           ActionResultTag = 1
	TagActionTemporaryFailure        ActionResultTag = 2
	TagActionReadWriteDenied         ActionResultTag = 3
	TagActionObjectUndefined         ActionResultTag = 4
	TagActionObjectClassInconsistent ActionResultTag = 9
	TagActionObjectUnavailable       ActionResultTag = 11
	TagActionTypeUnmatched           ActionResultTag = 12
	TagActionScopeAccessViolated     ActionResultTag = 13
	TagActionDataBlockUnavailable    ActionResultTag = 14
	TagActionLongActionAborted       ActionResultTag = 15
	TagActionNoLongActionInProgress  ActionResultTag = 16
	TagActionOtherReason             ActionResultTag = 250
)

func (s ActionResultTag) Valid() bool {
	switch s {
	case TagActionSuccess, TagActionHardwareFault, TagActionTemporaryFailure, TagActionReadWriteDenied,
		TagActionObjectUndefined, TagActionObjectClassInconsistent, TagActionObjectUnavailable,
		TagActionTypeUnmatched, TagActionScopeAccessViolated, TagActionDataBlockUnavailable,
		TagActionLongActionAborted, TagActionNoLongActionInProgress, TagActionOtherReason:
		return true
	}
	return false
}

func (s ActionResultTag) String() string {
	if s == TagActionLongActionAborted {
		return "long-action-aborted"
	}
	if s == TagActionNoLongActionInProgress {
		return "no-long-action-in-progress"
	}
	return DlmsResultTag(s).String()
}

type ReleaseRequestReason byte

const (
	ReleaseRequestReasonNormal      ReleaseRequestReason = 0
	ReleaseRequestReasonUrgent      ReleaseRequestReason = 1
	ReleaseRequestReasonUserDefined ReleaseRequestReason = 30
)
