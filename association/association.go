// Package association implements the ACSE part of a DLMS/COSEM connection: AARQ/AARE negotiation,
// release, and the authentication passes of the high level security mechanisms.
//
// An Association is one control function state machine. The server side is driven by Execute and
// Authenticate, the client side by EncodeAARQ, DecodeAARE, Proof, VerifyProof and the release pair.
// Every state change goes through one transition method, a transition that is not legal from the
// current state fails with ErrState and leaves the state untouched.
package association

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cybroslabs/libcosem-go/base"
	"github.com/cybroslabs/libcosem-go/ciphering"
	"github.com/cybroslabs/libcosem-go/cursor"
	"go.uber.org/zap"
)

var (
	ErrAuthentication = errors.New("association: authentication failed")
	ErrRejected       = errors.New("association: rejected")
	ErrState          = errors.New("association: invalid state")
	ErrDecode         = errors.New("association: malformed apdu")
)

const (
	DefaultChallengeSize = 16
	DefaultMaxPdu        = 0x0200

	// scratch room needed by the GMAC passes: header, challenge and tag
	minScratch = ciphering.SecurityHeaderSize + ciphering.MaxChallengeLength + ciphering.GCMTagLength
)

type State byte

const (
	StateInactive State = iota
	StateIdle
	StateAssociationPending
	StateAssociated
	StateReleasePending
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateIdle:
		return "idle"
	case StateAssociationPending:
		return "association-pending"
	case StateAssociated:
		return "associated"
	case StateReleasePending:
		return "release-pending"
	default:
		return "unknown"
	}
}

// Failure classifies why a negotiation did not succeed.
type Failure byte

const (
	FailureNone Failure = iota
	FailureDecode
	FailureVersion
	FailureContext
	FailureMechanism
	FailureAuthentication
	FailureInitiate
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureDecode:
		return "decode"
	case FailureVersion:
		return "version"
	case FailureContext:
		return "context"
	case FailureMechanism:
		return "mechanism"
	case FailureAuthentication:
		return "authentication"
	case FailureInitiate:
		return "initiate"
	default:
		return "unknown"
	}
}

// Initiate errors sent back inside a ConfirmedServiceError when the xDLMS part is refused.
const (
	InitiateErrorOther             byte = 0
	InitiateErrorDlmsVersionTooLow byte = 1
	InitiateErrorIncompatibleConf  byte = 2
	InitiateErrorPduSizeTooShort   byte = 3
)

// Handshake is what one AARQ/AARE exchange negotiated.
type Handshake struct {
	CtoS                []byte
	StoC                []byte
	ProposedConformance uint32
	Conformance         uint32
	ClientMaxPdu        uint16
	ServerMaxPdu        uint16
	VAAddress           uint16
	Accepted            bool
	Result              base.AssociationResult
	Source              base.DiagnosticSource
	Diagnostic          base.SourceDiagnostic
	Failure             Failure
	InitiateError       byte

	initiated bool // user information seen
}

func (h *Handshake) reset() {
	*h = Handshake{
		CtoS:   h.CtoS[:0],
		StoC:   h.StoC[:0],
		Source: base.DiagnosticSourceUser,
	}
}

type Settings struct {
	Context        base.ApplicationContext // LN without ciphering when zero
	Security       ciphering.Settings
	Conformance    uint32 // offered (client) or supported (server) conformance
	MaxPduRecvSize uint16
	ChallengeSize  int  // own challenge length for high level security
	EmptyRLRQ      bool // client sends 62 00 instead of a release reason

	// InvocationCounter starts the GMAC invocation counter of pass 3/4 packets.
	InvocationCounter uint32
}

// Association is not safe for concurrent use, it belongs to exactly one channel.
type Association struct {
	settings Settings
	logger   *zap.SugaredLogger
	state    State

	context   base.ApplicationContext
	mechanism base.Authentication
	handshake Handshake
	ownTitle  []byte
	peerTitle []byte
	acsereq   bool // sender ACSE requirements present in the AARQ
	server    bool // the last AARQ was received, not sent

	gmac       *ciphering.Gmac
	invocation uint32
	scratch    *cursor.Cursor
	transfer   Transfer
}

// New validates the settings. scratch is the per channel staging cursor, its offset must leave room
// for a security header; nil allocates a private one.
func New(settings Settings, scratch *cursor.Cursor) (*Association, error) {
	if settings.Context == 0 {
		settings.Context = base.ApplicationContextLNNoCiphering
	}
	if !settings.Context.Valid() {
		return nil, fmt.Errorf("invalid application context %d", settings.Context)
	}
	if err := settings.Security.Validate(); err != nil {
		return nil, err
	}
	if settings.MaxPduRecvSize == 0 {
		settings.MaxPduRecvSize = DefaultMaxPdu
	}
	if settings.ChallengeSize == 0 {
		settings.ChallengeSize = DefaultChallengeSize
	}
	if settings.ChallengeSize < ciphering.MinChallengeLength || settings.ChallengeSize > ciphering.MaxChallengeLength {
		return nil, fmt.Errorf("challenge size has to be %d to %d", ciphering.MinChallengeLength, ciphering.MaxChallengeLength)
	}
	if scratch == nil {
		var err error
		scratch, err = cursor.New(make([]byte, minScratch), 0, ciphering.SecurityHeaderSize)
		if err != nil {
			return nil, err
		}
	}
	a := &Association{
		settings:   settings,
		context:    settings.Context,
		scratch:    scratch,
		invocation: settings.InvocationCounter,
		ownTitle:   slices.Clone(settings.Security.SystemTitle),
	}
	if settings.Security.Mechanism == base.AuthenticationHighGmac {
		g, err := ciphering.NewGmac(settings.Security.EncryptionKey, settings.Security.AuthenticationKey)
		if err != nil {
			return nil, err
		}
		a.gmac = g
	}
	a.handshake.reset()
	return a, nil
}

func (a *Association) SetLogger(logger *zap.SugaredLogger) {
	a.logger = logger
}

func (a *Association) logf(format string, v ...any) {
	if a.logger != nil {
		a.logger.Infof(format, v...)
	}
}

func (a *Association) dlogf(format string, v ...any) {
	if a.logger != nil {
		a.logger.Debugf(format, v...)
	}
}

func (a *Association) State() State {
	return a.state
}

func (a *Association) Context() base.ApplicationContext {
	return a.context
}

func (a *Association) Mechanism() base.Authentication {
	return a.mechanism
}

func (a *Association) Handshake() *Handshake {
	return &a.handshake
}

// PeerTitle is the system title received from the other side, nil when none was sent.
func (a *Association) PeerTitle() []byte {
	return a.peerTitle
}

func (a *Association) Scratch() *cursor.Cursor {
	return a.scratch
}

func (a *Association) Transfer() *Transfer {
	return &a.transfer
}

func (a *Association) Settings() *Settings {
	return &a.settings
}

// MaxSendPdu is the largest APDU the peer accepts, zero means no limit.
func (a *Association) MaxSendPdu() int {
	n := a.handshake.ServerMaxPdu
	if a.server {
		n = a.handshake.ClientMaxPdu
	}
	if n == 0 {
		return 0xffff
	}
	return int(n)
}

func (a *Association) move(from State, to State) error {
	if a.state != from {
		return fmt.Errorf("%w: %s -> %s requested in %s", ErrState, from, to, a.state)
	}
	a.dlogf("association %s -> %s", from, to)
	a.state = to
	return nil
}

// Start makes a fresh association available on a granted channel.
func (a *Association) Start() error {
	return a.move(StateInactive, StateIdle)
}

// Stop drops everything negotiated, the channel is gone.
func (a *Association) Stop() {
	a.dlogf("association %s -> %s", a.state, StateInactive)
	a.state = StateInactive
	a.mechanism = base.AuthenticationNone
	a.context = a.settings.Context
	a.peerTitle = nil
	a.acsereq = false
	a.handshake.reset()
	a.transfer.Reset()
	a.scratch.Reset()
}

func (a *Association) grant() error {
	return a.move(StateIdle, StateAssociated)
}

func (a *Association) pend() error {
	return a.move(StateIdle, StateAssociationPending)
}

func (a *Association) confirm() error {
	return a.move(StateAssociationPending, StateAssociated)
}

func (a *Association) abandon() error {
	return a.move(StateAssociationPending, StateIdle)
}

func (a *Association) release() error {
	return a.move(StateAssociated, StateIdle)
}

func (a *Association) requestRelease() error {
	return a.move(StateAssociated, StateReleasePending)
}

func (a *Association) released() error {
	return a.move(StateReleasePending, StateIdle)
}

// fail records the diagnostic an AARE reports and returns the matching error.
func (a *Association) fail(f Failure, source base.DiagnosticSource, diag base.SourceDiagnostic, format string, v ...any) error {
	h := &a.handshake
	h.Failure = f
	h.Source = source
	h.Diagnostic = diag
	return fmt.Errorf("%w: %s: %s", ErrRejected, diag, fmt.Sprintf(format, v...))
}

// Execute handles an ACSE APDU received by the server and writes the reply to out.
// A refused AARQ is not an error, the refusal travels in the AARE. An AARQ while
// associated releases the current association first.
func (a *Association) Execute(in *cursor.Cursor, out *cursor.Cursor) error {
	tag, err := in.Peek()
	if err != nil {
		return fmt.Errorf("%w: empty apdu", ErrDecode)
	}
	switch {
	case base.CosemTag(tag) == base.TagAARQ && a.state == StateIdle:
		return a.associate(in, out)
	case base.CosemTag(tag) == base.TagAARQ && (a.state == StateAssociated || a.state == StateAssociationPending):
		// a new AARQ replaces the running association
		a.dlogf("association %s dropped by a new AARQ", a.state)
		a.state = StateIdle
		a.transfer.Reset()
		a.scratch.Reset()
		return a.associate(in, out)
	case base.CosemTag(tag) == base.TagRLRQ && (a.state == StateAssociated || a.state == StateAssociationPending):
		return a.releaseRequest(in, out)
	}
	return fmt.Errorf("%w: %s received in %s", ErrState, base.CosemTag(tag), a.state)
}

func (a *Association) associate(in *cursor.Cursor, out *cursor.Cursor) error {
	a.handshake.reset()
	a.mechanism = base.AuthenticationNone
	a.context = a.settings.Context
	a.peerTitle = nil
	a.acsereq = false
	a.server = true

	err := a.decodechain(in, base.TagAARQ, aarqDecoders)
	if err == nil {
		err = a.authorize()
	} else if a.handshake.Failure == FailureNone {
		a.handshake.Failure = FailureDecode
		a.handshake.Diagnostic = base.SourceDiagnosticNoReasonGiven
	}
	h := &a.handshake
	h.Accepted = a.state != StateIdle
	if h.Accepted {
		h.Result = base.AssociationResultAccepted
		a.logf("association accepted, context %s, mechanism %s, diagnostic %s", a.context, a.mechanism, h.Diagnostic)
	} else {
		h.Result = base.AssociationResultPermanentRejected
		a.logf("association rejected: %v", err)
	}
	return a.encodechain(out, base.TagAARE, aareEncoders, a.mechanism.IsHigh() && a.state == StateAssociationPending)
}

// authorize decides on a decoded AARQ, the is-granted step.
func (a *Association) authorize() error {
	h := &a.handshake
	sec := &a.settings.Security
	if !h.initiated {
		return a.fail(FailureInitiate, base.DiagnosticSourceUser, base.SourceDiagnosticNoReasonGiven, "no initiate request")
	}
	if a.mechanism != sec.Mechanism {
		if a.mechanism == base.AuthenticationNone {
			return a.fail(FailureMechanism, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationMechanismNameRequired, "%s required", sec.Mechanism)
		}
		return a.fail(FailureMechanism, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationMechanismNameNotRecognized, "%s requested, %s configured", a.mechanism, sec.Mechanism)
	}
	if a.mechanism != base.AuthenticationNone && !a.acsereq {
		return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationFailure, "%s without authentication functional unit", a.mechanism)
	}

	switch a.mechanism {
	case base.AuthenticationNone:
		h.Diagnostic = base.SourceDiagnosticNone
		return a.grant()
	case base.AuthenticationLow:
		if ciphering.VerifyDigest(h.CtoS, sec.Secret) != nil {
			return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationFailure, "password mismatch")
		}
		h.Diagnostic = base.SourceDiagnosticNone
		return a.grant()
	}

	if len(h.CtoS) < ciphering.MinChallengeLength {
		return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticAuthenticationFailure, "challenge of %d bytes", len(h.CtoS))
	}
	if a.needsTitles() && len(a.peerTitle) != ciphering.SystemTitleLength {
		return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticCallingAPTitleNotRecognized, "no calling AP title")
	}
	stoc, err := ciphering.Challenge(a.settings.ChallengeSize)
	if err != nil {
		return a.fail(FailureAuthentication, base.DiagnosticSourceUser, base.SourceDiagnosticNoReasonGiven, "%v", err)
	}
	h.StoC = append(h.StoC[:0], stoc...)
	h.Diagnostic = base.SourceDiagnosticAuthenticationRequired
	return a.pend()
}

func (a *Association) needsTitles() bool {
	return a.mechanism == base.AuthenticationHighGmac || a.mechanism == base.AuthenticationHighSha256
}
