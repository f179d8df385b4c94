// Package cosem is the xDLMS service layer: GET, SET and ACTION request and response codecs for
// logical name referencing, the server side service engine with its block transfer, and the
// Database contract the engine calls for every attribute or method it serves.
package cosem

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libcosem-go/axdr"
	"github.com/cybroslabs/libcosem-go/base"
)

var (
	ErrException = errors.New("cosem: exception response")
	ErrBlock     = errors.New("cosem: block transfer")
	ErrNotFound  = errors.New("cosem: object not found")
	ErrDenied    = errors.New("cosem: access denied")
	ErrService   = errors.New("cosem: unsupported service")
)

type Service byte

const (
	ServiceGet Service = iota + 1
	ServiceSet
	ServiceAction
)

func (s Service) String() string {
	switch s {
	case ServiceGet:
		return "GET"
	case ServiceSet:
		return "SET"
	case ServiceAction:
		return "ACTION"
	default:
		return "unknown"
	}
}

func (s Service) requestTag() base.CosemTag {
	switch s {
	case ServiceSet:
		return base.TagSetRequest
	case ServiceAction:
		return base.TagActionRequest
	}
	return base.TagGetRequest
}

func (s Service) responseTag() base.CosemTag {
	switch s {
	case ServiceSet:
		return base.TagSetResponse
	case ServiceAction:
		return base.TagActionResponse
	}
	return base.TagGetResponse
}

// RequestType is the choice byte right after the service tag, shared by GET, SET and ACTION.
type RequestType byte

const (
	RequestNormal RequestType = 1
	RequestNext   RequestType = 2
)

type ResponseType byte

const (
	ResponseNormal        ResponseType = 1
	ResponseWithDataBlock ResponseType = 2
)

// Status is what the database reports on success.
type Status byte

const (
	StatusOK        Status = iota // one complete value was written
	StatusNeedBlock               // the value is sent by block, one database call per loop
)

func (s Status) String() string {
	if s == StatusNeedBlock {
		return "need-block"
	}
	return "ok"
}

// Selective access selectors.
const (
	SelectorRange byte = 1
	SelectorEntry byte = 2
)

// Descriptor names an attribute or a method of an object.
type Descriptor struct {
	ClassID uint16
	Obis    axdr.Obis
	ID      int8
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%d/%v/%d", d.ClassID, d.Obis, d.ID)
}

type Access struct {
	Selector   byte
	Parameters axdr.Data
}

// AccessError is a refusal the database reports with a precise data-access-result.
type AccessError struct {
	Result base.DlmsResultTag
}

func NewAccessError(result base.DlmsResultTag) *AccessError {
	return &AccessError{Result: result}
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cosem: %s", e.Result)
}

// resultof maps a database error to the data-access-result sent to the peer.
func resultof(err error) base.DlmsResultTag {
	var ae *AccessError
	switch {
	case err == nil:
		return base.TagResultSuccess
	case errors.As(err, &ae):
		return ae.Result
	case errors.Is(err, ErrNotFound):
		return base.TagResultObjectUndefined
	case errors.Is(err, ErrDenied):
		return base.TagResultReadWriteDenied
	}
	return base.TagResultOtherReason
}

// Exception state and service errors, the engine always sends service-not-allowed /
// operation-not-possible.
const (
	StateErrorServiceNotAllowed      byte = 1
	StateErrorServiceUnknown         byte = 2
	ServiceErrorOperationNotPossible byte = 1
	ServiceErrorServiceNotSupported  byte = 2
	ServiceErrorOtherReason          byte = 3
)

// Exception is a received EXCEPTION.response.
type Exception struct {
	StateError   byte
	ServiceError byte
}

func (e *Exception) Error() string {
	return fmt.Sprintf("cosem: exception response, state error %d, service error %d", e.StateError, e.ServiceError)
}

func (e *Exception) Is(target error) bool {
	return target == ErrException
}

// ResultError is a data-access-result or action-result other than success received by the client.
type ResultError struct {
	Service Service
	Result  base.DlmsResultTag
}

func (e *ResultError) Error() string {
	if e.Service == ServiceAction {
		return fmt.Sprintf("cosem: %s failed: %s", e.Service, base.ActionResultTag(e.Result))
	}
	return fmt.Sprintf("cosem: %s failed: %s", e.Service, e.Result)
}
