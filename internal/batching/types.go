package batching

import (
	"fmt"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// ClientID identifies a registered batching client
type ClientID string

// SessionKey identifies one live session
type SessionKey struct {
	Client ClientID
	ID     uint32
}

// String implements fmt.Stringer
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%d", k.Client, k.ID)
}

// Code is the outcome reported to a client
type Code int

const (
	CodeSuccess Code = iota
	CodeGeneralFailure
	CodeCallbackMissing
	CodeInvalidParameter
	CodeIDUnknown
	CodeNotSupported
	CodeTimeout
	CodeBusy
)

// String implements fmt.Stringer
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeGeneralFailure:
		return "GENERAL_FAILURE"
	case CodeCallbackMissing:
		return "CALLBACK_MISSING"
	case CodeInvalidParameter:
		return "INVALID_PARAMETER"
	case CodeIDUnknown:
		return "ID_UNKNOWN"
	case CodeNotSupported:
		return "NOT_SUPPORTED"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("CODE_%d", int(c))
	}
}

// CodeOf maps an engine failure to the code reported to clients
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	switch engine.CodeOf(err) {
	case engine.CodeNotSupported:
		return CodeNotSupported
	case engine.CodeTimeout:
		return CodeTimeout
	case engine.CodeBusy:
		return CodeBusy
	default:
		return CodeGeneralFailure
	}
}

// Response is the single outcome of a client command
type Response struct {
	Code      Code
	SessionID uint32
	// Err is the engine failure, surfaced verbatim
	Err error
	// Locations is set by a successful batched location retrieval
	Locations []types.Location
}

// OK reports whether the command succeeded
func (r Response) OK() bool {
	return r.Code == CodeSuccess
}

// BatchedLocations is delivered through Callbacks.BatchedLocations
type BatchedLocations struct {
	SessionID uint32
	Count     int
	Locations []types.Location
	Options   types.BatchingOptions
}

// StatusChange is delivered through Callbacks.BatchStatus
type StatusChange struct {
	Status           types.BatchStatus
	CompletedTripIDs []uint32
}

// Callbacks is a client's response channel. A client has a batching
// callback iff BatchedLocations is set.
type Callbacks struct {
	Response         func(Response)
	BatchedLocations func(BatchedLocations)
	BatchStatus      func(StatusChange)
	Capabilities     func(types.Capabilities)
}

func success(id uint32) Response {
	return Response{Code: CodeSuccess, SessionID: id}
}

func failure(id uint32, err error) Response {
	return Response{Code: CodeOf(err), SessionID: id, Err: err}
}

func reject(id uint32, code Code) Response {
	return Response{Code: code, SessionID: id}
}

// sub is saturating subtraction
func sub(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}
