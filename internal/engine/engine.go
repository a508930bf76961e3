// Package engine defines the asynchronous contract of the positioning engine.
//
// Every operation returns immediately; its result is delivered later through
// the supplied continuation. Implementations must deliver continuations in the
// order the calls were issued and must never invoke a continuation from inside
// the call itself.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// Engine is the hardware collaborator consumed by the batching core
type Engine interface {
	StartBatching(id uint32, opts types.BatchingOptions, accuracy int, timeout time.Duration, cb func(error))
	StopBatching(id uint32, cb func(error))

	StartOutdoorTripBatching(distance, interval uint32, timeout time.Duration, cb func(error))
	RestartOutdoorTripBatching(distance, interval uint32, timeout time.Duration, cb func(error))
	StopOutdoorTripBatching(force bool, cb func(error))
	QueryAccumulatedTripDistance(cb func(TripDistance, error))

	GetBatchedLocations(count int, cb func([]types.Location, error))
	GetBatchedTripLocations(count int, flag uint32, cb func([]types.Location, error))

	// UpdateEventMask subscribes (or unsubscribes) the given events
	UpdateEventMask(mask types.EventMask, subscribe bool)
	// SetBatchSizes reapplies the static buffer configuration
	SetBatchSizes(batchSize, tripBatchSize int)

	// SetEventHandler installs the receiver of unsolicited engine events
	SetEventHandler(h EventHandler)
}

// TripDistance is the answer to an accumulated distance query
type TripDistance struct {
	AccumulatedDistance uint32
	NumBatchedPositions uint32
}

// EventHandler receives unsolicited engine events
type EventHandler func(Event)

// EventKind identifies an engine event
type EventKind int

const (
	// EventEngineUp is sent when the engine (re)starts and announces its capabilities
	EventEngineUp EventKind = iota
	// EventBatchFull carries buffered fixes pushed by the engine
	EventBatchFull
	// EventTripProgress reports distance accumulated since the last trip (re)start
	EventTripProgress
	// EventBatchStatus reports a batching status transition
	EventBatchStatus
)

// String implements fmt.Stringer
func (k EventKind) String() string {
	switch k {
	case EventEngineUp:
		return "engine_up"
	case EventBatchFull:
		return "batch_full"
	case EventTripProgress:
		return "trip_progress"
	case EventBatchStatus:
		return "batch_status"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// ParseEventKind is the inverse of EventKind.String
func ParseEventKind(s string) (EventKind, error) {
	for k := EventEngineUp; k <= EventBatchStatus; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown engine event: %q", s)
}

// Event is an unsolicited notification from the engine
type Event struct {
	Kind         EventKind
	Capabilities types.Capabilities
	Locations    []types.Location
	// Trip is set on EventBatchFull when the fixes belong to trip batching
	Trip     bool
	Distance TripDistance
	Status   types.BatchStatus
}

// Code is a status code reported by the engine
type Code int

const (
	CodeGeneralFailure Code = 1
	CodeNotSupported   Code = 2
	CodeTimeout        Code = 3
	CodeBusy           Code = 4
)

// Error is a failure reported by the engine. Its code is surfaced verbatim to clients.
type Error struct {
	Code    Code
	Message string
}

// Error implements error
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine error %d", int(e.Code))
	}
	return fmt.Sprintf("engine error %d: %s", int(e.Code), e.Message)
}

// Errorf builds an engine Error
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the engine code from err, or CodeGeneralFailure
func CodeOf(err error) Code {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return CodeGeneralFailure
}
