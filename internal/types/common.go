// Package types provides the location batching vocabulary shared by the
// core, the engine transport and the MCP front end
package types

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a batching session reports its buffered fixes
type Mode int

const (
	// ModeRoutine buffers fixes and reports automatically when the buffer is full
	ModeRoutine Mode = iota
	// ModeNoAutoReport buffers fixes until the client asks for them
	ModeNoAutoReport
	// ModeTrip is distance bounded outdoor trip batching shared by all trip sessions
	ModeTrip
)

// String implements fmt.Stringer
func (m Mode) String() string {
	switch m {
	case ModeRoutine:
		return "routine"
	case ModeNoAutoReport:
		return "no_auto_report"
	case ModeTrip:
		return "trip"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	return m >= ModeRoutine && m <= ModeTrip
}

// ParseMode converts a mode name into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "routine":
		return ModeRoutine, nil
	case "no_auto_report", "manual":
		return ModeNoAutoReport, nil
	case "trip":
		return ModeTrip, nil
	default:
		return ModeRoutine, fmt.Errorf("unknown batching mode: %q", s)
	}
}

// BatchingOptions describes what a client asked for
type BatchingOptions struct {
	Size        uint32 `json:"size"`
	MinInterval uint32 `json:"min_interval_ms"`
	MinDistance uint32 `json:"min_distance_m"`
	Mode        Mode   `json:"mode"`
}

// WantsAutoReport reports whether the session cares about batch-full events
func (o BatchingOptions) WantsAutoReport() bool {
	return o.Mode != ModeNoAutoReport
}

// IsTrip reports whether the session is an outdoor trip session
func (o BatchingOptions) IsTrip() bool {
	return o.Mode == ModeTrip
}

// Location is a single buffered fix
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Accuracy  float64   `json:"accuracy"`
	Speed     float64   `json:"speed"`
	Bearing   float64   `json:"bearing"`
	Timestamp time.Time `json:"timestamp"`
}

// Capabilities is the engine capability bit set
type Capabilities uint32

const (
	CapTimeBasedBatching Capabilities = 1 << iota
	CapDistanceBasedBatching
	CapOutdoorTripBatching
)

// Has reports whether every bit in c is set
func (caps Capabilities) Has(c Capabilities) bool {
	return caps&c == c
}

// Names lists the capability names that are set
func (caps Capabilities) Names() []string {
	names := make([]string, 0, 3)
	if caps.Has(CapTimeBasedBatching) {
		names = append(names, "time_based_batching")
	}
	if caps.Has(CapDistanceBasedBatching) {
		names = append(names, "distance_based_batching")
	}
	if caps.Has(CapOutdoorTripBatching) {
		names = append(names, "outdoor_trip_batching")
	}
	return names
}

// EventMask selects engine event subscriptions
type EventMask uint32

const (
	// EventBatchFull fires when the engine buffer is full and fixes are pushed
	EventBatchFull EventMask = 1 << iota
	// EventBatchStatus fires on batching status transitions
	EventBatchStatus
)

// BatchStatus is a batching status transition reported to clients
type BatchStatus int

const (
	BatchStatusTripCompleted BatchStatus = iota
	BatchStatusPositionAvailable
	BatchStatusPositionUnavailable
)

// String implements fmt.Stringer
func (s BatchStatus) String() string {
	switch s {
	case BatchStatusTripCompleted:
		return "trip_completed"
	case BatchStatusPositionAvailable:
		return "position_available"
	case BatchStatusPositionUnavailable:
		return "position_unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
