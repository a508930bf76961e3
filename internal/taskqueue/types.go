package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueStopped is returned when a unit is submitted after Stop
var ErrQueueStopped = errors.New("task queue stopped")

// Unit is one discrete unit of work. Units run one at a time, in submission order.
type Unit struct {
	ID   string
	Name string
	Run  func()
	// Drop, when set, is called if the queue stops before Run
	Drop       func()
	EnqueuedAt time.Time
}

// Stats reports queue counters
type Stats struct {
	Pending   int
	Processed uint64
	Panicked  uint64
}

// QueueInterface defines the interface for unit-of-work submission
type QueueInterface interface {
	// Submit appends a unit and returns its id without waiting for it to run
	Submit(name string, run func()) (string, error)

	// SubmitWithDrop is Submit with a handler for units discarded by Stop
	SubmitWithDrop(name string, run, drop func()) (string, error)

	// Await submits a unit and blocks until it has run or ctx is done
	Await(ctx context.Context, name string, run func()) error

	// Start begins the worker goroutine
	Start()

	// Stop finishes the running unit, drops the rest and waits for the worker
	Stop()
}
