package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
)

// Queue serializes every mutation of batching state onto a single worker.
// Submit never blocks, so engine completions and units already running on the
// worker may enqueue follow-up units freely.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []*Unit
	stopped bool
	wake    chan struct{}

	processed uint64
	panicked  uint64

	// Background worker control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// QueueConfig is an alias to the config package type
type QueueConfig = config.QueueConfig

// DefaultQueueConfig returns default configuration
func DefaultQueueConfig() QueueConfig {
	return config.DefaultQueueConfig()
}

// NewQueue creates a new unit-of-work queue
func NewQueue(logger *slog.Logger, cfg QueueConfig) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = config.DefaultQueueDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		logger:  logger,
		pending: make([]*Unit, 0, depth),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the background worker
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.logger.Debug("Starting task queue worker")
	q.wg.Add(1)
	go q.runLoop()
}

// Stop gracefully stops the queue. Units that never ran are handed to their
// drop handlers once the worker has exited.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	for _, unit := range dropped {
		if unit.Drop != nil {
			unit.Drop()
		}
	}
	q.logger.Info("Task queue stopped", "dropped_units", len(dropped))
}

// Submit appends a unit of work to the tail of the queue
func (q *Queue) Submit(name string, run func()) (string, error) {
	return q.SubmitWithDrop(name, run, nil)
}

// SubmitWithDrop appends a unit whose drop handler runs instead of run when
// the queue stops first
func (q *Queue) SubmitWithDrop(name string, run, drop func()) (string, error) {
	unit := &Unit{
		ID:         generateUnitID(),
		Name:       name,
		Run:        run,
		Drop:       drop,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	q.pending = append(q.pending, unit)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return unit.ID, nil
}

// Await submits a unit and waits for it to finish running
func (q *Queue) Await(ctx context.Context, name string, run func()) error {
	done := make(chan struct{})
	if _, err := q.Submit(name, func() {
		defer close(done)
		run()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueStopped
	}
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.pending),
		Processed: q.processed,
		Panicked:  q.panicked,
	}
}

// next pops the head of the queue
func (q *Queue) next() *Unit {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	unit := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return unit
}

// execute runs one unit, containing any panic to that unit
func (q *Queue) execute(unit *Unit) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("PANIC in unit of work",
				"unit", unit.Name,
				"unit_id", unit.ID,
				"panic", r,
			)
			q.mu.Lock()
			q.panicked++
			q.mu.Unlock()
		}
		q.mu.Lock()
		q.processed++
		q.mu.Unlock()
	}()

	q.logger.Debug("Running unit",
		"unit", unit.Name,
		"unit_id", unit.ID,
		"queued_for", time.Since(unit.EnqueuedAt),
	)
	unit.Run()
}

// generateUnitID generates a unique unit ID
func generateUnitID() string {
	return "unit-" + uuid.NewString()
}
