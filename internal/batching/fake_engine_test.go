package batching

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/taskqueue"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

const allCaps = types.CapTimeBasedBatching | types.CapDistanceBasedBatching | types.CapOutdoorTripBatching

// engineCall records one call made to the fake engine
type engineCall struct {
	op       string
	id       uint32
	opts     types.BatchingOptions
	distance uint32
	interval uint32
	count    int

	cb     func(error)
	distCb func(engine.TripDistance, error)
	locCb  func([]types.Location, error)
}

type maskChange struct {
	mask      types.EventMask
	subscribe bool
}

// fakeEngine records calls and holds their continuations until the test
// completes them
type fakeEngine struct {
	mu      sync.Mutex
	calls   []*engineCall
	pending []*engineCall
	masks   []maskChange
	sizes   [][2]int
	handler engine.EventHandler
}

func (f *fakeEngine) record(c *engineCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if c.cb != nil || c.distCb != nil || c.locCb != nil {
		f.pending = append(f.pending, c)
	}
}

func (f *fakeEngine) StartBatching(id uint32, opts types.BatchingOptions, _ int, _ time.Duration, cb func(error)) {
	f.record(&engineCall{op: "StartBatching", id: id, opts: opts, cb: cb})
}

func (f *fakeEngine) StopBatching(id uint32, cb func(error)) {
	f.record(&engineCall{op: "StopBatching", id: id, cb: cb})
}

func (f *fakeEngine) StartOutdoorTripBatching(distance, interval uint32, _ time.Duration, cb func(error)) {
	f.record(&engineCall{op: "StartOutdoorTripBatching", distance: distance, interval: interval, cb: cb})
}

func (f *fakeEngine) RestartOutdoorTripBatching(distance, interval uint32, _ time.Duration, cb func(error)) {
	f.record(&engineCall{op: "RestartOutdoorTripBatching", distance: distance, interval: interval, cb: cb})
}

func (f *fakeEngine) StopOutdoorTripBatching(_ bool, cb func(error)) {
	f.record(&engineCall{op: "StopOutdoorTripBatching", cb: cb})
}

func (f *fakeEngine) QueryAccumulatedTripDistance(cb func(engine.TripDistance, error)) {
	f.record(&engineCall{op: "QueryAccumulatedTripDistance", distCb: cb})
}

func (f *fakeEngine) GetBatchedLocations(count int, cb func([]types.Location, error)) {
	f.record(&engineCall{op: "GetBatchedLocations", count: count, locCb: cb})
}

func (f *fakeEngine) GetBatchedTripLocations(count int, _ uint32, cb func([]types.Location, error)) {
	f.record(&engineCall{op: "GetBatchedTripLocations", count: count, locCb: cb})
}

func (f *fakeEngine) UpdateEventMask(mask types.EventMask, subscribe bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masks = append(f.masks, maskChange{mask: mask, subscribe: subscribe})
}

func (f *fakeEngine) SetBatchSizes(batchSize, tripBatchSize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, [2]int{batchSize, tripBatchSize})
}

func (f *fakeEngine) SetEventHandler(h engine.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeEngine) emit(ev engine.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

// take pops the oldest pending call with the given op
func (f *fakeEngine) take(t *testing.T, op string) *engineCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.pending {
		if c.op == op {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return c
		}
	}
	t.Fatalf("No pending %s call", op)
	return nil
}

func (f *fakeEngine) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeEngine) last(op string) *engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].op == op {
			return f.calls[i]
		}
	}
	return nil
}

func (f *fakeEngine) maskChanges(mask types.EventMask) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, m := range f.masks {
		if m.mask == mask {
			out = append(out, m.subscribe)
		}
	}
	return out
}

// recorder captures every callback delivered to one client
type recorder struct {
	mu        sync.Mutex
	responses []Response
	batches   []BatchedLocations
	statuses  []StatusChange
	caps      []types.Capabilities
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Response: func(resp Response) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.responses = append(r.responses, resp)
		},
		BatchedLocations: func(b BatchedLocations) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.batches = append(r.batches, b)
		},
		BatchStatus: func(c StatusChange) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, c)
		},
		Capabilities: func(c types.Capabilities) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.caps = append(r.caps, c)
		},
	}
}

func (r *recorder) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) statusChanges() []StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusChange(nil), r.statuses...)
}

func (r *recorder) responseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

type harness struct {
	t     *testing.T
	eng   *fakeEngine
	queue *taskqueue.Queue
	svc   *Service
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	eng := &fakeEngine{}
	queue := taskqueue.NewQueue(testLogger(), config.DefaultQueueConfig())
	queue.Start()
	t.Cleanup(queue.Stop)

	svc := NewService(eng, queue, config.DefaultSettings(), testLogger())
	svc.Start()
	return &harness{t: t, eng: eng, queue: queue, svc: svc}
}

// settle waits for every queued unit to run and returns the resulting state
func (h *harness) settle() Snapshot {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.svc.Snapshot(ctx)
	if err != nil {
		h.t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func (h *harness) up(caps types.Capabilities) {
	h.t.Helper()
	h.eng.emit(engine.Event{Kind: engine.EventEngineUp, Capabilities: caps})
	h.settle()
}

func (h *harness) register(id ClientID) *recorder {
	h.t.Helper()
	rec := &recorder{}
	if err := h.svc.RegisterClient(id, rec.callbacks()); err != nil {
		h.t.Fatalf("RegisterClient failed: %v", err)
	}
	h.settle()
	return rec
}

// complete resolves the oldest pending call of op and lets the worker catch up
func (h *harness) complete(op string, err error) *engineCall {
	h.t.Helper()
	c := h.eng.take(h.t, op)
	c.cb(err)
	h.settle()
	return c
}

func (h *harness) answerDistance(acc uint32, err error) {
	h.t.Helper()
	c := h.eng.take(h.t, "QueryAccumulatedTripDistance")
	c.distCb(engine.TripDistance{AccumulatedDistance: acc}, err)
	h.settle()
}

func (h *harness) progress(acc uint32) {
	h.t.Helper()
	h.eng.emit(engine.Event{
		Kind:     engine.EventTripProgress,
		Distance: engine.TripDistance{AccumulatedDistance: acc},
	})
	h.settle()
}

func await(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for response")
		return Response{}
	}
}

func assertNoResponse(t *testing.T, ch <-chan Response) {
	t.Helper()
	select {
	case resp := <-ch:
		t.Fatalf("Unexpected response %+v", resp)
	default:
	}
}

func routine(size uint32) types.BatchingOptions {
	return types.BatchingOptions{Size: size, MinInterval: 1000, Mode: types.ModeRoutine}
}

func trip(distance, interval uint32) types.BatchingOptions {
	return types.BatchingOptions{Size: 10, MinDistance: distance, MinInterval: interval, Mode: types.ModeTrip}
}
