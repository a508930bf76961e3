package sim

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine/wire"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func nextEvent(t *testing.T, ch <-chan engine.Event) engine.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for engine event")
		return engine.Event{}
	}
}

func expectNoEvent(t *testing.T, ch <-chan engine.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("Unexpected event %s", ev.Kind)
	default:
	}
}

func TestSubscribeAnnouncesEngine(t *testing.T) {
	e := newTestEngine(t)
	events, cancel := e.Subscribe()
	defer cancel()

	ev := nextEvent(t, events)
	if ev.Kind != engine.EventEngineUp || !ev.Capabilities.Has(types.CapOutdoorTripBatching) {
		t.Errorf("Expected engine_up with capabilities, got %+v", ev)
	}
	if e.State().Subscribers != 1 {
		t.Errorf("Expected one subscriber, got %d", e.State().Subscribers)
	}
	cancel()
	if e.State().Subscribers != 0 {
		t.Error("Expected subscriber removed")
	}
}

func TestRoutineBatchFull(t *testing.T) {
	e := newTestEngine(t)
	events, cancel := e.Subscribe()
	defer cancel()
	nextEvent(t, events)

	e.SetBatchSizes(4, 100)
	if err := e.StartBatching(1, types.BatchingOptions{Size: 4, MinInterval: 1000}); err != nil {
		t.Fatalf("StartBatching failed: %v", err)
	}

	e.Drive(100, 4)
	expectNoEvent(t, events)
	if e.State().Buffered != 4 {
		t.Fatalf("Expected 4 buffered fixes without subscription, got %d", e.State().Buffered)
	}

	locations, err := e.Locations(3)
	if err != nil || len(locations) != 3 {
		t.Fatalf("Expected 3 locations, got %d (%v)", len(locations), err)
	}
	if locations[1].Latitude <= locations[0].Latitude {
		t.Error("Expected fixes to move north")
	}

	e.UpdateEventMask(types.EventBatchFull, true)
	e.Drive(100, 3)
	ev := nextEvent(t, events)
	if ev.Kind != engine.EventBatchFull || ev.Trip || len(ev.Locations) != 4 {
		t.Errorf("Expected routine batch of 4, got %+v", ev)
	}
}

func TestTripProgress(t *testing.T) {
	e := newTestEngine(t)
	events, cancel := e.Subscribe()
	defer cancel()
	nextEvent(t, events)

	if err := e.StartTrip(500, 30); err != nil {
		t.Fatalf("StartTrip failed: %v", err)
	}
	if err := e.StartTrip(500, 30); engine.CodeOf(err) != engine.CodeBusy {
		t.Errorf("Expected busy on second start, got %v", err)
	}

	e.Drive(300, 3)
	expectNoEvent(t, events)
	d, err := e.QueryTripDistance()
	if err != nil || d.AccumulatedDistance != 300 || d.NumBatchedPositions != 3 {
		t.Fatalf("Unexpected distance %+v (%v)", d, err)
	}

	e.Drive(300, 3)
	ev := nextEvent(t, events)
	if ev.Kind != engine.EventTripProgress || ev.Distance.AccumulatedDistance != 600 {
		t.Errorf("Expected progress at 600, got %+v", ev)
	}
	e.Drive(100, 1)
	expectNoEvent(t, events)

	if err := e.RestartTrip(200, 30); err != nil {
		t.Fatalf("RestartTrip failed: %v", err)
	}
	if st := e.State(); st.TripAccum != 0 || st.TripDistance != 200 {
		t.Errorf("Expected restart to reset accumulation, got %+v", st)
	}

	if err := e.StopTrip(); err != nil {
		t.Fatalf("StopTrip failed: %v", err)
	}
	if _, err := e.QueryTripDistance(); err == nil {
		t.Error("Expected query to fail without a trip")
	}
}

func TestTripBatchFull(t *testing.T) {
	e := newTestEngine(t)
	events, cancel := e.Subscribe()
	defer cancel()
	nextEvent(t, events)

	e.SetBatchSizes(10, 2)
	e.UpdateEventMask(types.EventBatchFull, true)
	if err := e.StartTrip(5000, 30); err != nil {
		t.Fatalf("StartTrip failed: %v", err)
	}
	e.Drive(40, 2)

	ev := nextEvent(t, events)
	if ev.Kind != engine.EventBatchFull || !ev.Trip || ev.Distance.AccumulatedDistance != 40 {
		t.Errorf("Expected trip batch at 40m, got %+v", ev)
	}
}

func TestFailInjection(t *testing.T) {
	e := newTestEngine(t)
	e.Fail(wire.MethodStartBatching, engine.Errorf(engine.CodeTimeout, "injected"))

	err := e.StartBatching(1, types.BatchingOptions{Size: 1})
	if engine.CodeOf(err) != engine.CodeTimeout {
		t.Fatalf("Expected injected timeout, got %v", err)
	}
	if err := e.StartBatching(1, types.BatchingOptions{Size: 1}); err != nil {
		t.Errorf("Expected failure to apply once, got %v", err)
	}
	if err := e.StopBatching(9); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestRestartForgetsEverything(t *testing.T) {
	e := newTestEngine(t)
	events, cancel := e.Subscribe()
	defer cancel()
	nextEvent(t, events)

	_ = e.StartBatching(1, types.BatchingOptions{Size: 1})
	_ = e.StartTrip(100, 10)
	e.UpdateEventMask(types.EventBatchFull, true)

	e.Restart()
	ev := nextEvent(t, events)
	if ev.Kind != engine.EventEngineUp {
		t.Errorf("Expected engine_up after restart, got %s", ev.Kind)
	}
	st := e.State()
	if len(st.Sessions) != 0 || st.TripRunning || st.Mask != 0 {
		t.Errorf("Expected clean engine, got %+v", st)
	}
}

func TestSetPositionAvailable(t *testing.T) {
	e := newTestEngine(t)
	events, cancel := e.Subscribe()
	defer cancel()
	nextEvent(t, events)

	e.SetPositionAvailable(false)
	expectNoEvent(t, events)

	e.UpdateEventMask(types.EventBatchStatus, true)
	e.SetPositionAvailable(false)
	ev := nextEvent(t, events)
	if ev.Kind != engine.EventBatchStatus || ev.Status != types.BatchStatusPositionUnavailable {
		t.Errorf("Expected position unavailable, got %+v", ev)
	}
}

func TestNotSupported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capabilities = types.CapTimeBasedBatching
	e := New(cfg, nil)

	if err := e.StartTrip(100, 10); engine.CodeOf(err) != engine.CodeNotSupported {
		t.Errorf("Expected NOT_SUPPORTED, got %v", err)
	}
}
