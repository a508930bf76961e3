package grpcengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/taskqueue"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func awaitResponse(t *testing.T, ch <-chan batching.Response) batching.Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for response")
		return batching.Response{}
	}
}

func TestTripMultiplexingOverGRPC(t *testing.T) {
	simEngine, conn := dialSim(t)
	client := New(conn, testConfig(), testLogger())

	queue := taskqueue.NewQueue(testLogger(), config.DefaultQueueConfig())
	queue.Start()
	t.Cleanup(queue.Stop)

	svc := batching.NewService(client, queue, config.DefaultSettings(), testLogger())
	svc.Start()
	client.Start()
	t.Cleanup(client.Close)

	var mu sync.Mutex
	var completed []uint32
	err := svc.RegisterClient("c1", batching.Callbacks{
		BatchedLocations: func(batching.BatchedLocations) {},
		BatchStatus: func(c batching.StatusChange) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, c.CompletedTripIDs...)
		},
	})
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	a, ch := svc.StartBatching("c1", types.BatchingOptions{Size: 10, MinDistance: 1000, MinInterval: 30, Mode: types.ModeTrip})
	if resp := awaitResponse(t, ch); !resp.OK() {
		t.Fatalf("Expected trip A to start, got %+v", resp)
	}
	b, ch := svc.StartBatching("c1", types.BatchingOptions{Size: 10, MinDistance: 500, MinInterval: 60, Mode: types.ModeTrip})
	if resp := awaitResponse(t, ch); !resp.OK() {
		t.Fatalf("Expected trip B to join, got %+v", resp)
	}

	if st := simEngine.State(); st.TripDistance != 500 || st.TripInterval != 30 {
		t.Fatalf("Expected engine programmed at 500/30, got %+v", st)
	}

	simEngine.Drive(600, 6)

	eventually(t, "trip B completion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 1 && completed[0] == b
	})
	eventually(t, "restart for trip A", func() bool {
		st := simEngine.State()
		return st.TripDistance == 400 && st.TripInterval == 30
	})

	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Trips) != 1 || snap.Trips[0].Key.ID != a || snap.Trips[0].AccumulatedDistanceThisTrip != 600 {
		t.Errorf("Expected A credited 600, got %+v", snap.Trips)
	}
}

func TestEngineRestartRecoversOverGRPC(t *testing.T) {
	simEngine, conn := dialSim(t)
	client := New(conn, testConfig(), testLogger())

	queue := taskqueue.NewQueue(testLogger(), config.DefaultQueueConfig())
	queue.Start()
	t.Cleanup(queue.Stop)

	svc := batching.NewService(client, queue, config.DefaultSettings(), testLogger())
	svc.Start()
	client.Start()
	t.Cleanup(client.Close)

	if err := svc.RegisterClient("c1", batching.Callbacks{BatchedLocations: func(batching.BatchedLocations) {}}); err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}
	id, ch := svc.StartBatching("c1", types.BatchingOptions{Size: 10, MinInterval: 1000, Mode: types.ModeRoutine})
	if resp := awaitResponse(t, ch); !resp.OK() {
		t.Fatalf("Expected start success, got %+v", resp)
	}
	if st := simEngine.State(); st.Mask&types.EventBatchFull == 0 {
		t.Fatalf("Expected batch full subscription, got %+v", st)
	}

	simEngine.Restart()

	eventually(t, "session restored", func() bool {
		st := simEngine.State()
		_, ok := st.Sessions[id]
		return ok && st.Mask&types.EventBatchFull != 0
	})
}
