package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/cache"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

func TestNewMCPServer(t *testing.T) {
	ms, _, _ := newTestServer(t)

	if ms.Server() == nil {
		t.Error("Expected non-nil underlying server")
	}
	if ms.Bridge() == nil {
		t.Error("Expected non-nil client bridge")
	}
	for _, name := range config.AllTools() {
		if _, err := ms.toolRegistry.GetHandler(name); err != nil {
			t.Errorf("Expected handler for %s, got %v", name, err)
		}
	}
}

func TestNewMCPServerDefaultTimeout(t *testing.T) {
	mailbox := cache.NewMailbox(config.DefaultReportConfig())
	defer mailbox.Close()

	ms := NewMCPServer(Config{Name: "test", Version: "1"}, newFakeBatching(), mailbox, nil)
	if ms.responseTimeout != config.DefaultResponseTimeout {
		t.Errorf("Expected default response timeout, got %v", ms.responseTimeout)
	}
}

func TestHandleStart(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")

	result, err := ms.handleStart(ctx, callRequest(config.ToolStart, map[string]any{
		argMode:        "trip",
		argSize:        float64(20),
		argMinDistance: float64(1000),
		argMinInterval: float64(30),
	}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, result))
	}

	var got CommandResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if got.SessionID != 1 || got.Code != batching.CodeSuccess.String() {
		t.Errorf("Expected session 1 success, got %+v", got)
	}

	want := types.BatchingOptions{Size: 20, MinInterval: 30, MinDistance: 1000, Mode: types.ModeTrip}
	if fake.lastOpts != want {
		t.Errorf("Expected options %+v, got %+v", want, fake.lastOpts)
	}
	if !ms.Bridge().Attached("mcp-1") {
		t.Error("Expected calling session to be attached")
	}
}

func TestHandleStartInvalidArguments(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing size", map[string]any{argMode: "routine"}},
		{"unknown mode", map[string]any{argSize: float64(5), argMode: "sprint"}},
		{"negative distance", map[string]any{argSize: float64(5), argMinDistance: float64(-1)}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := ms.handleStart(ctx, callRequest(config.ToolStart, test.args))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !result.IsError {
				t.Error("Expected error result")
			}
		})
	}
	if len(fake.calls) != 0 {
		t.Errorf("Expected no batching calls, got %v", fake.calls)
	}
}

func TestHandleCommandFailureCodes(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")
	fake.respond = func(id uint32) *batching.Response {
		return &batching.Response{
			Code:      batching.CodeOf(engine.Errorf(engine.CodeBusy, "trip running")),
			SessionID: id,
			Err:       engine.Errorf(engine.CodeBusy, "trip running"),
		}
	}

	result, _ := ms.handleStop(ctx, callRequest(config.ToolStop, map[string]any{argSessionID: float64(9)}))
	if !result.IsError {
		t.Fatal("Expected error result")
	}

	var got CommandResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if got.SessionID != 9 || got.Code != batching.CodeBusy.String() {
		t.Errorf("Expected busy code for session 9, got %+v", got)
	}
	if !strings.Contains(got.Error, "trip running") {
		t.Errorf("Expected engine message surfaced, got %q", got.Error)
	}
}

func TestHandleUpdateAndGetLocations(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")

	result, _ := ms.handleUpdate(ctx, callRequest(config.ToolUpdate, map[string]any{
		argSessionID: float64(4),
		argSize:      float64(8),
		argMode:      "no_auto_report",
	}))
	if result.IsError {
		t.Fatalf("Expected update success, got %s", resultText(t, result))
	}
	if fake.lastID != 4 || fake.lastOpts.Mode != types.ModeNoAutoReport || fake.lastOpts.Size != 8 {
		t.Errorf("Unexpected update call: id=%d opts=%+v", fake.lastID, fake.lastOpts)
	}

	fake.respond = func(id uint32) *batching.Response {
		return &batching.Response{
			Code:      batching.CodeSuccess,
			SessionID: id,
			Locations: []types.Location{{Latitude: 1}, {Latitude: 2}},
		}
	}
	result, _ = ms.handleGetLocations(ctx, callRequest(config.ToolGetLocations, map[string]any{
		argSessionID: float64(4),
		argCount:     float64(5),
	}))
	if result.IsError {
		t.Fatalf("Expected retrieval success, got %s", resultText(t, result))
	}
	var got CommandResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if len(got.Locations) != 2 || fake.lastCount != 5 {
		t.Errorf("Expected 2 locations for count 5, got %d (count %d)", len(got.Locations), fake.lastCount)
	}
}

func TestHandleStopTimesOut(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")
	fake.respond = func(uint32) *batching.Response { return nil }

	result, err := ms.handleStop(ctx, callRequest(config.ToolStop, map[string]any{argSessionID: float64(1)}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), config.ErrEngineTimeout) {
		t.Errorf("Expected timeout error result, got %+v", result)
	}
}

func TestClientRegistrationFailure(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	fake.regErr = errRegistration

	result, _ := ms.handleStatus(WithSessionID(context.Background(), "mcp-1"), callRequest(config.ToolStatus, nil))
	if !result.IsError || !strings.Contains(resultText(t, result), "mcp-1") {
		t.Errorf("Expected registration error, got %+v", result)
	}
}

func TestHandleFetchReports(t *testing.T) {
	ms, _, mailbox := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")

	for i := 1; i <= 3; i++ {
		_, _ = mailbox.Store(ctx, "mcp-1", cache.Report{Kind: cache.KindLocations, SessionID: uint32(i)})
	}
	_, _ = mailbox.Store(ctx, "mcp-2", cache.Report{Kind: cache.KindStatus})

	result, _ := ms.handleFetchReports(ctx, callRequest(config.ToolFetchReports, map[string]any{argMax: float64(2)}))
	if result.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, result))
	}
	var got ReportsResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if len(got.Reports) != 2 || got.Pending != 1 {
		t.Errorf("Expected 2 reports and 1 pending, got %d and %d", len(got.Reports), got.Pending)
	}
	if mailbox.Pending("mcp-2") != 1 {
		t.Error("Expected other client's reports untouched")
	}

	result, _ = ms.handleFetchReports(ctx, callRequest(config.ToolFetchReports, map[string]any{argMax: float64(-3)}))
	if !result.IsError {
		t.Error("Expected negative max to be rejected")
	}
}

func TestHandleStatus(t *testing.T) {
	ms, fake, _ := newTestServer(t)
	ctx := WithSessionID(context.Background(), "mcp-1")

	mine := batching.SessionKey{Client: "mcp-1", ID: 2}
	fake.snapshot = batching.Snapshot{
		CapabilitiesKnown: true,
		Capabilities:      types.CapOutdoorTripBatching | types.CapTimeBasedBatching,
		Clients:           []batching.ClientID{"mcp-1", "mcp-2"},
		Sessions: []batching.SessionInfo{
			{Key: batching.SessionKey{Client: "mcp-1", ID: 1}, Options: types.BatchingOptions{Size: 10}, State: batching.EntryActive},
			{Key: mine, Options: types.BatchingOptions{Size: 5, MinDistance: 500, Mode: types.ModeTrip}, State: batching.EntryActive},
			{Key: batching.SessionKey{Client: "mcp-2", ID: 3}, Options: types.BatchingOptions{Size: 5}, State: batching.EntryPending},
		},
		Trips:           []batching.TripSessionStatus{{Key: mine, TripDistance: 500, AccumulatedDistanceThisTrip: 120}},
		Ongoing:         batching.Thresholds{Distance: 500, Interval: 30},
		LastAccumulated: 120,
		BatchFullEvents: true,
	}

	result, _ := ms.handleStatus(ctx, callRequest(config.ToolStatus, nil))
	if result.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, result))
	}
	var got StatusResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}

	if len(got.Sessions) != 2 {
		t.Fatalf("Expected only the caller's 2 sessions, got %+v", got.Sessions)
	}
	if got.Sessions[1].TripProgress == nil || *got.Sessions[1].TripProgress != 120 {
		t.Errorf("Expected trip progress 120, got %+v", got.Sessions[1])
	}
	if got.Trip == nil || got.Trip.Distance != 500 || got.Trip.Interval != 30 {
		t.Errorf("Expected trip 500/30, got %+v", got.Trip)
	}
	if got.Clients != 2 || len(got.Capabilities) != 2 || !got.Subscriptions.BatchFull {
		t.Errorf("Unexpected status %+v", got)
	}
}
