package mcpserver

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/cache"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

// ReportsResult is the batching.fetch_reports payload
type ReportsResult struct {
	Reports []cache.Report `json:"reports"`
	Pending int            `json:"pending"`
}

// StatusResult is the batching.status payload
type StatusResult struct {
	CapabilitiesKnown bool             `json:"capabilities_known"`
	Capabilities      []string         `json:"capabilities"`
	Clients           int              `json:"clients"`
	Sessions          []SessionStatus  `json:"sessions"`
	Trip              *TripStatus      `json:"trip,omitempty"`
	Subscriptions     SubscriptionView `json:"subscriptions"`
	DeferredCommands  int              `json:"deferred_commands"`
	PendingReports    int              `json:"pending_reports"`
}

// SessionStatus describes one of the caller's sessions
type SessionStatus struct {
	SessionID    uint32  `json:"session_id"`
	Mode         string  `json:"mode"`
	State        string  `json:"state"`
	Size         uint32  `json:"size"`
	MinInterval  uint32  `json:"min_interval_ms"`
	MinDistance  uint32  `json:"min_distance_m"`
	TripProgress *uint32 `json:"trip_progress_m,omitempty"`
}

// TripStatus is the shared engine trip configuration
type TripStatus struct {
	Distance            uint32 `json:"distance_m"`
	Interval            uint32 `json:"interval_ms"`
	Sessions            int    `json:"sessions"`
	AccumulatedDistance uint32 `json:"accumulated_distance_m"`
}

// SubscriptionView reports the engine event subscriptions
type SubscriptionView struct {
	BatchFull   bool `json:"batch_full"`
	BatchStatus bool `json:"batch_status"`
}

// handleFetchReports implements the batching.fetch_reports tool
func (ms *MCPServer) handleFetchReports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := ms.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt(argMax, 0)
	if limit < 0 {
		return mcp.NewToolResultError(fmt.Sprintf("%s must not be negative: %d", argMax, limit)), nil
	}

	reports, err := ms.mailbox.Drain(ctx, string(client), limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.logger.Debug("Reports fetched", "client_id", client, "count", len(reports))

	return toolResult(ReportsResult{
		Reports: reports,
		Pending: ms.mailbox.Pending(string(client)),
	}, true)
}

// handleStatus implements the batching.status tool
func (ms *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := ms.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snapCtx, cancel := context.WithTimeout(ctx, ms.responseTimeout)
	defer cancel()
	snap, err := ms.batching.Snapshot(snapCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", config.ErrEngineTimeout, err)), nil
	}

	return toolResult(statusFor(client, snap, ms.mailbox.Pending(string(client))), true)
}

// statusFor restricts a snapshot to what the client may see
func statusFor(client batching.ClientID, snap batching.Snapshot, pending int) StatusResult {
	result := StatusResult{
		CapabilitiesKnown: snap.CapabilitiesKnown,
		Capabilities:      snap.Capabilities.Names(),
		Clients:           len(snap.Clients),
		Sessions:          []SessionStatus{},
		Subscriptions: SubscriptionView{
			BatchFull:   snap.BatchFullEvents,
			BatchStatus: snap.BatchStatusEvents,
		},
		DeferredCommands: snap.Deferred,
		PendingReports:   pending,
	}

	progress := make(map[batching.SessionKey]uint32, len(snap.Trips))
	for _, trip := range snap.Trips {
		progress[trip.Key] = trip.AccumulatedDistanceThisTrip
	}

	for _, info := range snap.Sessions {
		if info.Key.Client != client {
			continue
		}
		status := SessionStatus{
			SessionID:   info.Key.ID,
			Mode:        info.Options.Mode.String(),
			State:       info.State.String(),
			Size:        info.Options.Size,
			MinInterval: info.Options.MinInterval,
			MinDistance: info.Options.MinDistance,
		}
		if p, ok := progress[info.Key]; ok {
			status.TripProgress = &p
		}
		result.Sessions = append(result.Sessions, status)
	}

	if len(snap.Trips) > 0 {
		result.Trip = &TripStatus{
			Distance:            snap.Ongoing.Distance,
			Interval:            snap.Ongoing.Interval,
			Sessions:            len(snap.Trips),
			AccumulatedDistance: snap.LastAccumulated,
		}
	}
	return result
}
