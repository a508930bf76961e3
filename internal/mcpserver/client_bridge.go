package mcpserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/cache"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// Notification methods sent to MCP clients
const (
	NotifyLocations    = "notifications/batching/locations"
	NotifyStatus       = "notifications/batching/status"
	NotifyCapabilities = "notifications/batching/capabilities"
)

// Notifier delivers a server notification to one MCP session.
// *server.MCPServer satisfies it.
type Notifier interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// ClientBridge mirrors MCP sessions into batching clients
type ClientBridge struct {
	batching Batching
	mailbox  cache.MailboxInterface
	notifier Notifier
	logger   *slog.Logger

	sessions map[string]struct{}
	mu       sync.Mutex
}

// NewClientBridge creates a bridge delivering reports through mailbox and notifier
func NewClientBridge(svc Batching, mailbox cache.MailboxInterface, notifier Notifier, logger *slog.Logger) *ClientBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientBridge{
		batching: svc,
		mailbox:  mailbox,
		notifier: notifier,
		logger:   logger,
		sessions: make(map[string]struct{}),
	}
}

// Attach registers the MCP session as a batching client. Attaching a known
// session is a no-op.
func (b *ClientBridge) Attach(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[sessionID]; ok {
		return nil
	}
	if err := b.batching.RegisterClient(batching.ClientID(sessionID), b.callbacks(sessionID)); err != nil {
		b.logger.Error("Failed to register batching client", "client_id", sessionID, "error", err)
		return err
	}
	b.sessions[sessionID] = struct{}{}
	return nil
}

// Detach stops the session's batching and drops its undelivered reports
func (b *ClientBridge) Detach(sessionID string) {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	if !ok {
		return
	}
	if err := b.batching.RemoveClient(batching.ClientID(sessionID)); err != nil {
		b.logger.Warn("Failed to remove batching client", "client_id", sessionID, "error", err)
	}
	b.mailbox.Delete(context.Background(), sessionID)
}

// Attached reports whether the session is registered
func (b *ClientBridge) Attached(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sessionID]
	return ok
}

// Count returns the number of attached sessions
func (b *ClientBridge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// callbacks run on the batching worker and must not block
func (b *ClientBridge) callbacks(sessionID string) batching.Callbacks {
	return batching.Callbacks{
		Response: func(resp batching.Response) {
			b.logger.Debug("Batching response",
				"client_id", sessionID,
				"session_id", resp.SessionID,
				"code", resp.Code.String(),
			)
		},
		BatchedLocations: func(batch batching.BatchedLocations) {
			b.deliver(sessionID, NotifyLocations, cache.Report{
				Kind:      cache.KindLocations,
				SessionID: batch.SessionID,
				Mode:      batch.Options.Mode.String(),
				Locations: batch.Locations,
			}, map[string]any{
				"session_id": batch.SessionID,
				"count":      batch.Count,
			})
		},
		BatchStatus: func(change batching.StatusChange) {
			b.deliver(sessionID, NotifyStatus, cache.Report{
				Kind:             cache.KindStatus,
				Status:           change.Status.String(),
				CompletedTripIDs: change.CompletedTripIDs,
			}, map[string]any{
				"status":             change.Status.String(),
				"completed_trip_ids": change.CompletedTripIDs,
			})
		},
		Capabilities: func(caps types.Capabilities) {
			b.deliver(sessionID, NotifyCapabilities, cache.Report{
				Kind:         cache.KindCapabilities,
				Capabilities: caps.Names(),
			}, map[string]any{
				"capabilities": caps.Names(),
			})
		},
	}
}

// deliver stores the report and announces it to the session
func (b *ClientBridge) deliver(sessionID, method string, report cache.Report, params map[string]any) {
	id, err := b.mailbox.Store(context.Background(), sessionID, report)
	if err != nil {
		b.logger.Error("Failed to store report", "client_id", sessionID, "kind", report.Kind, "error", err)
		return
	}
	params["report_id"] = id

	if err := b.notifier.SendNotificationToSpecificClient(sessionID, method, params); err != nil {
		b.logger.Debug("Report notification not delivered",
			"client_id", sessionID,
			"method", method,
			"error", err,
		)
	}
}
