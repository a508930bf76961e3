package batching

import (
	"log/slog"
	"sort"

	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// clientTable holds the callbacks of every registered client
type clientTable struct {
	logger  *slog.Logger
	clients map[ClientID]Callbacks
}

func newClientTable(logger *slog.Logger) *clientTable {
	return &clientTable{
		logger:  logger,
		clients: make(map[ClientID]Callbacks),
	}
}

func (c *clientTable) get(id ClientID) (Callbacks, bool) {
	cb, ok := c.clients[id]
	return cb, ok
}

func (c *clientTable) hasBatchingCallback(id ClientID) bool {
	cb, ok := c.clients[id]
	return ok && cb.BatchedLocations != nil
}

// statusListeners counts clients that want batch status notifications
func (c *clientTable) statusListeners() int {
	n := 0
	for _, cb := range c.clients {
		if cb.BatchStatus != nil {
			n++
		}
	}
	return n
}

// ids returns registered client ids in a stable order
func (c *clientTable) ids() []ClientID {
	ids := make([]ClientID, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *clientTable) respond(id ClientID, resp Response) {
	cb, ok := c.clients[id]
	if !ok {
		c.logger.Warn("Dropping response for unknown client",
			"client_id", id,
			"session_id", resp.SessionID,
			"code", resp.Code.String(),
		)
		return
	}
	if cb.Response != nil {
		cb.Response(resp)
	}
}

func (c *clientTable) deliverLocations(id ClientID, batch BatchedLocations) {
	cb, ok := c.clients[id]
	if !ok {
		c.logger.Warn("Dropping batched locations for unknown client",
			"client_id", id,
			"session_id", batch.SessionID,
			"count", batch.Count,
		)
		return
	}
	if cb.BatchedLocations != nil {
		cb.BatchedLocations(batch)
	}
}

func (c *clientTable) broadcastStatus(change StatusChange) {
	for _, id := range c.ids() {
		if cb := c.clients[id]; cb.BatchStatus != nil {
			cb.BatchStatus(change)
		}
	}
}

func (c *clientTable) broadcastCapabilities(caps types.Capabilities) {
	for _, id := range c.ids() {
		if cb := c.clients[id]; cb.Capabilities != nil {
			cb.Capabilities(caps)
		}
	}
}
