package batching

import (
	"log/slog"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// eventSubscription keeps the engine's event mask in step with interest.
// The engine is only told about 0 <-> 1 crossings.
type eventSubscription struct {
	engine engine.Engine
	logger *slog.Logger

	batchFull   bool
	batchStatus bool

	// transitions counts every mask change sent to the engine
	transitions int
}

func newEventSubscription(eng engine.Engine, logger *slog.Logger) *eventSubscription {
	return &eventSubscription{engine: eng, logger: logger}
}

// sync applies the current interest counts
func (e *eventSubscription) sync(autoReport, statusListeners int) {
	e.apply(types.EventBatchFull, &e.batchFull, autoReport > 0)
	e.apply(types.EventBatchStatus, &e.batchStatus, statusListeners > 0)
}

func (e *eventSubscription) apply(mask types.EventMask, current *bool, want bool) {
	if *current == want {
		return
	}
	*current = want
	e.transitions++
	e.logger.Debug("Updating engine event mask",
		"mask", uint32(mask),
		"subscribe", want,
	)
	e.engine.UpdateEventMask(mask, want)
}

// forget drops the local view after an engine restart lost every subscription
func (e *eventSubscription) forget() {
	e.batchFull = false
	e.batchStatus = false
}
