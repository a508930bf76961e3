// Package batching multiplexes client location batching sessions onto a
// single positioning engine.
//
// All batching state is owned by one unit-of-work queue worker. Public methods
// only enqueue work and return a channel that resolves with the command's
// single Response. Engine completions are re-enqueued before they touch state.
package batching

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/taskqueue"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// Service is the batching core
type Service struct {
	engine   engine.Engine
	queue    taskqueue.QueueInterface
	settings config.Settings
	logger   *slog.Logger

	nextID atomic.Uint32

	// Worker-owned state
	registry *Registry
	trips    *tripTable
	clients  *clientTable
	events   *eventSubscription

	capsKnown bool
	caps      types.Capabilities
	deferred  []deferredCommand
}

// deferredCommand is a client command held until capabilities are known
type deferredCommand struct {
	name string
	run  func()
}

// NewService creates the batching core. The queue must be started by the caller.
func NewService(eng engine.Engine, queue taskqueue.QueueInterface, settings config.Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   eng,
		queue:    queue,
		settings: settings,
		logger:   logger,
		registry: NewRegistry(),
		trips:    newTripTable(),
		clients:  newClientTable(logger),
		events:   newEventSubscription(eng, logger),
	}
}

// Start installs the engine event handler. Commands issued before the engine
// announces its capabilities are held and replayed in order.
func (s *Service) Start() {
	s.engine.SetEventHandler(s.onEngineEvent)
}

// RegisterClient adds a client and its callbacks
func (s *Service) RegisterClient(id ClientID, cb Callbacks) error {
	_, err := s.queue.Submit("register_client", func() {
		s.clients.clients[id] = cb
		s.syncEvents()
		if s.capsKnown && cb.Capabilities != nil {
			cb.Capabilities(s.caps)
		}
		s.logger.Info("Batching client registered", "client_id", id)
	})
	return err
}

// RemoveClient stops every session the client still owns and forgets it
func (s *Service) RemoveClient(id ClientID) error {
	_, err := s.queue.Submit("remove_client", func() {
		keys := s.registry.KeysForClient(id)
		for _, key := range keys {
			r := s.sweepReply(key)
			s.command("stop_batching.sweep", func() { s.stopSession(key, nil, r) })
		}
		delete(s.clients.clients, id)
		s.syncEvents()
		s.logger.Info("Batching client removed",
			"client_id", id,
			"sessions_stopped", len(keys),
		)
	})
	return err
}

// StartBatching opens a new session and returns its id
func (s *Service) StartBatching(client ClientID, opts types.BatchingOptions) (uint32, <-chan Response) {
	id := s.nextID.Add(1)
	key := SessionKey{Client: client, ID: id}
	r, ch := s.newReply(client)
	s.send("start_batching", r, id, func() { s.startSession(key, opts, r) })
	return id, ch
}

// UpdateBatchingOptions replaces the options of a live session. The session
// keeps its id.
func (s *Service) UpdateBatchingOptions(client ClientID, id uint32, opts types.BatchingOptions) <-chan Response {
	key := SessionKey{Client: client, ID: id}
	r, ch := s.newReply(client)
	s.send("update_batching_options", r, id, func() { s.updateSession(key, opts, r) })
	return ch
}

// StopBatching ends a session
func (s *Service) StopBatching(client ClientID, id uint32) <-chan Response {
	key := SessionKey{Client: client, ID: id}
	r, ch := s.newReply(client)
	s.send("stop_batching", r, id, func() { s.stopSession(key, nil, r) })
	return ch
}

// GetBatchedLocations retrieves up to count buffered fixes for a session
func (s *Service) GetBatchedLocations(client ClientID, id uint32, count int) <-chan Response {
	key := SessionKey{Client: client, ID: id}
	r, ch := s.newReply(client)
	s.send("get_batched_locations", r, id, func() { s.getBatchedLocations(key, count, r) })
	return ch
}

// send enqueues a client command. A stopped queue resolves the future directly.
func (s *Service) send(name string, r *reply, id uint32, run func()) {
	_, err := s.queue.SubmitWithDrop(name, func() { s.command(name, run) }, func() {
		r.abort(Response{Code: CodeGeneralFailure, SessionID: id, Err: taskqueue.ErrQueueStopped})
	})
	if err != nil {
		r.abort(Response{Code: CodeGeneralFailure, SessionID: id, Err: err})
	}
}

// command runs a client command now, or defers it while capabilities are unknown
func (s *Service) command(name string, run func()) {
	if !s.capsKnown {
		s.deferred = append(s.deferred, deferredCommand{name: name, run: run})
		s.logger.Debug("Deferring command until engine capabilities are known",
			"command", name,
			"deferred", len(s.deferred),
		)
		return
	}
	run()
}

// resume re-enqueues an engine completion onto the worker
func (s *Service) resume(name string, fn func()) {
	if _, err := s.queue.Submit(name, fn); err != nil {
		s.logger.Warn("Dropping engine completion", "unit", name, "error", err)
	}
}

func (s *Service) onEngineEvent(ev engine.Event) {
	name := "engine_event." + ev.Kind.String()
	if _, err := s.queue.Submit(name, func() { s.handleEvent(ev) }); err != nil {
		s.logger.Warn("Dropping engine event", "event", ev.Kind.String(), "error", err)
	}
}

func (s *Service) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventEngineUp:
		s.recover(ev.Capabilities)
	case engine.EventBatchFull:
		s.deliverBatch(ev)
		if ev.Trip && ev.Distance.AccumulatedDistance > 0 {
			s.reportCompletedTrips(ev.Distance.AccumulatedDistance)
		}
	case engine.EventTripProgress:
		s.reportCompletedTrips(ev.Distance.AccumulatedDistance)
	case engine.EventBatchStatus:
		s.clients.broadcastStatus(StatusChange{Status: ev.Status})
	default:
		s.logger.Warn("Ignoring unknown engine event", "event", ev.Kind.String())
	}
}

// deliverBatch pushes engine fixes to every live session of the matching kind
func (s *Service) deliverBatch(ev engine.Event) {
	delivered := 0
	for _, key := range s.registry.Keys() {
		e := s.registry.entries[key]
		if !e.live() || !e.Options.WantsAutoReport() || e.Options.IsTrip() != ev.Trip {
			continue
		}
		s.clients.deliverLocations(key.Client, BatchedLocations{
			SessionID: key.ID,
			Count:     len(ev.Locations),
			Locations: ev.Locations,
			Options:   e.Options,
		})
		delivered++
	}
	s.logger.Debug("Delivered batch full event",
		"trip", ev.Trip,
		"locations", len(ev.Locations),
		"sessions", delivered,
	)
}

// syncEvents recomputes event interest from the registry and client table
func (s *Service) syncEvents() {
	s.events.sync(s.registry.AutoReportCount(), s.clients.statusListeners())
}

// SessionInfo describes one registry entry
type SessionInfo struct {
	Key     SessionKey
	Options types.BatchingOptions
	State   EntryState
}

// Snapshot is a consistent view of the core's state
type Snapshot struct {
	CapabilitiesKnown bool
	Capabilities      types.Capabilities
	Clients           []ClientID
	Sessions          []SessionInfo
	Trips             []TripSessionStatus
	Ongoing           Thresholds
	DistanceDropped   bool
	IntervalDropped   bool
	LastAccumulated   uint32
	BatchFullEvents   bool
	BatchStatusEvents bool
	Deferred          int
}

// Snapshot captures the core's state on the worker
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.queue.Await(ctx, "snapshot", func() {
		snap = s.snapshot()
	})
	return snap, err
}

func (s *Service) snapshot() Snapshot {
	snap := Snapshot{
		CapabilitiesKnown: s.capsKnown,
		Capabilities:      s.caps,
		Clients:           s.clients.ids(),
		Ongoing:           s.trips.ongoing,
		DistanceDropped:   s.trips.distanceHolderDropped,
		IntervalDropped:   s.trips.intervalHolderDropped,
		LastAccumulated:   s.trips.lastAccumulated,
		BatchFullEvents:   s.events.batchFull,
		BatchStatusEvents: s.events.batchStatus,
		Deferred:          len(s.deferred),
	}
	for _, key := range s.registry.Keys() {
		e := s.registry.entries[key]
		snap.Sessions = append(snap.Sessions, SessionInfo{Key: key, Options: e.Options, State: e.State})
	}
	for _, id := range s.trips.ids() {
		snap.Trips = append(snap.Trips, *s.trips.sessions[id])
	}
	return snap
}

// reply resolves a command's future exactly once
type reply struct {
	s      *Service
	client ClientID
	ch     chan Response
	done   bool
	quiet  bool
}

func (s *Service) newReply(client ClientID) (*reply, <-chan Response) {
	ch := make(chan Response, 1)
	return &reply{s: s, client: client, ch: ch}, ch
}

// sweepReply answers a stop issued on behalf of a departing client
func (s *Service) sweepReply(key SessionKey) *reply {
	return &reply{s: s, client: key.Client, ch: make(chan Response, 1), quiet: true}
}

// send resolves the future and calls the client's response callback. Worker only.
func (r *reply) send(resp Response) {
	if r.done {
		r.s.logger.Warn("Suppressing duplicate response",
			"client_id", r.client,
			"session_id", resp.SessionID,
			"code", resp.Code.String(),
		)
		return
	}
	r.done = true
	r.ch <- resp
	if r.quiet {
		if !resp.OK() {
			r.s.logger.Warn("Session stop for departed client failed",
				"client_id", r.client,
				"session_id", resp.SessionID,
				"code", resp.Code.String(),
			)
		}
		return
	}
	r.s.clients.respond(r.client, resp)
}

// abort resolves the future without touching worker state
func (r *reply) abort(resp Response) {
	r.done = true
	r.ch <- resp
}
