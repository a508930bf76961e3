// Package sim is a simulated positioning engine. It keeps batching buffers
// and a single outdoor trip run, produces fixes as it is driven along a
// straight line and pushes engine events to its subscribers.
package sim

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine/wire"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

const (
	metersPerDegree = 111320.0
	subscriberDepth = 256
)

// Config holds simulator configuration
type Config struct {
	Capabilities types.Capabilities
	Latitude     float64
	Longitude    float64
	Clock        func() time.Time
}

// DefaultConfig returns a fully capable engine starting in Berlin
func DefaultConfig() Config {
	return Config{
		Capabilities: types.CapTimeBasedBatching | types.CapDistanceBasedBatching | types.CapOutdoorTripBatching,
		Latitude:     52.5200,
		Longitude:    13.4050,
		Clock:        time.Now,
	}
}

type tripRun struct {
	distance    uint32
	interval    uint32
	accumulated uint32
	reached     bool
	buffer      []types.Location
}

// Engine is the simulated engine state
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	batchSize     int
	tripBatchSize int
	sessions      map[uint32]types.BatchingOptions
	buffer        []types.Location
	trip          *tripRun
	mask          types.EventMask
	latitude      float64
	subs          map[uint64]chan engine.Event
	nextSub       uint64
	failures      map[string]error
}

// New creates a simulated engine
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		cfg:           cfg,
		logger:        logger,
		batchSize:     config.DefaultBatchSize,
		tripBatchSize: config.DefaultTripBatchSize,
		sessions:      make(map[uint32]types.BatchingOptions),
		latitude:      cfg.Latitude,
		subs:          make(map[uint64]chan engine.Event),
		failures:      make(map[string]error),
	}
}

// Fail makes the next call to a wire method fail with err
func (e *Engine) Fail(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[method] = err
}

// injected returns and clears a pending failure. Caller holds mu.
func (e *Engine) injected(method string) error {
	err, ok := e.failures[method]
	if !ok {
		return nil
	}
	delete(e.failures, method)
	return err
}

// StartBatching starts or replaces a routine session
func (e *Engine) StartBatching(id uint32, opts types.BatchingOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodStartBatching); err != nil {
		return err
	}
	if !e.cfg.Capabilities.Has(types.CapTimeBasedBatching) {
		return engine.Errorf(engine.CodeNotSupported, "time based batching unavailable")
	}
	e.sessions[id] = opts
	e.logger.Debug("Simulated batching started", "session_id", id, "size", opts.Size)
	return nil
}

// StopBatching stops a routine session
func (e *Engine) StopBatching(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodStopBatching); err != nil {
		return err
	}
	if _, ok := e.sessions[id]; !ok {
		return engine.Errorf(engine.CodeGeneralFailure, "no batching session %d", id)
	}
	delete(e.sessions, id)
	if len(e.sessions) == 0 {
		e.buffer = nil
	}
	return nil
}

// StartTrip begins the outdoor trip run
func (e *Engine) StartTrip(distance, interval uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodStartTrip); err != nil {
		return err
	}
	if !e.cfg.Capabilities.Has(types.CapOutdoorTripBatching) {
		return engine.Errorf(engine.CodeNotSupported, "outdoor trip batching unavailable")
	}
	if e.trip != nil {
		return engine.Errorf(engine.CodeBusy, "trip batching already running")
	}
	e.trip = &tripRun{distance: distance, interval: interval}
	e.logger.Debug("Simulated trip started", "distance_m", distance, "interval_ms", interval)
	return nil
}

// RestartTrip reprograms the running trip and resets its accumulated distance
func (e *Engine) RestartTrip(distance, interval uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodRestartTrip); err != nil {
		return err
	}
	if e.trip == nil {
		return engine.Errorf(engine.CodeGeneralFailure, "trip batching not running")
	}
	e.trip.distance = distance
	e.trip.interval = interval
	e.trip.accumulated = 0
	e.trip.reached = false
	e.logger.Debug("Simulated trip restarted", "distance_m", distance, "interval_ms", interval)
	return nil
}

// StopTrip ends the trip run
func (e *Engine) StopTrip() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodStopTrip); err != nil {
		return err
	}
	if e.trip == nil {
		return engine.Errorf(engine.CodeGeneralFailure, "trip batching not running")
	}
	e.trip = nil
	return nil
}

// QueryTripDistance reports the distance accumulated since the last (re)start
func (e *Engine) QueryTripDistance() (engine.TripDistance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodQueryTripDistance); err != nil {
		return engine.TripDistance{}, err
	}
	if e.trip == nil {
		return engine.TripDistance{}, engine.Errorf(engine.CodeGeneralFailure, "trip batching not running")
	}
	return engine.TripDistance{
		AccumulatedDistance: e.trip.accumulated,
		NumBatchedPositions: uint32(len(e.trip.buffer)),
	}, nil
}

// Locations drains up to count routine fixes
func (e *Engine) Locations(count int) ([]types.Location, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodGetLocations); err != nil {
		return nil, err
	}
	var out []types.Location
	out, e.buffer = drain(e.buffer, count)
	return out, nil
}

// TripLocations drains up to count trip fixes
func (e *Engine) TripLocations(count int) ([]types.Location, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(wire.MethodGetTripLocations); err != nil {
		return nil, err
	}
	if e.trip == nil {
		return nil, nil
	}
	var out []types.Location
	out, e.trip.buffer = drain(e.trip.buffer, count)
	return out, nil
}

func drain(buf []types.Location, count int) (out, rest []types.Location) {
	if count > len(buf) {
		count = len(buf)
	}
	out = append([]types.Location(nil), buf[:count]...)
	return out, buf[count:]
}

// UpdateEventMask changes event subscriptions
func (e *Engine) UpdateEventMask(mask types.EventMask, subscribe bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if subscribe {
		e.mask |= mask
	} else {
		e.mask &^= mask
	}
}

// SetBatchSizes sets the buffer thresholds
func (e *Engine) SetBatchSizes(batchSize, tripBatchSize int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if batchSize > 0 {
		e.batchSize = batchSize
	}
	if tripBatchSize > 0 {
		e.tripBatchSize = tripBatchSize
	}
}

// Drive moves the device meters north, producing fixes evenly along the way
func (e *Engine) Drive(meters uint32, fixes int) {
	if fixes <= 0 {
		fixes = 1
	}

	e.mu.Lock()
	step := float64(meters) / float64(fixes)
	now := e.cfg.Clock()
	var produced []types.Location
	for i := 0; i < fixes; i++ {
		e.latitude += step / metersPerDegree
		produced = append(produced, types.Location{
			Latitude:  e.latitude,
			Longitude: e.cfg.Longitude,
			Accuracy:  5,
			Timestamp: now,
		})
	}

	var events []engine.Event
	if len(e.sessions) > 0 {
		e.buffer = append(e.buffer, produced...)
		if len(e.buffer) >= e.batchSize && e.mask&types.EventBatchFull != 0 {
			events = append(events, engine.Event{Kind: engine.EventBatchFull, Locations: e.buffer})
			e.buffer = nil
		}
	}
	if e.trip != nil {
		e.trip.buffer = append(e.trip.buffer, produced...)
		e.trip.accumulated = saturatingAdd(e.trip.accumulated, meters)
		progress := engine.TripDistance{
			AccumulatedDistance: e.trip.accumulated,
			NumBatchedPositions: uint32(len(e.trip.buffer)),
		}
		if !e.trip.reached && e.trip.accumulated >= e.trip.distance {
			e.trip.reached = true
			events = append(events, engine.Event{Kind: engine.EventTripProgress, Distance: progress})
		}
		if len(e.trip.buffer) >= e.tripBatchSize && e.mask&types.EventBatchFull != 0 {
			events = append(events, engine.Event{
				Kind:      engine.EventBatchFull,
				Trip:      true,
				Locations: e.trip.buffer,
				Distance:  progress,
			})
			e.trip.buffer = nil
		}
	}
	e.mu.Unlock()

	for _, ev := range events {
		e.publish(ev)
	}
}

func saturatingAdd(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

// SetPositionAvailable reports a position status change to status subscribers
func (e *Engine) SetPositionAvailable(available bool) {
	e.mu.Lock()
	subscribed := e.mask&types.EventBatchStatus != 0
	e.mu.Unlock()
	if !subscribed {
		return
	}
	status := types.BatchStatusPositionUnavailable
	if available {
		status = types.BatchStatusPositionAvailable
	}
	e.publish(engine.Event{Kind: engine.EventBatchStatus, Status: status})
}

// Restart simulates an engine crash: every session, buffer and subscription
// is lost and subscribers are told the engine is up again
func (e *Engine) Restart() {
	e.mu.Lock()
	e.sessions = make(map[uint32]types.BatchingOptions)
	e.buffer = nil
	e.trip = nil
	e.mask = 0
	e.batchSize = config.DefaultBatchSize
	e.tripBatchSize = config.DefaultTripBatchSize
	e.mu.Unlock()

	e.logger.Info("Simulated engine restarted")
	e.publish(e.upEvent())
}

func (e *Engine) upEvent() engine.Event {
	return engine.Event{Kind: engine.EventEngineUp, Capabilities: e.cfg.Capabilities}
}

// Subscribe returns a channel of engine events, starting with engine_up
func (e *Engine) Subscribe() (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, subscriberDepth)
	ch <- e.upEvent()

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) publish(ev engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("Subscriber too slow, dropping engine event",
				"subscriber", id,
				"event", ev.Kind.String(),
			)
		}
	}
}

// State is a snapshot of the simulator
type State struct {
	Sessions      map[uint32]types.BatchingOptions
	Buffered      int
	TripRunning   bool
	TripDistance  uint32
	TripInterval  uint32
	TripAccum     uint32
	Mask          types.EventMask
	BatchSize     int
	TripBatchSize int
	Subscribers   int
}

// State returns a snapshot of the simulator
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		Sessions:      make(map[uint32]types.BatchingOptions, len(e.sessions)),
		Buffered:      len(e.buffer),
		Mask:          e.mask,
		BatchSize:     e.batchSize,
		TripBatchSize: e.tripBatchSize,
		Subscribers:   len(e.subs),
	}
	for id, opts := range e.sessions {
		st.Sessions[id] = opts
	}
	if e.trip != nil {
		st.TripRunning = true
		st.TripDistance = e.trip.distance
		st.TripInterval = e.trip.interval
		st.TripAccum = e.trip.accumulated
	}
	return st
}
