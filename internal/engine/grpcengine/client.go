// Package grpcengine implements the engine contract over the wire service.
//
// Unary calls are issued one at a time from an ordered pipeline, so their
// continuations run in issue order and never inside the call itself. Engine
// events arrive on a server stream that is re-opened with backoff whenever it
// drops; the engine announces itself with engine_up on every new stream.
package grpcengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine/wire"
	"github.com/AltairaLabs/locbatch-mcp/internal/retry"
	"github.com/AltairaLabs/locbatch-mcp/internal/taskqueue"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// errStreamEnded is returned when the engine closes the event stream
var errStreamEnded = errors.New("engine event stream ended")

// Config holds client configuration
type Config struct {
	// CallTimeout bounds one unary call
	CallTimeout time.Duration
	// Reconnect is the event stream backoff policy
	Reconnect retry.Policy
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		CallTimeout: config.DefaultEngineCallTimeout,
		Reconnect:   retry.ReconnectPolicy(config.DefaultReconnectConfig()),
	}
}

// Client is an engine.Engine backed by a gRPC connection
type Client struct {
	conn   grpc.ClientConnInterface
	cfg    Config
	logger *slog.Logger

	pipeline *taskqueue.Queue

	mu      sync.RWMutex
	handler engine.EventHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ engine.Engine = (*Client)(nil)

// New creates a client on an existing connection
func New(conn grpc.ClientConnInterface, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = config.DefaultEngineCallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		pipeline: taskqueue.NewQueue(logger.With("component", "engine_pipeline"), config.DefaultQueueConfig()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins issuing calls and consuming engine events
func (c *Client) Start() {
	c.pipeline.Start()
	c.wg.Add(1)
	go c.runEvents()
}

// Close stops the event stream and fails calls not yet issued
func (c *Client) Close() {
	c.cancel()
	c.pipeline.Stop()
	c.wg.Wait()
}

// SetEventHandler installs the receiver of engine events
func (c *Client) SetEventHandler(h engine.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// invoke performs one unary call and converts engine failures
func (c *Client) invoke(method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := wire.NewMessage(fields)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, wire.FullMethod(method), req, reply); err != nil {
		return nil, &engine.Error{
			Code:    transportCode(err),
			Message: fmt.Sprintf("%s: %v", method, err),
		}
	}
	if err := wire.ResultError(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// transportCode maps a transport failure onto an engine code
func transportCode(err error) engine.Code {
	if errors.Is(err, context.DeadlineExceeded) || retry.IsRetriableError(err) {
		return engine.CodeTimeout
	}
	return engine.CodeGeneralFailure
}

// enqueue adds a call to the ordered pipeline. fail answers the call when it
// is never issued.
func (c *Client) enqueue(method string, call func(), fail func(error)) {
	var drop func()
	if fail != nil {
		drop = func() {
			fail(&engine.Error{Code: engine.CodeGeneralFailure, Message: method + ": engine client closed"})
		}
	}
	if _, err := c.pipeline.SubmitWithDrop(method, call, drop); err != nil {
		c.logger.Warn("Engine call dropped", "method", method, "error", err)
		if fail != nil {
			go fail(&engine.Error{Code: engine.CodeGeneralFailure, Message: err.Error()})
		}
	}
}

// call issues a unary method whose only result is success or failure
func (c *Client) call(method string, fields map[string]any, cb func(error)) {
	c.enqueue(method, func() {
		_, err := c.invoke(method, fields)
		if cb != nil {
			cb(err)
		}
	}, cb)
}

// notify issues a unary method nobody waits for
func (c *Client) notify(method string, fields map[string]any) {
	c.enqueue(method, func() {
		if _, err := c.invoke(method, fields); err != nil {
			c.logger.Warn("Engine notification failed", "method", method, "error", err)
		}
	}, nil)
}

// StartBatching implements engine.Engine
func (c *Client) StartBatching(id uint32, opts types.BatchingOptions, accuracy int, timeout time.Duration, cb func(error)) {
	fields := wire.OptionsFields(opts)
	fields[wire.FieldID] = id
	fields[wire.FieldAccuracy] = accuracy
	fields[wire.FieldTimeout] = timeout.Milliseconds()
	c.call(wire.MethodStartBatching, fields, cb)
}

// StopBatching implements engine.Engine
func (c *Client) StopBatching(id uint32, cb func(error)) {
	c.call(wire.MethodStopBatching, map[string]any{wire.FieldID: id}, cb)
}

// StartOutdoorTripBatching implements engine.Engine
func (c *Client) StartOutdoorTripBatching(distance, interval uint32, timeout time.Duration, cb func(error)) {
	c.call(wire.MethodStartTrip, tripFields(distance, interval, timeout), cb)
}

// RestartOutdoorTripBatching implements engine.Engine
func (c *Client) RestartOutdoorTripBatching(distance, interval uint32, timeout time.Duration, cb func(error)) {
	c.call(wire.MethodRestartTrip, tripFields(distance, interval, timeout), cb)
}

func tripFields(distance, interval uint32, timeout time.Duration) map[string]any {
	return map[string]any{
		wire.FieldDistance: distance,
		wire.FieldInterval: interval,
		wire.FieldTimeout:  timeout.Milliseconds(),
	}
}

// StopOutdoorTripBatching implements engine.Engine
func (c *Client) StopOutdoorTripBatching(force bool, cb func(error)) {
	c.call(wire.MethodStopTrip, map[string]any{wire.FieldForce: force}, cb)
}

// QueryAccumulatedTripDistance implements engine.Engine
func (c *Client) QueryAccumulatedTripDistance(cb func(engine.TripDistance, error)) {
	fail := func(err error) { cb(engine.TripDistance{}, err) }
	c.enqueue(wire.MethodQueryTripDistance, func() {
		reply, err := c.invoke(wire.MethodQueryTripDistance, nil)
		if err != nil {
			fail(err)
			return
		}
		cb(engine.TripDistance{
			AccumulatedDistance: wire.Uint32(reply, wire.FieldAccumulated),
			NumBatchedPositions: wire.Uint32(reply, wire.FieldNumPositions),
		}, nil)
	}, fail)
}

// GetBatchedLocations implements engine.Engine
func (c *Client) GetBatchedLocations(count int, cb func([]types.Location, error)) {
	c.fetch(wire.MethodGetLocations, map[string]any{wire.FieldCount: count}, cb)
}

// GetBatchedTripLocations implements engine.Engine
func (c *Client) GetBatchedTripLocations(count int, flag uint32, cb func([]types.Location, error)) {
	c.fetch(wire.MethodGetTripLocations, map[string]any{wire.FieldCount: count, wire.FieldFlag: flag}, cb)
}

func (c *Client) fetch(method string, fields map[string]any, cb func([]types.Location, error)) {
	fail := func(err error) { cb(nil, err) }
	c.enqueue(method, func() {
		reply, err := c.invoke(method, fields)
		if err != nil {
			fail(err)
			return
		}
		cb(wire.LocationsFrom(reply, wire.FieldLocations), nil)
	}, fail)
}

// UpdateEventMask implements engine.Engine
func (c *Client) UpdateEventMask(mask types.EventMask, subscribe bool) {
	c.notify(wire.MethodUpdateEventMask, map[string]any{
		wire.FieldMask:      uint32(mask),
		wire.FieldSubscribe: subscribe,
	})
}

// SetBatchSizes implements engine.Engine
func (c *Client) SetBatchSizes(batchSize, tripBatchSize int) {
	c.notify(wire.MethodSetBatchSizes, map[string]any{
		wire.FieldBatchSize:     batchSize,
		wire.FieldTripBatchSize: tripBatchSize,
	})
}

func (c *Client) dispatch(ev engine.Event) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		c.logger.Warn("No event handler installed, dropping engine event", "event", ev.Kind.String())
		return
	}
	h(ev)
}
