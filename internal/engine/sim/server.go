package sim

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine/wire"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// Server exposes a simulated engine over the wire service
type Server struct {
	engine *Engine
	logger *slog.Logger
}

var _ wire.Server = (*Server)(nil)

// NewServer creates a wire server for eng
func NewServer(eng *Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, logger: logger}
}

// Call implements wire.Server
func (s *Server) Call(_ context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	s.logger.Debug("Engine call", "method", method)

	switch method {
	case wire.MethodStartBatching:
		opts, err := wire.OptionsFrom(req)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return reply(s.engine.StartBatching(wire.Uint32(req, wire.FieldID), opts))

	case wire.MethodStopBatching:
		return reply(s.engine.StopBatching(wire.Uint32(req, wire.FieldID)))

	case wire.MethodStartTrip:
		return reply(s.engine.StartTrip(wire.Uint32(req, wire.FieldDistance), wire.Uint32(req, wire.FieldInterval)))

	case wire.MethodRestartTrip:
		return reply(s.engine.RestartTrip(wire.Uint32(req, wire.FieldDistance), wire.Uint32(req, wire.FieldInterval)))

	case wire.MethodStopTrip:
		return reply(s.engine.StopTrip())

	case wire.MethodQueryTripDistance:
		d, err := s.engine.QueryTripDistance()
		if err != nil {
			return wire.Failure(err), nil
		}
		return wire.OK(map[string]any{
			wire.FieldAccumulated:  d.AccumulatedDistance,
			wire.FieldNumPositions: d.NumBatchedPositions,
		})

	case wire.MethodGetLocations:
		return locationsReply(s.engine.Locations(wire.Int(req, wire.FieldCount)))

	case wire.MethodGetTripLocations:
		return locationsReply(s.engine.TripLocations(wire.Int(req, wire.FieldCount)))

	case wire.MethodUpdateEventMask:
		s.engine.UpdateEventMask(types.EventMask(wire.Uint32(req, wire.FieldMask)), wire.Bool(req, wire.FieldSubscribe))
		return wire.OK(nil)

	case wire.MethodSetBatchSizes:
		s.engine.SetBatchSizes(wire.Int(req, wire.FieldBatchSize), wire.Int(req, wire.FieldTripBatchSize))
		return wire.OK(nil)

	default:
		return nil, status.Error(codes.Unimplemented, fmt.Sprintf("unknown method %s", method))
	}
}

func reply(err error) (*structpb.Struct, error) {
	if err != nil {
		return wire.Failure(err), nil
	}
	return wire.OK(nil)
}

func locationsReply(locations []types.Location, err error) (*structpb.Struct, error) {
	if err != nil {
		return wire.Failure(err), nil
	}
	return wire.OK(map[string]any{wire.FieldLocations: wire.LocationsList(locations)})
}

// Events implements wire.Server
func (s *Server) Events(_ *structpb.Struct, stream wire.EventStream) error {
	events, cancel := s.engine.Subscribe()
	defer cancel()

	s.logger.Info("Event subscriber connected")
	for {
		select {
		case <-stream.Context().Done():
			s.logger.Info("Event subscriber disconnected")
			return nil
		case ev := <-events:
			msg, err := wire.EventToStruct(ev)
			if err != nil {
				s.logger.Error("Failed to encode engine event", "event", ev.Kind.String(), "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
