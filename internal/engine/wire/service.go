// Package wire defines the gRPC service the daemon uses to reach the
// positioning engine. Messages are protobuf Structs carried by the default
// proto codec, so no generated stubs are needed.
package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "locbatch.engine.v1.PositioningEngine"

// Unary methods
const (
	MethodStartBatching     = "StartBatching"
	MethodStopBatching      = "StopBatching"
	MethodStartTrip         = "StartOutdoorTripBatching"
	MethodRestartTrip       = "RestartOutdoorTripBatching"
	MethodStopTrip          = "StopOutdoorTripBatching"
	MethodQueryTripDistance = "QueryAccumulatedTripDistance"
	MethodGetLocations      = "GetBatchedLocations"
	MethodGetTripLocations  = "GetBatchedTripLocations"
	MethodUpdateEventMask   = "UpdateEventMask"
	MethodSetBatchSizes     = "SetBatchSizes"
)

// MethodEvents is the server-streaming event subscription
const MethodEvents = "Events"

// UnaryMethods lists every unary method in declaration order
func UnaryMethods() []string {
	return []string{
		MethodStartBatching,
		MethodStopBatching,
		MethodStartTrip,
		MethodRestartTrip,
		MethodStopTrip,
		MethodQueryTripDistance,
		MethodGetLocations,
		MethodGetTripLocations,
		MethodUpdateEventMask,
		MethodSetBatchSizes,
	}
}

// FullMethod returns the gRPC path of a method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// EventStream is the server side of the Events stream
type EventStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

// Server is implemented by engine servers
type Server interface {
	// Call handles one unary method
	Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
	// Events streams engine events until the client goes away
	Events(req *structpb.Struct, stream EventStream) error
}

// ServiceDesc describes the engine service to grpc
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods:     methodDescs(),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodEvents,
			Handler:       eventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "locbatch/engine/v1/engine.proto",
}

// EventsStreamDesc is the client descriptor for the Events stream
var EventsStreamDesc = &ServiceDesc.Streams[0]

// Register adds srv to a grpc server
func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func methodDescs() []grpc.MethodDesc {
	methods := UnaryMethods()
	descs := make([]grpc.MethodDesc, 0, len(methods))
	for _, method := range methods {
		descs = append(descs, grpc.MethodDesc{
			MethodName: method,
			Handler:    unaryHandler(method),
		})
	}
	return descs
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(Server)
		if interceptor == nil {
			return s.Call(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return s.Call(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Server).Events(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}
