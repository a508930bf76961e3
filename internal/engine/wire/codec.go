package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// Message field names
const (
	FieldCode          = "code"
	FieldMessage       = "message"
	FieldID            = "id"
	FieldSize          = "size"
	FieldMinInterval   = "min_interval_ms"
	FieldMinDistance   = "min_distance_m"
	FieldMode          = "mode"
	FieldAccuracy      = "accuracy"
	FieldTimeout       = "timeout_ms"
	FieldDistance      = "distance_m"
	FieldInterval      = "interval_ms"
	FieldForce         = "force"
	FieldAccumulated   = "accumulated_distance_m"
	FieldNumPositions  = "num_batched_positions"
	FieldCount         = "count"
	FieldFlag          = "flag"
	FieldMask          = "mask"
	FieldSubscribe     = "subscribe"
	FieldBatchSize     = "batch_size"
	FieldTripBatchSize = "trip_batch_size"
	FieldLocations     = "locations"
	FieldKind          = "kind"
	FieldCapabilities  = "capabilities"
	FieldTrip          = "trip"
	FieldStatus        = "status"
)

// NewMessage builds a Struct from plain Go values
func NewMessage(fields map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return msg, nil
}

// Number reads a numeric field, zero when absent
func Number(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// Uint32 reads a non-negative integer field
func Uint32(s *structpb.Struct, key string) uint32 {
	n := Number(s, key)
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Int reads an integer field
func Int(s *structpb.Struct, key string) int {
	return int(Number(s, key))
}

// String reads a string field
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Bool reads a boolean field
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Duration reads a millisecond field
func Duration(s *structpb.Struct, key string) time.Duration {
	return time.Duration(Number(s, key)) * time.Millisecond
}

// OK builds a successful reply carrying fields
func OK(fields map[string]any) (*structpb.Struct, error) {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields[FieldCode] = 0
	return NewMessage(fields)
}

// Failure builds a reply carrying the engine code of err
func Failure(err error) *structpb.Struct {
	msg, _ := NewMessage(map[string]any{
		FieldCode:    int(engine.CodeOf(err)),
		FieldMessage: err.Error(),
	})
	return msg
}

// ResultError extracts the engine failure of a reply, nil on success
func ResultError(reply *structpb.Struct) error {
	code := Int(reply, FieldCode)
	if code == 0 {
		return nil
	}
	return &engine.Error{Code: engine.Code(code), Message: String(reply, FieldMessage)}
}

// OptionsFields encodes batching options
func OptionsFields(opts types.BatchingOptions) map[string]any {
	return map[string]any{
		FieldSize:        opts.Size,
		FieldMinInterval: opts.MinInterval,
		FieldMinDistance: opts.MinDistance,
		FieldMode:        opts.Mode.String(),
	}
}

// OptionsFrom decodes batching options
func OptionsFrom(s *structpb.Struct) (types.BatchingOptions, error) {
	mode, err := types.ParseMode(String(s, FieldMode))
	if err != nil {
		return types.BatchingOptions{}, err
	}
	return types.BatchingOptions{
		Size:        Uint32(s, FieldSize),
		MinInterval: Uint32(s, FieldMinInterval),
		MinDistance: Uint32(s, FieldMinDistance),
		Mode:        mode,
	}, nil
}

// LocationsList encodes fixes as a list value
func LocationsList(locations []types.Location) []any {
	list := make([]any, 0, len(locations))
	for _, loc := range locations {
		list = append(list, map[string]any{
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"altitude":  loc.Altitude,
			"accuracy":  loc.Accuracy,
			"speed":     loc.Speed,
			"bearing":   loc.Bearing,
			"timestamp": loc.Timestamp.UnixMilli(),
		})
	}
	return list
}

// LocationsFrom decodes the fixes stored under key
func LocationsFrom(s *structpb.Struct, key string) []types.Location {
	values := s.GetFields()[key].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	locations := make([]types.Location, 0, len(values))
	for _, v := range values {
		fix := v.GetStructValue()
		locations = append(locations, types.Location{
			Latitude:  Number(fix, "latitude"),
			Longitude: Number(fix, "longitude"),
			Altitude:  Number(fix, "altitude"),
			Accuracy:  Number(fix, "accuracy"),
			Speed:     Number(fix, "speed"),
			Bearing:   Number(fix, "bearing"),
			Timestamp: time.UnixMilli(int64(Number(fix, "timestamp"))).UTC(),
		})
	}
	return locations
}

// EventToStruct encodes an engine event
func EventToStruct(ev engine.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		FieldKind: ev.Kind.String(),
	}
	switch ev.Kind {
	case engine.EventEngineUp:
		fields[FieldCapabilities] = uint32(ev.Capabilities)
	case engine.EventBatchFull:
		fields[FieldLocations] = LocationsList(ev.Locations)
		fields[FieldTrip] = ev.Trip
		fields[FieldAccumulated] = ev.Distance.AccumulatedDistance
		fields[FieldNumPositions] = ev.Distance.NumBatchedPositions
	case engine.EventTripProgress:
		fields[FieldAccumulated] = ev.Distance.AccumulatedDistance
		fields[FieldNumPositions] = ev.Distance.NumBatchedPositions
	case engine.EventBatchStatus:
		fields[FieldStatus] = int(ev.Status)
	}
	return NewMessage(fields)
}

// EventFromStruct decodes an engine event
func EventFromStruct(s *structpb.Struct) (engine.Event, error) {
	kind, err := engine.ParseEventKind(String(s, FieldKind))
	if err != nil {
		return engine.Event{}, err
	}
	return engine.Event{
		Kind:         kind,
		Capabilities: types.Capabilities(Uint32(s, FieldCapabilities)),
		Locations:    LocationsFrom(s, FieldLocations),
		Trip:         Bool(s, FieldTrip),
		Distance: engine.TripDistance{
			AccumulatedDistance: Uint32(s, FieldAccumulated),
			NumBatchedPositions: Uint32(s, FieldNumPositions),
		},
		Status: types.BatchStatus(Int(s, FieldStatus)),
	}, nil
}
