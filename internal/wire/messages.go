package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/ota-installer/internal/domain/ota"
)

// Field names of the Struct messages.
const (
	FieldPath      = "path"
	FieldSize      = "size"
	FieldSessionID = "session_id"
	FieldPhase     = "phase"
	FieldMessage   = "message"
	FieldStrategy  = "strategy"
	FieldUpdatedAt = "updated_at"
)

// maxExactSize is the largest size a Struct number carries without rounding.
const maxExactSize = 1 << 53

var (
	// ErrMissingField is returned when a required message field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrBadField is returned when a field has the wrong kind or an invalid value.
	ErrBadField = errors.New("bad field")
)

// StartRequest asks the daemon to install a package.
type StartRequest struct {
	// Path is the package location on the daemon host.
	Path string
	// Size is the declared payload size; nil when not declared.
	Size *uint64
}

// StartRequestToProto encodes the request.
func StartRequestToProto(req *StartRequest) (*structpb.Struct, error) {
	fields := map[string]any{
		FieldPath: req.Path,
	}

	if req.Size != nil {
		if *req.Size > maxExactSize {
			return nil, fmt.Errorf("%w: %s %d exceeds %d", ErrBadField, FieldSize, *req.Size, uint64(maxExactSize))
		}

		fields[FieldSize] = float64(*req.Size)
	}

	return structpb.NewStruct(fields)
}

// StartRequestFromProto decodes and validates the request.
func StartRequestFromProto(msg *structpb.Struct) (*StartRequest, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldPath)
	}

	fields := msg.GetFields()

	pathValue, ok := fields[FieldPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldPath)
	}

	path, ok := pathValue.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrBadField, FieldPath)
	}

	req := &StartRequest{Path: path.StringValue}

	sizeValue, ok := fields[FieldSize]
	if !ok {
		return req, nil
	}

	number, ok := sizeValue.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a number", ErrBadField, FieldSize)
	}

	n := number.NumberValue
	if n < 0 || n > maxExactSize || n != math.Trunc(n) {
		return nil, fmt.Errorf("%w: %s %v", ErrBadField, FieldSize, n)
	}

	size := uint64(n)
	req.Size = &size

	return req, nil
}

// StatusToProto encodes a status. A nil status encodes as an idle status.
func StatusToProto(status *ota.Status) *structpb.Struct {
	if status == nil {
		status = &ota.Status{Phase: ota.PhaseIdle}
	}

	fields := map[string]*structpb.Value{
		FieldSessionID: structpb.NewStringValue(status.SessionID),
		FieldPhase:     structpb.NewStringValue(string(status.Phase)),
		FieldMessage:   structpb.NewStringValue(status.Message),
		FieldStrategy:  structpb.NewStringValue(status.Strategy.String()),
	}

	if !status.UpdatedAt.IsZero() {
		fields[FieldUpdatedAt] = structpb.NewStringValue(status.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}
}

// StatusFromProto decodes a status. Unknown fields are ignored.
func StatusFromProto(msg *structpb.Struct) (*ota.Status, error) {
	fields := msg.GetFields()

	status := &ota.Status{
		SessionID: fields[FieldSessionID].GetStringValue(),
		Phase:     ota.Phase(fields[FieldPhase].GetStringValue()),
		Message:   fields[FieldMessage].GetStringValue(),
		Strategy:  ota.ParseStrategy(fields[FieldStrategy].GetStringValue()),
	}

	if status.Phase == "" {
		status.Phase = ota.PhaseIdle
	}

	if raw := fields[FieldUpdatedAt].GetStringValue(); raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadField, FieldUpdatedAt, err)
		}

		status.UpdatedAt = updatedAt
	}

	return status, nil
}
