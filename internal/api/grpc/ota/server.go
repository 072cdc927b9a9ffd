package ota

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
	"github.com/oshokin/ota-installer/internal/wire"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	StartUpdate(ctx context.Context, pkg domain.Package) (*domain.Status, error)
	GetStatus(ctx context.Context) *domain.Status
	CancelUpdate(ctx context.Context) (*domain.Status, error)
}

// Server implements the UpdateService gRPC API.
type Server struct {
	// service provides the business logic for update operations.
	service Service
}

var _ wire.UpdateServiceServer = (*Server)(nil)

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// StartUpdate validates the request and starts an install attempt.
func (s *Server) StartUpdate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	request, err := wire.StartRequestFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	pkg := domain.Package{Path: request.Path}
	if request.Size != nil {
		pkg.DeclaredSize = *request.Size
		pkg.HasDeclaredSize = true
	}

	result, err := s.service.StartUpdate(withActor(ctx), pkg)
	if err != nil {
		return nil, toStatusError(err)
	}

	return wire.StatusToProto(result), nil
}

// GetStatus returns the latest published status.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return wire.StatusToProto(s.service.GetStatus(ctx)), nil
}

// CancelUpdate cancels the running decrypt job.
func (s *Server) CancelUpdate(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	result, err := s.service.CancelUpdate(withActor(ctx))
	if err != nil {
		return nil, toStatusError(err)
	}

	return wire.StatusToProto(result), nil
}

// withActor adds the caller identity from request metadata to the context logger.
func withActor(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	if actors := md.Get(wire.ActorMetadataKey); len(actors) > 0 {
		return logger.WithKV(ctx, "actor", actors[0])
	}

	return ctx
}

// toStatusError maps domain errors to gRPC codes.
func toStatusError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidPackage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrLocate):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrNoActiveJob), errors.Is(err, domain.ErrBusy):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
