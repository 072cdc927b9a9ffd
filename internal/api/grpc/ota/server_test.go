package ota

import (
	"context"
	"fmt"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/wire"
)

// fakeService implements the Service interface for unit testing the transport.
type fakeService struct {
	// startFn overrides StartUpdate when set.
	startFn func(ctx context.Context, pkg domain.Package) (*domain.Status, error)
	// cancelErr is returned by CancelUpdate.
	cancelErr error

	// started records the last requested package.
	started domain.Package
	// state holds the current status managed by the fake service.
	state *domain.Status
}

func (f *fakeService) StartUpdate(ctx context.Context, pkg domain.Package) (*domain.Status, error) {
	if f.startFn != nil {
		return f.startFn(ctx, pkg)
	}

	f.started = pkg
	f.state = &domain.Status{
		SessionID: "session-1",
		Phase:     domain.PhaseSubmitted,
		Message:   "Update submitted",
		Strategy:  domain.StrategyStreamingApply,
		UpdatedAt: time.Now(),
	}

	return f.state, nil
}

func (f *fakeService) GetStatus(context.Context) *domain.Status { return f.state }

func (f *fakeService) CancelUpdate(context.Context) (*domain.Status, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}

	f.state = &domain.Status{Phase: domain.PhaseCancelled}

	return f.state, nil
}

func startRequest(t *testing.T, path string, size *uint64) *structpb.Struct {
	t.Helper()

	msg, err := wire.StartRequestToProto(&wire.StartRequest{Path: path, Size: size})
	require.NoError(t, err)

	return msg
}

// TestServer_StartUpdate_Validation ensures invalid requests return InvalidArgument errors.
func TestServer_StartUpdate_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(new(fakeService))

	_, err := s.StartUpdate(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.StartUpdate(context.Background(), new(structpb.Struct))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	bad, err := structpb.NewStruct(map[string]any{"path": "/sdcard/update.zip", "size": -1})
	require.NoError(t, err)

	_, err = s.StartUpdate(context.Background(), bad)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_StartUpdate_ErrorCodes maps domain errors to gRPC codes.
func TestServer_StartUpdate_ErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: empty path", domain.ErrInvalidPackage), codes.InvalidArgument},
		{fmt.Errorf("%w: %w", domain.ErrLocate, domain.ErrEntryNotFound), codes.FailedPrecondition},
		{fmt.Errorf("%w: boom", domain.ErrInstall), codes.Internal},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}

	for _, tc := range cases {
		s := NewServer(&fakeService{
			startFn: func(context.Context, domain.Package) (*domain.Status, error) {
				return nil, tc.err
			},
		})

		_, err := s.StartUpdate(context.Background(), startRequest(t, "/sdcard/update.zip", nil))
		require.Equal(t, tc.code, status.Code(err), tc.err.Error())
	}
}

// TestServer_Roundtrip exercises StartUpdate, GetStatus and CancelUpdate on the server implementation.
func TestServer_Roundtrip(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		service := new(fakeService)
		s := NewServer(service)

		// Idle before anything happened.
		response, err := s.GetStatus(context.Background(), new(emptypb.Empty))
		require.NoError(t, err)
		require.Equal(t, string(domain.PhaseIdle), response.GetFields()[wire.FieldPhase].GetStringValue())

		size := uint64(4096)
		_, err = s.StartUpdate(context.Background(), startRequest(t, "/sdcard/update.zip", &size))
		require.NoError(t, err)
		require.Equal(t, "/sdcard/update.zip", service.started.Path)
		require.True(t, service.started.HasDeclaredSize)
		require.Equal(t, size, service.started.DeclaredSize)

		synctest.Wait()

		response, err = s.GetStatus(context.Background(), new(emptypb.Empty))
		require.NoError(t, err)

		decoded, err := wire.StatusFromProto(response)
		require.NoError(t, err)
		require.Equal(t, "session-1", decoded.SessionID)
		require.Equal(t, domain.PhaseSubmitted, decoded.Phase)
		require.Equal(t, domain.StrategyStreamingApply, decoded.Strategy)

		response, err = s.CancelUpdate(context.Background(), new(emptypb.Empty))
		require.NoError(t, err)
		require.Equal(t, string(domain.PhaseCancelled), response.GetFields()[wire.FieldPhase].GetStringValue())
	})
}

// TestServer_CancelUpdate_NothingToCancel returns FailedPrecondition.
func TestServer_CancelUpdate_NothingToCancel(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeService{cancelErr: domain.ErrNoActiveJob})

	_, err := s.CancelUpdate(context.Background(), new(emptypb.Empty))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}
