package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/install"
	"github.com/oshokin/ota-installer/internal/logger"
	repo "github.com/oshokin/ota-installer/internal/repository/status"
	"github.com/oshokin/ota-installer/internal/status"
)

// messageInterrupted replaces a status left unfinished by a previous daemon run.
const messageInterrupted = "Error: Update interrupted by a restart"

// preparer runs an install attempt. *install.Dispatcher implements it.
type preparer interface {
	Prepare(ctx context.Context, pkg ota.Package) (*ota.Session, *install.Job, error)
}

// service encapsulates the update orchestration and status tracking.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// tracker holds and persists the latest status.
	tracker *status.Tracker
	// dispatcher runs install attempts.
	dispatcher preparer
	// mu serializes attempts and protects job.
	mu sync.Mutex
	// job is the latest decrypt job, if any.
	job *install.Job
}

// newService creates a service whose status is restored from the repository.
// build receives the status sink and returns the dispatcher publishing to it.
func newService(
	ctx context.Context,
	repository repo.Repository,
	build func(sink install.StatusSink) preparer,
) (*service, error) {
	var (
		initial *ota.Status
		opts    []status.Option
	)

	if repository != nil {
		opts = append(opts, status.WithPersister(repository))

		loaded, err := repository.Load(ctx)
		switch {
		case err == nil:
			initial = loaded
		case errors.Is(err, repo.ErrNotFound):
			// Keep idle status.
		default:
			return nil, fmt.Errorf("load status: %w", err)
		}
	}

	s := &service{
		tracker: status.NewTracker(initial, opts...),
	}

	s.dispatcher = build(s.tracker)

	if current := s.tracker.Current(); current.Phase != ota.PhaseIdle && !current.Phase.Terminal() {
		logger.WarnKV(ctx, "Previous update did not finish", "session_id", current.SessionID, "phase", current.Phase)

		current.Phase = ota.PhaseFailed
		current.Message = messageInterrupted
		current.UpdatedAt = time.Time{}
		s.tracker.Publish(ctx, current)
	}

	return s, nil
}

// StartUpdate prepares the package and dispatches it. A pending decrypt job
// is cancelled and awaited first, so two jobs never share a destination.
func (s *service) StartUpdate(ctx context.Context, pkg ota.Package) (*ota.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replaceJob(ctx); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Update requested",
		"package", pkg.Path,
		"declared_size", pkg.DeclaredSize,
		"has_declared_size", pkg.HasDeclaredSize)

	session, job, err := s.dispatcher.Prepare(ctx, pkg)
	if job != nil {
		s.job = job
	}

	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Update dispatched", "session_id", session.ID, "strategy", session.Strategy.String())

	return s.tracker.Current(), nil
}

// replaceJob cancels the running job and waits for it to stop.
func (s *service) replaceJob(ctx context.Context) error {
	job := s.job
	if job == nil || finished(job) {
		return nil
	}

	if !job.Cancel() {
		return fmt.Errorf("%w: %s", ota.ErrBusy, job.Source())
	}

	logger.InfoKV(ctx, "Cancelling pending decrypt job", "source", job.Source())

	if err := job.Wait(ctx); err != nil && !errors.Is(err, ota.ErrCancelled) {
		if ctx.Err() != nil {
			return fmt.Errorf("wait for pending job: %w", err)
		}

		// The previous job ended on its own; its status is already published.
		logger.WarnKV(ctx, "Pending decrypt job failed", "error", err)
	}

	s.job = nil

	return nil
}

// GetStatus returns the latest published status.
func (s *service) GetStatus(ctx context.Context) *ota.Status {
	current := s.tracker.Current()

	logger.DebugKV(ctx, "Status requested", "phase", current.Phase, "session_id", current.SessionID)

	return current
}

// CancelUpdate cancels the running decrypt job. The cancelled status is
// published once the job observes the request.
func (s *service) CancelUpdate(ctx context.Context) (*ota.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil || finished(s.job) {
		return nil, ota.ErrNoActiveJob
	}

	if !s.job.Cancel() {
		return nil, fmt.Errorf("%w: %s", ota.ErrBusy, s.job.Source())
	}

	logger.InfoKV(ctx, "Decrypt job cancellation requested", "source", s.job.Source())

	return s.tracker.Current(), nil
}

// close cancels the running job and waits for it until ctx is done.
func (s *service) close(ctx context.Context) error {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()

	if job == nil || finished(job) {
		return nil
	}

	var result *multierror.Error

	if !job.Cancel() {
		logger.Info(ctx, "Waiting for the installer to finish")
	}

	if err := job.Wait(ctx); err != nil && !errors.Is(err, ota.ErrCancelled) {
		result = multierror.Append(result, fmt.Errorf("decrypt job %s: %w", job.Source(), err))
	}

	return result.ErrorOrNil()
}

// finished reports whether the job has ended and published its last status.
func finished(job *install.Job) bool {
	select {
	case <-job.Done():
		return true
	default:
		return false
	}
}
