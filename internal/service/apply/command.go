package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/install"
	"github.com/oshokin/ota-installer/internal/logger"
	"github.com/oshokin/ota-installer/internal/platform"
	repository "github.com/oshokin/ota-installer/internal/repository/status"
	"github.com/oshokin/ota-installer/internal/status"
)

var errPackageRequired = errors.New("package path must be provided")

// Options are inputs accepted by the apply entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// PackagePath is the update package to install.
	PackagePath string
	// Size is the declared payload size; nil leaves it undeclared.
	Size *uint64
	// StateFile overrides the status file from settings.
	StateFile string
	// MarkerPath overrides the single-run marker location.
	MarkerPath string
}

// Run installs the package and blocks until the attempt ends. Cancelling ctx
// cancels a running decrypt job; Run still waits for the job to stop.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-apply")

	if opts.PackagePath == "" {
		return errPackageRequired
	}

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !logger.Configure(settings.LogLevel, settings.LogFile) {
		logger.WarnKV(ctx, "Unknown log level, keeping the default", "log_level", settings.LogLevel)
	}

	markerPath := opts.MarkerPath
	if markerPath == "" {
		markerPath = DefaultMarkerPath()
	}

	release, err := acquireMarker(ctx, markerPath)
	if err != nil {
		return err
	}

	defer release()

	stateFile := settings.StateFile
	if opts.StateFile != "" {
		stateFile = opts.StateFile
	}

	tracker := status.NewTracker(nil, status.WithPersister(repository.NewFileRepository(stateFile)))

	dispatcher := install.NewDispatcher(
		platform.Dependencies(settings, tracker),
		install.WithEntries(settings.PayloadEntry, settings.PropertiesEntry),
	)

	pkg := ota.Package{Path: opts.PackagePath}
	if opts.Size != nil {
		pkg.DeclaredSize = *opts.Size
		pkg.HasDeclaredSize = true
	}

	session, job, err := dispatcher.Prepare(ctx, pkg)
	if err != nil {
		return err
	}

	if job != nil {
		if err = await(ctx, job); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Apply completed",
		"session_id", session.ID,
		"strategy", session.Strategy.String(),
		"message", tracker.Current().Message)

	return nil
}

// await waits for the job, cancelling it once when ctx is done.
func await(ctx context.Context, job *install.Job) error {
	select {
	case <-job.Done():
	case <-ctx.Done():
		if job.Cancel() {
			logger.Info(ctx, "Cancelling decrypt job")
		} else {
			logger.Info(ctx, "Installer already running, waiting for it to finish")
		}

		<-job.Done()
	}

	return job.Err()
}
