package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
	"github.com/oshokin/ota-installer/internal/payload"
)

// Status messages shown to users.
const (
	MessagePreparing      = "Preparing update..."
	MessageInvalidPackage = "Error: File is null or invalid"
	MessageApplying       = "Applying update..."
	MessageSubmitted      = "Update submitted to the update engine"
	MessageInstalling     = "Installing update..."
	MessageDecrypting     = "Decrypting update..."
	MessageInstalled      = "Update installed"
	MessageCancelled      = "Update cancelled"
)

var errCompressedPayload = errors.New("payload entry is compressed")

// Dependencies are the platform services a Dispatcher drives.
type Dependencies struct {
	Engine     Engine
	Installer  PackageInstaller
	Slots      SlotDetector
	Encryption EncryptionDetector
	Sink       StatusSink
}

// Dispatcher runs one install attempt per Prepare call.
// The caller guarantees that a package is not prepared twice concurrently.
type Dispatcher struct {
	deps            Dependencies
	decrypter       *DecryptingInstaller
	payloadEntry    string
	propertiesEntry string
	newID           func() string
	now             func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEntries overrides the archive entry names of the payload and its properties.
func WithEntries(payloadEntry, propertiesEntry string) Option {
	return func(d *Dispatcher) {
		if payloadEntry != "" {
			d.payloadEntry = payloadEntry
		}

		if propertiesEntry != "" {
			d.propertiesEntry = propertiesEntry
		}
	}
}

// WithIDGenerator overrides how session identifiers are generated.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// WithClock overrides the session start clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher returns a dispatcher using the default archive entry names.
func NewDispatcher(deps Dependencies, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		deps:            deps,
		decrypter:       NewDecryptingInstaller(deps.Installer),
		payloadEntry:    config.DefaultPayloadEntry,
		propertiesEntry: config.DefaultPropertiesEntry,
		newID:           uuid.NewString,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Prepare validates the package, resolves the payload location and header
// properties, selects a strategy and dispatches it.
//
// Streaming and direct installs complete before Prepare returns. The
// decrypt-then-flash path returns a running *Job; its terminal status is
// published to the sink when it finishes. The job is nil for other strategies.
func (d *Dispatcher) Prepare(ctx context.Context, pkg ota.Package) (*ota.Session, *Job, error) {
	session := &ota.Session{
		ID:        d.newID(),
		Package:   pkg,
		StartedAt: d.now(),
	}

	ctx = logger.WithFields(ctx, "session_id", session.ID, "package", pkg.Path)

	if err := checkPackage(pkg.Path); err != nil {
		logger.ErrorKV(ctx, "File is null or invalid", "error", err)
		d.publish(ctx, session, ota.PhaseFailed, MessageInvalidPackage)

		return session, nil, err
	}

	d.publish(ctx, session, ota.PhasePreparing, MessagePreparing)

	location, err := payload.Locate(pkg.Path, d.payloadEntry)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to get payload offset", "error", err)
		d.publish(ctx, session, ota.PhaseFailed, "Error: "+err.Error())

		return session, nil, err
	}

	session.Location = location
	session.Properties = payload.ReadProperties(ctx, pkg.Path, d.propertiesEntry)

	twoSlots := d.deps.Slots.HasTwoUpdatableSlots(ctx)
	// Encryption only matters on single-slot devices.
	encrypted := !twoSlots && d.deps.Encryption.IsEncrypted(pkg.Path)
	session.Strategy = Select(twoSlots, encrypted)

	logger.InfoKV(ctx, "Install strategy selected",
		"strategy", session.Strategy.String(),
		"offset", location.Offset,
		"length", session.PayloadLength(),
		"properties", len(session.Properties))

	switch session.Strategy {
	case ota.StrategyStreamingApply:
		return session, nil, d.streamPayload(ctx, session)
	case ota.StrategyDirectFlash:
		return session, nil, d.installDirect(ctx, session)
	case ota.StrategyDecryptThenFlash:
		return session, d.decryptThenFlash(ctx, session), nil
	default:
		return session, nil, fmt.Errorf("unsupported strategy %s", session.Strategy)
	}
}

// streamPayload submits the payload byte range to the update engine.
func (d *Dispatcher) streamPayload(ctx context.Context, session *ota.Session) error {
	if !payload.Stored(session.Location) {
		err := fmt.Errorf("%w: %w", ota.ErrInvalidPackage, errCompressedPayload)

		logger.ErrorKV(ctx, "Payload cannot be streamed", "method", session.Location.Method)
		d.publish(ctx, session, ota.PhaseFailed, "Error: "+err.Error())

		return err
	}

	if err := d.deps.Engine.SetPerformanceMode(ctx, true); err != nil {
		logger.WarnKV(ctx, "Failed to set performance mode", "error", err)
	} else {
		logger.Info(ctx, "Performance mode set correctly")
	}

	path, err := filepath.Abs(session.Package.Path)
	if err != nil {
		path = session.Package.Path
	}

	d.publish(ctx, session, ota.PhaseApplying, MessageApplying)

	err = d.deps.Engine.ApplyPayload(ctx, path, session.Location.Offset, session.PayloadLength(), session.Properties)
	if err != nil {
		logger.ErrorKV(ctx, "Flashing failed", "error", err)
		d.publish(ctx, session, ota.PhaseFailed, "Error: "+err.Error())

		return fmt.Errorf("apply payload: %w", err)
	}

	d.publish(ctx, session, ota.PhaseSubmitted, MessageSubmitted)

	return nil
}

// installDirect hands the package to the full-image installer as is.
// The installer outlives the request that started it.
func (d *Dispatcher) installDirect(ctx context.Context, session *ota.Session) error {
	ctx = context.WithoutCancel(ctx)

	d.publish(ctx, session, ota.PhaseInstalling, MessageInstalling)

	if err := d.deps.Installer.InstallPackage(ctx, session.Package.Path); err != nil {
		err = fmt.Errorf("%w: %w", ota.ErrInstall, err)

		logger.ErrorKV(ctx, "Full-image install failed", "error", err)
		d.publish(ctx, session, ota.PhaseFailed, "Error: "+err.Error())

		return err
	}

	d.publish(ctx, session, ota.PhaseInstalled, MessageInstalled)

	return nil
}

// decryptThenFlash starts the background job and reports its progress.
func (d *Dispatcher) decryptThenFlash(ctx context.Context, session *ota.Session) *Job {
	ctx = context.WithoutCancel(ctx)

	d.publish(ctx, session, ota.PhaseDecrypting, MessageDecrypting)

	return d.decrypter.Start(ctx, session.Package.Path, func(state JobState, err error) {
		switch state {
		case JobInstalling:
			d.publish(ctx, session, ota.PhaseInstalling, MessageInstalling)
		case JobInstalled:
			d.publish(ctx, session, ota.PhaseInstalled, MessageInstalled)
		case JobCancelled:
			d.publish(ctx, session, ota.PhaseCancelled, MessageCancelled)
		case JobFailed:
			d.publish(ctx, session, ota.PhaseFailed, "Error: "+err.Error())
		case JobIdle, JobCopying, JobHardening:
		}
	})
}

func (d *Dispatcher) publish(ctx context.Context, session *ota.Session, phase ota.Phase, message string) {
	if d.deps.Sink == nil {
		return
	}

	d.deps.Sink.Publish(ctx, &ota.Status{
		SessionID: session.ID,
		Phase:     phase,
		Message:   message,
		Strategy:  session.Strategy,
	})
}

// checkPackage rejects empty paths, missing files and anything but regular files.
func checkPackage(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ota.ErrInvalidPackage)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ota.ErrInvalidPackage, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ota.ErrInvalidPackage, path)
	}

	return nil
}
