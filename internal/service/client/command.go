package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/logger"
	repository "github.com/oshokin/ota-installer/internal/repository/status"
	"github.com/oshokin/ota-installer/internal/service/common"
)

// Options configures the daemon client.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// StateFile overrides the status file watched by Follow.
	StateFile string

	// Output receives the printed statuses; defaults to stdout.
	Output io.Writer
}

// DefaultPollInterval defines the interval between status requests in Poll.
const DefaultPollInterval = 1 * time.Second

// errStatusStreamClosed is returned when the status watcher stops before a terminal status.
var errStatusStreamClosed = errors.New("status stream closed")

// session bundles the loaded settings with a connected client.
type session struct {
	cfg    *config.Config
	client *common.Client
	out    io.Writer
}

// connect loads settings and dials the daemon.
func connect(ctx context.Context, opts *Options) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	dialOptions := []common.Option{common.WithCallTimeout(cfg.Timeout)}

	// Identify current user and hostname for the daemon logs.
	if actor, actorErr := common.DetectActor(); actorErr == nil {
		dialOptions = append(dialOptions, common.WithActor(actor))
	} else {
		logger.WarnKV(ctx, "Could not detect actor", "error", actorErr)
	}

	client, err := common.Dial(ctx, serverAddress, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial server: %w", err)
	}

	return &session{
		cfg:    cfg,
		client: client,
		out:    output(opts),
	}, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// Start asks the daemon to install the package and prints the resulting status.
func Start(ctx context.Context, opts *Options, path string, size *uint64) error {
	ctx = logger.WithName(ctx, "ota-client")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = s.Close()
	}()

	logger.InfoKV(ctx, "Requesting update", "package", path)

	result, err := s.client.StartUpdate(ctx, path, size)
	if err != nil {
		return err
	}

	return printStatus(s.out, result)
}

// Status prints the latest status reported by the daemon.
func Status(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-client")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = s.Close()
	}()

	result, err := s.client.GetStatus(ctx)
	if err != nil {
		return err
	}

	return printStatus(s.out, result)
}

// Cancel asks the daemon to cancel the running decrypt job.
func Cancel(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-client")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = s.Close()
	}()

	result, err := s.client.CancelUpdate(ctx)
	if err != nil {
		return err
	}

	return printStatus(s.out, result)
}

// Poll prints the daemon status whenever it changes until it is terminal or ctx is done.
func Poll(ctx context.Context, opts *Options, interval time.Duration) error {
	ctx = logger.WithName(ctx, "ota-client")

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = s.Close()
	}()

	var last *ota.Status

	// attempt fetches the status once, returns (completed, error).
	attempt := func() (bool, error) {
		result, err := s.client.GetStatus(ctx)
		if err != nil {
			// Log error but continue polling for transient failures.
			logger.ErrorKV(ctx, "GetStatus failed", "error", err)

			return false, nil
		}

		if last == nil || !sameStatus(last, result) {
			last = result

			if err = printStatus(s.out, result); err != nil {
				return false, err
			}
		}

		return result.Phase.Terminal(), nil
	}

	if done, err := attempt(); err != nil || done {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := attempt()
			if err != nil || done {
				return err
			}
		}
	}
}

// Follow watches the local status file and prints every change until a
// terminal status is written or ctx is done.
func Follow(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-client")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	stateFile := cfg.StateFile
	if opts.StateFile != "" {
		stateFile = opts.StateFile
	}

	repo := repository.NewFileRepository(stateFile)

	updates, err := repo.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch status: %w", err)
	}

	logger.InfoKV(ctx, "Following status file", "path", repo.Path())

	return followUpdates(ctx, output(opts), updates)
}

// followUpdates prints statuses from updates until a terminal one arrives.
func followUpdates(ctx context.Context, out io.Writer, updates <-chan *ota.Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case current, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				return errStatusStreamClosed
			}

			if err := printStatus(out, current); err != nil {
				return err
			}

			if current.Phase.Terminal() {
				return nil
			}
		}
	}
}

func output(opts *Options) io.Writer {
	if opts.Output != nil {
		return opts.Output
	}

	return os.Stdout
}

// sameStatus reports whether two statuses describe the same publication.
func sameStatus(a, b *ota.Status) bool {
	return a.SessionID == b.SessionID &&
		a.Phase == b.Phase &&
		a.Message == b.Message &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func printStatus(out io.Writer, status *ota.Status) error {
	_, err := fmt.Fprintln(out, FormatStatus(status))

	return err
}

// FormatStatus converts a status to a readable line.
func FormatStatus(status *ota.Status) string {
	if status == nil {
		return "<nil status>"
	}

	timestamp := "<unknown>"
	if !status.UpdatedAt.IsZero() {
		timestamp = status.UpdatedAt.Local().Format(time.RFC3339)
	}

	session := status.SessionID
	if session == "" {
		session = "<none>"
	}

	message := status.Message
	if message == "" {
		message = "-"
	}

	return fmt.Sprintf("%s [%s] %s (session %s, %s)", status.Phase, status.Strategy, message, session, timestamp)
}
