package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"

	api "github.com/oshokin/ota-installer/internal/api/grpc/ota"
	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/install"
	"github.com/oshokin/ota-installer/internal/logger"
	"github.com/oshokin/ota-installer/internal/platform"
	repository "github.com/oshokin/ota-installer/internal/repository/status"
	"github.com/oshokin/ota-installer/internal/version"
	"github.com/oshokin/ota-installer/internal/wire"
)

// shutdownTimeout bounds how long shutdown waits for a running decrypt job.
const shutdownTimeout = 30 * time.Second

// Options controls the ota-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile specifies the path to persist the install status JSON.
	StateFile string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the gRPC server and blocks until context is canceled or server stops.
// Loads configuration first, then determines listen address from config or override.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !logger.Configure(settings.LogLevel, settings.LogFile) {
		logger.WarnKV(ctx, "Unknown log level, keeping the default", "log_level", settings.LogLevel)
	}

	// Use StateFile from config unless overridden by command line option.
	stateFile := settings.StateFile
	if opts.StateFile != "" {
		stateFile = opts.StateFile
	}

	// Determine listen address: CLI argument overrides config port extraction.
	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	repo := repository.NewFileRepository(stateFile)

	svc, err := newService(ctx, repo, func(sink install.StatusSink) preparer {
		return install.NewDispatcher(
			platform.Dependencies(settings, sink),
			install.WithEntries(settings.PayloadEntry, settings.PropertiesEntry),
		)
	})
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	return serve(ctx, lis, svc, stateFile)
}

// serve runs the gRPC server on lis until ctx is done or serving fails, then
// stops it and the service.
func serve(ctx context.Context, lis net.Listener, svc *service, stateFile string) error {
	grpcServer := grpc.NewServer()
	wire.RegisterUpdateServiceServer(grpcServer, api.NewServer(svc))

	logger.InfoKV(ctx, "OTA server listening",
		append([]any{"listen_address", lis.Addr().String(), "state_file", stateFile}, version.Fields()...)...)

	// A serve failure triggers the same shutdown as a cancelled ctx.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// Done channel is closed after shutdown finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	var shutdownErr error

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()

		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		shutdownErr = svc.close(closeCtx)
	}()

	var result *multierror.Error

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		result = multierror.Append(result, fmt.Errorf("serve gRPC: %w", err))

		stop()
	}

	<-done

	if shutdownErr != nil {
		result = multierror.Append(result, fmt.Errorf("stop service: %w", shutdownErr))
	}

	logger.Info(ctx, "GRPC server stopped")

	return result.ErrorOrNil()
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	host, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Loopback addresses are kept so the daemon stays local.
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return net.JoinHostPort(host, port), nil
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
