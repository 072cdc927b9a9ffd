package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/service/client"
	"github.com/oshokin/ota-installer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// serverAddress overrides the daemon address from config.
	serverAddress string
	// stateFile overrides the status file followed by `status --follow`.
	stateFile string
	// size is the declared payload size for `start`.
	size uint64
	// follow keeps printing status changes from the status file.
	follow bool
	// poll keeps printing status changes by asking the daemon.
	poll bool
	// pollInterval is the delay between status requests.
	pollInterval time.Duration

	// rootCmd groups the daemon client commands.
	rootCmd = &cobra.Command{
		Use:   "ota-client",
		Short: "Control the OTA update daemon.",
	}

	startCmd = &cobra.Command{
		Use:   "start <package>",
		Short: "Ask the daemon to install a package.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			var declared *uint64
			if cmd.Flags().Changed("size") {
				declared = &size
			}

			return client.Start(ctx, options(cmd), args[0], declared)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the latest install status.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			switch {
			case follow:
				return client.Follow(ctx, options(cmd))
			case poll:
				return client.Poll(ctx, options(cmd), pollInterval)
			default:
				return client.Status(ctx, options(cmd))
			}
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a running decrypt job.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Cancel(ctx, options(cmd))
		},
	}
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func options(cmd *cobra.Command) *client.Options {
	return &client.Options{
		ConfigPath:    configPath,
		ServerAddress: serverAddress,
		StateFile:     stateFile,
		Output:        cmd.OutOrStdout(),
	}
}

// Execute runs the ota-client CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "a", "", "daemon address (overrides config)")

	startCmd.Flags().Uint64Var(&size, "size", 0, "declared payload size in bytes (defaults to the payload entry size)")

	statusCmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the local status file until the update ends")
	statusCmd.Flags().BoolVarP(&poll, "poll", "p", false, "poll the daemon until the update ends")
	statusCmd.Flags().DurationVar(&pollInterval, "interval", client.DefaultPollInterval, "poll interval")
	statusCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "status file to follow (overrides config)")
	statusCmd.MarkFlagsMutuallyExclusive("follow", "poll")

	rootCmd.AddCommand(startCmd, statusCmd, cancelCmd)
}
