package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/service/server"
	"github.com/oshokin/ota-installer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where the install status is persisted.
	stateFile string

	// rootCmd represents the base command for running the update daemon.
	rootCmd = &cobra.Command{
		Use:   "ota-server [listen-address]",
		Short: "Run the OTA update daemon.",
		Long: `Starts the gRPC update daemon that installs OTA packages on request.

Two-slot devices stream payload.bin to the update engine; single-slot devices
hand the package to recovery, decrypting it first when it lives on encrypted storage.
Loopback server addresses are used as is; otherwise only the port is used for listening.
Listen address can be provided as argument to override config (e.g., :9090, 127.0.0.1:50061).
The latest status is persisted to a JSON file for recovery across restarts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StateFile:     stateFile,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the ota-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&stateFile, "state-file", "s", "", "path to persist install status (overrides config)")
}
