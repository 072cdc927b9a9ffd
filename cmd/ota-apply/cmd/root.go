package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/service/apply"
	"github.com/oshokin/ota-installer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where the install status is persisted.
	stateFile string
	// markerPath overrides the single-run marker location.
	markerPath string
	// size is the declared payload size.
	size uint64

	// rootCmd installs one package without the daemon.
	rootCmd = &cobra.Command{
		Use:   "ota-apply <package>",
		Short: "Install an OTA package without the daemon.",
		Long: `Installs the package the same way the daemon does and waits for the result.

Only one ota-apply may run at a time. SIGTERM or SIGINT cancel a running
decrypt job before the installer starts; once the installer runs it is awaited.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &apply.Options{
				ConfigPath:  configPath,
				PackagePath: args[0],
				StateFile:   stateFile,
				MarkerPath:  markerPath,
			}

			if cmd.Flags().Changed("size") {
				options.Size = &size
			}

			return apply.Run(ctx, options)
		},
	}
)

// Execute runs the ota-apply CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "path to persist install status (overrides config)")
	rootCmd.Flags().StringVar(&markerPath, "marker", "", "path to the single-run marker file")
	rootCmd.Flags().Uint64Var(&size, "size", 0, "declared payload size in bytes (defaults to the payload entry size)")
}
