package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/service/inspect"
	"github.com/oshokin/ota-installer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd prints the payload location of a package.
	rootCmd = &cobra.Command{
		Use:   "ota-inspect <package>",
		Short: "Print the payload offset, size and properties of an OTA package.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect.Run(cmd.Context(), &inspect.Options{
				ConfigPath:  configPath,
				PackagePath: args[0],
				Output:      cmd.OutOrStdout(),
			})
		},
	}
)

// Execute runs the ota-inspect CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
}
