package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/agent-deploy/internal/config"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/service/packager"
	"github.com/oshokin/agent-deploy/internal/version"
)

var (
	// configPath is where rollout settings are persisted for installers.
	configPath string

	// bundleDir holds the built artifacts to describe.
	bundleDir string

	// bundleVersion overrides the build version stamped into the manifest.
	bundleVersion string

	// minimumAgentVersion is recorded for verifiers when set.
	minimumAgentVersion string

	// packages overrides the artifact list from defaults.
	packages []string

	// pattern discovers artifacts in the bundle dir by glob.
	pattern string

	// logLevel controls logging verbosity.
	logLevel string

	// rootCmd represents the base command for producing the bundle manifest.
	rootCmd = &cobra.Command{
		Use:   "agent-packager <distribution folder>",
		Short: "Build the bundle manifest with artifact checksums for distribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if lvl, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(lvl)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &packager.Options{
				ConfigPath:          configPath,
				BundleDir:           bundleDir,
				DistributionFolder:  args[0],
				BundleVersion:       bundleVersion,
				MinimumAgentVersion: minimumAgentVersion,
				Packages:            packages,
				Pattern:             pattern,
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the agent-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&bundleDir, "bundle-dir", "d", ".", "directory holding the built artifacts")
	rootCmd.Flags().StringVar(&bundleVersion, "bundle-version", "", "bundle version (defaults to the build version)")
	rootCmd.Flags().StringVar(&minimumAgentVersion, "minimum-agent-version", "", "oldest agent version verifiers accept")
	rootCmd.Flags().StringSliceVarP(&packages, "packages", "p", nil, "artifact file names (defaults to the stock bundle)")
	rootCmd.Flags().StringVar(&pattern, "discover", "", "glob pattern to discover artifacts in the bundle dir (overrides --packages)")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
}
