package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/agent-deploy/internal/config"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/service/uninstaller"
	"github.com/oshokin/agent-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// purgeConfig also deletes the registration file and rollout state.
	purgeConfig bool

	// logLevel controls logging verbosity.
	logLevel string

	// rootCmd represents the base command for removing the agent bundle.
	rootCmd = &cobra.Command{
		Use:   "agent-uninstaller",
		Short: "Remove the agent bundle packages from this host",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if lvl, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(lvl)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &uninstaller.Options{
				ConfigPath:  configPath,
				PurgeConfig: purgeConfig,
			}

			return uninstaller.Run(ctx, options)
		},
	}
)

// Execute runs the agent-uninstaller CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&purgeConfig, "purge", false, "also delete the registration file and rollout state")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
}
