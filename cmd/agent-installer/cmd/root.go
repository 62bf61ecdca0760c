package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/agent-deploy/internal/config"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/service/installer"
	"github.com/oshokin/agent-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel controls logging verbosity.
	logLevel string

	// token is the registration token written to the agent configuration file.
	token string

	// distributionFolder overrides the bundle location from settings.
	distributionFolder string

	// skipCacheRefresh leaves the package manager cache untouched.
	skipCacheRefresh bool

	// stageOnly verifies and stages artifacts without installing.
	stageOnly bool

	// rootCmd represents the base command for installing the agent bundle.
	rootCmd = &cobra.Command{
		Use:   "agent-installer",
		Short: "Install the endpoint agent: registration file, bundle packages, package database",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if lvl, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(lvl)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &installer.Options{
				ConfigPath:         configPath,
				Token:              token,
				DistributionFolder: distributionFolder,
				SkipCacheRefresh:   skipCacheRefresh,
				StageOnly:          stageOnly,
			}

			return installer.Run(ctx, options)
		},
	}
)

// Execute runs the agent-installer CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&token, "token", "t", "",
		"registration token (falls back to "+installer.TokenEnvVar+" and settings)")
	rootCmd.Flags().StringVarP(&distributionFolder, "source", "s", "", "bundle URL or directory override")
	rootCmd.Flags().BoolVar(&skipCacheRefresh, "skip-cache-refresh", false, "do not clean or rebuild the package manager cache")
	rootCmd.Flags().BoolVar(&stageOnly, "stage-only", false, "verify and stage artifacts without installing")
}
