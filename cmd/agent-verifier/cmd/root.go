package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/agent-deploy/internal/config"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/service/verifier"
	"github.com/oshokin/agent-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel controls logging verbosity.
	logLevel string

	// expectedToken must match the registration entry exactly when set.
	expectedToken string

	// minimumVersion is the oldest acceptable installed agent version.
	minimumVersion string

	// processName must appear in the host process list when set.
	processName string

	// rootCmd represents the base command for verifying the install outcome.
	rootCmd = &cobra.Command{
		Use:   "agent-verifier",
		Short: "Verify the registration file and the installed agent packages",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if lvl, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(lvl)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &verifier.Options{
				ConfigPath:     configPath,
				ExpectedToken:  expectedToken,
				MinimumVersion: minimumVersion,
				ProcessName:    processName,
			}

			return verifier.Run(ctx, options)
		},
	}
)

// Execute runs the agent-verifier CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&expectedToken, "token", "t", "", "expected registration token value")
	rootCmd.Flags().StringVar(&minimumVersion, "minimum-version", "", "oldest acceptable installed agent version")
	rootCmd.Flags().StringVar(&processName, "process", "", "agent process name expected to be running")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
}
