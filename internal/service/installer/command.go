package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/agent-deploy/internal/config"
	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/pkgmgr"
	"github.com/oshokin/agent-deploy/internal/repository/agentconfig"
	"github.com/oshokin/agent-deploy/internal/repository/state"
	"github.com/oshokin/agent-deploy/internal/service/common"
)

// TokenEnvVar is the environment variable consulted for the registration
// token when the --token flag is not provided.
const TokenEnvVar = "AGENT_INSTALL_TOKEN"

var (
	errInstallerAlreadyRunning = errors.New("the installer is already running")
	errNoToken                 = errors.New("registration token is not provided")
	errPackageMissing          = errors.New("package absent from package database after install")
)

// Options are inputs accepted by the installer entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Token overrides the registration token from settings and environment.
	Token string
	// DistributionFolder overrides the bundle location from settings.
	DistributionFolder string
	// SkipCacheRefresh leaves the package manager metadata cache untouched.
	SkipCacheRefresh bool
	// StageOnly verifies and stages artifacts without installing them.
	StageOnly bool
}

// runner holds the mutable state and helpers for a single install run.
// It is intentionally unexported—call Run(ctx, Options) from callers.
type runner struct {
	cfg              *config.Config         // Rollout configuration loaded from YAML.
	opts             *Options               // Caller-provided overrides.
	manifest         *Manifest              // Bundle manifest from the distribution folder.
	manager          *pkgmgr.Manager        // Package manager adapter.
	tokenRepo        agentconfig.Repository // Agent configuration file persistence.
	stateRepo        state.Repository       // Rollout state persistence.
	actor            *domain.Actor          // Who is running the install, for audit.
	runID            string                 // Unique identifier of this run.
	token            string                 // Resolved registration token.
	stagingDirectory string                 // Where artifacts are verified before install.
	stagedFiles      map[string]string      // Artifact name -> staged local path.
	startedAt        time.Time              // When the run began.
}

// Run executes the install lifecycle and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	runID := uuid.NewString()

	ctx = logger.WithName(ctx, "agent-installer")
	ctx = logger.WithKV(ctx, "run_id", runID)

	r, err := newRunner(ctx, opts, runID)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Install run failed", "error", err)
		r.recordState(ctx, domain.PhaseFailed)

		return err
	}

	logger.Info(ctx, "Installer completed")

	return nil
}

// newRunner prepares the run and writes a marker to avoid concurrent runs.
// The marker must not survive a failed setup, otherwise retries would be
// refused for the whole marker lifetime.
func newRunner(ctx context.Context, opts *Options, runID string) (*runner, error) {
	r := &runner{
		opts:        opts,
		runID:       runID,
		stagedFiles: make(map[string]string, defaultMapCapacity),
		startedAt:   time.Now().UTC(),
	}

	if IsInstallerRunningNow(ctx) {
		return r, errInstallerAlreadyRunning
	}

	installMarker, err := os.Create(MarkerFilename)
	if err != nil {
		return r, err
	}

	if err = installMarker.Close(); err != nil {
		_ = os.Remove(MarkerFilename)
		return r, err
	}

	if err = r.setup(opts); err != nil {
		_ = os.Remove(MarkerFilename)
		return r, err
	}

	return r, nil
}

// setup resolves configuration, token, actor and the package manager.
func (r *runner) setup(opts *Options) error {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if opts.DistributionFolder != "" {
		cfg.DistributionFolder = opts.DistributionFolder
	}

	r.cfg = cfg

	if r.token, err = resolveToken(opts, cfg); err != nil {
		return err
	}

	if r.actor, err = common.DetectActor(); err != nil {
		return err
	}

	if r.manager, err = newManager(cfg); err != nil {
		return err
	}

	r.tokenRepo = agentconfig.NewFileRepository(cfg.TokenFilePath())
	r.stateRepo = state.NewFileRepository(filepath.Join(cfg.InstallRoot, state.DefaultStateFilename))

	return nil
}

// resolveToken picks the registration token: flag, then environment, then settings.
func resolveToken(opts *Options, cfg *config.Config) (string, error) {
	for _, candidate := range []string{opts.Token, os.Getenv(TokenEnvVar), cfg.Token} {
		if token := strings.TrimSpace(candidate); token != "" {
			return token, nil
		}
	}

	return "", errNoToken
}

// newManager builds the package manager adapter from settings.
func newManager(cfg *config.Config) (*pkgmgr.Manager, error) {
	command := cfg.ManagerCommand
	if command == "" {
		detected, err := pkgmgr.Detect()
		if err != nil {
			return nil, err
		}

		command = detected
	}

	return pkgmgr.New(command, cfg.Timeout,
		pkgmgr.WithMaxTries(uint(cfg.MaxRetries))), nil
}

// Run executes the install workflow for this runner instance:
// 1) Write the agent registration file.
// 2) Fetch and validate the bundle manifest.
// 3) Stage artifacts with checksum enforcement.
// 4) Refresh the package manager cache.
// 5) Install the staged packages.
// 6) Confirm packages appear in the package database.
// 7) Record the rollout state.
func (r *runner) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Writing agent registration file", "path", r.cfg.TokenFilePath())

	if err := r.writeAgentConfig(ctx); err != nil {
		return fmt.Errorf("write agent registration file: %w", err)
	}

	logger.InfoKV(ctx, "Fetching bundle manifest", "folder", r.cfg.DistributionFolder)

	if err := r.fetchManifest(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Staging bundle artifacts", "version", r.manifest.VersionNumber)

	if err := r.stagePackages(ctx); err != nil {
		return err
	}

	if r.opts.StageOnly {
		logger.Info(ctx, "Stage-only requested, skipping installation")
		r.recordState(ctx, domain.PhaseStaged)

		return nil
	}

	if err := r.refreshCaches(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Installing packages", "manager", r.manager.Command())

	if err := r.installPackages(ctx); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}

	logger.Info(ctx, "Confirming packages in the package database")

	if err := r.confirmInstalled(ctx); err != nil {
		return err
	}

	r.recordState(ctx, domain.PhaseInstalled)

	return nil
}

// writeAgentConfig renders the registration file the installed agent reads.
func (r *runner) writeAgentConfig(ctx context.Context) error {
	entries := []agentconfig.Entry{
		{Key: r.cfg.TokenKey, Value: r.token},
	}

	return r.tokenRepo.Write(ctx, entries)
}

// refreshCaches drops and rebuilds the package manager metadata cache.
func (r *runner) refreshCaches(ctx context.Context) error {
	if r.opts.SkipCacheRefresh {
		logger.Info(ctx, "Cache refresh skipped by request")
		return nil
	}

	logger.Info(ctx, "Cleaning the package manager cache")

	if err := r.manager.CleanCache(ctx); err != nil {
		return fmt.Errorf("clean cache: %w", err)
	}

	logger.Info(ctx, "Rebuilding the package manager cache")

	if err := r.manager.RefreshCache(ctx); err != nil {
		return fmt.Errorf("refresh cache: %w", err)
	}

	return nil
}

// installPackages hands the staged artifact paths to the package manager in
// the order they are configured.
func (r *runner) installPackages(ctx context.Context) error {
	paths := make([]string, 0, len(r.cfg.Packages))
	for _, fileName := range r.cfg.Packages {
		paths = append(paths, r.stagedFiles[fileName])
	}

	return r.manager.Install(ctx, paths...)
}

// confirmInstalled checks every bundle package against the package database.
func (r *runner) confirmInstalled(ctx context.Context) error {
	for _, fileName := range r.cfg.Packages {
		name := r.manifest.PackageName(fileName)

		installed, err := r.manager.IsInstalled(ctx, name)
		if err != nil {
			return fmt.Errorf("confirm %s: %w", name, err)
		}

		if !installed {
			return fmt.Errorf("%s: %w", name, errPackageMissing)
		}

		logger.InfoKV(ctx, "Package present", "package", name)
	}

	return nil
}

// recordState persists the rollout outcome for verifier and uninstaller runs.
// Failures to record are logged, not returned: the install result stands.
func (r *runner) recordState(ctx context.Context, phase domain.Phase) {
	if r.stateRepo == nil || r.cfg == nil {
		return
	}

	var bundleVersion, minimumAgentVersion string
	if r.manifest != nil {
		bundleVersion = r.manifest.VersionNumber
		minimumAgentVersion = r.manifest.MinimumAgentVersion
	}

	s := &domain.State{
		RunID:               r.runID,
		BundleVersion:       bundleVersion,
		MinimumAgentVersion: minimumAgentVersion,
		Packages:            append([]string(nil), r.cfg.Packages...),
		Phase:               phase,
		Timestamp:           time.Now().UTC(),
		LastActor:           r.actor.Clone(),
	}

	if err := r.stateRepo.Save(ctx, s); err != nil {
		logger.WarnKV(ctx, "Unable to record rollout state", "error", err)
	}
}

// cleanup removes temporary artifacts and the running marker.
func (r *runner) cleanup(ctx context.Context) {
	if _, err := os.Stat(MarkerFilename); err == nil {
		_ = os.Remove(MarkerFilename)
	}

	if r.stagingDirectory != "" {
		if _, err := os.Stat(r.stagingDirectory); err == nil {
			_ = os.RemoveAll(r.stagingDirectory)
		}
	}

	logger.InfoKV(ctx, "The installer has been stopped", "elapsed", time.Since(r.startedAt).String())
}
