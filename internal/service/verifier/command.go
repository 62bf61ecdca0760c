package verifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/agent-deploy/internal/config"
	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/pkgmgr"
	"github.com/oshokin/agent-deploy/internal/repository/agentconfig"
	"github.com/oshokin/agent-deploy/internal/repository/state"
)

var (
	errTokenFileMissing = errors.New("agent registration file is missing")
	errTokenMissing     = errors.New("registration entry is missing or empty")
	errTokenMismatch    = errors.New("registration token does not match the expected value")
	errNotInstalled     = errors.New("package is not installed")
	errTooOld           = errors.New("installed version is older than required")
	errAgentNotRunning  = errors.New("agent process is not running")
	errLastRunFailed    = errors.New("last rollout run did not complete")
)

// Options controls what the verifier checks beyond the baseline.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ExpectedToken, when set, must match the registration entry exactly.
	ExpectedToken string
	// MinimumVersion, when set, is the oldest acceptable installed version.
	MinimumVersion string
	// ProcessName, when set, must appear in the host process list.
	ProcessName string
}

// packageQuerier is the slice of pkgmgr.Manager the verifier needs.
type packageQuerier interface {
	InstalledVersion(ctx context.Context, name string) (string, error)
}

// checker holds resolved dependencies for a single verification run.
type checker struct {
	cfg       *config.Config
	opts      *Options
	querier   packageQuerier
	tokenRepo agentconfig.Repository
	stateRepo state.Repository
	processes func() ([]ps.Process, error)
}

// Run verifies the install outcome: the registration file holds the literal
// token line, every bundle package is present in the package database, and
// any requested version or process conditions hold. All failures are
// reported together.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "agent-verifier")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	command := cfg.ManagerCommand
	if command == "" {
		if command, err = pkgmgr.Detect(); err != nil {
			return err
		}
	}

	c := &checker{
		cfg:       cfg,
		opts:      opts,
		querier:   pkgmgr.New(command, cfg.Timeout),
		tokenRepo: agentconfig.NewFileRepository(cfg.TokenFilePath()),
		stateRepo: state.NewFileRepository(filepath.Join(cfg.InstallRoot, state.DefaultStateFilename)),
		processes: ps.Processes,
	}

	if err = c.Run(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "All verification checks passed")

	return nil
}

// Run executes every check and joins the failures.
func (c *checker) Run(ctx context.Context) error {
	checks := []func(context.Context) error{
		c.checkRegistrationFile,
		c.checkPackages,
		c.checkLastRun,
		c.checkProcess,
	}

	var failures []error

	for _, check := range checks {
		if err := check(ctx); err != nil {
			failures = append(failures, err)
		}
	}

	return errors.Join(failures...)
}

// checkRegistrationFile proves the token file exists and carries the entry.
func (c *checker) checkRegistrationFile(ctx context.Context) error {
	entries, err := c.tokenRepo.Read(ctx)
	if err != nil {
		if errors.Is(err, agentconfig.ErrNotFound) {
			return fmt.Errorf("%s: %w", c.cfg.TokenFilePath(), errTokenFileMissing)
		}

		return err
	}

	token, ok := agentconfig.Lookup(entries, c.cfg.TokenKey)
	if !ok || strings.TrimSpace(token) == "" {
		return fmt.Errorf("%s in %s: %w", c.cfg.TokenKey, c.cfg.TokenFilePath(), errTokenMissing)
	}

	if c.opts.ExpectedToken != "" && token != c.opts.ExpectedToken {
		return fmt.Errorf("%s: %w", c.cfg.TokenKey, errTokenMismatch)
	}

	logger.InfoKV(ctx, "Registration file check passed", "path", c.cfg.TokenFilePath())

	return nil
}

// checkPackages proves every bundle package is in the package database and
// recent enough when a minimum version is requested or recorded.
func (c *checker) checkPackages(ctx context.Context) error {
	var minimum *version.Version

	minimumRaw := c.minimumVersion(ctx)
	if minimumRaw != "" {
		parsed, err := version.NewVersion(minimumRaw)
		if err != nil {
			return fmt.Errorf("parse minimum version: %w", err)
		}

		minimum = parsed
	}

	var failures []error

	for _, fileName := range c.cfg.Packages {
		name := packageName(fileName)

		installedRaw, err := c.querier.InstalledVersion(ctx, name)
		if err != nil {
			if errors.Is(err, pkgmgr.ErrNotInstalled) {
				failures = append(failures, fmt.Errorf("%s: %w", name, errNotInstalled))
				continue
			}

			failures = append(failures, err)

			continue
		}

		logger.InfoKV(ctx, "Package check passed", "package", name, "version", installedRaw)

		if minimum == nil {
			continue
		}

		installed, err := version.NewVersion(installedRaw)
		if err != nil {
			failures = append(failures, fmt.Errorf("parse installed version of %s: %w", name, err))
			continue
		}

		if installed.LessThan(minimum) {
			failures = append(failures,
				fmt.Errorf("%s %s < %s: %w", name, installedRaw, minimumRaw, errTooOld))
		}
	}

	return errors.Join(failures...)
}

// minimumVersion resolves the oldest acceptable agent version: the explicit
// flag wins, then whatever minimum the installer recorded from the bundle
// manifest.
func (c *checker) minimumVersion(ctx context.Context) string {
	if c.opts.MinimumVersion != "" {
		return c.opts.MinimumVersion
	}

	s, err := c.stateRepo.Load(ctx)
	if err != nil {
		return ""
	}

	return s.MinimumAgentVersion
}

// checkLastRun warns through an error when the recorded rollout failed.
// A missing state file is fine: packages may be managed out of band.
func (c *checker) checkLastRun(ctx context.Context) error {
	s, err := c.stateRepo.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			logger.Info(ctx, "No rollout state recorded, skipping")
			return nil
		}

		return err
	}

	if s.Phase == domain.PhaseFailed {
		return fmt.Errorf("run %s at %s: %w", s.RunID, s.Timestamp.Format("2006-01-02 15:04:05"), errLastRunFailed)
	}

	logger.InfoKV(ctx, "Rollout state check passed",
		"phase", string(s.Phase), "bundle_version", s.BundleVersion)

	return nil
}

// checkProcess proves the agent process is running when requested.
func (c *checker) checkProcess(ctx context.Context) error {
	if c.opts.ProcessName == "" {
		return nil
	}

	processList, err := c.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Executable() == c.opts.ProcessName {
			logger.InfoKV(ctx, "Process check passed", "process", c.opts.ProcessName, "pid", process.Pid())
			return nil
		}
	}

	return fmt.Errorf("%s: %w", c.opts.ProcessName, errAgentNotRunning)
}

// packageName derives the package database name from an artifact file name.
func packageName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}
