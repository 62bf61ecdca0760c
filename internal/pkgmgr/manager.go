package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oshokin/agent-deploy/internal/logger"
)

const (
	// rpmCommand queries the host package database directly.
	rpmCommand = "rpm"

	// queryFormat extracts the bare version of an installed package.
	queryFormat = "%{VERSION}"

	// initialRetryInterval is the first pause before retrying a transient failure.
	initialRetryInterval = 2 * time.Second

	// maxRetryInterval caps the pause between retries.
	maxRetryInterval = 30 * time.Second

	// notInstalledExitCode is returned by rpm -q for packages absent from the database.
	notInstalledExitCode = 1
)

var (
	// ErrNotInstalled indicates the package is absent from the package database.
	ErrNotInstalled = errors.New("package is not installed")
	// ErrNoManager indicates neither dnf nor yum is available on the host.
	ErrNoManager = errors.New("no supported package manager found")
	// errNothingToRemove indicates a removal was requested with an empty list.
	errNothingToRemove = errors.New("no packages to remove")
	// errNothingToInstall indicates an install was requested with an empty list.
	errNothingToInstall = errors.New("no packages to install")
)

// Manager drives the host package manager CLI (dnf or yum).
// Cache and install operations are retried with exponential backoff because
// repository mirrors fail transiently; query operations are not.
type Manager struct {
	// command is the package manager executable, e.g. "dnf".
	command string
	// runner executes external commands.
	runner Runner
	// maxTries bounds attempts for operations that touch the network.
	maxTries uint
}

// Option customizes the Manager.
type Option func(*Manager)

// WithRunner substitutes command execution, primarily for tests.
func WithRunner(r Runner) Option {
	return func(m *Manager) {
		m.runner = r
	}
}

// WithMaxTries bounds retry attempts for transient failures.
func WithMaxTries(n uint) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxTries = n
		}
	}
}

// Detect returns the package manager command available on this host,
// preferring dnf over its yum predecessor.
func Detect() (string, error) {
	for _, candidate := range []string{"dnf", "yum"} {
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", ErrNoManager
}

// New creates a Manager for the provided package manager command.
func New(command string, timeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		command:  command,
		runner:   NewExecRunner(timeout),
		maxTries: 1,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Command returns the package manager executable this Manager drives.
func (m *Manager) Command() string {
	return m.command
}

// CleanCache drops the package manager metadata cache.
func (m *Manager) CleanCache(ctx context.Context) error {
	return m.runRetrying(ctx, "clean", "all")
}

// RefreshCache rebuilds the package manager metadata cache.
func (m *Manager) RefreshCache(ctx context.Context) error {
	return m.runRetrying(ctx, "makecache")
}

// Install installs the provided local package files or repository names.
func (m *Manager) Install(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return errNothingToInstall
	}

	args := append([]string{"install", "-y"}, packages...)

	return m.runRetrying(ctx, args...)
}

// Remove uninstalls the provided package names.
func (m *Manager) Remove(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return errNothingToRemove
	}

	args := append([]string{"remove", "-y"}, packages...)

	return m.runRetrying(ctx, args...)
}

// InstalledVersion returns the installed version of a package, or
// ErrNotInstalled when the package database has no such entry.
func (m *Manager) InstalledVersion(ctx context.Context, name string) (string, error) {
	output, err := m.runner.Run(ctx, rpmCommand, "-q", "--queryformat", queryFormat, name)
	if err != nil {
		// exec.ExitError satisfies this; fakes in tests provide their own.
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) && exitErr.ExitCode() == notInstalledExitCode {
			return "", fmt.Errorf("%s: %w", name, ErrNotInstalled)
		}

		return "", fmt.Errorf("query package %s: %w", name, err)
	}

	return strings.TrimSpace(string(output)), nil
}

// IsInstalled reports whether the package is present in the package database.
func (m *Manager) IsInstalled(ctx context.Context, name string) (bool, error) {
	_, err := m.InstalledVersion(ctx, name)
	if errors.Is(err, ErrNotInstalled) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// runRetrying executes a package manager subcommand, retrying transient
// failures with exponential backoff up to maxTries attempts.
func (m *Manager) runRetrying(ctx context.Context, args ...string) error {
	operation := func() (struct{}, error) {
		if _, err := m.runner.Run(ctx, m.command, args...); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}

			return struct{}{}, err
		}

		return struct{}{}, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryInterval
	policy.MaxInterval = maxRetryInterval

	notify := func(err error, next time.Duration) {
		logger.WarnKV(ctx, "Package manager command failed, retrying",
			"command", m.command, "args", strings.Join(args, " "),
			"retry_in", next.String(), "error", err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(m.maxTries),
		backoff.WithNotify(notify))
	if err != nil {
		return fmt.Errorf("%s %s: %w", m.command, strings.Join(args, " "), err)
	}

	return nil
}
