package pkgmgr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its combined output.
// It exists so services and tests can substitute command execution.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands via os/exec with a per-command timeout.
type execRunner struct {
	// timeout bounds a single command; package installs can be slow.
	timeout time.Duration
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(timeout time.Duration) Runner {
	return &execRunner{timeout: timeout}
}

// Run executes the command and returns combined stdout/stderr.
// The returned error carries the command line and trailing output to make
// package manager failures diagnosable from logs alone.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	return output, nil
}
