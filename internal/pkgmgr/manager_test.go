package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRunner records commands and replays scripted results.
type fakeRunner struct {
	calls   []string
	results map[string][]fakeResult
}

type fakeResult struct {
	output string
	err    error
}

// exitError mimics exec.ExitError for the not-installed exit code.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) ExitCode() int {
	return e.code
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, call)

	queue, ok := r.results[call]
	if !ok || len(queue) == 0 {
		return nil, nil
	}

	next := queue[0]
	r.results[call] = queue[1:]

	return []byte(next.output), next.err
}

// newManager builds a Manager over a fake runner for tests.
func newManager(t *testing.T, results map[string][]fakeResult, tries uint) (*Manager, *fakeRunner) {
	t.Helper()

	runner := &fakeRunner{results: results}
	m := New("yum", time.Minute, WithRunner(runner), WithMaxTries(tries))

	return m, runner
}

// TestManager_CacheCommands verifies the clean and makecache invocations.
func TestManager_CacheCommands(t *testing.T) {
	t.Parallel()

	m, runner := newManager(t, nil, 1)
	ctx := context.Background()

	require.NoError(t, m.CleanCache(ctx))
	require.NoError(t, m.RefreshCache(ctx))
	require.Equal(t, []string{"yum clean all", "yum makecache"}, runner.calls)
}

// TestManager_Install verifies invocation shape and rejection of empty lists.
func TestManager_Install(t *testing.T) {
	t.Parallel()

	m, runner := newManager(t, nil, 1)
	ctx := context.Background()

	require.Error(t, m.Install(ctx))

	require.NoError(t, m.Install(ctx, "/tmp/a.rpm", "/tmp/b.rpm"))
	require.Equal(t, []string{"yum install -y /tmp/a.rpm /tmp/b.rpm"}, runner.calls)
}

// TestManager_Install_RetriesTransientFailures ensures failed installs are reattempted.
func TestManager_Install_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	call := "yum install -y agent.rpm"
	results := map[string][]fakeResult{
		call: {
			{err: errors.New("mirror timeout")},
			{output: "Complete!"},
		},
	}

	m, runner := newManager(t, results, 3)
	require.NoError(t, m.Install(context.Background(), "agent.rpm"))
	require.Equal(t, []string{call, call}, runner.calls)
}

// TestManager_Install_GivesUpAfterMaxTries ensures the try limit is honored.
func TestManager_Install_GivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	call := "yum install -y agent.rpm"
	results := map[string][]fakeResult{
		call: {
			{err: errors.New("mirror timeout")},
			{err: errors.New("mirror timeout")},
		},
	}

	m, runner := newManager(t, results, 2)
	require.Error(t, m.Install(context.Background(), "agent.rpm"))
	require.Len(t, runner.calls, 2)
}

// TestManager_InstalledVersion covers present, absent and failing queries.
func TestManager_InstalledVersion(t *testing.T) {
	t.Parallel()

	query := "rpm -q --queryformat %{VERSION} CylancePROTECT"
	results := map[string][]fakeResult{
		query: {
			{output: "3.2.1001\n"},
			{err: &exitError{code: 1}},
			{err: errors.New("rpmdb corrupted")},
		},
	}

	m, _ := newManager(t, results, 1)
	ctx := context.Background()

	v, err := m.InstalledVersion(ctx, "CylancePROTECT")
	require.NoError(t, err)
	require.Equal(t, "3.2.1001", v)

	_, err = m.InstalledVersion(ctx, "CylancePROTECT")
	require.ErrorIs(t, err, ErrNotInstalled)

	_, err = m.InstalledVersion(ctx, "CylancePROTECT")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotInstalled)
}

// TestManager_IsInstalled maps version lookups onto a boolean.
func TestManager_IsInstalled(t *testing.T) {
	t.Parallel()

	query := "rpm -q --queryformat %{VERSION} CylancePROTECT"
	results := map[string][]fakeResult{
		query: {
			{output: "3.2.1001"},
			{err: &exitError{code: 1}},
		},
	}

	m, _ := newManager(t, results, 1)
	ctx := context.Background()

	installed, err := m.IsInstalled(ctx, "CylancePROTECT")
	require.NoError(t, err)
	require.True(t, installed)

	installed, err = m.IsInstalled(ctx, "CylancePROTECT")
	require.NoError(t, err)
	require.False(t, installed)
}

// TestManager_Remove verifies invocation shape for removals.
func TestManager_Remove(t *testing.T) {
	t.Parallel()

	m, runner := newManager(t, nil, 1)
	ctx := context.Background()

	require.Error(t, m.Remove(ctx))

	require.NoError(t, m.Remove(ctx, "CylancePROTECT", "CylancePROTECTUI"))
	require.Equal(t, []string{"yum remove -y CylancePROTECT CylancePROTECTUI"}, runner.calls)
}
