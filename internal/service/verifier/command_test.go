package verifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/agent-deploy/internal/config"
	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
	"github.com/oshokin/agent-deploy/internal/pkgmgr"
	"github.com/oshokin/agent-deploy/internal/repository/agentconfig"
	"github.com/oshokin/agent-deploy/internal/repository/state"
)

// fakeQuerier maps package names to installed versions.
type fakeQuerier struct {
	versions map[string]string
}

func (q *fakeQuerier) InstalledVersion(_ context.Context, name string) (string, error) {
	v, ok := q.versions[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, pkgmgr.ErrNotInstalled)
	}

	return v, nil
}

// fakeProcess satisfies ps.Process for process-list checks.
type fakeProcess struct {
	pid  int
	name string
}

func (p *fakeProcess) Pid() int           { return p.pid }
func (p *fakeProcess) PPid() int          { return 1 }
func (p *fakeProcess) Executable() string { return p.name }

// newChecker builds a checker over temp-dir repositories and fakes.
func newChecker(t *testing.T, opts *Options, versions map[string]string) *checker {
	t.Helper()

	cfg := &config.Config{InstallRoot: t.TempDir()}
	require.NoError(t, config.Validate(cfg))

	return &checker{
		cfg:       cfg,
		opts:      opts,
		querier:   &fakeQuerier{versions: versions},
		tokenRepo: agentconfig.NewFileRepository(cfg.TokenFilePath()),
		stateRepo: state.NewFileRepository(filepath.Join(cfg.InstallRoot, state.DefaultStateFilename)),
		processes: func() ([]ps.Process, error) { return nil, nil },
	}
}

// writeToken stores a registration entry for the checker under test.
func writeToken(t *testing.T, c *checker, token string) {
	t.Helper()
	require.NoError(t, c.tokenRepo.Write(context.Background(),
		[]agentconfig.Entry{{Key: c.cfg.TokenKey, Value: token}}))
}

// TestChecker_AllPass covers the healthy path with every optional check enabled.
func TestChecker_AllPass(t *testing.T) {
	t.Parallel()

	opts := &Options{
		ExpectedToken:  "secret",
		MinimumVersion: "3.2.0",
		ProcessName:    "cylancesvc",
	}

	c := newChecker(t, opts, map[string]string{
		"CylancePROTECT":   "3.2.1001",
		"CylancePROTECTUI": "3.2.1001",
	})
	c.processes = func() ([]ps.Process, error) {
		return []ps.Process{&fakeProcess{pid: 4242, name: "cylancesvc"}}, nil
	}

	writeToken(t, c, "secret")

	require.NoError(t, c.Run(context.Background()))
}

// TestChecker_MissingTokenFile reports the absent registration file.
func TestChecker_MissingTokenFile(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{}, map[string]string{
		"CylancePROTECT":   "3.2.1001",
		"CylancePROTECTUI": "3.2.1001",
	})

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errTokenFileMissing)
}

// TestChecker_TokenMismatch rejects a registration entry with the wrong value.
func TestChecker_TokenMismatch(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{ExpectedToken: "expected"}, map[string]string{
		"CylancePROTECT":   "3.2.1001",
		"CylancePROTECTUI": "3.2.1001",
	})
	writeToken(t, c, "different")

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errTokenMismatch)
}

// TestChecker_PackageAbsent reports packages missing from the package database.
func TestChecker_PackageAbsent(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{}, map[string]string{
		"CylancePROTECT": "3.2.1001",
	})
	writeToken(t, c, "secret")

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errNotInstalled)
}

// TestChecker_VersionTooOld rejects installed versions below the minimum.
func TestChecker_VersionTooOld(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{MinimumVersion: "3.2.0"}, map[string]string{
		"CylancePROTECT":   "3.1.9",
		"CylancePROTECTUI": "3.2.1001",
	})
	writeToken(t, c, "secret")

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errTooOld)
}

// TestChecker_RecordedMinimumVersion enforces the minimum the installer
// recorded from the bundle manifest when no flag is given.
func TestChecker_RecordedMinimumVersion(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{}, map[string]string{
		"CylancePROTECT":   "3.1.9",
		"CylancePROTECTUI": "3.2.1001",
	})
	writeToken(t, c, "secret")

	require.NoError(t, c.stateRepo.Save(context.Background(), &domain.State{
		RunID:               "run-1",
		MinimumAgentVersion: "3.2.0",
		Phase:               domain.PhaseInstalled,
		Timestamp:           time.Now().UTC(),
	}))

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errTooOld)
}

// TestChecker_FlagOverridesRecordedMinimum prefers the explicit flag over the
// recorded manifest minimum.
func TestChecker_FlagOverridesRecordedMinimum(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{MinimumVersion: "3.1.0"}, map[string]string{
		"CylancePROTECT":   "3.1.9",
		"CylancePROTECTUI": "3.2.1001",
	})
	writeToken(t, c, "secret")

	require.NoError(t, c.stateRepo.Save(context.Background(), &domain.State{
		RunID:               "run-1",
		MinimumAgentVersion: "3.2.0",
		Phase:               domain.PhaseInstalled,
		Timestamp:           time.Now().UTC(),
	}))

	require.NoError(t, c.Run(context.Background()))
}

// TestChecker_FailedLastRun surfaces a recorded failed rollout.
func TestChecker_FailedLastRun(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{}, map[string]string{
		"CylancePROTECT":   "3.2.1001",
		"CylancePROTECTUI": "3.2.1001",
	})
	writeToken(t, c, "secret")

	require.NoError(t, c.stateRepo.Save(context.Background(), &domain.State{
		RunID:     "run-1",
		Phase:     domain.PhaseFailed,
		Timestamp: time.Now().UTC(),
	}))

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errLastRunFailed)
}

// TestChecker_ProcessMissing reports an absent agent process.
func TestChecker_ProcessMissing(t *testing.T) {
	t.Parallel()

	c := newChecker(t, &Options{ProcessName: "cylancesvc"}, map[string]string{
		"CylancePROTECT":   "3.2.1001",
		"CylancePROTECTUI": "3.2.1001",
	})
	writeToken(t, c, "secret")

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errAgentNotRunning)
	require.False(t, errors.Is(err, errTokenMissing))
}
