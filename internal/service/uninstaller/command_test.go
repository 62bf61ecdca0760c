package uninstaller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/agent-deploy/internal/config"
	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
	"github.com/oshokin/agent-deploy/internal/repository/agentconfig"
	"github.com/oshokin/agent-deploy/internal/repository/state"
)

// fakeRemover records the package names handed to the package manager.
type fakeRemover struct {
	removed []string
}

func (f *fakeRemover) Remove(_ context.Context, packages ...string) error {
	f.removed = append(f.removed, packages...)
	return nil
}

// newRemover builds a remover over temp-dir repositories and a fake package manager.
func newRemover(t *testing.T, opts *Options) (*remover, *fakeRemover) {
	t.Helper()

	cfg := &config.Config{InstallRoot: t.TempDir()}
	require.NoError(t, config.Validate(cfg))

	fake := &fakeRemover{}

	return &remover{
		cfg:       cfg,
		opts:      opts,
		manager:   fake,
		stateRepo: state.NewFileRepository(filepath.Join(cfg.InstallRoot, state.DefaultStateFilename)),
		actor:     &domain.Actor{Hostname: "endpoint-042", Username: "root"},
		runID:     "run-2",
	}, fake
}

// TestRemover_UsesSettingsPackages derives package names from settings when no state exists.
func TestRemover_UsesSettingsPackages(t *testing.T) {
	t.Parallel()

	r, fake := newRemover(t, &Options{})
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, []string{"CylancePROTECT", "CylancePROTECTUI"}, fake.removed)

	// Outcome recorded for verifier runs.
	s, err := r.stateRepo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.PhaseRemoved, s.Phase)
}

// TestRemover_PrefersRecordedState removes what the installer actually installed.
func TestRemover_PrefersRecordedState(t *testing.T) {
	t.Parallel()

	r, fake := newRemover(t, &Options{})
	ctx := context.Background()

	require.NoError(t, r.stateRepo.Save(ctx, &domain.State{
		RunID:     "run-1",
		Packages:  []string{"CylancePROTECT.rpm"},
		Phase:     domain.PhaseInstalled,
		Timestamp: time.Now().UTC(),
	}))

	require.NoError(t, r.Run(ctx))
	require.Equal(t, []string{"CylancePROTECT"}, fake.removed)
}

// TestRemover_CarriesBundleForward keeps the installed bundle details in the
// removed-state record.
func TestRemover_CarriesBundleForward(t *testing.T) {
	t.Parallel()

	r, _ := newRemover(t, &Options{})
	ctx := context.Background()

	require.NoError(t, r.stateRepo.Save(ctx, &domain.State{
		RunID:         "run-1",
		BundleVersion: "3.2.1001",
		Packages:      []string{"CylancePROTECT.rpm"},
		Phase:         domain.PhaseInstalled,
		Timestamp:     time.Now().UTC(),
	}))

	require.NoError(t, r.Run(ctx))

	s, err := r.stateRepo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseRemoved, s.Phase)
	require.Equal(t, "3.2.1001", s.BundleVersion)
	require.Equal(t, []string{"CylancePROTECT.rpm"}, s.Packages)
	require.Equal(t, "run-2", s.RunID)
	require.Equal(t, "endpoint-042", s.LastActor.Hostname)
}

// TestRemover_PurgeConfig deletes the registration file and the state file.
func TestRemover_PurgeConfig(t *testing.T) {
	t.Parallel()

	r, _ := newRemover(t, &Options{PurgeConfig: true})
	ctx := context.Background()

	tokenRepo := agentconfig.NewFileRepository(r.cfg.TokenFilePath())
	require.NoError(t, tokenRepo.Write(ctx, []agentconfig.Entry{{Key: "InstallToken", Value: "secret"}}))

	require.NoError(t, r.Run(ctx))

	_, err := os.Stat(r.cfg.TokenFilePath())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Join(r.cfg.InstallRoot, state.DefaultStateFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}
