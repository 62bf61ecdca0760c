package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	s, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, s)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns equal state.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "state.json")
	repo := NewFileRepository(file)

	ts := time.Now().UTC().Truncate(time.Second)
	want := &domain.State{
		RunID:               "0c27c05e-37ae-4af7-9a26-1c4a13ced7b1",
		BundleVersion:       "3.2.1001",
		MinimumAgentVersion: "3.2.0",
		Packages:            []string{"CylancePROTECT.rpm", "CylancePROTECTUI.rpm"},
		Phase:               domain.PhaseInstalled,
		Timestamp:           ts,
		LastActor: &domain.Actor{
			Hostname: "endpoint-042",
			Username: "root",
		},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.RunID, got.RunID)
	require.Equal(t, want.BundleVersion, got.BundleVersion)
	require.Equal(t, want.MinimumAgentVersion, got.MinimumAgentVersion)
	require.Equal(t, want.Packages, got.Packages)
	require.Equal(t, want.Phase, got.Phase)
	require.Equal(t, want.Timestamp.Unix(), got.Timestamp.Unix())
	require.Equal(t, want.LastActor, got.LastActor)

	_, err = os.Stat(file)
	require.NoError(t, err)
}

// TestFileRepository_InvalidPhase rejects stored state with an unknown phase.
func TestFileRepository_InvalidPhase(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"run_id":"run-1","phase":"exploded"}`), 0o600))

	repo := NewFileRepository(file)
	s, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrInvalidPhase)
	require.Nil(t, s)
}
