package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oshokin/agent-deploy/internal/config"
	domain "github.com/oshokin/agent-deploy/internal/domain/deploy"
)

// Repository defines persistence operations for the rollout state.
type Repository interface {
	Load(ctx context.Context) (*domain.State, error)
	Save(ctx context.Context, state *domain.State) error
}

// FileRepository persists the rollout state to a JSON file on disk.
// The file lives under the agent install root so that verifier and
// uninstaller runs can see what the installer last did.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// DefaultStateFilename is the rollout state file name inside the install root.
const DefaultStateFilename = "agent-deploy-state.json"

var (
	// ErrNotFound is returned when the state file does not exist yet.
	ErrNotFound = errors.New("state not found")
	// ErrInvalidPhase is returned when the stored phase is not a known value.
	ErrInvalidPhase = errors.New("unknown rollout phase")
)

// fileState is the on-disk JSON representation of domain.State.
type fileState struct {
	RunID               string     `json:"run_id"`
	BundleVersion       string     `json:"bundle_version"`
	MinimumAgentVersion string     `json:"minimum_agent_version,omitempty"`
	Packages            []string   `json:"packages"`
	Phase               string     `json:"phase"`
	Timestamp           time.Time  `json:"timestamp"`
	LastActor           *fileActor `json:"last_actor,omitempty"`
}

type fileActor struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var fs fileState
	if err = json.Unmarshal(contents, &fs); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	s := fromFile(&fs)
	if !s.Phase.Valid() {
		return nil, fmt.Errorf("%q: %w", fs.Phase, ErrInvalidPhase)
	}

	return s, nil
}

// Save writes the state to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, state *domain.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(toFile(state), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// fromFile converts the on-disk representation into the domain State model.
func fromFile(fs *fileState) *domain.State {
	var actor *domain.Actor
	if fs.LastActor != nil {
		actor = &domain.Actor{
			Hostname: fs.LastActor.Hostname,
			Username: fs.LastActor.Username,
		}
	}

	return &domain.State{
		RunID:               fs.RunID,
		BundleVersion:       fs.BundleVersion,
		MinimumAgentVersion: fs.MinimumAgentVersion,
		Packages:            fs.Packages,
		Phase:               domain.Phase(fs.Phase),
		Timestamp:           fs.Timestamp,
		LastActor:           actor,
	}
}

// toFile converts the domain State model into the on-disk representation.
func toFile(state *domain.State) *fileState {
	var actor *fileActor
	if state.LastActor != nil {
		actor = &fileActor{
			Hostname: state.LastActor.Hostname,
			Username: state.LastActor.Username,
		}
	}

	return &fileState{
		RunID:               state.RunID,
		BundleVersion:       state.BundleVersion,
		MinimumAgentVersion: state.MinimumAgentVersion,
		Packages:            state.Packages,
		Phase:               string(state.Phase),
		Timestamp:           state.Timestamp,
		LastActor:           actor,
	}
}
