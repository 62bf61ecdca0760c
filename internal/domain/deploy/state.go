package deploy

import "time"

// Actor identifies who performed a rollout action on the host.
type Actor struct {
	// Hostname is the machine name where the action was performed.
	Hostname string
	// Username is the system user who triggered the action.
	Username string
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Phase describes the outcome of the latest rollout run.
type Phase string

const (
	// PhaseStaged means artifacts were verified and staged but not installed.
	PhaseStaged Phase = "staged"
	// PhaseInstalled means the bundle packages are installed on the host.
	PhaseInstalled Phase = "installed"
	// PhaseRemoved means the bundle packages were uninstalled.
	PhaseRemoved Phase = "removed"
	// PhaseFailed means the last run aborted before completing.
	PhaseFailed Phase = "failed"
)

// Valid reports whether the phase is one of the known values.
func (p Phase) Valid() bool {
	switch p {
	case PhaseStaged, PhaseInstalled, PhaseRemoved, PhaseFailed:
		return true
	default:
		return false
	}
}

// State records the result of the latest rollout run on this host.
type State struct {
	// RunID is the unique identifier of the run that produced this state.
	RunID string
	// BundleVersion is the manifest version the run operated on.
	BundleVersion string
	// MinimumAgentVersion is the oldest agent version the bundle manifest
	// declares acceptable; the verifier falls back to it when no explicit
	// minimum is requested.
	MinimumAgentVersion string
	// Packages are the bundle artifacts handled by the run.
	Packages []string
	// Phase is the outcome of the run.
	Phase Phase
	// Timestamp is when the state was last changed.
	Timestamp time.Time
	// LastActor is the user who performed the run.
	LastActor *Actor
}

// Clone returns a copy of the state to avoid leaking internal references.
func (s *State) Clone() *State {
	return &State{
		RunID:               s.RunID,
		BundleVersion:       s.BundleVersion,
		MinimumAgentVersion: s.MinimumAgentVersion,
		Packages:            append([]string(nil), s.Packages...),
		Phase:               s.Phase,
		Timestamp:           s.Timestamp,
		LastActor:           s.LastActor.Clone(),
	}
}
