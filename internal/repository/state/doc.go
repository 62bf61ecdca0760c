// Package state persists the latest rollout outcome to a JSON file under the
// agent install root. It exposes a Repository interface with a file-backed
// implementation guarded by a mutex.
package state
