// Package deploy contains core domain types for the rollout business logic.
//
// It defines Actor (who ran the rollout), Phase (run outcome) and State (the
// latest rollout result on a host) with Clone helpers to avoid leaking
// internal references.
package deploy
