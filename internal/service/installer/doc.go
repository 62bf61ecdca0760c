// Package installer implements the end-to-end agent install workflow:
// write the registration file, fetch and validate the bundle manifest,
// stage checksum-verified artifacts, drive the package manager, confirm
// the result and record the rollout state.
//
// A marker file plus process scan prevents two installers from racing the
// package manager lock on the same host.
package installer
