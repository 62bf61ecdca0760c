// Package version exposes build metadata for the rollout binaries.
//
// Version, Commit, and BuildTime are stamped via Go ldflags and fall back to
// placeholder values for local builds. Short doubles as the default bundle
// version in the packager; Full feeds the version subcommand.
package version
