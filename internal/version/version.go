package version

import "fmt"

var (
	// Version is the toolkit release, overridden via ldflags on release builds.
	Version = "1.0.0"
	// Commit is the short git SHA stamped at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC timestamp stamped at build time.
	BuildTime = "unknown"
)

// Short returns the bare version string; the packager uses it as the default
// bundle version.
func Short() string {
	return Version
}

// Full renders the version together with commit and build time for CLI output.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}
