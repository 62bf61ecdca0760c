// Package uninstaller removes the agent bundle packages from a host and,
// on request, the registration file and rollout state left behind by the
// installer.
package uninstaller
