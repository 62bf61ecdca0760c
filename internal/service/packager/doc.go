// Package packager builds the bundle manifest published alongside the agent
// artifacts: package names, base64-encoded SHA512 checksums and the bundle
// version installers verify against.
package packager
