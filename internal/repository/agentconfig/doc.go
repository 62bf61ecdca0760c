// Package agentconfig owns the configuration file the installed agent reads
// at startup (key=value lines, most importantly InstallToken). Writes are
// atomic and keep restrictive permissions because the file carries the
// registration token.
package agentconfig
