// Package verifier proves the install outcome on a host: the registration
// file carries the literal token line, every bundle package is present in
// the package database, and optional version and process conditions hold.
// All failures are reported together rather than one at a time.
package verifier
