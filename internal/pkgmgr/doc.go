// Package pkgmgr drives the host package manager (dnf or yum) over its CLI.
//
// Every invocation's exit status is checked, cache and install operations
// are retried with exponential backoff for transient mirror failures, and
// the package database is queried through rpm.
package pkgmgr
