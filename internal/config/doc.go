// Package config defines rollout settings used by the agent-deploy binaries
// and provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the agent install root, registration token file
// layout, the bundle package list and the distribution folder location.
package config
