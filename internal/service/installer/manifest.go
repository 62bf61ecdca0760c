package installer

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/agent-deploy/internal/logger"

	// Ensure SHA512 is available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// ManifestFilename names the bundle manifest in the distribution folder.
	ManifestFilename = "agent-bundle.yaml"

	// MarkerFilename marks that an installer is running right now to avoid
	// two processes racing the package manager lock.
	MarkerFilename = "agent-deploy-marker.bin"

	// DefaultFileMode is used when staging artifacts for installation.
	DefaultFileMode os.FileMode = 0o755

	// DefaultChecksumFunction is used to calculate artifact hashes.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// installerExecutable is the binary name used for stale-marker recovery.
	installerExecutable = "agent-installer"

	// markerLifetime is the period after which a stale marker is ignored.
	markerLifetime = 30 * time.Minute

	// defaultMapCapacity is the default initial capacity for maps and slices.
	defaultMapCapacity = 8
)

var (
	errHashUnavailable   = errors.New("hash function unavailable")
	errNoBundleVersion   = errors.New("bundle version is missing")
	errBadBundleVersion  = errors.New("bundle version is not a valid semantic version")
	errNoBundlePackages  = errors.New("bundle lists no packages")
	errChecksumNotListed = errors.New("checksum missing for artifact")
	errBadArtifactSize   = errors.New("artifact size must be positive")
)

// Manifest describes a published agent bundle.
type Manifest struct {
	// VersionNumber is the semantic version of the bundle.
	VersionNumber string `yaml:"version"`
	// MinimumAgentVersion, when set, is the oldest agent version the
	// verifier accepts after installation.
	MinimumAgentVersion string `yaml:"minimum_agent_version,omitempty"`
	// Packages maps artifact file names to package database names.
	Packages map[string]string `yaml:"packages"`
	// Files maps artifact file names to their base64-encoded checksums.
	Files map[string]string `yaml:"files"`
	// Sizes maps artifact file names to their byte sizes. Optional: older
	// manifests do not carry sizes and installers skip the size check then.
	Sizes map[string]int64 `yaml:"sizes,omitempty"`
}

// NewManifest produces a Manifest initialized with empty collections.
func NewManifest(bundleVersion string) *Manifest {
	return &Manifest{
		VersionNumber: bundleVersion,
		Packages:      make(map[string]string, defaultMapCapacity),
		Files:         make(map[string]string, defaultMapCapacity),
		Sizes:         make(map[string]int64, defaultMapCapacity),
	}
}

// Validate checks the manifest for the fields installers rely on.
func (m *Manifest) Validate() error {
	if m.VersionNumber == "" {
		return errNoBundleVersion
	}

	if _, err := version.NewVersion(m.VersionNumber); err != nil {
		return fmt.Errorf("%s: %w", m.VersionNumber, errBadBundleVersion)
	}

	if len(m.Packages) == 0 {
		return errNoBundlePackages
	}

	for fileName := range m.Packages {
		if _, ok := m.Files[fileName]; !ok {
			return fmt.Errorf("%s: %w", fileName, errChecksumNotListed)
		}
	}

	for fileName, size := range m.Sizes {
		if size <= 0 {
			return fmt.Errorf("%s: %w", fileName, errBadArtifactSize)
		}
	}

	return nil
}

// PackageName returns the package database name for an artifact file.
// Falls back to the file name without extension when the manifest does not
// map it explicitly.
func (m *Manifest) PackageName(fileName string) string {
	if name, ok := m.Packages[fileName]; ok && name != "" {
		return name
	}

	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// GetFileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func GetFileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err = hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// IsInstallerRunningNow checks presence of a marker file and attempts recovery
// if it looks stale.
func IsInstallerRunningNow(ctx context.Context) bool {
	logger.Info(ctx, "Checking for the presence of an install marker")

	fileInfo, err := os.Stat(MarkerFilename)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The install marker is too old, attempting cleanup")

		if err = terminateProcessByName(installerExecutable); err != nil {
			return true
		}

		if err = os.Remove(MarkerFilename); err != nil {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		logger.Info(ctx, "Install marker not found, continuing")
		return false
	}

	logger.Infof(ctx, "Unable to read install marker: %v", err)

	return false
}

// terminateProcessByName tries to kill processes with the provided executable name.
func terminateProcessByName(processName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != processName {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}
