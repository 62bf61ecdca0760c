package installer

import (
	"crypto/sha512"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestManifestValidate covers the fields installers rely on.
func TestManifestValidate(t *testing.T) {
	t.Parallel()

	// Missing version.
	m := NewManifest("")
	require.Error(t, m.Validate())

	// Unparseable version.
	m = NewManifest("not-a-version")
	require.Error(t, m.Validate())

	// No packages.
	m = NewManifest("3.2.1001")
	require.Error(t, m.Validate())

	// Package without checksum.
	m = NewManifest("3.2.1001")
	m.Packages["CylancePROTECT.rpm"] = "CylancePROTECT"
	require.Error(t, m.Validate())

	// Complete.
	m.Files["CylancePROTECT.rpm"] = "aGFzaA=="
	require.NoError(t, m.Validate())

	// Listed sizes must be positive.
	m.Sizes["CylancePROTECT.rpm"] = 0
	require.ErrorIs(t, m.Validate(), errBadArtifactSize)

	m.Sizes["CylancePROTECT.rpm"] = 2048
	require.NoError(t, m.Validate())
}

// TestManifestPackageName checks explicit mapping and the extension fallback.
func TestManifestPackageName(t *testing.T) {
	t.Parallel()

	m := NewManifest("3.2.1001")
	m.Packages["CylancePROTECT.rpm"] = "CylancePROTECT"

	require.Equal(t, "CylancePROTECT", m.PackageName("CylancePROTECT.rpm"))
	require.Equal(t, "CylancePROTECTUI", m.PackageName("CylancePROTECTUI.rpm"))
}

// TestGetFileChecksum verifies the checksum matches a direct SHA512 of the contents.
func TestGetFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifact.rpm")
	contents := []byte("not really an rpm")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	got, err := GetFileChecksum(path)
	require.NoError(t, err)

	want := sha512.Sum512(contents)
	require.Equal(t, want[:], got)
}

// TestGetFileChecksum_MissingFile propagates the filesystem error.
func TestGetFileChecksum_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := GetFileChecksum(filepath.Join(t.TempDir(), "missing.rpm"))
	require.Error(t, err)
}
