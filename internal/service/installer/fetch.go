package installer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/agent-deploy/internal/logger"
)

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errNoChecksum    = errors.New("checksum missing for file")
	errSizeMismatch  = errors.New("artifact size does not match the manifest")
)

// fetchManifest downloads and parses the bundle manifest from the
// distribution folder.
func (r *runner) fetchManifest(ctx context.Context) error {
	data, err := r.readDistributionFile(ctx, ManifestFilename)
	if err != nil {
		return fmt.Errorf("fetch bundle manifest: %w", err)
	}

	var m Manifest
	if err = yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse bundle manifest: %w", err)
	}

	if err = m.Validate(); err != nil {
		return fmt.Errorf("validate bundle manifest: %w", err)
	}

	r.manifest = &m

	return nil
}

// stagePackages places every configured artifact into a fresh staging
// directory, enforcing the manifest checksum while applying.
func (r *runner) stagePackages(ctx context.Context) error {
	stagingDirectory, err := os.MkdirTemp("", "agent-deploy-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	r.stagingDirectory = stagingDirectory

	for _, fileName := range r.cfg.Packages {
		if err = r.stageArtifact(ctx, fileName); err != nil {
			return fmt.Errorf("stage %s: %w", fileName, err)
		}
	}

	return nil
}

// stageArtifact fetches a single artifact and applies it into the staging
// directory with checksum enforcement.
func (r *runner) stageArtifact(ctx context.Context, fileName string) error {
	checksumBase64, ok := r.manifest.Files[fileName]
	if !ok {
		return fmt.Errorf("%s: %w", fileName, errNoChecksum)
	}

	checksum, err := base64.StdEncoding.DecodeString(checksumBase64)
	if err != nil {
		return fmt.Errorf("decode checksum: %w", err)
	}

	data, err := r.readDistributionFile(ctx, fileName)
	if err != nil {
		return err
	}

	if size, ok := r.manifest.Sizes[fileName]; ok && int64(len(data)) != size {
		return fmt.Errorf("%s: got %d bytes, manifest lists %d: %w",
			fileName, len(data), size, errSizeMismatch)
	}

	stagedName := filepath.Clean(filepath.Join(r.stagingDirectory, fileName))

	// An empty target must exist before go-update can swap it in.
	if _, err = os.Stat(stagedName); err != nil && os.IsNotExist(err) {
		var target *os.File
		if target, err = os.Create(stagedName); err != nil {
			return err
		}

		if err = target.Close(); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: stagedName,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("verify and stage: %w", err)
	}

	oldName := stagedName + ".old"
	if _, err = os.Stat(oldName); err == nil {
		_ = os.Remove(oldName)
	}

	r.stagedFiles[fileName] = stagedName
	logger.InfoKV(ctx, "Staged artifact", "file", fileName, "path", stagedName)

	return nil
}

// readDistributionFile loads a file from the distribution folder, which is
// either an HTTP(S) URL or a local directory.
func (r *runner) readDistributionFile(ctx context.Context, fileName string) ([]byte, error) {
	if r.cfg.IsRemoteDistribution() {
		return r.readRemoteFile(ctx, fileName)
	}

	contents, err := os.ReadFile(filepath.Clean(filepath.Join(r.cfg.DistributionFolder, fileName)))
	if err != nil {
		return nil, fmt.Errorf("read distribution file: %w", err)
	}

	return contents, nil
}

// readRemoteFile fetches a file from the distribution URL.
func (r *runner) readRemoteFile(ctx context.Context, fileName string) ([]byte, error) {
	distributionURL, err := url.Parse(r.cfg.DistributionFolder)
	if err != nil {
		return nil, err
	}

	// Use path.Join to normalize duplicate slashes when composing the URL path.
	distributionURL.Path = path.Join(distributionURL.Path, fileName)
	finalURL := distributionURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	return io.ReadAll(response.Body)
}
