package packager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/agent-deploy/internal/config"
	"github.com/oshokin/agent-deploy/internal/logger"
	"github.com/oshokin/agent-deploy/internal/service/installer"
	"github.com/oshokin/agent-deploy/internal/version"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to persist rollout settings.
	ConfigPath string
	// BundleDir is the directory holding the built artifacts.
	BundleDir string
	// DistributionFolder is where the bundle will be published.
	DistributionFolder string
	// BundleVersion overrides the build version stamped into the manifest.
	BundleVersion string
	// MinimumAgentVersion, when set, is recorded for verifiers.
	MinimumAgentVersion string
	// Packages overrides the artifact list from settings.
	Packages []string
	// Pattern, when set, discovers artifacts in the bundle dir by glob
	// instead of requiring an explicit package list.
	Pattern string
}

// packager prepares the bundle manifest for distribution.
// It is unexported—callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg holds the rollout configuration persisted for installers.
	cfg *config.Config
	// cfgFilename is the path where configuration is saved.
	cfgFilename string
	// bundleDir is where artifacts are read and the manifest is written.
	bundleDir string
	// manifest is the bundle description being built.
	manifest *installer.Manifest
}

var (
	// errInstallerRunning indicates a manifest was requested while an install is in progress.
	errInstallerRunning = errors.New("the installer is running now")
	// errNoArtifactsMatched indicates a discovery pattern found nothing to package.
	errNoArtifactsMatched = errors.New("no artifacts matched the pattern")
)

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "agent-packager")

	packages := opts.Packages
	if opts.Pattern != "" {
		discovered, err := discoverPackages(opts.BundleDir, opts.Pattern)
		if err != nil {
			return err
		}

		packages = discovered
	}

	cfg := &config.Config{
		DistributionFolder: opts.DistributionFolder,
		Packages:           packages,
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	pkg, err := newPackager(ctx, opts, cfg)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	if err = pkg.Run(ctx); err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return nil
}

// newPackager creates a packager with the provided settings and bundle location.
func newPackager(ctx context.Context, opts *Options, cfg *config.Config) (*packager, error) {
	if installer.IsInstallerRunningNow(ctx) {
		return nil, errInstallerRunning
	}

	if err := config.Save(opts.ConfigPath, cfg); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	bundleVersion := opts.BundleVersion
	if bundleVersion == "" {
		bundleVersion = version.Short()
	}

	manifest := installer.NewManifest(bundleVersion)
	manifest.MinimumAgentVersion = opts.MinimumAgentVersion

	bundleDir := opts.BundleDir
	if bundleDir == "" {
		bundleDir = "."
	}

	return &packager{
		cfg:         cfg,
		cfgFilename: opts.ConfigPath,
		bundleDir:   bundleDir,
		manifest:    manifest,
	}, nil
}

// discoverPackages lists artifact file names in the bundle dir matching the glob pattern.
func discoverPackages(bundleDir, pattern string) ([]string, error) {
	if bundleDir == "" {
		bundleDir = "."
	}

	matches, err := filepath.Glob(filepath.Join(bundleDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("discover artifacts: %w", err)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%s: %w", pattern, errNoArtifactsMatched)
	}

	names := make([]string, 0, len(matches))
	for _, match := range matches {
		names = append(names, filepath.Base(match))
	}

	sort.Strings(names)

	return names, nil
}

// Run populates and writes the bundle manifest to disk.
func (p *packager) Run(ctx context.Context) error {
	logger.Info(ctx, "Preparing bundle manifest")

	if err := p.fillManifest(); err != nil {
		return err
	}

	manifestPath := filepath.Join(p.bundleDir, installer.ManifestFilename)
	logger.InfoKV(ctx, "Saving bundle manifest", "path", manifestPath)

	if err := p.saveManifest(manifestPath); err != nil {
		return err
	}

	p.printNextSteps(ctx)

	return nil
}

// fillManifest records package names, checksums and sizes into the manifest.
func (p *packager) fillManifest() error {
	for _, fileName := range p.cfg.Packages {
		artifactPath := filepath.Join(p.bundleDir, fileName)

		info, err := os.Stat(artifactPath)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", artifactPath, os.ErrNotExist)
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", artifactPath, err)
		}

		checksum, err := installer.GetFileChecksum(artifactPath)
		if err != nil {
			return err
		}

		p.manifest.Packages[fileName] = strings.TrimSuffix(fileName, filepath.Ext(fileName))
		p.manifest.Files[fileName] = base64.StdEncoding.EncodeToString(checksum)
		p.manifest.Sizes[fileName] = info.Size()
	}

	return p.manifest.Validate()
}

// saveManifest writes the manifest next to the artifacts.
func (p *packager) saveManifest(path string) error {
	contents, err := yaml.Marshal(p.manifest)
	if err != nil {
		return err
	}

	return os.WriteFile(path, contents, config.DefaultFilePermissions)
}

// printNextSteps logs human-readable guidance for publishing the bundle.
func (p *packager) printNextSteps(ctx context.Context) {
	files := make([]string, 0, len(p.manifest.Files)+1)
	for fileName := range p.manifest.Files {
		files = append(files, fileName)
	}

	files = append(files, installer.ManifestFilename)
	sort.Strings(files)

	var builder strings.Builder

	builder.WriteString("You should upload the following files to the folder ")
	builder.WriteString(p.cfg.DistributionFolder)
	builder.WriteString(":\n")
	builder.WriteString(strings.Join(files, ",\n"))
	builder.WriteString("\n\nOn each endpoint, run: agent-installer --token <registration token>")

	logger.Info(ctx, builder.String())
}
