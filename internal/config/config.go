package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds rollout parameters shared by the agent-deploy binaries.
type Config struct {
	// InstallRoot is the directory owned by the installed agent.
	InstallRoot string `yaml:"install_root"`
	// TokenFileName is the registration file name inside InstallRoot.
	TokenFileName string `yaml:"token_file"`
	// TokenKey is the key of the registration entry inside the token file.
	TokenKey string `yaml:"token_key"`
	// Token is an optional registration token. Flags and the
	// AGENT_INSTALL_TOKEN environment variable take precedence over it.
	Token string `yaml:"token,omitempty"`
	// Packages are the artifact file names that make up the agent bundle.
	Packages []string `yaml:"packages"`
	// DistributionFolder is the URL or local directory hosting the bundle.
	DistributionFolder string `yaml:"distribution_folder"`
	// ManagerCommand overrides package manager auto-detection (dnf or yum).
	ManagerCommand string `yaml:"manager_command,omitempty"`
	// Timeout bounds a single external command or download.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries"`
}

const (
	// DefaultConfigFilename is the default filename for rollout settings.
	DefaultConfigFilename = "agent-deploy-settings.yaml"

	// DefaultInstallRoot is the directory the installed agent reads from.
	DefaultInstallRoot = "/opt/cylance"

	// DefaultTokenFileName is the registration file consumed by the agent.
	DefaultTokenFileName = "config_defaults.txt"

	// DefaultTokenKey is the registration entry key inside the token file.
	DefaultTokenKey = "InstallToken"

	// DefaultTimeout is the default duration for a single external command.
	DefaultTimeout = 5 * time.Minute

	// DefaultMaxRetries is the default attempt bound for transient failures.
	DefaultMaxRetries = 3

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// DefaultPackages returns the artifact names of the stock agent bundle.
func DefaultPackages() []string {
	return []string{
		"CylancePROTECT.rpm",
		"CylancePROTECTUI.rpm",
	}
}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInstallRootRequired is returned when the install root is missing or relative.
	errInstallRootRequired = errors.New("install root must be an absolute path")
	// errBadPackageName is returned when a package name contains path elements.
	errBadPackageName = errors.New("package name must be a bare file name")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may carry the registration token.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.InstallRoot == "" {
		cfg.InstallRoot = DefaultInstallRoot
	}

	if !filepath.IsAbs(cfg.InstallRoot) {
		return fmt.Errorf("%s: %w", cfg.InstallRoot, errInstallRootRequired)
	}

	if cfg.TokenFileName == "" {
		cfg.TokenFileName = DefaultTokenFileName
	}

	if cfg.TokenKey == "" {
		cfg.TokenKey = DefaultTokenKey
	}

	if len(cfg.Packages) == 0 {
		cfg.Packages = DefaultPackages()
	}

	for _, name := range cfg.Packages {
		if name == "" || name != filepath.Base(name) {
			return fmt.Errorf("%q: %w", name, errBadPackageName)
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	if cfg.DistributionFolder == "" || !isRemoteFolder(cfg.DistributionFolder) {
		return nil
	}

	if _, err := url.ParseRequestURI(cfg.DistributionFolder); err != nil {
		return fmt.Errorf("invalid distribution folder URI: %w", err)
	}

	return nil
}

// TokenFilePath returns the full path of the registration file.
func (c *Config) TokenFilePath() string {
	return filepath.Join(c.InstallRoot, c.TokenFileName)
}

// IsRemoteDistribution reports whether artifacts are downloaded rather than copied.
func (c *Config) IsRemoteDistribution() bool {
	return isRemoteFolder(c.DistributionFolder)
}

// isRemoteFolder reports whether the folder is fetched over HTTP.
func isRemoteFolder(folder string) bool {
	return strings.HasPrefix(folder, "http://") || strings.HasPrefix(folder, "https://")
}
