// Package config loads arcext configuration from a YAML file.
//
// Configuration is loaded from a single file specified by:
//   - ARCEXT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There is no discovery and no fallback file. ${VAR} and ${VAR:-default}
// references in directory and file paths are expanded.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/meigma/arcext"
	"github.com/meigma/arcext/archive"
)

// EnvVar names the environment variable Load reads the config path from.
const EnvVar = "ARCEXT_CONFIG"

// Config is the arcext configuration file.
type Config struct {
	// Mounts maps path schemes ("rom", "sd") to host directories.
	Mounts map[string]string `yaml:"mounts"`

	// Manifest configures where the module → paths mapping comes from.
	Manifest ManifestConfig `yaml:"manifest"`

	// Archive configures the host tables.
	Archive ArchiveConfig `yaml:"archive"`

	// Registration configures which paths are added to the archive.
	Registration RegistrationConfig `yaml:"registration"`

	// Queue configures the load queue.
	Queue QueueConfig `yaml:"queue"`

	// Resource configures resource loading.
	Resource ResourceConfig `yaml:"resource"`

	// Log configures diagnostics.
	Log LogConfig `yaml:"log"`
}

// ManifestConfig locates the manifest. Exactly one of File and Path is set.
type ManifestConfig struct {
	// File is a host filesystem path.
	File string `yaml:"file"`

	// Path is an archive path read through the load queue.
	// Default: rom:/hdr/file_map.json
	Path string `yaml:"path"`

	// Watch reloads File when it changes.
	Watch bool `yaml:"watch"`
}

// ArchiveConfig configures the host tables.
type ArchiveConfig struct {
	// Image is a seed image written by archive.EncodeImage. Empty starts
	// from empty tables.
	Image string `yaml:"image"`

	// ProbeConcurrency bounds concurrent size probes during extension.
	// Default: 8
	ProbeConcurrency int `yaml:"probe_concurrency"`
}

// RegistrationConfig selects the paths added to the archive on attach.
type RegistrationConfig struct {
	// Extensions lists the registered file extensions.
	// Default: [.nuanmb]
	Extensions []string `yaml:"extensions"`

	// PreregisterOn names the module whose attachment registers the paths
	// of every module.
	// Default: common
	PreregisterOn string `yaml:"preregister_on"`
}

// QueueConfig configures the load queue.
type QueueConfig struct {
	// MaxFileSize is a human-readable size such as "64MiB". Empty or "0"
	// disables the limit.
	MaxFileSize string `yaml:"max_file_size"`
}

// ResourceConfig configures resource loading.
type ResourceConfig struct {
	// Digest names the digest algorithm: sha256 or blake3.
	// Default: sha256
	Digest string `yaml:"digest"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. The config file is still
// required; defaults only fill fields it leaves out.
func Default() *Config {
	return &Config{
		Manifest: ManifestConfig{
			Path: "rom:/hdr/file_map.json",
		},
		Archive: ArchiveConfig{
			ProbeConcurrency: 8,
		},
		Registration: RegistrationConfig{
			Extensions:    []string{".nuanmb"},
			PreregisterOn: "common",
		},
		Resource: ResourceConfig{
			Digest: string(digest.SHA256),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by ARCEXT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your arcext.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, applies defaults, and expands
// variables. It does not validate; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Manifest.File != "" {
		cfg.Manifest.Path = ""
	}
	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in host paths.
func (c *Config) expandVariables() {
	for scheme, dir := range c.Mounts {
		c.Mounts[scheme] = expandVars(dir)
	}
	c.Manifest.File = expandVars(c.Manifest.File)
	c.Archive.Image = expandVars(c.Archive.Image)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Mounts) == 0 {
		errs = append(errs, errors.New("mounts: at least one mount is required"))
	}
	for scheme, dir := range c.Mounts {
		if scheme == "" || strings.ContainsAny(scheme, ":/") {
			errs = append(errs, fmt.Errorf("mounts: invalid scheme %q", scheme))
		}
		if dir == "" {
			errs = append(errs, fmt.Errorf("mounts.%s: directory is required", scheme))
		}
	}

	switch {
	case c.Manifest.File == "" && c.Manifest.Path == "":
		errs = append(errs, errors.New("manifest: file or path is required"))
	case c.Manifest.File != "" && c.Manifest.Path != "":
		errs = append(errs, errors.New("manifest: file and path are mutually exclusive"))
	case c.Manifest.Watch && c.Manifest.File == "":
		errs = append(errs, errors.New("manifest.watch requires manifest.file"))
	}

	if c.Archive.ProbeConcurrency < 0 {
		errs = append(errs, fmt.Errorf("archive.probe_concurrency: must not be negative, got %d", c.Archive.ProbeConcurrency))
	}
	if _, err := c.MaxFileSize(); err != nil {
		errs = append(errs, err)
	}
	if algo := digest.Algorithm(c.Resource.Digest); !algo.Available() {
		errs = append(errs, fmt.Errorf("resource.digest: unsupported algorithm %q", c.Resource.Digest))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MaxFileSize returns queue.max_file_size in bytes.
func (c *Config) MaxFileSize() (uint64, error) {
	if c.Queue.MaxFileSize == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Queue.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("queue.max_file_size: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("queue.max_file_size: must not be negative, got %q", c.Queue.MaxFileSize)
	}
	return uint64(n), nil
}

// LogLevel returns log.level as an slog.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Options converts the configuration into service options. The fatal
// handler, plain consumer, and logger are left to the caller.
func (c *Config) Options() ([]arcext.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	maxSize, _ := c.MaxFileSize()

	opts := []arcext.Option{
		arcext.WithMounts(c.Mounts),
		arcext.WithProbeConcurrency(c.Archive.ProbeConcurrency),
		arcext.WithRegistrationExtensions(c.Registration.Extensions...),
		arcext.WithPreregisterOn(c.Registration.PreregisterOn),
		arcext.WithMaxFileSize(maxSize),
		arcext.WithDigestAlgorithm(digest.Algorithm(c.Resource.Digest)),
	}
	if c.Archive.Image != "" {
		opts = append(opts, arcext.WithSeedImage(c.Archive.Image))
	} else {
		opts = append(opts, arcext.WithSeed(archive.Tables{}))
	}
	if c.Manifest.File != "" {
		opts = append(opts, arcext.WithManifestFile(c.Manifest.File))
		if c.Manifest.Watch {
			opts = append(opts, arcext.WithManifestWatch())
		}
	} else {
		opts = append(opts, arcext.WithManifestPath(c.Manifest.Path))
	}
	return opts, nil
}
