// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/rattrap/lib/archive"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "RATTRAP_CONFIG"

// Config is the rattrap configuration file.
type Config struct {
	// Build holds defaults for "rattrap build".
	Build BuildConfig `yaml:"build"`

	// Extract holds defaults for "rattrap extract".
	Extract ExtractConfig `yaml:"extract"`

	// Serve configures "rattrap serve".
	Serve ServeConfig `yaml:"serve"`

	// Mount configures "rattrap mount".
	Mount MountConfig `yaml:"mount"`
}

// BuildConfig holds archive build defaults.
type BuildConfig struct {
	// ChunkSize is the fixed chunk length, in bytes or with a unit
	// suffix ("512KiB", "1MiB", "65536").
	ChunkSize string `yaml:"chunk_size"`

	// Compressor is one of none, zlib, zstd, lz4.
	Compressor string `yaml:"compressor"`

	// Level is the compressor level; 0 selects the codec default.
	Level int `yaml:"level"`

	// Checksum is one of none, sha256, blake3, blake2b.
	Checksum string `yaml:"checksum"`

	// Workers bounds concurrent file processing; 0 uses every CPU.
	Workers int `yaml:"workers"`

	// FailFast aborts on the first unreadable source file.
	FailFast bool `yaml:"fail_fast"`
}

// ExtractConfig holds extraction defaults.
type ExtractConfig struct {
	// Dest is the default extraction root. ${HOME} and
	// ${VAR:-default} are expanded.
	Dest string `yaml:"dest"`

	// FileMode is the octal permission of extracted files.
	FileMode string `yaml:"file_mode"`
}

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadTimeout and WriteTimeout are Go durations ("30s").
	// WriteTimeout bounds a whole response, so large downloads need
	// a generous value or "0" for none.
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	// Connections is the number of SQLite connections, bounding
	// concurrent chunk reads.
	Connections int `yaml:"connections"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// AllowOther lets users other than the mounting user read the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`

	// CacheTimeout is how long the kernel caches attributes and
	// entries. The archive is immutable, so long values are safe.
	CacheTimeout string `yaml:"cache_timeout"`
}

// Default returns the built-in configuration. Every field has a
// usable value, so rattrap runs without a config file.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			ChunkSize:  "512KiB",
			Compressor: string(archive.CodecZstd),
			Level:      0,
			Checksum:   string(archive.ChecksumSHA256),
			Workers:    0,
		},
		Extract: ExtractConfig{
			Dest:     ".",
			FileMode: "0644",
		},
		Serve: ServeConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ReadTimeout:     "30s",
			WriteTimeout:    "0",
			ShutdownTimeout: "10s",
			Connections:     0,
		},
		Mount: MountConfig{
			CacheTimeout: "1h",
		},
	}
}

// Load loads the file named by RATTRAP_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your rattrap.yaml config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// Resolve picks the config source for a command: the explicit path
// when non-empty, otherwise RATTRAP_CONFIG when set, otherwise
// Default().
func Resolve(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return LoadFile(explicitPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from path, merged over Default().
// Files ending in .json or .jsonc may contain comments and trailing
// commas; anything else is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Standard JSON is valid YAML, so one decoder and one set
		// of struct tags serve both formats.
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Extract.Dest = expandVars(c.Extract.Dest, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Build.ChunkSizeBytes(); err != nil {
		errs = append(errs, err)
	}
	codec, err := archive.ParseCodec(c.Build.Compressor)
	if err != nil {
		errs = append(errs, fmt.Errorf("build.compressor: %w", err))
	} else if err := codec.ValidateLevel(c.Build.Level); err != nil {
		errs = append(errs, fmt.Errorf("build.level: %w", err))
	}
	if _, err := archive.ParseChecksumAlgorithm(c.Build.Checksum); err != nil {
		errs = append(errs, fmt.Errorf("build.checksum: %w", err))
	}
	if c.Build.Workers < 0 {
		errs = append(errs, fmt.Errorf("build.workers must not be negative"))
	}

	if c.Extract.Dest == "" {
		errs = append(errs, fmt.Errorf("extract.dest is required"))
	}
	if _, err := c.Extract.Mode(); err != nil {
		errs = append(errs, err)
	}

	if c.Serve.Host == "" {
		errs = append(errs, fmt.Errorf("serve.host is required"))
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		errs = append(errs, fmt.Errorf("serve.port %d out of range (0..65535)", c.Serve.Port))
	}
	if c.Serve.Connections < 0 {
		errs = append(errs, fmt.Errorf("serve.connections must not be negative"))
	}
	for name, value := range map[string]string{
		"serve.read_timeout":     c.Serve.ReadTimeout,
		"serve.write_timeout":    c.Serve.WriteTimeout,
		"serve.shutdown_timeout": c.Serve.ShutdownTimeout,
		"mount.cache_timeout":    c.Mount.CacheTimeout,
	} {
		if _, err := parseDuration(name, value); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ChunkSizeBytes parses ChunkSize. Both SI ("500kB") and IEC
// ("512KiB") suffixes are accepted.
func (b BuildConfig) ChunkSizeBytes() (int, error) {
	size, err := humanize.ParseBytes(b.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("build.chunk_size: %w", err)
	}
	if size == 0 || size > archive.MaxChunkSize {
		return 0, fmt.Errorf("build.chunk_size %s out of range (1 byte..%s)",
			b.ChunkSize, humanize.IBytes(archive.MaxChunkSize))
	}
	return int(size), nil
}

// Mode parses FileMode as an octal permission.
func (e ExtractConfig) Mode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(e.FileMode, 8, 32)
	if err != nil || mode > 0o777 || mode == 0 {
		return 0, fmt.Errorf("extract.file_mode %q is not an octal permission", e.FileMode)
	}
	return os.FileMode(mode), nil
}

// Address returns host:port.
func (s ServeConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeouts returns the parsed server timeouts.
func (s ServeConfig) Timeouts() (read, write, shutdown time.Duration, err error) {
	if read, err = parseDuration("serve.read_timeout", s.ReadTimeout); err != nil {
		return
	}
	if write, err = parseDuration("serve.write_timeout", s.WriteTimeout); err != nil {
		return
	}
	shutdown, err = parseDuration("serve.shutdown_timeout", s.ShutdownTimeout)
	return
}

// Timeout returns the parsed cache timeout.
func (m MountConfig) Timeout() (time.Duration, error) {
	return parseDuration("mount.cache_timeout", m.CacheTimeout)
}

// parseDuration parses a Go duration; "0" and "" mean no timeout.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return duration, nil
}
