// Package config provides YAML configuration loading and validation for
// mandrake: read the file, unmarshal, apply defaults for omitted fields,
// then validate, with errors.Join collecting every validation failure
// rather than stopping at the first.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for mandrake.
type Config struct {
	// Harness is the path to the harness binary used by the `code`
	// subcommand to execute raw machine code. Required only when tracing
	// raw code rather than an ELF.
	Harness string `yaml:"harness"`

	// SnippetLength is the number of bytes captured alongside each
	// analyzed value. Defaults to 64 when omitted.
	SnippetLength int `yaml:"snippet_length"`

	// MinimumViableString is the length, in bytes, that a decoded byte run
	// must strictly exceed to be accepted as a string. Defaults to 6 when
	// omitted.
	MinimumViableString int `yaml:"minimum_viable_string"`

	// MaxInstructions caps the number of single-steps a trace will take
	// before it is forcibly stopped. Defaults to 1024 when omitted.
	MaxInstructions int `yaml:"max_instructions"`

	// CaptureStdout and CaptureStderr control whether the tracee's output
	// streams are captured into the Output record. Both default to true.
	CaptureStdout *bool `yaml:"capture_stdout"`
	CaptureStderr *bool `yaml:"capture_stderr"`

	// FollowExecSyscalls is accepted but not implemented: mandrake traces
	// only the initially exec'd image.
	FollowExecSyscalls bool `yaml:"follow_exec_syscalls"`

	// Visibility selects which instruction addresses are recorded.
	Visibility VisibilityConfig `yaml:"visibility"`

	// Archive configures the optional local trace archive.
	Archive ArchiveConfig `yaml:"archive"`

	// API configures the optional read-only REST query server.
	API APIConfig `yaml:"api"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// VisibilityConfig mirrors visibility.Configuration, plus a named preset,
// so a config file can express the same filters the --hidden-address and
// --visible-address command-line flags do.
type VisibilityConfig struct {
	Preset         string  `yaml:"preset"` // "full" (default) or "harness"
	HiddenAddress  *uint64 `yaml:"hidden_address"`
	HiddenMask     *uint64 `yaml:"hidden_mask"`
	VisibleAddress *uint64 `yaml:"visible_address"`
	VisibleMask    *uint64 `yaml:"visible_mask"`
}

// ArchiveConfig configures the local SQLite trace archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // defaults to "mandrake.db" when enabled
}

// APIConfig configures the optional REST query server.
type APIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ListenAddr   string `yaml:"listen_addr"`    // defaults to "127.0.0.1:8420"
	JWTPublicKey string `yaml:"jwt_public_key"` // path to a PEM RSA public key; auth disabled when empty
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVisibilityPresets = map[string]bool{
	"":        true,
	"full":    true,
	"harness": true,
}

// Load reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all fields. Its validation error describes every
// failure encountered, not just the first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func boolPtr(b bool) *bool { return &b }

func applyDefaults(cfg *Config) {
	if cfg.SnippetLength == 0 {
		cfg.SnippetLength = 64
	}
	if cfg.MinimumViableString == 0 {
		cfg.MinimumViableString = 6
	}
	if cfg.MaxInstructions == 0 {
		cfg.MaxInstructions = 1024
	}
	if cfg.CaptureStdout == nil {
		cfg.CaptureStdout = boolPtr(true)
	}
	if cfg.CaptureStderr == nil {
		cfg.CaptureStderr = boolPtr(true)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Visibility.Preset == "" {
		cfg.Visibility.Preset = "full"
	}
	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		cfg.Archive.Path = "mandrake.db"
	}
	if cfg.API.Enabled && cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = "127.0.0.1:8420"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.SnippetLength < 0 {
		errs = append(errs, errors.New("snippet_length must not be negative"))
	}
	if cfg.MinimumViableString < 0 {
		errs = append(errs, errors.New("minimum_viable_string must not be negative"))
	}
	if cfg.MaxInstructions <= 0 {
		errs = append(errs, errors.New("max_instructions must be positive"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validVisibilityPresets[cfg.Visibility.Preset] {
		errs = append(errs, fmt.Errorf("visibility.preset %q must be one of: full, harness", cfg.Visibility.Preset))
	}

	return errors.Join(errs...)
}
