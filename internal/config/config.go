// Package config loads the Observer's own runtime knobs: log level, output
// coloring, the reporting-channel dial timeout, and whether batched reports
// may be zstd-compressed. It never holds FAM content — the FAM is a
// separate, load-once-per-process artifact handled by package fam.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/ShikeChen-MS/BuildXL/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var cfgLog = logger.New("config")

// EnvPreloadVar and EnvFAMPathVar are the two environment variables the
// Observer recognizes across exec boundaries. Their names are fixed at
// build time, not configurable per process, so that a child process always
// knows what to look for regardless of which parent injected them.
const (
	EnvPreloadVar = "__BUILDXL_OBSERVER_PRELOAD"
	EnvFAMPathVar = "__BUILDXL_OBSERVER_FAM"
)

// Config holds the Observer's runtime configuration, loaded once at process
// init from environment variables and, for the cmd/tracer-helper binary
// only, an optional YAML sidecar.
type Config struct {
	LogLevel        string        `yaml:"log_level" envconfig:"BUILDXL_OBSERVER_LOG_LEVEL" default:"info"`
	NoColor         bool          `yaml:"no_color" envconfig:"BUILDXL_OBSERVER_NO_COLOR"`
	DialTimeout     time.Duration `yaml:"dial_timeout" envconfig:"BUILDXL_OBSERVER_DIAL_TIMEOUT" default:"5s" validate:"gt=0"`
	CompressReports bool          `yaml:"compress_reports" envconfig:"BUILDXL_OBSERVER_COMPRESS_REPORTS"`
	// FAMPath and ChannelPath are read from EnvFAMPathVar and a channel-path
	// suffix of it respectively; they are not independently configurable
	// via YAML because they must match what the Lifecycle Tracker injects
	// into execs (internal/lifecycle/env.go).
	FAMPath     string `yaml:"-" envconfig:"-"`
	ChannelPath string `yaml:"-" envconfig:"-"`
}

var validate = validator.New()

// Default returns the configuration an Observer falls back to when no
// environment override is present.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		DialTimeout: 5 * time.Second,
	}
}

// FromEnvironment loads the Config from environment variables and resolves
// FAMPath/ChannelPath from EnvFAMPathVar. It does not call Validate — callers
// apply CLI overrides first, then call Validate themselves, so a flag like
// --no-color can still win over an environment default before validation runs.
func FromEnvironment() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load observer config from environment: %w", err)
	}

	famPath := os.Getenv(EnvFAMPathVar)
	cfg.FAMPath = famPath
	if famPath != "" {
		cfg.ChannelPath = famPath + ".channel"
	}

	return cfg, nil
}

// LoadYAML merges a YAML sidecar on top of cfg, for the tracer-helper CLI
// (its -config flag) where a developer wants to pin settings without
// exporting environment variables. Unknown fields are rejected.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the Config and applies the log level / color settings to
// the global logger. Call after any CLI/YAML overrides have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.FAMPath == "" {
		cfgLog.Warn("no FAM path set (%s unset); Observer will run with an empty deny-nothing policy", EnvFAMPathVar)
	}

	logger.SetGlobalLevelFromString(c.LogLevel)
	logger.SetColored(!c.NoColor)
	return nil
}
