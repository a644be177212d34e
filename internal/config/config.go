// Package config loads the cascade CLI configuration file.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/roach88/cascade/internal/engine"
)

// Config holds settings shared by CLI commands. Command-line flags
// override file values.
type Config struct {
	// Budget is the scheduler's concurrency ceiling.
	Budget int
	// MaxSteps bounds scheduling passes per event.
	MaxSteps int
	// Database is the SQLite trace store path.
	Database string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string
}

type fileConfig struct {
	Budget      int    `toml:"budget"`
	MaxSteps    int    `toml:"max_steps"`
	Database    string `toml:"database"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Budget:   engine.DefaultBudget,
		MaxSteps: engine.DefaultMaxSteps,
		Database: "cascade.db",
		LogLevel: "info",
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("budget") {
		cfg.Budget = raw.Budget
	}
	if meta.IsDefined("max_steps") {
		cfg.MaxSteps = raw.MaxSteps
	}
	if meta.IsDefined("database") {
		cfg.Database = strings.TrimSpace(raw.Database)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Budget < 1 {
		return fmt.Errorf("budget must be at least 1, got %d", c.Budget)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}
