// Package config holds all configuration types and loading logic for vloop.
// Config structure never shrinks: fields are only added, never renamed or removed.
package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a vloop process.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Looper  LooperConfig  `yaml:"looper"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig controls the slog logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// LooperConfig controls how the looper registry is built.
type LooperConfig struct {
	// MainThread names the main execution context. Scenario steps that omit
	// a thread run against it.
	MainThread string `yaml:"main_thread"`
	// IdleConstantly makes the main looper run posted work immediately.
	IdleConstantly bool `yaml:"idle_constantly"`
}

// JournalConfig controls the bbolt execution journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig controls Prometheus text output after a run.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Looper: LooperConfig{
			MainThread:     "main",
			IdleConstantly: false,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./data/journal.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run vloop with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	VLOOP_LOG_LEVEL     sets log.level
//	VLOOP_JOURNAL_PATH  sets journal.path and enables the journal
//	VLOOP_MAIN_THREAD   sets looper.main_thread
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VLOOP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("VLOOP_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
		cfg.Journal.Enabled = true
	}
	if v := os.Getenv("VLOOP_MAIN_THREAD"); v != "" {
		cfg.Looper.MainThread = v
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
		// valid
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		// valid
	default:
		return errors.New(`log.format must be "text" or "json"`)
	}
	if strings.TrimSpace(c.Looper.MainThread) == "" {
		return errors.New("looper.main_thread must not be empty")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path must not be empty when the journal is enabled")
	}
	return nil
}
