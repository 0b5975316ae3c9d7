// Package config loads the runtime configuration of the fiber runtime and its
// tools.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// APIVersion is the only configuration schema version accepted.
const APIVersion = "tickfiber.dev/v1alpha1"

// Config is the root configuration.
type Config struct {
	APIVersion string          `yaml:"apiVersion,omitempty"`
	Clock      ClockConfig     `yaml:"clock,omitempty"`
	Scheduler  SchedulerConfig `yaml:"scheduler,omitempty"`
	Log        LogConfig       `yaml:"log,omitempty"`
	Metrics    MetricsConfig   `yaml:"metrics,omitempty"`
	History    HistoryConfig   `yaml:"history,omitempty"`
}

// ClockConfig configures the tick clock.
type ClockConfig struct {
	Resolution     Duration `yaml:"resolution,omitempty"`      // Default: 1ms
	DriverInterval Duration `yaml:"driver_interval,omitempty"` // Wall-clock wakeup period of the tick driver. Default: resolution
}

// SchedulerConfig configures the fiber scheduler.
type SchedulerConfig struct {
	StackWords   int  `yaml:"stack_words,omitempty"` // Default stack size for fibers that do not set one
	StopWhenDone bool `yaml:"stop_when_done,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text, json
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Address string `yaml:"address,omitempty"` // Default: ":9090"
}

// HistoryConfig configures the simulation run history store.
type HistoryConfig struct {
	Path     string `yaml:"path,omitempty"` // SQLite database file
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Defaults()
	return cfg
}

// Defaults fills unset fields with their default values.
func (c *Config) Defaults() {
	if c.APIVersion == "" {
		c.APIVersion = APIVersion
	}
	if c.Clock.Resolution == 0 {
		c.Clock.Resolution = Duration(time.Millisecond)
	}
	if c.Clock.DriverInterval == 0 {
		c.Clock.DriverInterval = c.Clock.Resolution
	}
	if c.Scheduler.StackWords == 0 {
		c.Scheduler.StackWords = 512
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.History.Path == "" {
		c.History.Path = "fibersim.db"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIVersion != "" && c.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion: %s (expected %s)", c.APIVersion, APIVersion)
	}
	if c.Clock.Resolution < 0 {
		return fmt.Errorf("clock.resolution must be positive")
	}
	if c.Clock.Resolution > 0 && time.Duration(c.Clock.Resolution) < time.Microsecond {
		return fmt.Errorf("clock.resolution must be at least 1µs, got %s", c.Clock.Resolution.Duration())
	}
	if c.Clock.DriverInterval < 0 {
		return fmt.Errorf("clock.driver_interval must be positive")
	}
	if c.Scheduler.StackWords < 0 {
		return fmt.Errorf("scheduler.stack_words must be >= 0")
	}
	if c.Log.Level != "" {
		if _, err := ParseLevel(c.Log.Level); err != nil {
			return err
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
