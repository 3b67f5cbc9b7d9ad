// Package config loads the scheduler's operational parameters from a
// YAML file, overlaying whatever the file sets onto a built-in default
// so a partial or missing config still produces a usable Config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scheduler mirrors scheduler.Config's YAML-facing shape.
type Scheduler struct {
	AverageLoad     float64 `yaml:"average_load"`
	MaxProcesses    *int    `yaml:"max_processes"`
	MinReportedTime int     `yaml:"min_reported_time_seconds"`
	LoadCheck       bool    `yaml:"load_check"`
}

// Failures mirrors scheduler.Options' failure-cap fields.
type Failures struct {
	MaxFails         int  `yaml:"max_fails"`
	ValgrindMode     bool `yaml:"valgrind_mode"`
	ValgrindMaxFails int  `yaml:"valgrind_max_fails"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the top-level document loaded from --config.
type Config struct {
	Scheduler Scheduler `yaml:"scheduler"`
	Failures  Failures  `yaml:"failures"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Default returns the scheduler's built-in defaults, used when the
// config file cannot be loaded and applied to fill any fields a partial
// file leaves unset.
func Default() Config {
	return Config{
		Scheduler: Scheduler{
			AverageLoad:     64.0,
			MaxProcesses:    nil,
			MinReportedTime: 10,
			LoadCheck:       true,
		},
		Failures: Failures{
			MaxFails:         100,
			ValgrindMode:     false,
			ValgrindMaxFails: 5,
		},
		Metrics: Metrics{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Load reads and parses a YAML config file at path, overlaying it onto
// Default() so a partial file is valid.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// MinReportedTimeDuration converts the YAML seconds field to a
// time.Duration.
func (c Config) MinReportedTimeDuration() time.Duration {
	return time.Duration(c.Scheduler.MinReportedTime) * time.Second
}
