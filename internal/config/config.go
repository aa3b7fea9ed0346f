// Package config loads the server configuration from a YAML file with sane
// defaults for everything omitted.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig holds the cron specs for the periodic jobs.
type SchedulerConfig struct {
	Enabled              bool   `yaml:"enabled"`
	UpcomingArrivalsSpec string `yaml:"upcoming_arrivals_spec"`
	FirstAccessSpec      string `yaml:"first_access_spec"`
	CleanupSpec          string `yaml:"cleanup_spec"`
}

// IntegrationsConfig controls provider registration.
type IntegrationsConfig struct {
	// Suppress lists provider aliases that must not be registered.
	Suppress []string `yaml:"suppress"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8099",
			StaticDir: "./static",
		},
		Database: DatabaseConfig{
			Path: "/data/door-access-manager.db",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8099"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/door-access-manager.db"
	}

	return cfg, nil
}
