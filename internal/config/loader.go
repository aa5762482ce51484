package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path, expands environment variables,
// applies defaults and validates the result. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %s: %w", path, err)
	}
	return &cfg, nil
}

// setDefaults fills in fields a partial config file left unset.
func setDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = def.Server.Listen
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if cfg.Storage.DataDir == "" && cfg.Storage.Backend == "file" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if len(cfg.Phases.Defaults) == 0 {
		cfg.Phases.Defaults = def.Phases.Defaults
	}
	if cfg.Phases.Timeout <= 0 {
		cfg.Phases.Timeout = def.Phases.Timeout
	}
	if cfg.Phases.CacheTTL <= 0 {
		cfg.Phases.CacheTTL = def.Phases.CacheTTL
	}
	if cfg.Cleanup.Interval <= 0 {
		cfg.Cleanup.Interval = def.Cleanup.Interval
	}
	if cfg.Cleanup.Retention <= 0 {
		cfg.Cleanup.Retention = def.Cleanup.Retention
	}
}
