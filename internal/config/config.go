package config

import (
	"fmt"
	"time"

	"bytemomo/redstorm/internal/adapter/mqttpub"
	"bytemomo/redstorm/internal/cleanup"
	"bytemomo/redstorm/internal/entity"
)

// Config is the top-level server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Phases  PhasesConfig  `yaml:"phases"`
	Events  EventsConfig  `yaml:"events"`
	Cleanup CleanupConfig `yaml:"cleanup"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // file, memory
	DataDir string `yaml:"data_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`
}

type PhasesConfig struct {
	Defaults []string                  `yaml:"defaults"`
	Timeout  time.Duration             `yaml:"timeout"`
	CacheTTL time.Duration             `yaml:"cache_ttl"`
	Options  map[string]map[string]any `yaml:"options"`
}

type EventsConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`
	mqttpub.Config `yaml:",inline"`
}

type CleanupConfig struct {
	Enabled bool `yaml:"enabled"`
	cleanup.Config `yaml:",inline"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8000",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: "data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Phases: PhasesConfig{
			Defaults: entity.DefaultPhases(),
			Timeout:  5 * time.Minute,
			CacheTTL: time.Hour,
		},
		Cleanup: CleanupConfig{
			Enabled: true,
			Config:  cleanup.DefaultConfig(),
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	switch c.Storage.Backend {
	case "file", "memory":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"memory\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "file" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required for the file backend")
	}
	if len(c.Phases.Defaults) == 0 {
		return fmt.Errorf("phases.defaults must not be empty")
	}
	if c.Phases.Timeout <= 0 {
		return fmt.Errorf("phases.timeout must be positive")
	}
	if c.Events.MQTT.Enabled && c.Events.MQTT.Broker == "" {
		return fmt.Errorf("events.mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
