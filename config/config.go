// Package config loads the YAML configuration an amrpc-echo deployment
// runs from: which endpoint to bind, whether debug diagnostics are on,
// and the heartbeat interval for the demo Publish topic.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level amrpc-echo configuration document.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`
	Server  Server `yaml:"server"`
}

// Server configures the amrpc.Server the demo binary runs.
type Server struct {
	URI              string `yaml:"uri"`
	Debug            bool   `yaml:"debug"`
	HeartbeatMillis  int    `yaml:"heartbeat_millis"`
	PublishQueueSize uint   `yaml:"publish_queue_size"`
}

// Load reads and validates a Config from filename, filling in defaults
// for any field the document leaves unset.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("amrpc config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("amrpc config: parse %s: %w", filename, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("amrpc config: %s: %w", filename, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "amrpc-echo"
	}
	if cfg.Server.URI == "" {
		cfg.Server.URI = "tcp://127.0.0.1:8765"
	}
	if cfg.Server.HeartbeatMillis <= 0 {
		cfg.Server.HeartbeatMillis = 1000
	}
	if cfg.Server.PublishQueueSize == 0 {
		cfg.Server.PublishQueueSize = 16
	}
}

func validate(cfg *Config) error {
	if cfg.Server.HeartbeatMillis < 10 {
		return fmt.Errorf("server.heartbeat_millis must be at least 10, got %d", cfg.Server.HeartbeatMillis)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Default returns the hardcoded configuration the demo binary falls
// back to when no config file is available.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FileExists reports whether path names a file that can be loaded.
func FileExists(path string) bool {
	return fileExists(path)
}
