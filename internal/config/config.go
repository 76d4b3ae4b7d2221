// Package config handles reading and writing .trellis/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .trellis/config.yaml.
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Sessions    SessionConfig     `yaml:"sessions"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig controls the HTTP front-end.
type ServerConfig struct {
	Addr string `yaml:"addr"` // listen address; empty means 127.0.0.1:0
}

// SessionConfig bounds session storage.
type SessionConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	MaxSessionBytes int           `yaml:"max_session_bytes"` // serialized history size cap
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Timeout         time.Duration `yaml:"timeout"` // max time without progress before a session is failed
}

// ExecutionConfig controls parallel step execution behaviour.
type ExecutionConfig struct {
	MaxParallel         int           `yaml:"max_parallel"`
	UpdateStrategy      string        `yaml:"update_strategy"` // immediate | batched | checkpoint
	DeadlockGracePeriod time.Duration `yaml:"deadlock_grace_period"`
	GroupRetention      time.Duration `yaml:"group_retention"`
}

// PersistenceConfig selects the optional persistence backend.
type PersistenceConfig struct {
	Backend string `yaml:"backend"` // none | sqlite | redis
	DSN     string `yaml:"dsn"`     // file path for sqlite, address for redis
}

// LogConfig controls the diagnostic logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

const configDir = ".trellis"
const configFile = "config.yaml"

// ReadConfig reads .trellis/config.yaml from the given project directory.
// dir is the project root (not .trellis/ itself).
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .trellis/config.yaml in the given project
// directory. Creates the .trellis/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr: "127.0.0.1:0",
		},
		Sessions: SessionConfig{
			MaxSessions:     100,
			MaxSessionBytes: 1 << 20, // 1 MiB of serialized history
			TTL:             time.Hour,
			CleanupInterval: time.Minute,
			Timeout:         10 * time.Minute,
		},
		Execution: ExecutionConfig{
			MaxParallel:         5,
			UpdateStrategy:      "immediate",
			DeadlockGracePeriod: 5 * time.Second,
			GroupRetention:      30 * time.Minute,
		},
		Persistence: PersistenceConfig{
			Backend: "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
