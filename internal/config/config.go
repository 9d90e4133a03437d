// Package config defines the runtime configuration and its YAML loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

const DefaultFileName = "tbwo.yaml"

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	Execution ExecutionConfig `yaml:"execution"`
	Approvals ApprovalsConfig `yaml:"approvals"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type BusConfig struct {
	MaxLogEntries int `yaml:"max_log_entries"`
}

type ExecutionConfig struct {
	MaxConcurrentPhases int `yaml:"max_concurrent_phases"`
	TelemetryBufferSize int `yaml:"telemetry_buffer_size"`
}

type ApprovalsConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

func Default() Config {
	return Config{
		Store:     StoreConfig{Path: filepath.Join(".tbwo", "tbwo.db")},
		Bus:       BusConfig{MaxLogEntries: 1000},
		Execution: ExecutionConfig{MaxConcurrentPhases: 3, TelemetryBufferSize: 100},
		Approvals: ApprovalsConfig{Dir: filepath.Join(".tbwo", "approvals")},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path, filling unset fields with defaults.
// A missing file is not an error; defaults apply wholesale.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Bus.MaxLogEntries <= 0 {
		c.Bus.MaxLogEntries = def.Bus.MaxLogEntries
	}
	if c.Execution.MaxConcurrentPhases <= 0 {
		c.Execution.MaxConcurrentPhases = def.Execution.MaxConcurrentPhases
	}
	if c.Execution.TelemetryBufferSize <= 0 {
		c.Execution.TelemetryBufferSize = def.Execution.TelemetryBufferSize
	}
	if c.Approvals.Dir == "" {
		c.Approvals.Dir = def.Approvals.Dir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Write saves the config as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
