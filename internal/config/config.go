// Package config holds plotline's runtime settings and loads them from
// YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete plotline configuration.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Rules     RulesConfig     `yaml:"rules"`
	Selection SelectionConfig `yaml:"selection"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

// DataConfig locates the project database.
type DataConfig struct {
	// Dir holds plotline.db (default ~/.plotline)
	Dir string `yaml:"dir"`
	// InMemory keeps everything in memory; nothing survives a restart
	InMemory bool `yaml:"in_memory"`
}

// RulesConfig says where suggestion rules come from.
type RulesConfig struct {
	// Dir is a rule file or directory; empty uses the built-in catalogue
	Dir string `yaml:"dir"`
	// Watch reloads Dir when its files change
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// SelectionConfig tunes suggestion selection and rendering.
type SelectionConfig struct {
	MaxSuggestions int `yaml:"max_suggestions"`
	Workers        int `yaml:"workers"`
	// MissingPolicy is "omit" or "marker"
	MissingPolicy string `yaml:"missing_policy"`
	Marker        string `yaml:"marker"`
}

type DispatchConfig struct {
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// HTTPConfig configures the frontend API. An empty Addr disables it in
// serve mode.
type HTTPConfig struct {
	Addr      string        `yaml:"addr"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// RedisConfig enables cross-process notifications when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type LogConfig struct {
	// Mode is "development" or "production"
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dir := ".plotline"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".plotline")
	}
	return &Config{
		Data:      DataConfig{Dir: dir},
		Rules:     RulesConfig{Debounce: 500 * time.Millisecond},
		Selection: SelectionConfig{MaxSuggestions: 5, Workers: 8, MissingPolicy: "omit", Marker: "unspecified"},
		Dispatch:  DispatchConfig{OperationTimeout: 10 * time.Second},
		HTTP:      HTTPConfig{Addr: "127.0.0.1:8787", Heartbeat: 15 * time.Second},
		Redis:     RedisConfig{Channel: "plotline:events"},
		Log:       LogConfig{Mode: "production", Level: "info"},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Data.Dir == "" && !c.Data.InMemory {
		return fmt.Errorf("data.dir is required unless data.in_memory is set")
	}
	if c.Selection.MaxSuggestions < 1 {
		return fmt.Errorf("selection.max_suggestions must be at least 1")
	}
	if c.Selection.Workers < 1 {
		return fmt.Errorf("selection.workers must be at least 1")
	}
	switch c.Selection.MissingPolicy {
	case "omit", "marker":
	default:
		return fmt.Errorf("selection.missing_policy must be omit or marker, got %q", c.Selection.MissingPolicy)
	}
	if c.Dispatch.OperationTimeout <= 0 {
		return fmt.Errorf("dispatch.operation_timeout must be positive")
	}
	if c.Rules.Watch && c.Rules.Dir == "" {
		return fmt.Errorf("rules.watch needs rules.dir")
	}
	if c.Rules.Debounce < 0 || c.HTTP.Heartbeat < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge copies the non-zero fields of other over c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Data.Dir != "" {
		c.Data.Dir = other.Data.Dir
	}
	if other.Data.InMemory {
		c.Data.InMemory = true
	}

	if other.Rules.Dir != "" {
		c.Rules.Dir = other.Rules.Dir
	}
	if other.Rules.Watch {
		c.Rules.Watch = true
	}
	if other.Rules.Debounce != 0 {
		c.Rules.Debounce = other.Rules.Debounce
	}

	if other.Selection.MaxSuggestions != 0 {
		c.Selection.MaxSuggestions = other.Selection.MaxSuggestions
	}
	if other.Selection.Workers != 0 {
		c.Selection.Workers = other.Selection.Workers
	}
	if other.Selection.MissingPolicy != "" {
		c.Selection.MissingPolicy = other.Selection.MissingPolicy
	}
	if other.Selection.Marker != "" {
		c.Selection.Marker = other.Selection.Marker
	}

	if other.Dispatch.OperationTimeout != 0 {
		c.Dispatch.OperationTimeout = other.Dispatch.OperationTimeout
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.Heartbeat != 0 {
		c.HTTP.Heartbeat = other.HTTP.Heartbeat
	}

	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}
	if other.Redis.Channel != "" {
		c.Redis.Channel = other.Redis.Channel
	}

	if other.Log.Mode != "" {
		c.Log.Mode = other.Log.Mode
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
