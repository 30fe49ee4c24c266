// Package config provides configuration management for the geolocation
// pipeline.
//
// Config file locations (priority order):
//  1. $GEOHINT_CONFIG
//  2. ./geohint.yaml
//  3. ~/.config/geohint/config.yaml
//  4. /etc/geohint/config.yaml
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none is
// found. The second return value is the path the config was loaded from.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, path, nil
}

// Save writes config to the specified path.
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation.
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./geohint.db"
	}
	if c.Rules.Path == "" {
		c.Rules.Path = "./rules.yaml"
	}
	if c.Corpus.Shards == 0 {
		c.Corpus.Shards = 1
	}
	if c.Service.RatePerSecond == 0 {
		c.Service.RatePerSecond = 8
	}
	if c.Service.Burst == 0 {
		c.Service.Burst = 16
	}
	if c.Service.MaxRetries == 0 {
		c.Service.MaxRetries = 3
	}
	if c.Verify.BaseRTTAllowanceMs == 0 {
		c.Verify.BaseRTTAllowanceMs = 9
	}
	if c.Verify.SlackFactorKmPerMs == 0 {
		c.Verify.SlackFactorKmPerMs = 100
	}
	if c.Verify.FreshnessWindow == 0 {
		c.Verify.FreshnessWindow = Duration(350 * 24 * time.Hour)
	}
	if c.Verify.PollInterval == 0 {
		c.Verify.PollInterval = Duration(10 * time.Second)
	}
	if c.Verify.MaxPollAttempts == 0 {
		c.Verify.MaxPollAttempts = 180
	}
	if c.Verify.PacketCount == 0 {
		c.Verify.PacketCount = 1
	}
	if c.Verify.MaxConcurrentCreates == 0 {
		c.Verify.MaxConcurrentCreates = 100
	}
	if c.Runner.TasksPerShard == 0 {
		c.Runner.TasksPerShard = 25
	}
	if c.Runner.BatchSize == 0 {
		c.Runner.BatchSize = 1000
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
}
