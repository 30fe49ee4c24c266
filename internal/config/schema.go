package config

import (
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Version  int            `yaml:"version"`
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	Rules    RulesConfig    `yaml:"rules"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Anchors  AnchorsConfig  `yaml:"anchors"`
	Service  ServiceConfig  `yaml:"service"`
	Verify   VerifyConfig   `yaml:"verify"`
	Runner   RunnerConfig   `yaml:"runner"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RulesConfig points at the naming-rule source file.
type RulesConfig struct {
	Path string `yaml:"path"`
	// SkipHexEncoded drops domains whose name embeds their own address
	// hex-encoded before matching.
	SkipHexEncoded bool `yaml:"skip_hex_encoded"`
}

// CorpusConfig describes the location inventory and the sharded domain
// corpus.
type CorpusConfig struct {
	LocationsPath string `yaml:"locations_path"`
	// ShardPattern is the shard file path with a {} placeholder for the
	// shard index.
	ShardPattern string `yaml:"shard_pattern"`
	Shards       int    `yaml:"shards"`
	// DNSServer resolves addresses missing from the corpus ("host:port").
	DNSServer string `yaml:"dns_server,omitempty"`
}

// AnchorsConfig lists the fixed reference vantages.
type AnchorsConfig struct {
	SSH []SSHAnchorConfig `yaml:"ssh,omitempty"`
	// Local enables an nmap-based vantage on the machine running the
	// pipeline, at the given coordinates.
	Local *LocalAnchorConfig `yaml:"local,omitempty"`
}

// SSHAnchorConfig describes one SSH-reachable vantage.
type SSHAnchorConfig struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port,omitempty"`
	User        string   `yaml:"user"`
	KeyFile     string   `yaml:"key_file,omitempty"`
	Password    string   `yaml:"password,omitempty"`
	Lat         float64  `yaml:"lat"`
	Lon         float64  `yaml:"lon"`
	PacketCount int      `yaml:"packet_count,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
}

// LocalAnchorConfig describes the local vantage.
type LocalAnchorConfig struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// ServiceConfig holds probing-service client settings.
type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key,omitempty"`
	// RatePerSecond and Burst tune the shared request token bucket.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	MaxRetries    int     `yaml:"max_retries"`
}

// VerifyConfig tunes the verification rules.
type VerifyConfig struct {
	BaseRTTAllowanceMs   float64  `yaml:"base_rtt_allowance_ms"`
	SlackFactorKmPerMs   float64  `yaml:"slack_factor_km_per_ms"`
	FreshnessWindow      Duration `yaml:"freshness_window"`
	PollInterval         Duration `yaml:"poll_interval"`
	MaxPollAttempts      int      `yaml:"max_poll_attempts"`
	PacketCount          int      `yaml:"packet_count"`
	MaxConcurrentCreates int64    `yaml:"max_concurrent_creates"`
	// BlockedTargets are addresses known to be not worth measuring.
	BlockedTargets []string `yaml:"blocked_targets,omitempty"`
}

// RunnerConfig tunes corpus execution.
type RunnerConfig struct {
	TasksPerShard int64 `yaml:"tasks_per_shard"`
	BatchSize     int   `yaml:"batch_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped duration, or fallback when unset.
func (d Duration) Std(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}
