package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ForwarderConfig is the root configuration for a forwarder instance.
type ForwarderConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Assets   []string       `yaml:"assets"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	TCP      TCPConfig      `yaml:"tcp"`
	SHM      SHMConfig      `yaml:"shm"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this forwarder.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ExchangeConfig holds the exchange endpoints and connection tuning.
type ExchangeConfig struct {
	RestURL            string        `yaml:"rest_url"`
	StreamURL          string        `yaml:"stream_url"`
	Timeout            time.Duration `yaml:"timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PongTimeout        time.Duration `yaml:"pong_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

// PipelineConfig holds the ingest→sink channel settings.
type PipelineConfig struct {
	ChannelSize int `yaml:"channel_size"`
}

// TCPConfig holds the broadcast server settings.
type TCPConfig struct {
	Port         int           `yaml:"port"`
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SHMConfig holds the shared-memory ring settings.
type SHMConfig struct {
	Name     string `yaml:"name"`
	Capacity uint64 `yaml:"capacity"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*ForwarderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg ForwarderConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*ForwarderConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*ForwarderConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for runs
// without a config file.
func Default() *ForwarderConfig {
	cfg := &ForwarderConfig{}
	cfg.ApplyDefaults()
	return cfg
}
