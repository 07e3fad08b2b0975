// Package config loads the port manager's configuration from environment
// variables, with an optional YAML file overlay applied first, following
// the teacher's envconfig-based Load/LoadOrDefault/Default shape.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	NamespaceDir NamespaceDirConfig
	Logging      LogConfig
	RateLimit    RateLimitConfig
	Metrics      MetricsConfig
}

// ServerConfig holds the admin HTTP/WS listener configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// NamespaceDirConfig configures the namespace-leader directory client.
type NamespaceDirConfig struct {
	BaseURL  string `envconfig:"NSDIR_BASE_URL" default:"http://localhost:9000"`
	RetryMax int    `envconfig:"NSDIR_RETRY_MAX" default:"3"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds admin API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Path    string `envconfig:"METRICS_PATH" default:"/metrics"`
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load loads configuration from environment variables, applying path's
// YAML contents as defaults first when path is non-empty. Environment
// variables always win over the file, matching envconfig's own precedence
// over its own "default" tags.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from path/environment, falling back to
// Default on any error.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		NamespaceDir: NamespaceDirConfig{
			BaseURL:  "http://localhost:9000",
			RetryMax: 3,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Metrics: MetricsConfig{
			Path:    "/metrics",
			Enabled: true,
		},
	}
}
