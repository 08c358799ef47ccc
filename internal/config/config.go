// Package config loads and validates application configuration from YAML
// or TOML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Rig           RigConfig           `yaml:"rig" toml:"rig"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout" toml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors" toml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" toml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" toml:"max_age"`
}

// RigConfig describes the event channel to the recording rig controller.
type RigConfig struct {
	URL          string        `yaml:"url" toml:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	AckTimeout   time.Duration `yaml:"ack_timeout" toml:"ack_timeout"`
	ReconnectMin time.Duration `yaml:"reconnect_min" toml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max" toml:"reconnect_max"`
}

// AuthConfig describes operator authentication. When disabled the console
// runs open, which is the usual setup on an isolated rig network.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Secret   string `yaml:"secret" toml:"secret"`
	Issuer   string `yaml:"issuer" toml:"issuer"`
	Audience string `yaml:"audience" toml:"audience"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level" toml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing" toml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id"},
				MaxAge: 86400,
			},
		},
		Rig: RigConfig{
			URL:          "ws://localhost:5000/socket",
			DialTimeout:  10 * time.Second,
			AckTimeout:   10 * time.Second,
			ReconnectMin: 1 * time.Second,
			ReconnectMax: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML or TOML config file (picked by extension), applies
// environment variable overrides, and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported extension %q in %s", ext, path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Rig.URL == "" {
		errs = append(errs, "rig.url is required")
	} else if !strings.HasPrefix(c.Rig.URL, "ws://") && !strings.HasPrefix(c.Rig.URL, "wss://") {
		errs = append(errs, "rig.url must be a ws:// or wss:// URL")
	}
	if c.Rig.AckTimeout <= 0 {
		errs = append(errs, "rig.ack_timeout must be positive")
	}
	if c.Rig.ReconnectMin > c.Rig.ReconnectMax {
		errs = append(errs, "rig.reconnect_min must not exceed rig.reconnect_max")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required when auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads SAVIOUR_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SAVIOUR_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SAVIOUR_RIG_URL"); v != "" {
		cfg.Rig.URL = v
	}
	if v := os.Getenv("SAVIOUR_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("SAVIOUR_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
