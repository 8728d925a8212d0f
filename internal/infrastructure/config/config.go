package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the environment variable pointing at an optional TOML file.
const FileEnv = "BRIDGE_CONFIG_FILE"

// Config holds all host configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Upstream UpstreamConfig `toml:"upstream"`
	Logging  LogConfig      `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string   `envconfig:"PORT" default:"8000" toml:"port"`
	Host         string   `envconfig:"HOST" default:"127.0.0.1" toml:"host"`
	AllowOrigins []string `envconfig:"ALLOW_ORIGINS" default:"*" toml:"allow_origins"`
}

// BridgeConfig holds per-session bridge options.
type BridgeConfig struct {
	RouteContext     bool `envconfig:"ROUTE_CONTEXT" default:"false" toml:"route_context"`
	MaxCallStackSize int  `envconfig:"MAX_CALL_STACK" default:"0" toml:"max_call_stack"`

	// Pages opened at startup, page key to URL.
	Pages map[string]string `envconfig:"PAGES" toml:"pages"`
}

// UpstreamConfig holds settings for requests continued to the network.
type UpstreamConfig struct {
	Timeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s" toml:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// Load loads configuration from BRIDGE_ prefixed environment variables.
// When BRIDGE_CONFIG_FILE is set, the file is applied on top of the
// environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("bridge", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Host:         "127.0.0.1",
			AllowOrigins: []string{"*"},
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// overlay decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("failed to parse config file %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
