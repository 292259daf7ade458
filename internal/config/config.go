// ABOUTME: Configuration loading and parsing for coven-inbox
// ABOUTME: YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "COVEN_INBOX_CONFIG"

// Default values applied to fields the file leaves empty.
const (
	DefaultHTTPAddr             = "127.0.0.1:8090"
	DefaultDatabaseDriver       = "sqlite"
	DefaultDatabasePath         = "./coven-inbox.db"
	DefaultTokenTTL             = 24 * time.Hour
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
	DefaultChannelBuffer        = 64
	DefaultDedupeTTL            = 10 * time.Minute
	DefaultDedupeMaxSize        = 10000
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// Config represents the complete coven-inbox configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Channel  ChannelConfig  `yaml:"channel" toml:"channel"`
	Dedupe   DedupeConfig   `yaml:"dedupe" toml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the reference backend's listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects the SQLite driver and file
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds channel token configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// ChannelConfig holds push channel tuning
type ChannelConfig struct {
	ReconnectInterval    time.Duration `yaml:"-" toml:"-"`
	MaxReconnectInterval time.Duration `yaml:"-" toml:"-"`
	BufferSize           int           `yaml:"buffer_size" toml:"buffer_size"`

	// Raw string values for unmarshaling
	ReconnectIntervalRaw    string `yaml:"reconnect_interval" toml:"reconnect_interval"`
	MaxReconnectIntervalRaw string `yaml:"max_reconnect_interval" toml:"max_reconnect_interval"`
}

// DedupeConfig bounds the pushed-message redelivery filter
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ResolvePath picks the config file to load.
// Priority: flag > COVEN_INBOX_CONFIG > XDG_CONFIG_HOME/coven/inbox.yaml > ~/.config/coven/inbox.yaml
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "inbox.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "inbox.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Channel.ReconnectInterval == 0 {
		c.Channel.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Channel.MaxReconnectInterval == 0 {
		c.Channel.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if c.Channel.BufferSize == 0 {
		c.Channel.BufferSize = DefaultChannelBuffer
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Channel.ReconnectInterval < 0 || c.Channel.MaxReconnectInterval < 0 {
		return fmt.Errorf("channel reconnect intervals must be positive")
	}
	if c.Channel.MaxReconnectInterval < c.Channel.ReconnectInterval {
		return fmt.Errorf("channel.max_reconnect_interval (%s) is below channel.reconnect_interval (%s)",
			c.Channel.MaxReconnectInterval, c.Channel.ReconnectInterval)
	}
	if c.Channel.BufferSize < 0 {
		return fmt.Errorf("channel.buffer_size must be positive")
	}
	if c.Dedupe.TTL < 0 || c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.ttl and dedupe.max_size must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"channel.reconnect_interval", cfg.Channel.ReconnectIntervalRaw, &cfg.Channel.ReconnectInterval},
		{"channel.max_reconnect_interval", cfg.Channel.MaxReconnectIntervalRaw, &cfg.Channel.MaxReconnectInterval},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
