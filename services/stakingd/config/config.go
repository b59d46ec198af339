package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for stakingd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	GRPCAddress   string          `yaml:"grpc_listen"`
	PoolConfig    string          `yaml:"pool_config"`
	Archive       ArchiveConfig   `yaml:"archive"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Events        EventsConfig    `yaml:"events"`
	Faucet        FaucetConfig    `yaml:"faucet"`
	Webhook       WebhookConfig   `yaml:"webhook"`
	Log           LogConfig       `yaml:"log"`
}

// ArchiveConfig selects the SQL store receiving archived facts. DSNs with a
// postgres scheme use the postgres driver; anything else is treated as sqlite.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig controls bearer token validation. The token subject names the
// calling account.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig throttles requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// EventsConfig bounds the in-memory fact window served to stream clients.
type EventsConfig struct {
	History int `yaml:"history"`
}

// FaucetConfig enables test-token minting for local pools.
type FaucetConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MaxAmount string `yaml:"max_amount"`
}

// WebhookConfig forwards facts to an external endpoint. Deliveries are
// disabled when URL is empty.
type WebhookConfig struct {
	URL         string   `yaml:"url"`
	Secret      string   `yaml:"secret"`
	Types       []string `yaml:"types"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// LogConfig tees service logs into a rotating file when File is set.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.GRPCAddress == "" {
		cfg.GRPCAddress = ":7081"
	}
	if cfg.PoolConfig == "" {
		cfg.PoolConfig = "pool.toml"
	}
	if cfg.Archive.DSN == "" {
		cfg.Archive.DSN = "file:stakingd.sqlite"
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Events.History == 0 {
		cfg.Events.History = 2048
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
}

// Validate checks the configuration for internal consistency.
func (cfg Config) Validate() error {
	if len(strings.TrimSpace(cfg.Auth.HMACSecret)) < 32 {
		return errors.New("auth.hmac_secret must be at least 32 characters")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if cfg.Events.History < 0 {
		return errors.New("events.history must not be negative")
	}
	if strings.TrimSpace(cfg.Webhook.URL) != "" && cfg.Webhook.Secret == "" {
		return errors.New("webhook.secret required when webhook.url is set")
	}
	if cfg.Faucet.MaxAmount != "" {
		if _, err := uint256.FromDecimal(cfg.Faucet.MaxAmount); err != nil {
			return fmt.Errorf("faucet.max_amount: %w", err)
		}
	}
	return nil
}

// FaucetCap returns the per-request faucet limit, or nil when uncapped.
func (cfg Config) FaucetCap() *uint256.Int {
	if cfg.Faucet.MaxAmount == "" {
		return nil
	}
	v, err := uint256.FromDecimal(cfg.Faucet.MaxAmount)
	if err != nil {
		return nil
	}
	return v
}
