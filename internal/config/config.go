// Package config loads service settings from defaults, an optional YAML
// file and the environment. Environment variables use the bare key name in
// upper case (PORT, DATABASE_URL, POOL_SEED, ...).
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Port              string        `mapstructure:"port"`
	LedgerBackend     string        `mapstructure:"ledger_backend"`
	LedgerFile        string        `mapstructure:"ledger_file"`
	DatabaseURL       string        `mapstructure:"database_url"`
	RedisURL          string        `mapstructure:"redis_url"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	StartingBalance   string        `mapstructure:"starting_balance"`
	PoolSeed          string        `mapstructure:"pool_seed"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	LockRetries       int           `mapstructure:"lock_retries"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	SeedDefaultMarket bool          `mapstructure:"seed_default_market"`
	LogLevel          string        `mapstructure:"log_level"`

	// Parsed from StartingBalance and PoolSeed by Load.
	Grant decimal.Decimal `mapstructure:"-"`
	Seed  decimal.Decimal `mapstructure:"-"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment are used.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("ledger_backend", "")
	v.SetDefault("ledger_file", "data/ledger.json")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", "30s")
	v.SetDefault("starting_balance", "100")
	v.SetDefault("pool_seed", "5")
	v.SetDefault("lock_timeout", "2s")
	v.SetDefault("lock_retries", 20)
	v.SetDefault("lock_ttl", "30s")
	v.SetDefault("seed_default_market", true)
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	if c.LedgerBackend == "" {
		switch {
		case c.DatabaseURL != "":
			c.LedgerBackend = BackendPostgres
		case c.RedisURL != "":
			c.LedgerBackend = BackendRedis
		default:
			c.LedgerBackend = BackendMemory
		}
	}

	switch c.LedgerBackend {
	case BackendMemory:
	case BackendFile:
		if c.LedgerFile == "" {
			return fmt.Errorf("config: ledger_file is required for the file backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config: redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown ledger_backend %q", c.LedgerBackend)
	}

	var err error
	if c.Grant, err = positive("starting_balance", c.StartingBalance); err != nil {
		return err
	}
	if c.Seed, err = positive("pool_seed", c.PoolSeed); err != nil {
		return err
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if c.LockRetries < 0 {
		return fmt.Errorf("config: lock_retries must not be negative, got %d", c.LockRetries)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("config: lock_ttl must be positive, got %s", c.LockTTL)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func positive(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s %q is not a number", name, raw)
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("config: %s must be positive, got %s", name, v)
	}
	return v, nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
