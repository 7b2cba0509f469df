package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// clearEnv blanks every variable Load reads. Empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LEDGER_BACKEND", "LEDGER_FILE", "DATABASE_URL", "REDIS_URL",
		"CACHE_TTL", "STARTING_BALANCE", "POOL_SEED", "LOCK_TIMEOUT",
		"LOCK_RETRIES", "LOCK_TTL", "SEED_DEFAULT_MARKET", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.LedgerBackend != BackendMemory {
		t.Errorf("expected memory backend without urls, got %s", cfg.LedgerBackend)
	}
	if !cfg.Grant.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected grant 100, got %s", cfg.Grant)
	}
	if !cfg.Seed.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected seed 5, got %s", cfg.Seed)
	}
	if cfg.LockTimeout != 2*time.Second || cfg.LockRetries != 20 {
		t.Errorf("unexpected lock settings %s / %d", cfg.LockTimeout, cfg.LockRetries)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Errorf("expected lock ttl 30s, got %s", cfg.LockTTL)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %s", cfg.CacheTTL)
	}
	if !cfg.SeedDefaultMarket {
		t.Error("expected default market seeding on")
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelInfo {
		t.Errorf("expected info level, got %s", lvl)
	}
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("POOL_SEED", "50")
	t.Setenv("STARTING_BALANCE", "250.5")
	t.Setenv("LOCK_TIMEOUT", "500ms")
	t.Setenv("LOCK_RETRIES", "3")
	t.Setenv("LOCK_TTL", "2m")
	t.Setenv("SEED_DEFAULT_MARKET", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if !cfg.Seed.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected seed 50, got %s", cfg.Seed)
	}
	if !cfg.Grant.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("expected grant 250.5, got %s", cfg.Grant)
	}
	if cfg.LockTimeout != 500*time.Millisecond || cfg.LockRetries != 3 {
		t.Errorf("unexpected lock settings %s / %d", cfg.LockTimeout, cfg.LockRetries)
	}
	if cfg.LockTTL != 2*time.Minute {
		t.Errorf("expected lock ttl 2m, got %s", cfg.LockTTL)
	}
	if cfg.SeedDefaultMarket {
		t.Error("expected default market seeding off")
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", lvl)
	}
}

func TestLoad_BackendInference(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres from database url", map[string]string{"DATABASE_URL": "postgres://x"}, BackendPostgres},
		{"postgres wins over redis", map[string]string{"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://y"}, BackendPostgres},
		{"redis from redis url", map[string]string{"REDIS_URL": "redis://y"}, BackendRedis},
		{"explicit file", map[string]string{"LEDGER_BACKEND": "FILE"}, BackendFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.LedgerBackend != tt.want {
				t.Errorf("expected %s, got %s", tt.want, cfg.LedgerBackend)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"LEDGER_BACKEND": "mongo"}, "unknown ledger_backend"},
		{"redis without url", map[string]string{"LEDGER_BACKEND": "redis"}, "redis_url is required"},
		{"postgres without url", map[string]string{"LEDGER_BACKEND": "postgres"}, "database_url is required"},
		{"zero seed", map[string]string{"POOL_SEED": "0"}, "pool_seed must be positive"},
		{"negative grant", map[string]string{"STARTING_BALANCE": "-1"}, "starting_balance must be positive"},
		{"garbage seed", map[string]string{"POOL_SEED": "five"}, "not a number"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "log_level"},
		{"zero lock ttl", map[string]string{"LOCK_TTL": "0s"}, "lock_ttl must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	body := "ledger_backend: file\nledger_file: /tmp/pm.json\npool_seed: 50\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("POOL_SEED", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LedgerBackend != BackendFile || cfg.LedgerFile != "/tmp/pm.json" {
		t.Errorf("file settings not applied: %+v", cfg)
	}
	// Environment overrides the file.
	if !cfg.Seed.Equal(decimal.NewFromInt(7)) {
		t.Errorf("expected env seed 7, got %s", cfg.Seed)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
