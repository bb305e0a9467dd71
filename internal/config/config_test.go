package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	errs "github.com/vango-dev/sharedstate/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Storage.Backend != DefaultBackend {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, DefaultBackend)
	}
	if cfg.Persist.Timeout != 10*time.Second {
		t.Errorf("Persist.Timeout = %v, want 10s", cfg.Persist.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Path() != "" {
		t.Errorf("Path() = %q, want empty", cfg.Path())
	}
}

func TestLoad_File(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)
	configJSON := `{
  "server": {
    "address": "127.0.0.1:9000",
    "shutdown_timeout": "3s"
  },
  "log": {
    "level": "debug",
    "format": "json"
  },
  "storage": {
    "backend": "sqlite",
    "sqlite": {
      "path": "/var/lib/sharedstate/cells.db"
    }
  }
}
`
	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.SQLite.Path != "/var/lib/sharedstate/cells.db" {
		t.Errorf("Storage.SQLite.Path = %q", cfg.Storage.SQLite.Path)
	}
	// Unset keys keep their defaults.
	if cfg.Storage.SQLite.Table != "sharedstate_records" {
		t.Errorf("Storage.SQLite.Table = %q, want default", cfg.Storage.SQLite.Table)
	}
	if cfg.Path() != configPath {
		t.Errorf("Path() = %q, want %q", cfg.Path(), configPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !errs.HasCode(err, "C001") {
		t.Errorf("expected C001, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SHAREDSTATE_STORAGE_BACKEND", "redis")
	t.Setenv("SHAREDSTATE_STORAGE_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("SHAREDSTATE_SERVER_MAX_MESSAGE_SIZE", "1024")
	t.Setenv("SHAREDSTATE_METRICS_ENABLED", "false")
	t.Setenv("SHAREDSTATE_PERSIST_TIMEOUT", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Storage.Backend != BackendRedis {
		t.Errorf("Storage.Backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Storage.Redis.URL != "redis://cache:6379/2" {
		t.Errorf("Storage.Redis.URL = %q", cfg.Storage.Redis.URL)
	}
	if cfg.Server.MaxMessageSize != 1024 {
		t.Errorf("Server.MaxMessageSize = %d, want 1024", cfg.Server.MaxMessageSize)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be false")
	}
	if cfg.Persist.Timeout != 250*time.Millisecond {
		t.Errorf("Persist.Timeout = %v, want 250ms", cfg.Persist.Timeout)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(configPath, []byte(`{"log":{"level":"warn"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHAREDSTATE_LOG_LEVEL", "error")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", cfg.Log.Level)
	}
}

func TestLoadEnv(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("SHAREDSTATE_TEST_DOTENV=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHAREDSTATE_TEST_DOTENV", "")
	os.Unsetenv("SHAREDSTATE_TEST_DOTENV")

	if err := LoadEnv(envPath, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}
	if got := os.Getenv("SHAREDSTATE_TEST_DOTENV"); got != "from-dotenv" {
		t.Errorf("env = %q, want from-dotenv", got)
	}
}

func TestLoadEnv_DoesNotOverride(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("SHAREDSTATE_LOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHAREDSTATE_LOG_LEVEL", "warn")

	if err := LoadEnv(envPath); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}
	if got := os.Getenv("SHAREDSTATE_LOG_LEVEL"); got != "warn" {
		t.Errorf("env = %q, want warn", got)
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	cfg := New()
	cfg.Storage.Backend = BackendS3
	cfg.Storage.S3.Bucket = "cells"
	cfg.Server.ShutdownTimeout = 42 * time.Second

	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.Storage.Backend != BackendS3 || loaded.Storage.S3.Bucket != "cells" {
		t.Errorf("storage = %+v", loaded.Storage)
	}
	if loaded.Server.ShutdownTimeout != 42*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 42s", loaded.Server.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
		key    string
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }, "C001", "server.address"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "C001", "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "C001", "log.format"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, "C002", "etcd"},
		{"redis without url", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.Redis.URL = ""
		}, "C001", "storage.redis.url"},
		{"sqlite without path", func(c *Config) {
			c.Storage.Backend = BackendSQLite
			c.Storage.SQLite.Path = ""
		}, "C001", "storage.sqlite.path"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = BackendS3 }, "C001", "storage.s3.bucket"},
		{"zero persist timeout", func(c *Config) { c.Persist.Timeout = 0 }, "C001", "persist.timeout"},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "C001", "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errs.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.key)
			}
		})
	}

	t.Run("metrics path ignored when disabled", func(t *testing.T) {
		cfg := New()
		cfg.Metrics.Enabled = false
		cfg.Metrics.Path = ""
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestEnvName(t *testing.T) {
	if got := EnvName("storage.redis.url"); got != "SHAREDSTATE_STORAGE_REDIS_URL" {
		t.Errorf("EnvName = %q", got)
	}
}

func TestKeysCoverSettings(t *testing.T) {
	keys := Keys()
	if len(keys) != len(New().Settings()) {
		t.Fatalf("Keys() has %d entries, Settings() %d", len(keys), len(New().Settings()))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted at %d: %q >= %q", i, keys[i-1], keys[i])
		}
	}
}

func TestNewLogger(t *testing.T) {
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected json output, got %q", out)
	}
}
