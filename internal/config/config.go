package config

import (
	stderrors "errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vango-dev/sharedstate/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "sharedstate.json"

	// EnvPrefix prefixes every environment override, e.g.
	// SHAREDSTATE_STORAGE_BACKEND=redis.
	EnvPrefix = "SHAREDSTATE"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultBackend is the default storage backend.
	DefaultBackend = BackendMemory
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Persist PersistConfig `mapstructure:"persist"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Address is the listen address.
	Address string `mapstructure:"address"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// MaxMessageSize bounds request bodies and websocket messages.
	MaxMessageSize int64 `mapstructure:"max_message_size"`

	// AllowAnyOrigin disables the same-origin check on watch requests.
	AllowAnyOrigin bool `mapstructure:"allow_any_origin"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is text or json.
	Format string `mapstructure:"format"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is one of memory, redis, sqlite, s3.
	Backend string       `mapstructure:"backend"`
	Redis   RedisConfig  `mapstructure:"redis"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	S3      S3Config     `mapstructure:"s3"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
	Channel string `mapstructure:"channel"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`

	// Endpoint overrides the service endpoint, for S3-compatible stores.
	Endpoint string `mapstructure:"endpoint"`
}

// PersistConfig configures the persisted cells served over HTTP.
type PersistConfig struct {
	// KeyPrefix is prepended to every cell key in storage.
	KeyPrefix string `mapstructure:"key_prefix"`

	// Version tags written records; records with another version are
	// reported and replaced by the initial value.
	Version string `mapstructure:"version"`

	// Timeout bounds each storage operation.
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	TracerName string `mapstructure:"tracer_name"`
}

// New returns a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			ShutdownTimeout: 15 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  64 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: DefaultBackend,
			Redis: RedisConfig{
				URL:    "redis://localhost:6379/0",
				Prefix: "sharedstate:",
			},
			SQLite: SQLiteConfig{
				Path:  "sharedstate.db",
				Table: "sharedstate_records",
			},
			S3: S3Config{
				Prefix: "sharedstate/",
			},
		},
		Persist: PersistConfig{
			Version: "1",
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "sharedstate",
			Path:      "/metrics",
		},
		Tracing: TracingConfig{
			TracerName: "sharedstate",
		},
	}
}

// Settings flattens c into dotted viper keys. Durations are rendered as
// strings so they round-trip through config files.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"server.address":          c.Server.Address,
		"server.shutdown_timeout": c.Server.ShutdownTimeout.String(),
		"server.write_timeout":    c.Server.WriteTimeout.String(),
		"server.max_message_size": c.Server.MaxMessageSize,
		"server.allow_any_origin": c.Server.AllowAnyOrigin,
		"log.level":               c.Log.Level,
		"log.format":              c.Log.Format,
		"storage.backend":         c.Storage.Backend,
		"storage.redis.url":       c.Storage.Redis.URL,
		"storage.redis.prefix":    c.Storage.Redis.Prefix,
		"storage.redis.channel":   c.Storage.Redis.Channel,
		"storage.sqlite.path":     c.Storage.SQLite.Path,
		"storage.sqlite.table":    c.Storage.SQLite.Table,
		"storage.s3.bucket":       c.Storage.S3.Bucket,
		"storage.s3.prefix":       c.Storage.S3.Prefix,
		"storage.s3.region":       c.Storage.S3.Region,
		"storage.s3.endpoint":     c.Storage.S3.Endpoint,
		"persist.key_prefix":      c.Persist.KeyPrefix,
		"persist.version":         c.Persist.Version,
		"persist.timeout":         c.Persist.Timeout.String(),
		"metrics.enabled":         c.Metrics.Enabled,
		"metrics.namespace":       c.Metrics.Namespace,
		"metrics.path":            c.Metrics.Path,
		"tracing.enabled":         c.Tracing.Enabled,
		"tracing.tracer_name":     c.Tracing.TracerName,
	}
}

// Keys returns the sorted setting keys.
func Keys() []string {
	settings := New().Settings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// newViper returns a viper instance seeded with defaults and bound to the
// SHAREDSTATE_ environment.
func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range New().Settings() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds the configuration from defaults, the file at path (if path
// is not empty) and SHAREDSTATE_ environment variables, in increasing
// priority, and validates it.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil, errors.New("C001").
					WithSubject(path).
					WithDetail("The configuration file does not exist.").
					WithSuggestion("Run 'sharedstate config init' to create one")
			}
			return nil, errors.New("C001").WithSubject(path).Wrap(err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New("C001").WithSubject(path).Wrap(err)
	}
	cfg.configPath = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from the given dotenv files (default
// ".env") into the process environment. Missing files are skipped and
// variables already set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.New("C001").WithSubject(f).Wrap(err)
		}
	}
	return nil
}

// SaveTo writes the configuration to path. The format follows the file
// extension (json, yaml or toml).
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New("C001").WithSubject(path).Wrap(err)
	}

	v := viper.New()
	for key, value := range c.Settings() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errors.New("C001").WithSubject(path).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path the configuration was loaded from or saved to.
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return invalid("server.address", "must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return invalid("server.write_timeout", "must be positive")
	}
	if c.Server.MaxMessageSize <= 0 {
		return invalid("server.max_message_size", "must be positive")
	}

	if _, ok := parseLevel(c.Log.Level); !ok {
		return invalid("log.level", "must be one of debug, info, warn, error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("log.format", "must be text or json")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.Redis.URL == "" {
			return invalid("storage.redis.url", "is required by the redis backend")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return invalid("storage.sqlite.path", "is required by the sqlite backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "is required by the s3 backend")
		}
	default:
		return errors.New("C002").
			WithSubject(c.Storage.Backend).
			WithSuggestion("Set " + EnvName("storage.backend") + " to memory, redis, sqlite or s3")
	}

	if c.Persist.Timeout <= 0 {
		return invalid("persist.timeout", "must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path", "must start with /")
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

// NewLogger returns a logger writing to w in the configured format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func invalid(key, problem string) error {
	return errors.New("C001").
		WithSubject(key).
		WithDetail(key + " " + problem + ".").
		WithSuggestion("Fix it in " + ConfigFileName + " or set " + EnvName(key))
}
