package live

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures a Handler.
type Config struct {
	// Logger receives request and connection logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// CheckOrigin validates the Origin header of watch requests.
	// Default: SameOriginCheck
	CheckOrigin func(r *http.Request) bool

	// SendBuffer is the number of messages queued per watch connection.
	// A connection whose queue is full is closed.
	// Default: 16
	SendBuffer int

	// WriteTimeout bounds each websocket write.
	// Default: 10s
	WriteTimeout time.Duration

	// MaxMessageSize bounds inbound websocket messages and request bodies.
	// Default: 64KB
	MaxMessageSize int64

	// OnDelete runs after a member is destroyed by DELETE, e.g. to remove
	// its stored record. An error is reported as a 500 response.
	OnDelete func(ctx context.Context, key string) error
}

// Option configures a Handler.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithCheckOrigin sets the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = fn
	}
}

// WithSendBuffer sets the per-connection send queue length.
func WithSendBuffer(n int) Option {
	return func(c *Config) {
		c.SendBuffer = n
	}
}

// WithWriteTimeout sets the websocket write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithMaxMessageSize sets the inbound message and body size limit.
func WithMaxMessageSize(n int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = n
	}
}

// WithOnDelete sets a hook that runs after DELETE destroys a member.
func WithOnDelete(fn func(ctx context.Context, key string) error) Option {
	return func(c *Config) {
		c.OnDelete = fn
	}
}

// DefaultConfig returns the default handler configuration.
func DefaultConfig() Config {
	return Config{
		Logger:         slog.Default(),
		CheckOrigin:    SameOriginCheck,
		SendBuffer:     16,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// SameOriginCheck reports whether the request origin matches its host.
// Requests without an Origin header are allowed.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
