package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vango-dev/sharedstate/pkg/state"
)

// Migrator converts a value stored under another version into T.
type Migrator[T any] func(raw json.RawMessage, version string) (T, error)

// Option configures a persistent cell.
type Option[T any] func(*options[T])

type options[T any] struct {
	version   string
	migrator  Migrator[T]
	onError   func(error)
	logger    *slog.Logger
	ctx       context.Context
	timeout   time.Duration
	cellOpts  []state.Option
	noHydrate bool
}

// WithVersion sets the schema version written with every record.
// Records with another version go through the migrator.
func WithVersion[T any](version string) Option[T] {
	return func(o *options[T]) {
		o.version = version
	}
}

// WithMigrator sets the function that upgrades records written with another
// version. Without one, such records are ignored and the initial value is used.
func WithMigrator[T any](fn Migrator[T]) Option[T] {
	return func(o *options[T]) {
		o.migrator = fn
	}
}

// WithErrorHandler registers a callback for read, write and decode failures.
func WithErrorHandler[T any](fn func(error)) Option[T] {
	return func(o *options[T]) {
		o.onError = fn
	}
}

// WithLogger sets the logger. Default: slog.Default() with component=persist.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *options[T]) {
		o.logger = logger
	}
}

// WithContext sets the parent context of storage calls and of the watcher.
func WithContext[T any](ctx context.Context) Option[T] {
	return func(o *options[T]) {
		o.ctx = ctx
	}
}

// WithTimeout bounds each storage call.
// Default: 10 seconds.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(o *options[T]) {
		o.timeout = d
	}
}

// WithCellOptions passes options (name, observer, ...) to the underlying cell.
func WithCellOptions[T any](opts ...state.Option) Option[T] {
	return func(o *options[T]) {
		o.cellOpts = append(o.cellOpts, opts...)
	}
}

// WithoutHydration skips the hydration that normally starts on construction.
// Call Hydrate to load the stored value.
func WithoutHydration[T any]() Option[T] {
	return func(o *options[T]) {
		o.noHydrate = true
	}
}

func applyOptions[T any](key string, opts []Option[T]) options[T] {
	o := options[T]{
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "persist", "key", key)
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	return o
}
