package state

import (
	"context"
	"log/slog"
)

// Option configures a cell or a family.
type Option func(*options)

type options struct {
	name     string
	named    bool
	logger   *slog.Logger
	observer Observer
	onError  func(error)
	ctx      context.Context
}

// WithName names the cell. Names appear in logs, errors and observer
// callbacks; anonymous cells get a generated name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
		o.named = name != ""
	}
}

// WithLogger sets the logger used for engine diagnostics.
// Default: slog.Default() with component=state.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver attaches an Observer that receives notification, pass and
// settlement events. Use MultiObserver to attach several.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithErrorHandler registers a callback for failed async passes.
// Only the currently valid pass reports; superseded passes never do.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithContext sets the parent context of async passes. Cancelling it
// cancels every pass started afterwards.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// applyOptions applies opts on top of the defaults for a cell of the given kind.
func applyOptions(kind string, opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.name == "" {
		o.name = anonymousName(kind)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "state", "cell", o.name)
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	return o
}

// metricName is the name reported to observers. Anonymous cells share one
// label so metric cardinality stays bounded.
func (o *options) metricName() string {
	if o.named {
		return o.name
	}
	return "anonymous"
}
