package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/sharedstate/pkg/state"
)

const defaultTracerName = "sharedstate"

// OTelConfig configures the OpenTelemetry observer.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "sharedstate").
	TracerName string

	// Tracer overrides the tracer resolved from the global provider.
	Tracer trace.Tracer

	// Filter determines which cells are traced.
	// Return true to trace the cell, false to skip.
	// If nil, all cells are traced.
	Filter func(cell string) bool

	// TraceNotify emits a span for every change dispatch.
	// Disabled by default; dispatches are frequent.
	TraceNotify bool

	// Attributes are added to every span.
	Attributes []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry observer.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracer uses tracer instead of the global provider's tracer.
func WithTracer(tracer trace.Tracer) OTelOption {
	return func(c *OTelConfig) {
		c.Tracer = tracer
	}
}

// WithCellFilter sets a filter function for cells.
func WithCellFilter(filter func(cell string) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithTraceNotify enables or disables spans for change dispatches.
func WithTraceNotify(enabled bool) OTelOption {
	return func(c *OTelConfig) {
		c.TraceNotify = enabled
	}
}

// WithAttributes adds attributes to every span.
func WithAttributes(attrs ...attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.Attributes = append(c.Attributes, attrs...)
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// Tracer is a state.Observer that records engine events as spans.
//
// Derivation passes and async settlements become spans whose start time is
// back-dated by the reported duration, so they line up with the work they
// describe. Failed settlements carry an error status.
type Tracer struct {
	config OTelConfig
	tracer trace.Tracer
}

var _ state.Observer = (*Tracer)(nil)

// NewTracer creates a tracing observer.
//
// Example:
//
//	tracer := middleware.NewTracer(middleware.WithTracerName("my-app"))
//	todos := state.NewAsync(fetchTodos, state.WithName("todos"), state.WithObserver(tracer))
//
// Without WithTracer the tracer comes from the global OpenTelemetry
// provider. Configure it in main() before creating cells:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func NewTracer(opts ...OTelOption) *Tracer {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(config.TracerName)
	}
	return &Tracer{config: config, tracer: tracer}
}

// ObserveNotify implements state.Observer.
func (t *Tracer) ObserveNotify(cell string, subscribers int) {
	if !t.config.TraceNotify || !t.traced(cell) {
		return
	}
	now := time.Now()
	_, span := t.start("sharedstate.notify", cell, now,
		attribute.Int("sharedstate.subscribers", subscribers),
	)
	span.End(trace.WithTimestamp(now))
}

// ObservePass implements state.Observer.
func (t *Tracer) ObservePass(cell string, dependencies int, elapsed time.Duration) {
	if !t.traced(cell) {
		return
	}
	end := time.Now()
	_, span := t.start("sharedstate.pass", cell, end.Add(-elapsed),
		attribute.Int("sharedstate.dependencies", dependencies),
	)
	span.End(trace.WithTimestamp(end))
}

// ObserveSettle implements state.Observer.
func (t *Tracer) ObserveSettle(cell string, outcome state.Outcome, elapsed time.Duration) {
	if !t.traced(cell) {
		return
	}
	end := time.Now()
	_, span := t.start("sharedstate.settle", cell, end.Add(-elapsed),
		attribute.String("sharedstate.outcome", string(outcome)),
	)
	switch outcome {
	case state.OutcomeFailed:
		span.SetStatus(codes.Error, "async pass failed")
	case state.OutcomeCommitted:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// ObserveFamily implements state.Observer. Membership changes are not traced.
func (t *Tracer) ObserveFamily(string, int) {}

func (t *Tracer) traced(cell string) bool {
	return t.config.Filter == nil || t.config.Filter(cell)
}

func (t *Tracer) start(name, cell string, at time.Time, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+len(t.config.Attributes)+1)
	all = append(all, attribute.String("sharedstate.cell", cell))
	all = append(all, attrs...)
	all = append(all, t.config.Attributes...)

	return t.tracer.Start(context.Background(), name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(all...),
		trace.WithTimestamp(at),
	)
}
