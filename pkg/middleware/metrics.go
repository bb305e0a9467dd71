package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	errs "github.com/vango-dev/sharedstate/internal/errors"
	"github.com/vango-dev/sharedstate/pkg/state"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "sharedstate").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for pass and settle durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "sharedstate",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Prometheus is a state.Observer that exports engine events as metrics.
// All vectors are labelled by cell or family name, so give cells stable
// names with state.WithName to keep cardinality bounded.
type Prometheus struct {
	notifications  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	passes         *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	dependencies   *prometheus.GaugeVec
	settlements    *prometheus.CounterVec
	settleDuration *prometheus.HistogramVec
	familyMembers  *prometheus.GaugeVec
	errors         *prometheus.CounterVec
}

var _ state.Observer = (*Prometheus)(nil)

// NewPrometheus registers the engine metrics with the configured registry
// and returns the observer that feeds them.
//
// Metrics collected:
//   - sharedstate_notifications_total: change dispatches by cell
//   - sharedstate_deliveries_total: subscriber callbacks invoked by cell
//   - sharedstate_passes_total: derivation passes by cell
//   - sharedstate_pass_duration_seconds: derivation pass duration
//   - sharedstate_dependencies: dependencies seen by the latest pass
//   - sharedstate_async_settlements_total: async settlements by outcome
//   - sharedstate_async_settle_duration_seconds: async pass duration
//   - sharedstate_family_members: live members per family
//   - sharedstate_errors_total: reported errors by code
//
// Registering twice against the same registry panics, as with promauto.
//
// Example:
//
//	metrics := middleware.NewPrometheus(middleware.WithNamespace("myapp"))
//	count := state.New(0, state.WithName("count"), state.WithObserver(metrics))
//
//	http.Handle("/metrics", promhttp.Handler())
func NewPrometheus(opts ...MetricsOption) *Prometheus {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	histogram := func(name, help string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"cell"})
	}
	gauge := func(name, help, label string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, []string{label})
	}

	return &Prometheus{
		notifications:  counter("notifications_total", "Total number of change dispatches", "cell"),
		deliveries:     counter("deliveries_total", "Total number of subscriber callbacks invoked", "cell"),
		passes:         counter("passes_total", "Total number of derivation passes", "cell"),
		passDuration:   histogram("pass_duration_seconds", "Derivation pass duration in seconds"),
		dependencies:   gauge("dependencies", "Dependencies read by the latest pass", "cell"),
		settlements:    counter("async_settlements_total", "Total number of async settlements", "cell", "outcome"),
		settleDuration: histogram("async_settle_duration_seconds", "Async pass duration in seconds"),
		familyMembers:  gauge("family_members", "Live members per family", "family"),
		errors:         counter("errors_total", "Total number of reported errors", "code"),
	}
}

// ObserveNotify implements state.Observer.
func (p *Prometheus) ObserveNotify(cell string, subscribers int) {
	p.notifications.WithLabelValues(cell).Inc()
	p.deliveries.WithLabelValues(cell).Add(float64(subscribers))
}

// ObservePass implements state.Observer.
func (p *Prometheus) ObservePass(cell string, dependencies int, elapsed time.Duration) {
	p.passes.WithLabelValues(cell).Inc()
	p.passDuration.WithLabelValues(cell).Observe(elapsed.Seconds())
	p.dependencies.WithLabelValues(cell).Set(float64(dependencies))
}

// ObserveSettle implements state.Observer.
func (p *Prometheus) ObserveSettle(cell string, outcome state.Outcome, elapsed time.Duration) {
	p.settlements.WithLabelValues(cell, string(outcome)).Inc()
	p.settleDuration.WithLabelValues(cell).Observe(elapsed.Seconds())
}

// ObserveFamily implements state.Observer.
func (p *Prometheus) ObserveFamily(family string, members int) {
	p.familyMembers.WithLabelValues(family).Set(float64(members))
}

// ErrorHandler returns a function suitable for state.WithErrorHandler and
// persist.WithErrorHandler that counts errors by code before passing them
// to next. next may be nil.
func (p *Prometheus) ErrorHandler(next func(error)) func(error) {
	return func(err error) {
		p.errors.WithLabelValues(errorCode(err)).Inc()
		if next != nil {
			next(err)
		}
	}
}

// errorCode returns the code of the outermost StateError in err.
// Plain errors are reported as "unknown" to keep label cardinality fixed.
func errorCode(err error) string {
	var se *errs.StateError
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}
	return "unknown"
}
