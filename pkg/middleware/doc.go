// Package middleware provides observability adapters for sharedstate cells.
//
// This package includes:
//   - An OpenTelemetry observer that records passes and settlements as spans
//   - A Prometheus observer that exports engine events as metrics
//   - A change logger built on log/slog
//
// Observers are attached per cell with state.WithObserver. Combine several
// with state.MultiObserver:
//
//	metrics := middleware.NewPrometheus()
//	tracer := middleware.NewTracer(middleware.WithTracerName("my-app"))
//	obs := state.MultiObserver(metrics, tracer)
//
//	count := state.New(0, state.WithName("count"), state.WithObserver(obs))
//
// # OpenTelemetry
//
// Each derivation pass becomes a "sharedstate.pass" span and each async
// settlement a "sharedstate.settle" span. Failed settlements carry
// codes.Error. Dispatch spans are opt-in:
//
//	middleware.NewTracer(
//	    middleware.WithTraceNotify(true),
//	    middleware.WithCellFilter(func(cell string) bool {
//	        return !strings.HasPrefix(cell, "tmp:")
//	    }),
//	)
//
// # Prometheus Metrics
//
// The Prometheus observer registers its collectors once, at construction:
//   - sharedstate_notifications_total: change dispatches by cell
//   - sharedstate_passes_total: derivation passes by cell
//   - sharedstate_async_settlements_total: async settlements by cell and outcome
//   - sharedstate_family_members: live members per family
//
// Count reported errors by wrapping the error handler:
//
//	state.WithErrorHandler(metrics.ErrorHandler(nil))
//
// Then expose metrics on a separate port:
//
//	http.Handle("/metrics", promhttp.Handler())
//	go http.ListenAndServe(":9090", nil)
package middleware
