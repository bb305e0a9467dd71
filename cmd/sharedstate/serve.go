package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/sharedstate/internal/config"
	"github.com/vango-dev/sharedstate/pkg/live"
	"github.com/vango-dev/sharedstate/pkg/middleware"
	"github.com/vango-dev/sharedstate/pkg/persist"
	"github.com/vango-dev/sharedstate/pkg/state"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cells over HTTP",
		Long: `Serve the cell family over HTTP and websockets.

Routes:
  GET    /cells              list live keys
  GET    /cells/{key}        read a cell
  PUT    /cells/{key}        write a cell (JSON body)
  DELETE /cells/{key}        destroy a cell and its stored record
  GET    /cells/{key}/watch  websocket stream of changes
  GET    /healthz            liveness probe
  GET    /metrics            Prometheus metrics (when enabled)

Examples:
  sharedstate serve
  sharedstate serve --addr=:9000
  SHAREDSTATE_STORAGE_BACKEND=redis sharedstate serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			logger := cfg.NewLogger(os.Stderr)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStorage(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			return newServer(cfg, logger, store).run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")

	return cmd
}

// server wires storage, cells, observers and the HTTP surface together.
type server struct {
	cfg      *config.Config
	logger   *slog.Logger
	storage  persist.Storage
	observer state.Observer
	metrics  *middleware.Prometheus
	registry *prometheus.Registry
	cells    *state.Family[string, any]
	live     *live.Handler
	router   chi.Router
}

func newServer(cfg *config.Config, logger *slog.Logger, storage persist.Storage) *server {
	s := &server{
		cfg:     cfg,
		logger:  logger,
		storage: storage,
	}

	var observers []state.Observer
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = middleware.NewPrometheus(
			middleware.WithRegistry(s.registry),
			middleware.WithNamespace(cfg.Metrics.Namespace),
		)
		observers = append(observers, s.metrics)
	}
	if cfg.Tracing.Enabled {
		observers = append(observers, middleware.NewTracer(middleware.WithTracerName(cfg.Tracing.TracerName)))
	}
	if len(observers) > 0 {
		s.observer = state.MultiObserver(observers...)
	}

	familyOpts := []state.Option{state.WithName("cells"), state.WithLogger(logger)}
	if s.observer != nil {
		familyOpts = append(familyOpts, state.WithObserver(s.observer))
	}
	s.cells = state.NewFamily(s.newCell, familyOpts...)

	liveOpts := []live.Option{
		live.WithLogger(logger),
		live.WithWriteTimeout(cfg.Server.WriteTimeout),
		live.WithMaxMessageSize(cfg.Server.MaxMessageSize),
		live.WithOnDelete(s.deleteRecord),
	}
	if cfg.Server.AllowAnyOrigin {
		liveOpts = append(liveOpts, live.WithCheckOrigin(func(*http.Request) bool { return true }))
	}
	s.live = live.NewHandler(s.cells, liveOpts...)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/", s.live)
	s.router = r

	return s
}

// newCell builds the persisted cell behind key.
func (s *server) newCell(key string) state.State[any] {
	opts := []persist.Option[any]{
		persist.WithVersion[any](s.cfg.Persist.Version),
		persist.WithTimeout[any](s.cfg.Persist.Timeout),
		persist.WithLogger[any](s.logger),
	}
	if s.metrics != nil {
		opts = append(opts, persist.WithErrorHandler[any](s.metrics.ErrorHandler(nil)))
	}
	if s.observer != nil {
		opts = append(opts, persist.WithCellOptions[any](state.WithObserver(s.observer)))
	}
	return persist.New[any](s.storage, s.storageKey(key), nil, opts...)
}

func (s *server) storageKey(key string) string {
	return s.cfg.Persist.KeyPrefix + key
}

func (s *server) deleteRecord(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Persist.Timeout)
	defer cancel()
	return s.storage.Delete(ctx, s.storageKey(key))
}

// flush waits for every member's pending writes.
func (s *server) flush(ctx context.Context) error {
	var errs []error
	for _, key := range state.SortedKeys(s.cells) {
		m, ok := s.cells.Peek(key)
		if !ok {
			continue
		}
		if c, ok := m.(*persist.Cell[any]); ok {
			if err := c.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return stderrors.Join(errs...)
}

// run serves until ctx is done, then shuts down gracefully.
func (s *server) run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Server.Address, "backend", s.cfg.Storage.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", "timeout", s.cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.live.Close()
		err := httpServer.Shutdown(shutdownCtx)
		if ferr := s.flush(shutdownCtx); ferr != nil {
			s.logger.Error("flush failed", "error", ferr)
			err = stderrors.Join(err, ferr)
		}
		s.cells.DestroyAll()
		return err
	})

	return g.Wait()
}
