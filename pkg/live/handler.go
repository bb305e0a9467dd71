package live

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	errs "github.com/vango-dev/sharedstate/internal/errors"
	"github.com/vango-dev/sharedstate/pkg/state"
)

// Handler serves the members of a cell family over HTTP.
//
// Routes:
//
//	GET    /cells             sorted keys of the live members
//	GET    /cells/{key}       current value, creating the member if needed
//	PUT    /cells/{key}       set the value from a JSON body
//	DELETE /cells/{key}       destroy the member and close its watchers
//	GET    /cells/{key}/watch websocket: the value, then every change
type Handler struct {
	family   *state.Family[string, any]
	config   Config
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
	hub      *hub
}

// NewHandler creates a handler for family.
func NewHandler(family *state.Family[string, any], opts ...Option) *Handler {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	defaults := DefaultConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}

	h := &Handler{
		family: family,
		config: config,
		logger: config.Logger.With("component", "live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		hub: newHub(),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/cells", h.list)
	r.Get("/cells/{key}", h.get)
	r.Put("/cells/{key}", h.put)
	r.Delete("/cells/{key}", h.delete)
	r.Get("/cells/{key}/watch", h.watch)
	h.router = r

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Watchers returns the number of open watch connections.
func (h *Handler) Watchers() int {
	return h.hub.count()
}

// Close closes every watch connection and rejects new ones.
func (h *Handler) Close() {
	h.hub.closeAll()
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, keysResponse{Keys: state.SortedKeys(h.family)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	cell := h.family.Get(key)
	h.writeJSON(w, http.StatusOK, cellResponse{Key: key, Value: cell.Get()})
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxMessageSize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errs.New("H001").WithSubject(key).Wrap(err))
		return
	}
	var value any
	if err := sonic.Unmarshal(body, &value); err != nil {
		h.writeError(w, http.StatusBadRequest, errs.New("H001").WithSubject(key).Wrap(err))
		return
	}

	cell := h.family.Get(key)
	cell.Set(value)
	h.logger.Debug("cell written", "key", key, "bytes", len(body))
	h.writeJSON(w, http.StatusOK, cellResponse{Key: key, Value: cell.Get()})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := h.family.Peek(key); !ok {
		h.writeError(w, http.StatusNotFound, errs.New("H003").WithSubject(key))
		return
	}
	h.family.Destroy(key)
	closed := h.hub.closeKey(key)
	h.logger.Debug("cell deleted", "key", key, "watchers_closed", closed)

	if h.config.OnDelete != nil {
		if err := h.config.OnDelete(r.Context(), key); err != nil {
			h.logger.Error("delete hook failed", "key", key, "error", err)
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("watch rejected", "key", key, "error", errs.New("H002").WithSubject(key).Wrap(err))
		return
	}

	c := newClient(conn, key, h.config, h.logger)
	if !h.hub.add(c) {
		c.close()
		return
	}
	defer h.hub.remove(c)
	defer c.close()

	cell := h.family.Get(key)
	stop := cell.Subscribe(state.NewHandler(func(next, prev any) {
		c.enqueue(Message{Type: MessageChange, Key: key, Value: next, Prev: prev})
	}))
	defer stop()

	// Subscribed first: a change racing the snapshot is delivered, never lost.
	c.enqueue(Message{Type: MessageValue, Key: key, Value: cell.Get()})

	h.logger.Debug("watch opened", "key", key, "watchers", h.hub.count())
	go c.writeLoop()
	c.readLoop(cell.Set)
	h.logger.Debug("watch closed", "key", key)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Error("response encoding failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Debug("request failed", "status", status, "error", err)

	var se *errs.StateError
	if !errors.As(err, &se) {
		h.writeJSON(w, status, errorResponse{Message: err.Error()})
		return
	}
	h.writeJSON(w, status, errorResponse{Code: se.Code, Message: se.Message, Detail: errorDetail(se)})
}
