package live

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	errs "github.com/vango-dev/sharedstate/internal/errors"
)

// hub tracks open watch connections.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

// add registers c. Reports false once the hub is closed.
func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeKey closes every connection watching key and returns how many.
func (h *hub) closeKey(key string) int {
	h.mu.RLock()
	var matched []*client
	for c := range h.clients {
		if c.key == key {
			matched = append(matched, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range matched {
		c.close()
	}
	return len(matched)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// client is one watch connection. Writes happen only on the writeLoop
// goroutine; enqueue never blocks.
type client struct {
	conn   *websocket.Conn
	key    string
	config Config
	logger *slog.Logger

	send chan Message
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, key string, config Config, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		key:    key,
		config: config,
		logger: logger.With("key", key),
		send:   make(chan Message, config.SendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue queues m for writing. A full queue closes the connection.
func (c *client) enqueue(m Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- m:
	default:
		c.logger.Warn("watch queue full, closing connection", "buffer", c.config.SendBuffer)
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			data, err := sonic.Marshal(m)
			if err != nil {
				c.logger.Error("message encoding failed", "type", m.Type, "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("watch write failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// readLoop handles client messages until the connection fails or closes.
func (c *client) readLoop(set func(any)) {
	c.conn.SetReadLimit(c.config.MaxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.reject(errs.New("H001").WithSubject(c.key).Wrap(err))
			continue
		}
		switch msg.Type {
		case MessageSet:
			var value any
			if len(msg.Value) > 0 {
				if err := sonic.Unmarshal(msg.Value, &value); err != nil {
					c.reject(errs.New("H001").WithSubject(c.key).Wrap(err))
					continue
				}
			}
			set(value)
		default:
			c.reject(errs.New("H001").WithSubject(c.key).
				WithDetail(fmt.Sprintf("unknown message type %q", msg.Type)))
		}
	}
}

func (c *client) reject(err *errs.StateError) {
	c.logger.Debug("client message rejected", "error", err)
	c.enqueue(Message{
		Type:   MessageError,
		Key:    c.key,
		Code:   err.Code,
		Error:  err.Error(),
		Detail: errorDetail(err),
	})
}
