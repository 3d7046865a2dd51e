package eventstream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"murmur/internal/logging"
	"murmur/internal/orchestrator"
)

const (
	defaultHistory = 200
	clientBuffer   = 256
)

// Hub fans events out to connected clients. It implements orchestrator.Sink.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	history [][]byte
	limit   int
}

type client struct {
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub returns a hub that replays up to history events to new clients.
// Non-positive history uses the default.
func NewHub(logger *slog.Logger, history int) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	if history <= 0 {
		history = defaultHistory
	}
	return &Hub{
		logger:  logging.NewComponentLogger(logger, "eventstream"),
		clients: make(map[*client]struct{}),
		limit:   history,
	}
}

// Publish broadcasts evt. Clients that cannot keep up are disconnected.
func (h *Hub) Publish(evt orchestrator.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("drop unencodable event", logging.String("type", string(evt.Type)), logging.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, data)
	if over := len(h.history) - h.limit; over > 0 {
		h.history = append([][]byte(nil), h.history[over:]...)
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			c.close()
			h.logger.Warn("disconnecting slow event client")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// register adds a client primed with the replay history.
func (h *Hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := clientBuffer
	if len(h.history) > size/2 {
		size = len(h.history) * 2
	}
	c := &client{send: make(chan []byte, size)}
	for _, data := range h.history {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

var _ orchestrator.Sink = (*Hub)(nil)
