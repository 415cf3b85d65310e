package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FACorreiaa/go-subscription-billing/app/observability/metrics"
)

var _ Notifier = (*Hub)(nil)

const (
	writeTimeout = 5 * time.Second
	// Events a client has not drained yet; a client this far behind is dropped.
	sendBuffer = 32
)

// client pairs a connection with its outbound queue. All writes to conn
// happen on the writePump goroutine; gorilla allows one writer per
// connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected websocket clients and fans lifecycle events out
// to all of them. Clients that fail a write or stop draining are dropped.
type Hub struct {
	logger   *slog.Logger
	metrics  *metrics.AppMetrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub. appMetrics may be nil (tests).
func NewHub(logger *slog.Logger, appMetrics *metrics.AppMetrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: appMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from a different origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and registers the client. The connection
// stays registered until the client closes or a write fails; no inbound
// messages are expected.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(c)
	h.logger.InfoContext(r.Context(), "Websocket client connected", slog.Int("clients", h.ClientCount()))

	go h.writePump(c)

	// Drain the connection so close frames and pings are processed.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.logger.Info("Websocket client disconnected", slog.Int("clients", h.ClientCount()-1))
				return
			}
		}
	}()
}

// writePump is the sole writer for c.conn. It exits when the send queue
// is closed during removal or when a write fails.
func (h *Hub) writePump(c *client) {
	defer h.remove(c)
	for payload := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			h.logger.Warn("Dropping websocket client, setting write deadline failed", slog.Any("error", err))
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("Dropping websocket client after failed write", slog.Any("error", err))
			return
		}
	}
}

// Broadcast queues the event for every connected client. Queueing never
// blocks; a client whose queue is full is dropped.
func (h *Hub) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal websocket event", slog.Any("error", err))
		return
	}

	var stalled []*client
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		h.logger.Warn("Dropping websocket client with full send queue")
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients, typically during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.remove(c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClientsConnected.Add(context.Background(), 1)
	}
}

// remove deregisters the client once; later calls are no-ops. The send
// queue is closed under the same lock that Broadcast queues under, so a
// send on a closed channel cannot happen.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if !present {
		return
	}
	c.conn.Close()
	if h.metrics != nil {
		h.metrics.WSClientsConnected.Add(context.Background(), -1)
	}
}
