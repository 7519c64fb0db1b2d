// Package broadcast fans service events out to WebSocket subscribers.
//
// Responsibilities:
//   - Accept fire-and-forget Publish calls from the pipeline; publishing
//     never blocks on a slow subscriber
//   - Serve event-stream subscribers with per-client send buffers; a
//     subscriber that cannot drain its buffer is disconnected
//   - Enforce the configured origin allow list on upgrade
package broadcast

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/metrics"
)

const (
	sendBuffer      = 64
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
	pongWait        = 60 * time.Second
	maxInboundBytes = 512
)

// Event is the wire envelope for one published event.
type Event struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// defaultOrigins are the development UI origins accepted when no
// explicit allow list is configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds an upgrader whose origin check accepts the
// configured origins. An empty list falls back to the development
// defaults; "*" disables the check. Requests without an Origin header
// (non-browser clients) are always accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowed, r.Header.Get("Origin"))
		},
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		allowed = defaultOrigins
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the subscriber set and distributes published events.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub builds a hub enforcing the given origin allow list.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Publish broadcasts an event to every subscriber. It never blocks:
// a subscriber whose buffer is full is disconnected rather than
// holding the pipeline up. Marshal failures are logged and dropped.
func (h *Hub) Publish(event string, payload interface{}) {
	data, err := json.Marshal(Event{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("event marshal failed",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.removeLocked(c)
			metrics.WebSocketDrops.Inc()
			h.logger.Warn("subscriber dropped: send buffer full",
				zap.String("event", event))
		}
	}
}

// ServeHTTP upgrades the request and subscribes the client to events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade refused", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber. Publish calls after Close are
// silently dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked unsubscribes a client. Callers hold h.mu. Closing the
// send channel makes the write pump close the connection, which in
// turn stops the read pump.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames so pings are answered and closes are
// noticed. Subscribers are consumers; inbound payloads are discarded.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
	}
}
