package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/internal/metrics"
)

// Broadcast topics. Payload schemas mirror the pipeline's record types.
const (
	TopicSensorUpdate    = "sensor_update"
	TopicHealthUpdate    = "health_update"
	TopicRecommendations = "recommendations_update"
	TopicAlert           = "maintenance_alert"
	TopicConnectionLost  = "connection_lost"
	TopicStatusUpdate    = "status_update"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — the router applies CORS ahead of the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients on every publish.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub manages WebSocket client connections and fans published messages out
// to all of them.
type Hub struct {
	bufSize int
	log     zerolog.Logger

	// hello builds the messages sent to a client right after connect, so
	// the UI has state before the first pipeline publish.
	hello func() []Message

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client. send is never closed;
// closing done retires the writer, so publishers racing an unregister can
// never hit a closed channel.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// New creates a Hub. bufSize is the per-client outgoing buffer depth; hello
// may be nil.
func New(bufSize int, hello func() []Message, log zerolog.Logger) *Hub {
	return &Hub{
		bufSize: bufSize,
		hello:   hello,
		log:     log.With().Str("component", "ws").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish sends one envelope to every connected client. It never blocks: a
// client whose buffer is full is disconnected.
func (h *Hub) Publish(topic string, data any) {
	raw, err := json.Marshal(Message{Event: topic, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("marshal publish payload")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- raw:
		default:
			// Client's outgoing buffer is full — disconnect it.
			h.log.Warn().Str("topic", topic).Msg("dropping slow subscriber")
			metrics.SubscriberDrops.Inc()
			h.unregister(c)
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.bufSize),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	if h.hello != nil {
		for _, msg := range h.hello() {
			if raw, err := json.Marshal(msg); err == nil {
				select {
				case c.send <- raw:
				default:
				}
			}
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// unregister removes the client and signals its writer to shut down. The
// membership check makes it idempotent, so the close fires exactly once no
// matter how many publishers and the disconnect path race here.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.done)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.done)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.done:
			// Hub is shutting down or the client was removed.
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
