package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/forge/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultBacklog is how many recent events a new client is replayed.
	DefaultBacklog = 256
	writeTimeout   = 5 * time.Second
)

// HubConfig configures a Hub
type HubConfig struct {
	Backlog int
	Logger  zerolog.Logger
}

type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time
	remoteAddr  string
}

// ClientInfo describes a connected observer.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	IPAddress   string    `json:"ipAddress"`
}

// Hub is a Sink that broadcasts events to websocket clients. Every event
// gets the next sequence number; clients that connect late are replayed
// the recent backlog first, so each client sees a gap-free ordered stream
// from the oldest retained event.
type Hub struct {
	mu       sync.Mutex
	clients  map[string]*client
	backlog  []Event
	capacity int
	seq      int64
	closed   bool

	upgrader websocket.Upgrader
	server   *http.Server
	logger   zerolog.Logger
	newID    func() (string, error)
}

// NewHub creates a Hub
func NewHub(cfg HubConfig) *Hub {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	return &Hub{
		clients:  make(map[string]*client),
		capacity: cfg.Backlog,
		logger:   cfg.Logger,
		newID:    func() (string, error) { return gonanoid.New() },
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Emit assigns the next sequence number and broadcasts the event.
func (h *Hub) Emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	event.Seq = h.seq
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	h.backlog = append(h.backlog, event)
	if len(h.backlog) > h.capacity {
		h.backlog = h.backlog[len(h.backlog)-h.capacity:]
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", string(event.Type)).
			Int64("seq", event.Seq).
			Msg("Failed to marshal event")
		return
	}

	if len(h.clients) == 0 {
		h.logger.Debug().
			Str("event", string(event.Type)).
			Int64("seq", event.Seq).
			Msg("No clients to broadcast to")
		return
	}

	successCount := 0
	failureCount := 0
	for id, c := range h.clients {
		if err := h.write(c, data); err != nil {
			h.logger.Warn().
				Err(err).
				Str("clientId", id).
				Str("event", string(event.Type)).
				Int64("seq", event.Seq).
				Msg("Failed to broadcast to client")
			c.conn.Close()
			delete(h.clients, id)
			failureCount++
		} else {
			successCount++
		}
	}

	h.logger.Debug().
		Str("event", string(event.Type)).
		Int64("seq", event.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}

func (h *Hub) write(c *client, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.newID()
	if err != nil || id == "" {
		h.logger.Error().Err(err).Str("ip", r.RemoteAddr).Msg("Failed to generate client id")
		http.Error(w, "failed to generate client id", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &client{
		id:          id,
		conn:        conn,
		connectedAt: time.Now(),
		remoteAddr:  r.RemoteAddr,
	}
	if err := h.register(c); err != nil {
		h.logger.Warn().Err(err).Str("clientId", id).Msg("Failed to register client")
		conn.Close()
		return
	}

	h.logger.Info().
		Str("clientId", id).
		Str("ip", r.RemoteAddr).
		Msg("Progress client connected")

	defer func() {
		h.remove(id)
		conn.Close()
		h.logger.Info().Str("clientId", id).Msg("Progress client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("clientId", id).Msg("WebSocket error")
			}
			return
		}
	}
}

// register adds the client and replays the backlog under the hub lock so
// no event is missed or duplicated.
func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hub is closed")
	}

	for _, event := range h.backlog {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := h.write(c, data); err != nil {
			return fmt.Errorf("backlog replay failed: %w", err)
		}
	}
	h.clients[c.id] = c
	return nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Clients returns information about connected clients.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, ClientInfo{ID: c.id, ConnectedAt: c.connectedAt, IPAddress: c.remoteAddr})
	}
	return infos
}

// Start serves the hub on addr at /progress alongside /metrics and
// /healthz. It returns once the listener is bound.
func (h *Hub) Start(addr string) (net.Addr, error) {
	mux := http.NewServeMux()
	mux.Handle("/progress", h)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	h.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting progress hub")

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error().Err(err).Msg("Progress hub server error")
		}
	}()
	return ln.Addr(), nil
}

// Close disconnects every client and shuts down the server if started.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for id, c := range h.clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closing"),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown progress hub: %w", err)
	}
	h.logger.Info().Msg("Progress hub stopped")
	return nil
}
