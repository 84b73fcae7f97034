package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/talgya/cli-mmo/internal/engine"
)

const (
	maxStreamConns = 64
	clientBuffer   = 16
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// TickMessage is what stream clients receive after every tick.
type TickMessage struct {
	Type       string            `json:"type"`
	Tick       uint64            `json:"tick"`
	GameTime   string            `json:"game_time"`
	Status     engine.TickStatus `json:"status"`
	Completed  []string          `json:"jobRequestsCompleted"`
	Failed     []string          `json:"jobRequestsFailed"`
	DurationMS int64             `json:"duration_ms"`
}

// Hub fans tick events out to websocket clients. A client that cannot keep
// up is disconnected rather than slowing the tick.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	out  chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.out) })
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends ev to every client. It never blocks.
func (h *Hub) Broadcast(ev engine.TickEvent) {
	msg, err := json.Marshal(TickMessage{
		Type:       "tick",
		Tick:       ev.Tick,
		GameTime:   engine.GameTime(ev.Tick),
		Status:     ev.Record.Status,
		Completed:  ev.Record.JobRequestsCompleted,
		Failed:     ev.Record.JobRequestsFailed,
		DurationMS: ev.Duration.Milliseconds(),
	})
	if err != nil {
		h.log.Error("encode tick message", "tick", ev.Tick, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- msg:
		default:
			h.log.Warn("stream client too slow, dropping", "tick", ev.Tick)
			delete(h.clients, c)
			c.close()
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register() (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= maxStreamConns {
		return nil, false
	}
	c := &streamClient{out: make(chan []byte, clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// ServeHTTP upgrades the request and streams tick messages until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, ok := h.register()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "too many stream connections")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.unregister(c)
		return
	}
	defer conn.Close()
	h.log.Info("stream client connected", "remote", clientIP(r))

	// Reader: only control frames matter; any error ends the session.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer h.unregister(c)

	for {
		select {
		case msg, ok := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			h.log.Info("stream client disconnected", "remote", clientIP(r))
			return
		}
	}
}
