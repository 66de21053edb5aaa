// Package broadcast pushes agent and pipeline updates to WebSocket clients.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// DefaultClientBuffer is the per-client outbound queue length.
	DefaultClientBuffer = 64
)

// InitialStateType is the "type" of the first message every client receives.
const InitialStateType = "initial_state"

// InitialState is sent to each client right after it connects.
type InitialState struct {
	Type       string `json:"type"`
	Agents     any    `json:"agents"`
	Statistics any    `json:"statistics"`
}

// SnapshotFunc returns the agents and statistics for a new client.
type SnapshotFunc func() (agents any, statistics any, err error)

// Metrics receives hub measurements. *metrics.Registry implements it.
type Metrics interface {
	BroadcastDropped()
	ClientConnected(delta int)
}

type nopMetrics struct{}

func (nopMetrics) BroadcastDropped()   {}
func (nopMetrics) ClientConnected(int) {}

// Options configures a Hub.
type Options struct {
	// Snapshot builds the initial state. Nil sends no initial state.
	Snapshot SnapshotFunc
	// ClientBuffer is the per-client queue length.
	ClientBuffer int
	// CheckOrigin overrides the upgrader's origin check. Nil allows any origin.
	CheckOrigin func(r *http.Request) bool
	Metrics     Metrics
	Logger      *zap.Logger
}

// Hub fans messages out to every connected client. A client whose queue is
// full misses the message rather than slowing the others.
type Hub struct {
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	buffer   int
	metrics  Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub.
func NewHub(opts Options) *Hub {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = DefaultClientBuffer
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		snapshot: opts.Snapshot,
		buffer:   opts.ClientBuffer,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts every message read from source until ctx is done or
// source is closed, then disconnects all clients.
func (h *Hub) Run(ctx context.Context, source <-chan any) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-source:
			if !ok {
				return nil
			}
			h.Broadcast(msg)
		}
	}
}

// Broadcast encodes msg once and queues it for every client.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to encode broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.metrics.BroadcastDropped()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer)}

	if h.snapshot != nil {
		agents, stats, err := h.snapshot()
		if err != nil {
			h.logger.Warn("failed to build initial state", zap.Error(err))
		} else if data, err := json.Marshal(InitialState{Type: InitialStateType, Agents: agents, Statistics: stats}); err == nil {
			c.send <- data
		}
	}

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()

	h.unregister(c)
	<-done
	h.logger.Debug("websocket client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.ClientConnected(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.metrics.ClientConnected(-1)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		h.metrics.ClientConnected(-1)
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// readPump discards inbound messages and returns when the connection fails.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes queued messages and pings until send is closed.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
