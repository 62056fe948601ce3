// Package websocket streams engine events to teacher dashboards.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// Message is the wire shape of every frame sent to a dashboard.
type Message struct {
	Type        string      `json:"type"`
	AggregateID string      `json:"aggregate_id,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Payload     interface{} `json:"payload,omitempty"`
}

// MessageSnapshot is the type of the first frame, carrying the current
// classroom state.
const MessageSnapshot = "snapshot"

// SnapshotFunc returns the state a newly connected dashboard starts from.
type SnapshotFunc func() interface{}

// HubConfig configures the hub.
type HubConfig struct {
	// AllowedOrigins limits browser origins; empty allows all.
	AllowedOrigins []string

	Snapshot SnapshotFunc
	Logger   *slog.Logger
}

// Hub fans engine events out to every connected dashboard.
type Hub struct {
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewHub creates a hub.
func NewHub(config HubConfig) *Hub {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	h := &Hub{
		snapshot: config.Snapshot,
		logger:   config.Logger,
		clients:  make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(config.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP upgrades the request and registers the dashboard.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn)
	if !h.register(c) {
		return
	}

	if h.snapshot != nil {
		h.sendTo(c, Message{Type: MessageSnapshot, OccurredAt: time.Now().UTC(), Payload: h.snapshot()})
	}

	go c.writePump()
	go func() {
		c.readPump()
		h.unregister(c)
	}()
}

// HandleEvent is a shared.EventHandler broadcasting e to every dashboard.
func (h *Hub) HandleEvent(e shared.Event) error {
	h.Broadcast(Message{
		Type:        string(e.EventType()),
		AggregateID: e.AggregateID(),
		OccurredAt:  e.OccurredAt(),
		Payload:     e.Payload(),
	})
	return nil
}

// Broadcast sends msg to every client. Clients whose buffer is full are
// disconnected; the dashboard reconnects and receives a fresh snapshot.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket message encode failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(data); err != nil {
			h.logger.Warn("dropping dashboard", "client_id", c.ID(), "error", err)
			h.unregister(c)
		}
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every dashboard and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	return nil
}

func (h *Hub) sendTo(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket message encode failed", "type", msg.Type, "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		h.unregister(c)
	}
}

// register adds c unless the hub closed during the upgrade, in which case c
// is closed and false is returned.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = c.Close()
		h.logger.Info("dashboard rejected, hub closed", "client_id", c.ID())
		return false
	}
	h.clients[c.ID()] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("dashboard connected", "client_id", c.ID(), "clients", n)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID()]
	delete(h.clients, c.ID())
	n := len(h.clients)
	h.mu.Unlock()

	_ = c.Close()
	if ok {
		h.logger.Info("dashboard disconnected", "client_id", c.ID(), "clients", n)
	}
}
