// Package events pushes fleet status updates to connected GUI clients over
// WebSocket, so the dashboard refreshes without polling the REST API.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the envelope broadcast to every connected client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	At   string `json:"at"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards writes; gorilla allows one concurrent writer
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Hub tracks connected WebSocket clients and broadcasts events to all of
// them. Clients that fail a write are dropped.
type Hub struct {
	mu           sync.Mutex
	clients      map[*client]struct{}
	logger       *log.Logger
	pingInterval time.Duration
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
}

// Register adopts an upgraded connection. It blocks until the client
// disconnects, so call it from the HTTP handler goroutine.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("events: client connected (%d total)", count)

	stopPing := make(chan struct{})
	go h.pingLoop(c, stopPing)

	// Drain incoming frames so control messages are processed. Clients
	// aren't expected to send anything meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(stopPing)
	h.drop(c)
}

// Broadcast sends the event to every connected client.
func (h *Hub) Broadcast(eventType string, data any) {
	event := Event{
		Type: eventType,
		Data: data,
		At:   time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(event); err != nil {
			h.logger.Printf("events: dropping client after write error: %v", err)
			h.drop(c)
		}
	}
}

// ClientCount returns how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) pingLoop(c *client, stop chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				h.drop(c)
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, exists := h.clients[c]
	if exists {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if exists {
		c.conn.Close()
	}
}
