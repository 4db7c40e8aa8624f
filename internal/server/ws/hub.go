// Package ws broadcasts job updates to websocket subscribers.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/docpipe/internal/store"
)

// Update is the message sent to subscribers whenever a job changes.
type Update struct {
	JobID     string `json:"job_id"`
	Filename  string `json:"filename"`
	Stage     string `json:"stage"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub manages websocket connections and broadcasts job updates.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *slog.Logger
}

// NewHub creates a new hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// AddClient registers a connection and starts its read loop. The read
// loop exists only to detect disconnects; inbound messages are ignored.
func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "clients", count)

	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	conn.Close()

	h.logger.Debug("websocket client disconnected", "clients", count)
}

// Broadcast sends a job update to all connected clients. Clients that
// fail to accept the write are dropped.
func (h *Hub) Broadcast(job *store.Job) {
	update := Update{
		JobID:     job.ID,
		Filename:  job.Filename,
		Stage:     string(job.Stage),
		Progress:  job.Progress,
		Error:     job.ErrorMessage,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(update); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
