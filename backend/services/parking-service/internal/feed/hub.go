// Package feed pushes live capacity snapshots to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/models"
)

// Message is what subscribers receive.
type Message struct {
	Type     string          `json:"type"`
	Capacity models.Capacity `json:"capacity"`
	SentAt   time.Time       `json:"sent_at"`
}

// Hub tracks subscriber connections.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	logger      *zap.Logger
}

// NewHub builds connection hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

// Add registers new connection.
func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID()] = conn
}

// Remove removes connection.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, id)
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast sends the snapshot to every subscriber watching its facility.
func (h *Hub) Broadcast(c models.Capacity) {
	data, err := json.Marshal(Message{Type: "capacity", Capacity: c, SentAt: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("failed to encode capacity snapshot", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.connections {
		if conn.Watches(c.FacilityID) {
			conn.Send(data)
		}
	}
}

// Run closes every connection once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
