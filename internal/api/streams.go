package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// StreamRegistry tracks open event streams, one per console tab.
type StreamRegistry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		active: make(map[string]*websocket.Conn),
	}
}

// Get returns the stream registered for consoleID.
func (m *StreamRegistry) Get(consoleID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[consoleID]
}

// Register adds a stream, closing any earlier stream of the same console.
func (m *StreamRegistry) Register(consoleID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[consoleID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "stream replaced")
	}
	m.active[consoleID] = conn
	slog.Info("Event stream registered", "console_id", consoleID)
}

// Unregister removes conn if it is still the stream for consoleID.
func (m *StreamRegistry) Unregister(consoleID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[consoleID]; exists && current == conn {
		delete(m.active, consoleID)
		slog.Info("Event stream unregistered", "console_id", consoleID)
	}
}

// Len returns the number of open streams.
func (m *StreamRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll terminates every open stream.
func (m *StreamRegistry) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for cid, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(m.active, cid)
	}
}
