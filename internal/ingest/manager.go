// Package ingest accepts transcript, game engine and chat traffic from bridge
// processes over WebSocket.
package ingest

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"
)

// BridgeManager tracks connected bridges by name. A bridge reconnecting under
// the same name replaces its previous connection.
type BridgeManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewBridgeManager creates a new bridge manager.
func NewBridgeManager() *BridgeManager {
	return &BridgeManager{active: make(map[string]*websocket.Conn)}
}

// Get returns the active connection for a bridge.
func (m *BridgeManager) Get(name string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[name]
}

// Names returns connected bridge names in sorted order.
func (m *BridgeManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.active))
	for n := range m.active {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register adds a bridge connection, closing any connection it replaces.
func (m *BridgeManager) Register(name string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[name]; ok && existing != conn {
		// The close handshake needs the old handler's read loop, so it must
		// not run under the lock.
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "bridge replaced") }()
	}
	m.active[name] = conn
	slog.Info("[INGEST] Bridge registered", "bridge", name)
}

// Unregister removes a bridge connection if it is still the current one.
func (m *BridgeManager) Unregister(name string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[name]; ok && current == conn {
		delete(m.active, name)
		slog.Info("[INGEST] Bridge unregistered", "bridge", name)
	}
}

// CloseAll drops every bridge connection without a close handshake.
func (m *BridgeManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.active {
		_ = conn.CloseNow()
		slog.Info("[INGEST] Bridge closed", "bridge", name)
	}
	m.active = make(map[string]*websocket.Conn)
}
