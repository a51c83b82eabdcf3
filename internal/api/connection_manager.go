package api

import (
	"sync"

	"github.com/gorilla/websocket"
)

// ConnectionManager tracks the WebSocket subscribers of each channel so
// assistant replies can be pushed as they land.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]map[*websocket.Conn]struct{}
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Add registers a subscriber for a channel.
func (m *ConnectionManager) Add(channelID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[channelID] == nil {
		m.connections[channelID] = make(map[*websocket.Conn]struct{})
	}
	m.connections[channelID][conn] = struct{}{}
}

// Remove drops a subscriber and closes its connection.
func (m *ConnectionManager) Remove(channelID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conns, ok := m.connections[channelID]; ok {
		if _, ok := conns[conn]; ok {
			conn.Close()
			delete(conns, conn)
		}
		if len(conns) == 0 {
			delete(m.connections, channelID)
		}
	}
}

// Broadcast sends a message to every subscriber of a channel. Dead
// connections are dropped along the way.
func (m *ConnectionManager) Broadcast(channelID string, message []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.connections[channelID] {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			conn.Close()
			delete(m.connections[channelID], conn)
		}
	}
}
