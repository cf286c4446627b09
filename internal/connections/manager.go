package connections

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mlqa/lingo/internal/metrics"
	"github.com/rs/zerolog/log"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// Manager tracks open chat connections and the conversation each serves
type Manager struct {
	connections sync.Map // *websocket.Conn -> conversation id
	timeouts    TimeoutConfig
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   60 * time.Second,
	PingPeriod: 54 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

// AddConnection registers a new WebSocket connection
func (m *Manager) AddConnection(conn *websocket.Conn, conversationID string) {
	if _, loaded := m.connections.LoadOrStore(conn, conversationID); !loaded {
		metrics.ActiveWebSockets.Inc()
	}
}

// RemoveConnection removes a WebSocket connection
func (m *Manager) RemoveConnection(conn *websocket.Conn) {
	if _, loaded := m.connections.LoadAndDelete(conn); loaded {
		metrics.ActiveWebSockets.Dec()
	}
}

// GetConnectionCount returns the current number of active connections
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// ConversationConnectionCount returns how many connections serve a conversation
func (m *Manager) ConversationConnectionCount(conversationID string) int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		if value.(string) == conversationID {
			count++
		}
		return true
	})
	return count
}

// HasConnection checks if a specific connection exists
func (m *Manager) HasConnection(conn *websocket.Conn) bool {
	_, exists := m.connections.Load(conn)
	return exists
}

// GetTimeouts returns the current timeout configuration
func (m *Manager) GetTimeouts() TimeoutConfig {
	return m.timeouts
}

// CloseAll sends a going-away close frame to every connection and forgets them
func (m *Manager) CloseAll() {
	m.connections.Range(func(key, value interface{}) bool {
		conn := key.(*websocket.Conn)
		deadline := time.Now().Add(m.timeouts.WriteWait)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			log.Debug().Err(err).Msg("Failed to send close frame")
		}
		conn.Close()
		m.RemoveConnection(conn)
		return true
	})
}
