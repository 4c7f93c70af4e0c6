package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// MockServer is an httptest-backed WebSocket server that speaks the
// exchange stream protocol: it records inbound subscribe/unsubscribe
// frames and publishes stream envelopes to connected clients.
type MockServer struct {
	server *httptest.Server
	url    string

	connections   map[*websocket.Conn]bool
	connectionsMu sync.RWMutex
	onConnect     func(*websocket.Conn)
	requests      []request

	shouldRejectConnection bool
	shouldDropConnection   bool
}

// NewMockServer creates a new mock stream server
func NewMockServer() *MockServer {
	mock := &MockServer{
		connections: make(map[*websocket.Conn]bool),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleConnection))
	mock.url = "ws" + strings.TrimPrefix(mock.server.URL, "http")

	return mock
}

// URL returns the WebSocket URL of the mock server
func (m *MockServer) URL() string {
	return m.url
}

// Close shuts down the mock server
func (m *MockServer) Close() {
	m.server.Close()
}

// SetRejectConnection configures whether the server should reject new connections
func (m *MockServer) SetRejectConnection(reject bool) {
	m.shouldRejectConnection = reject
}

// SetDropConnection configures whether the server should drop existing connections
func (m *MockServer) SetDropConnection(drop bool) {
	m.shouldDropConnection = drop
	if !drop {
		return
	}
	// Close live connections so blocked reads on both sides return; the
	// handler loop's flag check alone never fires while ReadMessage blocks.
	m.connectionsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connectionsMu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// OnConnect sets a callback for when a client connects
func (m *MockServer) OnConnect(callback func(*websocket.Conn)) {
	m.onConnect = callback
}

// Requests returns a copy of all subscribe/unsubscribe frames received.
func (m *MockServer) Requests() []request {
	m.connectionsMu.RLock()
	defer m.connectionsMu.RUnlock()
	out := make([]request, len(m.requests))
	copy(out, m.requests)
	return out
}

// SubscribedChannels returns the channels named in received SUBSCRIBE frames.
func (m *MockServer) SubscribedChannels() []string {
	var channels []string
	for _, req := range m.Requests() {
		if req.Method == "SUBSCRIBE" {
			channels = append(channels, req.Params...)
		}
	}
	return channels
}

// PublishStream sends a stream envelope with the given channel and payload
// to every connected client.
func (m *MockServer) PublishStream(channel string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(envelope{Stream: channel, Data: raw})
	if err != nil {
		return err
	}
	m.Broadcast(frame)
	return nil
}

// Broadcast sends a raw message to all connected clients.
func (m *MockServer) Broadcast(message []byte) {
	m.connectionsMu.RLock()
	defer m.connectionsMu.RUnlock()

	for conn := range m.connections {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			go m.removeConnection(conn)
		}
	}
}

// GetConnectionCount returns the number of active connections
func (m *MockServer) GetConnectionCount() int {
	m.connectionsMu.RLock()
	defer m.connectionsMu.RUnlock()
	return len(m.connections)
}

// handleConnection handles incoming WebSocket connections
func (m *MockServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	if m.shouldRejectConnection {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.addConnection(conn)
	if m.onConnect != nil {
		m.onConnect(conn)
	}

	defer func() {
		m.removeConnection(conn)
		conn.Close()
	}()

	for {
		if m.shouldDropConnection {
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.TextMessage {
			var req request
			if err := json.Unmarshal(message, &req); err == nil && req.Method != "" {
				m.connectionsMu.Lock()
				m.requests = append(m.requests, req)
				m.connectionsMu.Unlock()
			}
		}
	}
}

// addConnection adds a connection to the tracking map
func (m *MockServer) addConnection(conn *websocket.Conn) {
	m.connectionsMu.Lock()
	defer m.connectionsMu.Unlock()
	m.connections[conn] = true
}

// removeConnection removes a connection from the tracking map
func (m *MockServer) removeConnection(conn *websocket.Conn) {
	m.connectionsMu.Lock()
	defer m.connectionsMu.Unlock()
	delete(m.connections, conn)
}

// setupMockServer creates a mock server wired into the test lifecycle.
func setupMockServer(t *testing.T) (*MockServer, string) {
	t.Helper()
	mock := NewMockServer()
	t.Cleanup(func() {
		mock.Close()
	})
	return mock, mock.URL()
}
