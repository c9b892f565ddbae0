// A shared fake push-channel server for websocket tests. It stands in for the
// backend's /ws endpoint: tests push frames through it and close connections
// with chosen codes to exercise the reconnect policy.

package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PushServer is an httptest server that accepts websocket connections.
type PushServer struct {
	server    *httptest.Server
	mu        sync.Mutex
	conns     []*websocket.Conn
	connected chan struct{}
}

// NewPushServer starts a fake push server. It is closed automatically when
// the test completes.
func NewPushServer(t *testing.T) *PushServer {
	t.Helper()

	ps := &PushServer{connected: make(chan struct{}, 16)}
	ps.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		ps.connected <- struct{}{}

		// Drain client frames until the connection dies.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))

	t.Cleanup(func() {
		ps.mu.Lock()
		for _, c := range ps.conns {
			c.Close()
		}
		ps.mu.Unlock()
		ps.server.Close()
	})
	return ps
}

// URL returns the ws:// address of the server.
func (ps *PushServer) URL() string {
	return "ws" + strings.TrimPrefix(ps.server.URL, "http")
}

// WaitForConnection blocks until a client connects or the timeout elapses.
func (ps *PushServer) WaitForConnection(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-ps.connected:
	case <-time.After(timeout):
		t.Fatal("No client connected to push server in time")
	}
}

// ConnectionCount returns how many connections have been accepted in total.
func (ps *PushServer) ConnectionCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.conns)
}

func (ps *PushServer) latest(t *testing.T) *websocket.Conn {
	t.Helper()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.conns) == 0 {
		t.Fatal("Push server has no connections")
	}
	return ps.conns[len(ps.conns)-1]
}

// PushJSON sends a JSON frame to the most recent connection.
func (ps *PushServer) PushJSON(t *testing.T, v interface{}) {
	t.Helper()
	if err := ps.latest(t).WriteJSON(v); err != nil {
		t.Fatalf("Failed to push JSON frame: %v", err)
	}
}

// PushRaw sends a text frame with arbitrary bytes to the most recent
// connection, useful for malformed payload tests.
func (ps *PushServer) PushRaw(t *testing.T, data []byte) {
	t.Helper()
	if err := ps.latest(t).WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to push raw frame: %v", err)
	}
}

// CloseLatest closes the most recent connection with the given close code.
func (ps *PushServer) CloseLatest(t *testing.T, code int, reason string) {
	t.Helper()
	conn := ps.latest(t)
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
