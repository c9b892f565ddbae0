// This file implements the push channel connection manager. It owns the one
// websocket connection to the backend, forwards inbound frames to its
// subscriber, and retries abnormal disconnects with bounded linear backoff.

package conn

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
)

// State is the lifecycle state of the push channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

// PushTypeRaw marks frames that could not be decoded as a push envelope.
// They are forwarded instead of dropped so the consumer decides what to do.
const PushTypeRaw = "raw"

// Handlers are the observable events of the connection. All callbacks are
// optional and are invoked from the manager's own goroutines.
type Handlers struct {
	OnOpen    func()
	OnMessage func(msg models.PushMessage)
	OnClose   func(code int, reason string)
	OnError   func(err error)
	// OnReconnectExhausted fires once per disconnect episode when the
	// attempt limit is reached. No further retries are scheduled.
	OnReconnectExhausted func(err error)
}

// Manager owns the single persistent websocket connection to the backend.
// Only the Manager may open or close the channel; everything else goes
// through Send or subscribes via Handlers.
type Manager struct {
	url         string
	baseDelay   time.Duration
	maxAttempts int
	handlers    Handlers
	dialer      *websocket.Dialer

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	attempts       int
	dialGen        int // bumped by Connect and Disconnect; stale dials check it
	lastErr        error
	reconnectTimer *time.Timer
	closed         bool
}

// New creates a connection manager for the given ws:// URL. It does not
// connect until Connect is called.
func New(url string, baseDelay time.Duration, maxAttempts int) *Manager {
	return &Manager{
		url:         url,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		dialer:      websocket.DefaultDialer,
		state:       StateDisconnected,
	}
}

// SetHandlers registers the event callbacks. Must be called before Connect.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers = h
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempt counter for the current episode.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect opens the channel. It is a no-op while the channel is already
// Open or Connecting.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.dialGen++
	gen := m.dialGen
	m.mu.Unlock()

	go m.dial(gen)
}

// Resume re-opens the channel after the application regains foreground,
// but only if it is fully disconnected and no reconnect is pending.
func (m *Manager) Resume() {
	m.mu.Lock()
	pending := m.reconnectTimer != nil
	disconnected := m.state == StateDisconnected
	m.mu.Unlock()

	if disconnected && !pending {
		m.Connect()
	}
}

func (m *Manager) dial(gen int) {
	c, resp, err := m.dialer.Dial(m.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.mu.Lock()
		if m.closed || gen != m.dialGen {
			// Disconnect was issued while the dial was in flight; it
			// already settled the state and no retry may be scheduled.
			m.mu.Unlock()
			return
		}
		m.state = StateDisconnected
		m.lastErr = err
		m.mu.Unlock()
		if m.handlers.OnError != nil {
			m.handlers.OnError(err)
		}
		m.scheduleReconnect(err)
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.dialGen {
		m.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.Close()
		return
	}
	m.conn = c
	m.state = StateOpen
	m.attempts = 0 // successful open ends the disconnect episode
	m.lastErr = nil
	m.mu.Unlock()

	log.Printf("Push channel connected to %s", m.url)
	if m.handlers.OnOpen != nil {
		m.handlers.OnOpen()
	}

	m.readLoop(c)
}

// readLoop pumps inbound frames until the connection dies, then routes the
// closure to either a clean stop or the reconnect path.
func (m *Manager) readLoop(c *websocket.Conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.handleClosed(err)
			return
		}

		var msg models.PushMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil || msg.Type == "" {
			// Forward unparseable frames as opaque raw messages.
			log.Printf("Push channel received unparseable frame (%d bytes)", len(data))
			msg = models.PushMessage{Type: PushTypeRaw, Data: data}
		}
		if m.handlers.OnMessage != nil {
			m.handlers.OnMessage(msg)
		}
	}
}

func (m *Manager) handleClosed(err error) {
	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	m.mu.Lock()
	wasClosing := m.state == StateClosing || m.closed
	m.conn = nil
	m.state = StateDisconnected
	if !wasClosing {
		m.lastErr = err
	}
	m.mu.Unlock()

	if m.handlers.OnClose != nil {
		m.handlers.OnClose(code, reason)
	}

	// Code 1000 marks an intentional closure; anything else is retryable.
	if wasClosing || code == websocket.CloseNormalClosure {
		return
	}
	log.Printf("Push channel closed abnormally (code %d): %s", code, reason)
	m.scheduleReconnect(err)
}

// scheduleReconnect arms the backoff timer for the next attempt, or reports
// exhaustion once the attempt limit is reached.
func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.maxAttempts {
		m.mu.Unlock()
		log.Printf("Push channel reconnect attempts exhausted after %d tries", m.maxAttempts)
		if m.handlers.OnReconnectExhausted != nil {
			m.handlers.OnReconnectExhausted(cause)
		}
		return
	}
	m.attempts++
	delay := m.baseDelay * time.Duration(m.attempts)
	attempt := m.attempts
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.Connect()
	})
	m.mu.Unlock()

	log.Printf("Push channel reconnect attempt %d scheduled in %s", attempt, delay)
}

// Disconnect closes the channel. A manual disconnect uses the normal closure
// code, resets the attempt counter and never schedules a retry.
func (m *Manager) Disconnect(manual bool) {
	m.mu.Lock()
	m.dialGen++ // invalidate any dial still in flight
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if manual {
		m.attempts = 0
	}
	c := m.conn
	if c != nil {
		m.state = StateClosing
	} else {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if c == nil {
		return
	}

	code := websocket.CloseGoingAway
	if manual {
		code = websocket.CloseNormalClosure
	}
	msg := websocket.FormatCloseMessage(code, "")
	c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.Close()
}

// Send writes a JSON message to the channel. It reports false when the
// channel is not open or the write fails.
func (m *Manager) Send(v interface{}) bool {
	m.mu.Lock()
	c := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || c == nil {
		return false
	}
	if err := c.WriteJSON(v); err != nil {
		if m.handlers.OnError != nil {
			m.handlers.OnError(err)
		}
		return false
	}
	return true
}

// Close tears the manager down: the backoff timer is cancelled and the
// connection closed. The manager cannot be reused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	c := m.conn
	m.mu.Unlock()

	if c != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.Close()
	}
}
