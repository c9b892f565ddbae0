package conn_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prathamssaraf/mouse-video-compressor/internal/conn"
	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
	"github.com/prathamssaraf/mouse-video-compressor/internal/testutil"
)

// recorder collects handler callbacks for assertions.
type recorder struct {
	mu        sync.Mutex
	opens     int
	closes    []int
	messages  []models.PushMessage
	errors    []error
	exhausted int
	opened    chan struct{}
	received  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 16),
		received: make(chan struct{}, 16),
	}
}

func (r *recorder) handlers() conn.Handlers {
	return conn.Handlers{
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
			r.opened <- struct{}{}
		},
		OnMessage: func(msg models.PushMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, msg)
			r.mu.Unlock()
			r.received <- struct{}{}
		},
		OnClose: func(code int, reason string) {
			r.mu.Lock()
			r.closes = append(r.closes, code)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		},
		OnReconnectExhausted: func(err error) {
			r.mu.Lock()
			r.exhausted++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-r.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Connection did not open in time")
	}
}

func (r *recorder) waitMessage(t *testing.T) models.PushMessage {
	t.Helper()
	select {
	case <-r.received:
	case <-time.After(2 * time.Second):
		t.Fatal("No message received in time")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[len(r.messages)-1]
}

func TestConnectAndReceive(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	assert.Equal(t, conn.StateDisconnected, m.State())
	m.Connect()
	rec.waitOpen(t)
	assert.Equal(t, conn.StateOpen, m.State())

	ps.PushJSON(t, models.PushMessage{Type: models.PushTypeProgressUpdate, Data: []byte(`{"job_id":"job-1"}`)})
	msg := rec.waitMessage(t)
	assert.Equal(t, models.PushTypeProgressUpdate, msg.Type)
}

func TestConnectIsIdempotent(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	rec.waitOpen(t)
	m.Connect() // no-op while open
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, ps.ConnectionCount())
}

func TestSendRequiresOpenChannel(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	if m.Send(map[string]string{"type": "ping"}) {
		t.Error("Send should fail while disconnected")
	}

	m.Connect()
	rec.waitOpen(t)
	if !m.Send(map[string]string{"type": "ping"}) {
		t.Error("Send should succeed while open")
	}
}

func TestMalformedFrameForwardedAsRaw(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	rec.waitOpen(t)

	ps.PushRaw(t, []byte("not json at all"))
	msg := rec.waitMessage(t)
	assert.Equal(t, conn.PushTypeRaw, msg.Type)
	assert.Equal(t, []byte("not json at all"), []byte(msg.Data))
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	rec.waitOpen(t)

	ps.CloseLatest(t, websocket.CloseInternalServerErr, "backend restart")

	// The manager should dial again after baseDelay*1.
	rec.waitOpen(t)
	assert.Equal(t, 2, ps.ConnectionCount())
	// Attempt counter resets once the channel is open again.
	assert.Equal(t, 0, m.Attempts())
}

func TestManualDisconnectDoesNotReconnect(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	rec.waitOpen(t)

	m.Disconnect(true)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, conn.StateDisconnected, m.State())
	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, 1, ps.ConnectionCount())
}

func TestManualDisconnectDuringDialStaysDown(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Delay the upgrade so the disconnect lands mid-handshake.
		time.Sleep(200 * time.Millisecond)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	rec := newRecorder()
	m := conn.New(url, 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	time.Sleep(50 * time.Millisecond) // handshake still in flight
	m.Disconnect(true)

	// Let the delayed handshake complete; the stale dial must not
	// install the connection.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, conn.StateDisconnected, m.State())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Zero(t, rec.opens, "a dial completing after manual Disconnect must not open the channel")
}

func TestDialFailureAfterManualDisconnectSchedulesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reject the handshake, but only after the disconnect has landed.
		time.Sleep(150 * time.Millisecond)
		http.Error(w, "no upgrades today", http.StatusInternalServerError)
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	rec := newRecorder()
	m := conn.New(url, time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	time.Sleep(50 * time.Millisecond)
	m.Disconnect(true)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, conn.StateDisconnected, m.State())
	assert.Equal(t, 0, m.Attempts(), "no retry may be scheduled after manual disconnect")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.errors)
}

func TestReconnectBackoffGrowsLinearly(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var mu sync.Mutex
	var firstConn *websocket.Conn
	var dialTimes []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if firstConn == nil {
			mu.Unlock()
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			mu.Lock()
			firstConn = c
			mu.Unlock()
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}
		// Reject every redial so each attempt's timestamp is observable.
		dialTimes = append(dialTimes, time.Now())
		mu.Unlock()
		http.Error(w, "still down", http.StatusInternalServerError)
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	base := 100 * time.Millisecond
	rec := newRecorder()
	m := conn.New(url, base, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	rec.waitOpen(t)

	mu.Lock()
	c := firstConn
	mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend restart")
	c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	closedAt := time.Now()
	c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dialTimes) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	delay1 := dialTimes[0].Sub(closedAt)
	delay2 := dialTimes[1].Sub(dialTimes[0])
	mu.Unlock()

	// Attempt 1 fires after base*1 and attempt 2 after base*2, so the
	// second gap is roughly double the first.
	assert.GreaterOrEqual(t, delay1, base)
	assert.GreaterOrEqual(t, delay2, 2*base)
	assert.InDelta(t, 2.0, float64(delay2)/float64(delay1), 0.75)
}

func TestReconnectExhaustion(t *testing.T) {
	rec := newRecorder()

	// Point at a dead address so every dial fails.
	m := conn.New("ws://127.0.0.1:1/ws", time.Millisecond, 2)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.exhausted == 1
	}, 2*time.Second, 10*time.Millisecond, "exhaustion callback should fire exactly once")

	// No more attempts are pending; attempts never exceeded the cap.
	assert.LessOrEqual(t, m.Attempts(), 2)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotEmpty(t, rec.errors)
}

func TestResumeOnlyWhenIdle(t *testing.T) {
	ps := testutil.NewPushServer(t)
	rec := newRecorder()

	m := conn.New(ps.URL(), 10*time.Millisecond, 5)
	m.SetHandlers(rec.handlers())
	defer m.Close()

	m.Connect()
	rec.waitOpen(t)

	// Resume while open is a no-op.
	m.Resume()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ps.ConnectionCount())

	m.Disconnect(true)
	time.Sleep(50 * time.Millisecond)

	// Resume after a manual disconnect reconnects.
	m.Resume()
	rec.waitOpen(t)
	assert.Equal(t, 2, ps.ConnectionCount())
}
