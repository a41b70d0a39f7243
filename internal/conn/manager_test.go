package conn

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// stateRecorder captures every transition in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) count(want State) int {
	n := 0
	for _, s := range r.snapshot() {
		if s == want {
			n++
		}
	}
	return n
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// TestStateString verifies the state names used in status reports.
func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateError, "error"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// TestConnectLifecycle verifies the connecting then connected sequence
// against a live server.
func TestConnectLifecycle(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	rec := &stateRecorder{}
	m := NewManager(Config{OnState: rec.record}, nopLogger())
	defer m.Close()

	if err := m.Connect(wsURL(ts)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateConnected })

	states := rec.snapshot()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("transitions = %v, want [connecting connected ...]", states)
	}
	if m.LastError() != "" {
		t.Errorf("LastError() = %q, want empty after connect", m.LastError())
	}
}

// TestConnectInvalidEndpoint verifies that bad endpoints reach the error
// state without any network attempt and are not retried.
func TestConnectInvalidEndpoint(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	tests := []struct {
		name     string
		endpoint string
	}{
		{"http scheme", ts.URL},
		{"empty", ""},
		{"garbage", "not a url at all\x00"},
		{"missing host", "ws://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stateRecorder{}
			m := NewManager(Config{OnState: rec.record}, nopLogger())
			defer m.Close()

			err := m.Connect(tt.endpoint)
			if err == nil {
				t.Fatal("Connect() = nil, want error")
			}
			if !errors.Is(err, ErrBadEndpoint) {
				t.Errorf("Connect() error = %v, want ErrBadEndpoint", err)
			}
			if m.State() != StateError {
				t.Errorf("State() = %v, want error", m.State())
			}
			if got := rec.count(StateConnecting); got != 0 {
				t.Errorf("connecting transitions = %d, want 0", got)
			}
		})
	}

	time.Sleep(50 * time.Millisecond)
	if n := hits.Load(); n != 0 {
		t.Errorf("server hits = %d, want 0", n)
	}
}

// TestBinaryFramesDelivered verifies that binary messages reach the frame
// handler in order and non-binary messages are ignored.
func TestBinaryFramesDelivered(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{{0x01}, {0x02, 0x02}, {0x03, 0x03, 0x03}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte("status: ok"))
		for _, p := range payloads {
			if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	var mu sync.Mutex
	var got [][]byte
	m := NewManager(Config{
		OnFrame: func(f RawFrame) {
			if f.ReceivedAt.IsZero() {
				t.Error("RawFrame.ReceivedAt is zero")
			}
			mu.Lock()
			got = append(got, f.Data)
			mu.Unlock()
		},
	}, nopLogger())
	defer m.Close()

	if err := m.Connect(wsURL(ts)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(payloads)
	})

	mu.Lock()
	defer mu.Unlock()
	for i, want := range payloads {
		if string(got[i]) != string(want) {
			t.Errorf("frame %d = %v, want %v", i, got[i], want)
		}
	}
}

// TestReconnectAfterDrop verifies that a server-side drop leads to a new
// connection after the configured delay.
func TestReconnectAfterDrop(t *testing.T) {
	t.Parallel()

	var conns atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			c.Close()
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	rec := &stateRecorder{}
	m := NewManager(Config{
		ReconnectDelay: 30 * time.Millisecond,
		OnState:        rec.record,
	}, nopLogger())
	defer m.Close()

	if err := m.Connect(wsURL(ts)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return conns.Load() >= 2 && m.State() == StateConnected })

	if got := rec.count(StateConnected); got < 2 {
		t.Errorf("connected transitions = %d, want >= 2", got)
	}
}

// TestDialFailureRetries verifies that failed dials keep retrying on the
// fixed delay.
func TestDialFailureRetries(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var attempts atomic.Int64
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			attempts.Add(1)
			c.Close()
		}
	}()

	m := NewManager(Config{ReconnectDelay: 20 * time.Millisecond}, nopLogger())
	defer m.Close()

	m.Connect("ws://" + ln.Addr().String() + "/")
	waitFor(t, 2*time.Second, func() bool { return attempts.Load() >= 3 })

	if m.State() != StateError && m.State() != StateConnecting {
		t.Errorf("State() = %v, want error or connecting while retrying", m.State())
	}
}

// TestCloseSuppressesReconnect verifies that the intentional close cancels
// the reconnect timer and no further connections happen.
func TestCloseSuppressesReconnect(t *testing.T) {
	t.Parallel()

	var conns atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	m := NewManager(Config{ReconnectDelay: 20 * time.Millisecond}, nopLogger())
	if err := m.Connect(wsURL(ts)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateConnected })

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected after Close", m.State())
	}

	time.Sleep(100 * time.Millisecond)
	if n := conns.Load(); n != 1 {
		t.Errorf("connections after Close = %d, want 1", n)
	}

	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// TestCloseCancelsPendingReconnect verifies that Close during the retry
// window stops the pending attempt.
func TestCloseCancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var attempts atomic.Int64
	m := NewManager(Config{
		ReconnectDelay: 50 * time.Millisecond,
		OnState: func(s State, _ string) {
			if s == StateConnecting {
				attempts.Add(1)
			}
		},
	}, nopLogger())

	m.Connect("ws://" + addr + "/")
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateError })
	m.Close()

	before := attempts.Load()
	time.Sleep(150 * time.Millisecond)
	if after := attempts.Load(); after != before {
		t.Errorf("connect attempts grew from %d to %d after Close", before, after)
	}
}

// TestBackoffDelayGrows verifies the optional doubling delay.
func TestBackoffDelayGrows(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{
		ReconnectDelay: 100 * time.Millisecond,
		Backoff:        true,
	}, nopLogger())
	defer m.Close()

	m.mu.Lock()
	for i := 0; i < 3; i++ {
		m.scheduleReconnectLocked()
	}
	got := m.currentDelay
	m.cancelTimerLocked()
	m.mu.Unlock()

	if want := 800 * time.Millisecond; got != want {
		t.Errorf("delay after three failures = %v, want %v", got, want)
	}

	m.mu.Lock()
	m.currentDelay = 48 * time.Second
	m.scheduleReconnectLocked()
	capped := m.currentDelay
	m.cancelTimerLocked()
	m.mu.Unlock()

	if capped != maxBackoffDelay {
		t.Errorf("capped delay = %v, want %v", capped, maxBackoffDelay)
	}
}

// TestRemoteNormalClose verifies that a clean server close lands in
// disconnected rather than error, and still reconnects.
func TestRemoteNormalClose(t *testing.T) {
	t.Parallel()

	var conns atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
			c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			c.Close()
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	rec := &stateRecorder{}
	m := NewManager(Config{
		ReconnectDelay: 30 * time.Millisecond,
		OnState:        rec.record,
	}, nopLogger())
	defer m.Close()

	if err := m.Connect(wsURL(ts)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return conns.Load() >= 2 && m.State() == StateConnected })

	if got := rec.count(StateDisconnected); got < 1 {
		t.Errorf("disconnected transitions = %d, want >= 1", got)
	}
	if got := rec.count(StateError); got != 0 {
		t.Errorf("error transitions = %d, want 0 for a clean close", got)
	}
}
