// Package conn owns one WebSocket connection per panel: dialing, the read
// loop, the reconnect timer, and the lifecycle state machine.
package conn

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrBadEndpoint marks an endpoint that failed validation. No network
// activity happens for these; the caller must supply a new endpoint.
var ErrBadEndpoint = errors.New("invalid websocket endpoint")

// RawFrame is one inbound binary message. The receiver owns the bytes.
type RawFrame struct {
	Data       []byte
	ReceivedAt time.Time
}

// FrameHandler receives each inbound binary message, in arrival order,
// from the read loop goroutine.
type FrameHandler func(RawFrame)

// StateHandler is invoked on every state transition. The reason is empty
// except for errors and close details.
type StateHandler func(state State, reason string)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxMessageBytes  = 64 << 20
	maxBackoffDelay         = 60 * time.Second
)

// Config configures a Manager.
type Config struct {
	// ReconnectDelay is re-applied unchanged after every failure. The
	// widget this design comes from never used exponential backoff; set
	// Backoff to opt in to doubling up to one minute.
	ReconnectDelay time.Duration
	Backoff        bool

	HandshakeTimeout time.Duration
	MaxMessageBytes  int64

	OnFrame FrameHandler
	OnState StateHandler
}

// Manager owns at most one live WebSocket connection. Every connection end
// other than an intentional Close schedules exactly one reconnect; the
// previous timer is always canceled before a new one is armed.
type Manager struct {
	cfg     Config
	log     *zerolog.Logger
	dialer  *websocket.Dialer
	onFrame FrameHandler
	onState StateHandler

	// emitMu serializes state callbacks so observers see transitions in
	// order.
	emitMu sync.Mutex

	mu           sync.Mutex
	endpoint     string
	state        State
	lastErr      string
	conn         *websocket.Conn
	timer        *time.Timer
	closed       bool
	gen          uint64
	currentDelay time.Duration
}

// NewManager creates a connection manager. Connect starts it.
func NewManager(cfg Config, log *zerolog.Logger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	return &Manager{
		cfg: cfg,
		log: log,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		onFrame:      cfg.OnFrame,
		onState:      cfg.OnState,
		state:        StateDisconnected,
		currentDelay: cfg.ReconnectDelay,
	}
}

// validateEndpoint rejects anything that is not a parseable ws/wss URL.
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrBadEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrBadEndpoint)
	}
	return nil
}

// Connect validates the endpoint and establishes a connection. Validation
// failures report StateError through the state callback and never touch
// the network; transport failures arm the reconnect timer.
func (m *Manager) Connect(endpoint string) error {
	if err := validateEndpoint(endpoint); err != nil {
		m.log.Error().Str("endpoint", endpoint).Err(err).Msg("Endpoint rejected")
		m.transition(StateError, err.Error())
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("connection manager closed")
	}
	m.endpoint = endpoint
	m.cancelTimerLocked()
	m.mu.Unlock()

	return m.dial()
}

func (m *Manager) dial() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	myGen := m.gen
	endpoint := m.endpoint
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.transition(StateConnecting, "")
	m.log.Debug().Str("endpoint", endpoint).Msg("Dialing")

	c, resp, err := m.dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if m.closed || m.gen != myGen {
		m.mu.Unlock()
		if c != nil {
			c.Close()
		}
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		m.log.Warn().Str("endpoint", endpoint).Err(err).Msg("Dial failed")
		m.transition(StateError, err.Error())
		m.mu.Lock()
		if !m.closed && m.gen == myGen {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c.SetReadLimit(m.cfg.MaxMessageBytes)
	m.conn = c
	m.currentDelay = m.cfg.ReconnectDelay
	m.mu.Unlock()

	m.log.Info().Str("endpoint", endpoint).Msg("Connected")
	m.transition(StateConnected, "")
	go m.readLoop(c, myGen)
	return nil
}

// readLoop delivers binary messages until the connection ends. Text and
// control frames are ignored; gorilla answers pings internally.
func (m *Manager) readLoop(c *websocket.Conn, myGen uint64) {
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			m.handleDisconnect(myGen, err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if m.onFrame != nil {
			m.onFrame(RawFrame{Data: data, ReceivedAt: time.Now()})
		}
	}
}

func (m *Manager) handleDisconnect(myGen uint64, err error) {
	m.mu.Lock()
	if m.closed || m.gen != myGen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Info().Err(err).Msg("Connection closed by remote")
		m.transition(StateDisconnected, err.Error())
	} else {
		m.log.Warn().Err(err).Msg("Connection lost")
		m.transition(StateError, err.Error())
	}

	m.mu.Lock()
	if !m.closed && m.gen == myGen {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
}

// scheduleReconnectLocked arms the reconnect timer, canceling any pending
// one first so a connection end never produces two attempts.
func (m *Manager) scheduleReconnectLocked() {
	m.cancelTimerLocked()
	delay := m.currentDelay
	if m.cfg.Backoff {
		next := m.currentDelay * 2
		if next > maxBackoffDelay {
			next = maxBackoffDelay
		}
		m.currentDelay = next
	}
	m.log.Debug().Dur("delay", delay).Msg("Reconnect scheduled")
	m.timer = time.AfterFunc(delay, m.redial)
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) redial() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()
	m.dial()
}

// Close performs the intentional shutdown: the reconnect timer is
// canceled, the peer gets a normal close frame, and no reconnect follows.
// The manager cannot be reused afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancelTimerLocked()
	m.gen++
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c != nil {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		deadline := time.Now().Add(time.Second)
		c.WriteControl(websocket.CloseMessage, message, deadline)
		c.Close()
	}

	m.log.Info().Msg("Connection closed")
	m.transition(StateDisconnected, "closed")
	return nil
}

// SetReconnectDelay replaces the base delay and backoff policy. An
// already armed timer keeps its original delay; the next schedule uses
// the new one.
func (m *Manager) SetReconnectDelay(d time.Duration, backoff bool) {
	if d <= 0 {
		d = time.Second
	}
	m.mu.Lock()
	m.cfg.ReconnectDelay = d
	m.cfg.Backoff = backoff
	m.currentDelay = d
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent error reason, empty after a
// successful connect.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// transition updates the state and notifies the observer. Repeated
// identical states are not re-emitted.
func (m *Manager) transition(state State, reason string) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.state == state && state != StateError {
		m.mu.Unlock()
		return
	}
	m.state = state
	switch state {
	case StateError:
		m.lastErr = reason
	case StateConnected:
		m.lastErr = ""
	}
	cb := m.onState
	m.mu.Unlock()

	if cb != nil {
		cb(state, reason)
	}
}
