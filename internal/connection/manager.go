// Package connection owns the agent's single websocket channel to the support
// server, including reconnection after unexpected closes.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/metrics"
	"github.com/ashureev/agentdesk/internal/protocol"
	"github.com/ashureev/agentdesk/internal/pubsub"
	"github.com/coder/websocket"
)

const (
	// DefaultReconnectDelay is the fixed wait before reconnecting after an unclean close.
	DefaultReconnectDelay = 5 * time.Second

	defaultDialTimeout = 10 * time.Second
	readLimit          = 1 << 20
)

// ErrNotOpen is returned by Send while the channel is not open.
var ErrNotOpen = errors.New("connection is not open")

// State is the lifecycle state of the channel.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Status is published on every state transition.
type Status struct {
	State     State     `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Handler receives each inbound frame. It is called from a single goroutine
// in arrival order.
type Handler func(data []byte)

// Options configures a Manager.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Manager holds at most one live or in-flight connection.
type Manager struct {
	url         string
	delay       time.Duration
	dialTimeout time.Duration
	httpClient  *http.Client
	handler     Handler
	changes     *pubsub.Topic[Status]
	logger      *slog.Logger

	mu       sync.Mutex
	status   Status
	conn     *websocket.Conn
	timer    *time.Timer
	ctx      context.Context
	agentID  string
	closing  bool
	attempts int
}

// New creates a manager that delivers inbound frames to handler.
func New(opts Options, handler Handler) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Manager{
		url:         opts.URL,
		delay:       delay,
		dialTimeout: dialTimeout,
		httpClient:  opts.HTTPClient,
		handler:     handler,
		changes:     pubsub.NewTopic[Status]("connection", logger),
		logger:      logger.With("component", "connection"),
		status:      Status{State: StateIdle, Since: time.Now()},
	}
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel of state transitions.
func (m *Manager) Subscribe(ctx context.Context) <-chan Status {
	return m.changes.Subscribe(ctx)
}

// Connect dials the server for agentID. A call while connecting or open is a
// no-op. ctx bounds the lifetime of the channel, not just the dial. A failed
// dial schedules a reconnect and returns the dial error.
func (m *Manager) Connect(ctx context.Context, agentID string) error {
	m.mu.Lock()
	switch m.status.State {
	case StateConnecting, StateOpen:
		state := m.status.State
		m.mu.Unlock()
		m.logger.Debug("connect ignored, connection already in flight", "state", state)
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.ctx = ctx
	m.agentID = agentID
	m.closing = false
	m.setStateLocked(StateConnecting, "")
	m.mu.Unlock()

	return m.dial()
}

// Close shuts the channel down cleanly. No reconnect follows.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	if m.status.State != StateIdle {
		m.setStateLocked(StateClosed, "")
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "agent signed off"); err != nil {
			m.logger.Debug("failed to close websocket", "error", err)
		}
	}
}

// Send writes frame to the channel. Nothing is queued: while not open the
// frame is dropped and ErrNotOpen returned.
func (m *Manager) Send(ctx context.Context, frame protocol.Outbound) error {
	m.mu.Lock()
	conn := m.conn
	open := m.status.State == StateOpen && conn != nil
	m.mu.Unlock()

	if !open {
		metrics.FramesSent.WithLabelValues(string(frame.Action), "not_open").Inc()
		m.logger.Warn("dropping outbound frame, channel not open", "action", frame.Action, "session_id", frame.SessionID)
		return ErrNotOpen
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s: %w", frame.Action, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		metrics.FramesSent.WithLabelValues(string(frame.Action), "error").Inc()
		return fmt.Errorf("send %s: %w", frame.Action, err)
	}
	metrics.FramesSent.WithLabelValues(string(frame.Action), "ok").Inc()
	return nil
}

func (m *Manager) dial() error {
	m.mu.Lock()
	ctx := m.ctx
	target, err := m.endpointLocked()
	m.mu.Unlock()
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateClosed, err.Error())
		m.mu.Unlock()
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{HTTPClient: m.httpClient})
	if err != nil {
		m.logger.Warn("websocket dial failed", "url", m.url, "error", err)
		m.lost(nil, err)
		return fmt.Errorf("dial %s: %w", m.url, err)
	}
	conn.SetReadLimit(readLimit)

	m.mu.Lock()
	if m.closing || m.status.State != StateConnecting {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "connect abandoned")
		return nil
	}
	m.conn = conn
	m.attempts = 0
	m.setStateLocked(StateOpen, "")
	m.mu.Unlock()

	m.logger.Info("upstream channel open", "url", m.url)
	go m.readLoop(ctx, conn)
	return nil
}

func (m *Manager) endpointLocked() (string, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", m.agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.lost(conn, err)
			return
		}
		m.handler(data)
	}
}

// lost handles the end of conn, or a failed dial when conn is nil.
func (m *Manager) lost(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn != nil && m.conn != conn {
		return
	}
	m.conn = nil

	if m.closing || (m.ctx != nil && m.ctx.Err() != nil) {
		m.setStateLocked(StateClosed, "")
		return
	}
	if m.timer != nil {
		return
	}

	if websocket.CloseStatus(cause) != -1 {
		m.logger.Info("upstream channel closed by server", "status", websocket.CloseStatus(cause))
	} else if conn != nil {
		m.logger.Warn("upstream channel lost", "error", cause)
	}

	m.attempts++
	m.setStateLocked(StateReconnecting, cause.Error())
	m.timer = time.AfterFunc(m.delay, m.reconnect)
	metrics.Reconnects.Inc()
	m.logger.Info("reconnect scheduled", "delay", m.delay, "attempt", m.attempts)
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.status.State != StateReconnecting || m.closing {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.setStateLocked(StateConnecting, m.status.LastError)
	m.mu.Unlock()

	if err := m.dial(); err != nil {
		m.logger.Debug("reconnect attempt failed", "error", err)
	}
}

func (m *Manager) setStateLocked(state State, lastErr string) {
	m.status = Status{State: state, LastError: lastErr, Since: time.Now()}
	if state == StateOpen {
		metrics.ConnectionState.Set(1)
	} else {
		metrics.ConnectionState.Set(0)
	}
	m.changes.Publish(m.status)
}
