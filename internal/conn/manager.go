// ABOUTME: Connection lifecycle manager driving connect, heartbeat, and reconnect.
// ABOUTME: Owns the heartbeat and reconnect timers and the intentional-close flag.

package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/promptyourai/termchat/internal/channel"
	"github.com/promptyourai/termchat/internal/protocol"
)

// ErrNotConnected indicates no usable channel exists. Callers are expected to
// fall back to the synchronous transport rather than queue.
var ErrNotConnected = errors.New("not connected")

// ErrMaxReconnectExceeded is the terminal error reported once the reconnect
// cap is reached. No further automatic connects occur until a manual Connect.
var ErrMaxReconnectExceeded = errors.New("max reconnect attempts exceeded")

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the connection timing policy. Zero values take the defaults.
type Config struct {
	// HeartbeatInterval is how often a ping frame is sent while Open.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration
	// MaxReconnects caps automatic reconnect attempts per outage.
	MaxReconnects int
	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// FrameHandler receives every raw inbound frame while the channel is open.
type FrameHandler func(frame []byte)

// StateHandler is notified on lifecycle transitions. err is non-nil only for
// the terminal ErrMaxReconnectExceeded notification.
type StateHandler func(state State, err error)

// Manager drives the connect -> heartbeat -> reconnect state machine over
// single-use channels produced by a Dialer. A missed heartbeat is not treated
// as failure; transport-level close/error is the sole failure signal.
type Manager struct {
	dial   channel.Dialer
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	attempt     int
	ch          channel.Channel
	manualClose bool

	frameHandler FrameHandler
	stateHandler StateHandler

	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
}

// NewManager creates a Manager. Pass nil logger for the default.
func NewManager(dial channel.Dialer, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dial:   dial,
		cfg:    cfg.withDefaults(),
		state:  StateIdle,
		logger: logger.With("component", "conn"),
	}
}

// OnFrame registers the inbound frame handler. Must be called before Connect.
func (m *Manager) OnFrame(fn FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameHandler = fn
}

// OnStateChange registers the lifecycle notification handler.
func (m *Manager) OnStateChange(fn StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandler = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Usable reports whether the channel can carry requests right now.
func (m *Manager) Usable() bool {
	return m.State() == StateOpen
}

// Connect establishes the channel. Calling it manually resets the reconnect
// budget and clears any previous intentional-close mark.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.manualClose = false
	m.attempt = 0
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if err := m.openChannel(ctx); err != nil {
		m.mu.Lock()
		m.setStateLocked(StateClosed)
		m.mu.Unlock()
		return err
	}
	return nil
}

// openChannel dials a fresh channel and, on success, transitions to Open,
// resets the attempt counter, and starts the heartbeat and event loop.
func (m *Manager) openChannel(ctx context.Context) error {
	ch := m.dial()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if err := ch.Connect(dialCtx); err != nil {
		return err
	}

	m.mu.Lock()
	m.ch = ch
	m.attempt = 0
	m.heartbeatStop = make(chan struct{})
	stop := m.heartbeatStop
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	m.notify(StateOpen, nil)
	go m.heartbeat(ch, stop)
	go m.eventLoop(ch)
	return nil
}

// Send transmits one frame over the open channel.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	ch := m.ch
	usable := m.state == StateOpen
	m.mu.Unlock()

	if !usable || ch == nil {
		return ErrNotConnected
	}
	if err := ch.Send(frame); err != nil {
		if errors.Is(err, channel.ErrNotOpen) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// Disconnect closes the channel intentionally. The close handler sees the
// intentional mark and skips the automatic-reconnect branch; this is the only
// way to suppress retries.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	ch := m.ch
	if m.state == StateOpen || m.state == StateConnecting {
		m.setStateLocked(StateClosing)
	} else {
		m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()

	if ch != nil {
		ch.Close(true)
	}
}

// heartbeat sends a no-op ping frame at a fixed interval while Open. Absence
// of a reply is not a failure signal.
func (m *Manager) heartbeat(ch channel.Channel, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := protocol.PingEnvelope().Encode()
			if err != nil {
				continue
			}
			if err := ch.Send(frame); err != nil {
				m.logger.Debug("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

// eventLoop consumes the channel's event stream until it closes.
func (m *Manager) eventLoop(ch channel.Channel) {
	for ev := range ch.Events() {
		switch ev.Kind {
		case channel.EventMessage:
			m.mu.Lock()
			handler := m.frameHandler
			m.mu.Unlock()
			if handler != nil {
				handler(ev.Frame)
			}
		case channel.EventError:
			m.logger.Warn("channel error", "error", ev.Err)
		case channel.EventClosed:
			m.handleClose(ev)
			return
		}
	}
}

// handleClose stops the heartbeat and decides whether to reconnect.
func (m *Manager) handleClose(ev channel.Event) {
	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.ch = nil
	intentional := ev.Intentional || m.manualClose
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	m.notify(StateClosed, nil)

	if intentional {
		m.logger.Info("connection closed", "intentional", true)
		return
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms the fixed-delay reconnect timer, or reports the
// terminal error once the cap is exceeded.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manualClose {
		m.mu.Unlock()
		return
	}
	if m.attempt >= m.cfg.MaxReconnects {
		m.mu.Unlock()
		m.logger.Error("reconnect cap reached", "attempts", m.cfg.MaxReconnects)
		m.notify(StateClosed, ErrMaxReconnectExceeded)
		return
	}
	m.attempt++
	attempt := m.attempt
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() { m.tryReconnect(attempt) })
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"max_attempts", m.cfg.MaxReconnects,
		"delay", m.cfg.ReconnectDelay)
}

// tryReconnect performs one automatic reconnect attempt.
func (m *Manager) tryReconnect(attempt int) {
	m.mu.Lock()
	if m.manualClose {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	ch := m.dial()
	dialCtx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	err := ch.Connect(dialCtx)
	cancel()

	if err != nil {
		m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		m.mu.Lock()
		m.setStateLocked(StateClosed)
		m.mu.Unlock()
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	m.ch = ch
	m.attempt = 0
	m.heartbeatStop = make(chan struct{})
	stop := m.heartbeatStop
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	m.logger.Info("reconnected", "attempt", attempt)
	m.notify(StateOpen, nil)
	go m.heartbeat(ch, stop)
	go m.eventLoop(ch)
}

// setStateLocked transitions the state. Caller holds the lock.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state transition", "from", m.state.String(), "to", s.String())
	m.state = s
}

// stopHeartbeatLocked clears the heartbeat timer. Caller holds the lock.
func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// notify invokes the state handler outside the lock.
func (m *Manager) notify(s State, err error) {
	m.mu.Lock()
	handler := m.stateHandler
	m.mu.Unlock()
	if handler != nil {
		handler(s, err)
	}
}
