package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsim/internal/bus"
	"chatsim/internal/status"
	"chatsim/internal/wire"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Connect while a previous loop is still up.
var ErrAlreadyRunning = errors.New("connection loop already running")

// Manager drives one connection through the lifecycle machine: it dials,
// serves the socket, and schedules redials from the backoff the machine
// hands back. All state changes go through the machine, so stale timers
// turn into rejected transitions instead of corrupted state.
type Manager struct {
	dialer  Dialer
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	ping time.Duration // application ping cadence
	idle time.Duration // inbound silence tolerated before the link is declared down

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager wires a manager to its machine and bus. Incoming chat messages
// are republished on the bus for the consumer.
func NewManager(d Dialer, m *status.Machine, b *bus.Bus, logger *zap.Logger, ping, idle time.Duration) *Manager {
	return &Manager{
		dialer:  d,
		machine: m,
		bus:     b,
		logger:  logger,
		ping:    ping,
		idle:    idle,
	}
}

// Snapshot returns the current lifecycle state.
func (m *Manager) Snapshot() status.Snapshot {
	return m.machine.Current()
}

// SessionID returns the id the hub assigned on the last connect ack, or ""
// before the first ack.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connect starts the connection loop. Valid from Offline and from a parked
// Reconnecting; anything else reports an invalid transition. The loop runs
// until the retry budget is spent, ctx ends, or Disconnect is called —
// Disconnect is also what settles the machine back in Offline.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		select {
		case <-m.done:
			// previous loop finished (parked or stopped)
		default:
			return ErrAlreadyRunning
		}
	}
	if _, err := m.machine.Apply(status.EventConnect); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.done)
	return nil
}

// Disconnect stops the loop and lands the machine in Offline. Safe to call
// at any point, including while a backoff sleep is pending; the pending
// redial is abandoned, never fired late.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	m.machine.Apply(status.EventDisconnect)
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	policy := m.machine.Policy()
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			snap, aerr := m.machine.Apply(status.EventDialFail)
			if aerr != nil {
				return
			}
			if snap.Exhausted(policy) {
				m.logger.Warn("retry budget spent, parking",
					zap.Int("attempt", snap.Attempt))
				return
			}
			m.logger.Warn("dial failed",
				zap.Int("attempt", snap.Attempt),
				zap.Duration("backoff", snap.Backoff),
				zap.Error(err))
			if !m.waitRetry(ctx, snap.Backoff) {
				return
			}
			continue
		}

		if _, aerr := m.machine.Apply(status.EventDialOK); aerr != nil {
			conn.Close()
			return
		}
		m.setSessionID("")
		m.logger.Info("connected")

		m.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		snap, aerr := m.machine.Apply(status.EventConnDown)
		if aerr != nil {
			return
		}
		if snap.Exhausted(policy) {
			m.logger.Warn("retry budget spent, parking",
				zap.Int("attempt", snap.Attempt))
			return
		}
		m.logger.Warn("connection down",
			zap.Int("attempt", snap.Attempt),
			zap.Duration("backoff", snap.Backoff))
		if !m.waitRetry(ctx, snap.Backoff) {
			return
		}
	}
}

// waitRetry sleeps out the backoff and moves the machine to Connecting.
// Returns false when the loop should stop instead of redialing.
func (m *Manager) waitRetry(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return false
	}
	if _, err := m.machine.Apply(status.EventRetry); err != nil {
		return false
	}
	return true
}

// serve pumps one live connection: a reader goroutine feeds raw inbound
// frames, while the select loop sends pings and watches the idle window.
// Returns when the connection is down or ctx ends; the caller closes conn.
func (m *Manager) serve(ctx context.Context, conn Conn) {
	inbound := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- data:
			default:
				m.logger.Warn("inbound buffer full, dropping frame")
			}
		}
	}()

	pings := time.NewTicker(m.ping)
	defer pings.Stop()
	idle := time.NewTimer(m.idle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			m.logger.Warn("read failed", zap.Error(err))
			return
		case <-idle.C:
			m.logger.Warn("no inbound traffic within idle window",
				zap.Duration("window", m.idle))
			return
		case <-pings.C:
			data, err := wire.Encode(wire.Ping())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(data); err != nil {
				m.logger.Warn("ping write failed", zap.Error(err))
				return
			}
		case data := <-inbound:
			// Any frame proves the link is alive, malformed ones included.
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.idle)
			evt, derr := wire.Decode(data)
			if derr != nil {
				m.logger.Warn("dropping malformed frame", zap.Error(derr))
				continue
			}
			m.handle(conn, evt)
		}
	}
}

func (m *Manager) handle(conn Conn, evt wire.Event) {
	switch evt.Kind {
	case wire.KindConnected:
		m.setSessionID(evt.SessionID)
		m.logger.Info("session acknowledged", zap.String("session", evt.SessionID))
	case wire.KindNewMessage:
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSyncMessage,
			Timestamp: time.Now(),
			Payload:   evt,
		})
	case wire.KindPong:
		// idle window already extended
	case wire.KindPing:
		// the hub heartbeats at the protocol level, but answer anyway
		if data, err := wire.Encode(wire.Pong()); err == nil {
			if werr := conn.WriteMessage(data); werr != nil {
				m.logger.Warn("pong write failed", zap.Error(werr))
			}
		}
	}
}

func (m *Manager) setSessionID(id string) {
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
}
