package status

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsim/internal/bus"
)

// State represents a client connection lifecycle state.
type State string

const (
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// Event is an input to the transition function.
type Event string

const (
	EventConnect    Event = "connect"
	EventDialOK     Event = "dial_ok"
	EventDialFail   Event = "dial_fail"
	EventConnDown   Event = "conn_down"
	EventRetry      Event = "retry"
	EventDisconnect Event = "disconnect"
)

// ErrInvalidTransition reports an event that does not apply in the current
// state. Drivers rely on it to turn stale timer callbacks into no-ops.
var ErrInvalidTransition = errors.New("invalid transition")

// Policy bounds the reconnect schedule.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the standard schedule: 1s doubling to a 30s cap,
// ten attempts.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10}
}

// Snapshot is an immutable view of the machine. Attempt counts consecutive
// failures since the last successful connection; Backoff is the delay
// before the next dial.
type Snapshot struct {
	State   State
	Attempt int
	Backoff time.Duration
}

// Exhausted reports whether the reconnect budget is spent. The machine
// stays observable in Reconnecting; the driver just stops scheduling dials.
func (s Snapshot) Exhausted(p Policy) bool {
	return s.State == Reconnecting && s.Attempt >= p.MaxAttempts
}

// Delay returns the backoff before the given 1-based attempt:
// min(Base * 2^(attempt-1), Max).
func Delay(attempt int, p Policy) time.Duration {
	if attempt <= 1 {
		return p.Base
	}
	if attempt-1 >= 31 {
		return p.Max
	}
	d := p.Base << (attempt - 1)
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// Next is the pure transition function: it maps a snapshot and an event to
// the following snapshot. It performs no I/O and owns no timers; drivers
// schedule dials and sleeps from what it returns.
func Next(s Snapshot, e Event, p Policy) (Snapshot, error) {
	switch e {
	case EventConnect:
		// Valid from Offline, and from an exhausted Reconnecting when the
		// caller decides to try again by hand.
		if s.State != Offline && !s.Exhausted(p) {
			return s, invalid(s, e)
		}
		s.State = Connecting
		return s, nil

	case EventDialOK:
		if s.State != Connecting {
			return s, invalid(s, e)
		}
		return Snapshot{State: Connected, Attempt: 0, Backoff: p.Base}, nil

	case EventDialFail:
		if s.State != Connecting {
			return s, invalid(s, e)
		}
		a := s.Attempt + 1
		return Snapshot{State: Reconnecting, Attempt: a, Backoff: Delay(a, p)}, nil

	case EventConnDown:
		if s.State != Connected {
			return s, invalid(s, e)
		}
		a := s.Attempt + 1
		return Snapshot{State: Reconnecting, Attempt: a, Backoff: Delay(a, p)}, nil

	case EventRetry:
		if s.State != Reconnecting || s.Exhausted(p) {
			return s, invalid(s, e)
		}
		s.State = Connecting
		return s, nil

	case EventDisconnect:
		return Snapshot{State: Offline, Attempt: 0, Backoff: p.Base}, nil
	}
	return s, invalid(s, e)
}

func invalid(s Snapshot, e Event) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, e, s.State)
}

// Change is the payload for conn.state_changed events.
type Change struct {
	From    State
	To      State
	Attempt int
	Backoff time.Duration
}

// Machine guards a snapshot behind a mutex and publishes every state change
// on the bus. All timing decisions stay with the caller.
type Machine struct {
	mu     sync.RWMutex
	snap   Snapshot
	policy Policy
	bus    *bus.Bus
}

// NewMachine creates a machine starting Offline.
func NewMachine(p Policy, b *bus.Bus) *Machine {
	return &Machine{
		snap:   Snapshot{State: Offline, Backoff: p.Base},
		policy: p,
		bus:    b,
	}
}

// Current returns the current snapshot.
func (m *Machine) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Policy returns the machine's reconnect policy.
func (m *Machine) Policy() Policy {
	return m.policy
}

// Apply feeds one event through the transition function. On an invalid
// event the snapshot is unchanged and the error wraps ErrInvalidTransition.
func (m *Machine) Apply(e Event) (Snapshot, error) {
	m.mu.Lock()
	next, err := Next(m.snap, e, m.policy)
	if err != nil {
		m.mu.Unlock()
		return m.snap, err
	}
	from := m.snap.State
	m.snap = next
	m.mu.Unlock()

	if m.bus != nil && from != next.State {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnState,
			Timestamp: time.Now(),
			Payload: Change{
				From:    from,
				To:      next.State,
				Attempt: next.Attempt,
				Backoff: next.Backoff,
			},
		})
	}
	return next, nil
}
