package status

import (
	"errors"
	"testing"
	"time"

	"chatsim/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(DefaultPolicy(), nil)
	snap := m.Current()
	if snap.State != Offline {
		t.Errorf("initial state = %s, want OFFLINE", snap.State)
	}
	if snap.Backoff != time.Second {
		t.Errorf("initial backoff = %v, want 1s", snap.Backoff)
	}
}

// TestBackoffSequence pins the exact schedule: 1s, 2s, 4s, 8s, 16s, then
// capped at 30s for every later attempt.
func TestBackoffSequence(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := Delay(i+1, p); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelayCapsHugeAttempts(t *testing.T) {
	p := DefaultPolicy()
	for _, attempt := range []int{32, 64, 1000} {
		if got := Delay(attempt, p); got != p.Max {
			t.Errorf("Delay(%d) = %v, want cap %v", attempt, got, p.Max)
		}
	}
}

// TestFailureWalksBackoffSchedule drives the machine through consecutive
// dial failures and checks attempt and backoff track the schedule.
func TestFailureWalksBackoffSchedule(t *testing.T) {
	p := DefaultPolicy()
	m := NewMachine(p, nil)

	if _, err := m.Apply(EventConnect); err != nil {
		t.Fatal(err)
	}
	for attempt := 1; attempt <= 5; attempt++ {
		snap, err := m.Apply(EventDialFail)
		if err != nil {
			t.Fatalf("failure #%d: %v", attempt, err)
		}
		if snap.State != Reconnecting {
			t.Fatalf("failure #%d: state = %s, want RECONNECTING", attempt, snap.State)
		}
		if snap.Attempt != attempt {
			t.Errorf("failure #%d: attempt = %d", attempt, snap.Attempt)
		}
		if snap.Backoff != Delay(attempt, p) {
			t.Errorf("failure #%d: backoff = %v, want %v", attempt, snap.Backoff, Delay(attempt, p))
		}
		if _, err := m.Apply(EventRetry); err != nil {
			t.Fatalf("retry after failure #%d: %v", attempt, err)
		}
	}
}

func TestSuccessResetsAttemptAndBackoff(t *testing.T) {
	p := DefaultPolicy()
	m := NewMachine(p, nil)

	_, _ = m.Apply(EventConnect)
	_, _ = m.Apply(EventDialFail)
	_, _ = m.Apply(EventRetry)
	_, _ = m.Apply(EventDialFail)
	_, _ = m.Apply(EventRetry)

	snap, err := m.Apply(EventDialOK)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != Connected {
		t.Errorf("state = %s, want CONNECTED", snap.State)
	}
	if snap.Attempt != 0 {
		t.Errorf("attempt = %d, want 0 after success", snap.Attempt)
	}
	if snap.Backoff != p.Base {
		t.Errorf("backoff = %v, want base %v after success", snap.Backoff, p.Base)
	}

	// The next drop starts the schedule from the top.
	snap, err = m.Apply(EventConnDown)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Attempt != 1 || snap.Backoff != p.Base {
		t.Errorf("after drop: attempt=%d backoff=%v, want 1/%v", snap.Attempt, snap.Backoff, p.Base)
	}
}

// TestExhaustionParksInReconnecting verifies that once the attempt budget is
// spent the machine refuses further retries but stays observable, and that a
// manual connect is still allowed.
func TestExhaustionParksInReconnecting(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 3}
	m := NewMachine(p, nil)

	_, _ = m.Apply(EventConnect)
	for i := 0; i < 3; i++ {
		if _, err := m.Apply(EventDialFail); err != nil {
			t.Fatal(err)
		}
		if i < 2 {
			if _, err := m.Apply(EventRetry); err != nil {
				t.Fatal(err)
			}
		}
	}

	snap := m.Current()
	if !snap.Exhausted(p) {
		t.Fatalf("snapshot %+v not exhausted after %d failures", snap, p.MaxAttempts)
	}
	if snap.State != Reconnecting || snap.Attempt != 3 {
		t.Errorf("state=%s attempt=%d, want RECONNECTING/3", snap.State, snap.Attempt)
	}

	// No automatic retry past the budget.
	if _, err := m.Apply(EventRetry); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retry past budget: err = %v, want ErrInvalidTransition", err)
	}

	// A deliberate connect still works.
	if _, err := m.Apply(EventConnect); err != nil {
		t.Errorf("manual connect after exhaustion: %v", err)
	}
	if m.Current().State != Connecting {
		t.Errorf("state = %s, want CONNECTING", m.Current().State)
	}
}

func TestDisconnectFromEverywhere(t *testing.T) {
	for _, target := range []State{Offline, Connecting, Connected, Reconnecting} {
		t.Run(string(target), func(t *testing.T) {
			m := NewMachine(DefaultPolicy(), nil)
			walkTo(t, m, target)

			snap, err := m.Apply(EventDisconnect)
			if err != nil {
				t.Fatalf("disconnect from %s: %v", target, err)
			}
			if snap.State != Offline {
				t.Errorf("state = %s, want OFFLINE", snap.State)
			}
			// A second disconnect stays a no-op.
			if _, err := m.Apply(EventDisconnect); err != nil {
				t.Errorf("double disconnect: %v", err)
			}
		})
	}
}

// TestStaleTimerEventIsNoOp covers the disconnect race: a backoff timer that
// fires after the machine went Offline must change nothing.
func TestStaleTimerEventIsNoOp(t *testing.T) {
	m := NewMachine(DefaultPolicy(), nil)
	walkTo(t, m, Reconnecting)

	if _, err := m.Apply(EventDisconnect); err != nil {
		t.Fatal(err)
	}

	_, err := m.Apply(EventRetry)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stale retry: err = %v, want ErrInvalidTransition", err)
	}
	if m.Current().State != Offline {
		t.Errorf("state = %s, want OFFLINE untouched", m.Current().State)
	}
}

func TestInvalidEvents(t *testing.T) {
	tests := []struct {
		state State
		event Event
	}{
		{Offline, EventDialOK},
		{Offline, EventDialFail},
		{Offline, EventRetry},
		{Offline, EventConnDown},
		{Connecting, EventConnect},
		{Connecting, EventConnDown},
		{Connecting, EventRetry},
		{Connected, EventConnect},
		{Connected, EventDialOK},
		{Connected, EventRetry},
		{Reconnecting, EventDialOK},
		{Reconnecting, EventConnDown},
	}
	for _, tt := range tests {
		t.Run(string(tt.state)+"/"+string(tt.event), func(t *testing.T) {
			m := NewMachine(DefaultPolicy(), nil)
			walkTo(t, m, tt.state)
			if _, err := m.Apply(tt.event); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err = %v, want ErrInvalidTransition", err)
			}
			if m.Current().State != tt.state {
				t.Errorf("state moved to %s on invalid event", m.Current().State)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(DefaultPolicy(), b)
	if _, err := m.Apply(EventConnect); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnState {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConnState)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Offline || change.To != Connecting {
		t.Errorf("change = %v -> %v, want OFFLINE -> CONNECTING", change.From, change.To)
	}
}

// walkTo is a helper that drives the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]Event{
		Offline:      {},
		Connecting:   {EventConnect},
		Connected:    {EventConnect, EventDialOK},
		Reconnecting: {EventConnect, EventDialOK, EventConnDown},
	}
	for _, e := range paths[target] {
		if _, err := m.Apply(e); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
