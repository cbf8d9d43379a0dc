package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published across the system. Subscribers filter on the
// namespace prefix before the dot.
const (
	// KindSyncMessage carries a wire.Event with a newly persisted message.
	// Published by the broker on the hub and by the connection manager on
	// the client.
	KindSyncMessage = "sync.message"

	// KindConnState carries a status.Change whenever the client connection
	// machine moves between states.
	KindConnState = "conn.state_changed"

	// KindSessionOpened and KindSessionClosed carry the session id as the
	// registry attaches and detaches WebSocket sessions.
	KindSessionOpened = "session.opened"
	KindSessionClosed = "session.closed"
)
