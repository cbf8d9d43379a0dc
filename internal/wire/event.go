// Package wire defines the JSON envelope exchanged over a session socket.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"chatsim/internal/store"
)

// Event kinds carried in the envelope.
const (
	KindConnected  = "connected"
	KindNewMessage = "newMessage"
	KindPing       = "ping"
	KindPong       = "pong"
)

// Event is one frame on the wire. At is the sender's wall clock in epoch
// milliseconds. Message is set only for newMessage, SessionID only for
// connected.
type Event struct {
	Kind      string         `json:"kind"`
	At        int64          `json:"at"`
	SessionID string         `json:"sessionId,omitempty"`
	Message   *store.Message `json:"message,omitempty"`
}

// MalformedError describes an inbound frame that failed validation. The
// receiver logs it and drops the frame; it never tears down the session.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed event: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Connected builds the acknowledgement sent when a session attaches.
func Connected(sessionID string) Event {
	return Event{Kind: KindConnected, At: time.Now().UnixMilli(), SessionID: sessionID}
}

// NewMessage builds the broadcast frame for a freshly persisted message.
func NewMessage(m *store.Message) Event {
	return Event{Kind: KindNewMessage, At: time.Now().UnixMilli(), Message: m}
}

// Ping builds an application-level heartbeat probe.
func Ping() Event {
	return Event{Kind: KindPing, At: time.Now().UnixMilli()}
}

// Pong builds the reply to a Ping.
func Pong() Event {
	return Event{Kind: KindPong, At: time.Now().UnixMilli()}
}

// Encode marshals an event after validating it.
func Encode(evt Event) ([]byte, error) {
	if err := validate(evt); err != nil {
		return nil, err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses and validates one inbound frame. Any failure is reported as
// a *MalformedError; Decode never panics on adversarial input.
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, &MalformedError{Reason: "invalid json", Err: err}
	}
	if err := validate(evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

func validate(evt Event) error {
	switch evt.Kind {
	case KindConnected:
		if evt.SessionID == "" {
			return &MalformedError{Reason: "connected without sessionId"}
		}
	case KindNewMessage:
		if evt.Message == nil {
			return &MalformedError{Reason: "newMessage without message"}
		}
		if evt.Message.ID == "" || evt.Message.ChatID == "" {
			return &MalformedError{Reason: "newMessage with incomplete message"}
		}
	case KindPing, KindPong:
	case "":
		return &MalformedError{Reason: "missing kind"}
	default:
		return &MalformedError{Reason: fmt.Sprintf("unknown kind %q", evt.Kind)}
	}
	return nil
}
