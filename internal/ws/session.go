package ws

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"chatsim/internal/wire"
	"github.com/gorilla/websocket"
)

// sessionConn is the slice of *websocket.Conn the registry needs. Tests
// substitute fakes so no real sockets are required.
type sessionConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one attached client connection. Writes are serialized by mu;
// the registry's reader goroutine is the only reader.
type Session struct {
	ID       string
	Client   string
	JoinedAt time.Time

	conn sessionConn
	mu   sync.Mutex
}

// SessionInfo is the control-API view of a session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Client   string    `json:"client"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{ID: s.ID, Client: s.Client, JoinedAt: s.JoinedAt}
}

func (s *Session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeEvent(evt wire.Event) error {
	data, err := wire.Encode(evt)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *Session) ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// newSessionID combines the client-supplied name with random hex so two
// simulators using the same name stay distinguishable.
func newSessionID(client string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	if client == "" {
		client = "anon"
	}
	return client + "-" + hex.EncodeToString(b)
}
