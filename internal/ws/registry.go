// Package ws owns the hub's WebSocket sessions: upgrades, the connected
// acknowledgement, heartbeat pings, fan-out, and forced drops.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatsim/internal/bus"
	"chatsim/internal/metrics"
	"chatsim/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeWait bounds how long a single frame write may take.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool; any origin may attach.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrSessionNotFound is returned by Drop for an unknown session id.
var ErrSessionNotFound = errors.New("ws: session not found")

// Registry tracks attached sessions and fans sync events out to them.
// Closing the socket is the only way the hub ends a session.
type Registry struct {
	bus    *bus.Bus
	logger *zap.Logger
	ping   time.Duration
	idle   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	cancel context.CancelFunc
}

// NewRegistry creates a registry. ping is the server heartbeat interval;
// idle is how long a session may stay silent before its reads fail.
func NewRegistry(b *bus.Bus, logger *zap.Logger, ping, idle time.Duration) *Registry {
	return &Registry{
		bus:      b,
		logger:   logger,
		ping:     ping,
		idle:     idle,
		sessions: make(map[string]*Session),
	}
}

// Start launches the fan-out and heartbeat loop: sync events published on
// the bus are broadcast to every session, and each session is pinged on the
// heartbeat interval.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("sync.", 256)

	go func() {
		defer unsub()
		ticker := time.NewTicker(r.ping)
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				if wireEvt, ok := evt.Payload.(wire.Event); ok {
					r.Broadcast(wireEvt)
				}
			case <-ticker.C:
				r.pingAll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the fan-out loop and closes every session.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		r.unregister(s, "shutdown")
	}
}

// HandleUpgrade upgrades an HTTP request into a session and blocks reading
// it until the connection ends. The client may name itself with ?client=.
func (r *Registry) HandleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s := r.attach(newSessionID(req.URL.Query().Get("client")), req.URL.Query().Get("client"), conn)
	r.readLoop(s)
}

// attach registers the session and sends the connected acknowledgement.
func (r *Registry) attach(id, client string, conn sessionConn) *Session {
	s := &Session{ID: id, Client: client, JoinedAt: time.Now(), conn: conn}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	metrics.IncSessionsActive()

	r.logger.Info("session attached", zap.String("session", id))
	r.bus.Publish(bus.Event{Kind: bus.KindSessionOpened, Timestamp: time.Now(), Payload: s.info()})

	if err := s.writeEvent(wire.Connected(id)); err != nil {
		r.logger.Warn("connected ack failed", zap.String("session", id), zap.Error(err))
	}
	return s
}

// readLoop drains the session until its socket errors. Any inbound frame
// extends the read deadline; application-level pings are answered with a
// pong; malformed frames are logged and dropped.
func (r *Registry) readLoop(s *Session) {
	_ = s.conn.SetReadDeadline(time.Now().Add(r.idle))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(r.idle))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			reason := "error"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "closed"
			}
			r.unregister(s, reason)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(r.idle))

		evt, err := wire.Decode(data)
		if err != nil {
			r.logger.Warn("dropping malformed frame", zap.String("session", s.ID), zap.Error(err))
			continue
		}
		if evt.Kind == wire.KindPing {
			if err := s.writeEvent(wire.Pong()); err != nil {
				r.unregister(s, "error")
				return
			}
		}
	}
}

// Broadcast marshals the event once and writes it to every session. A
// session whose write fails is closed and removed; the rest are unaffected.
func (r *Registry) Broadcast(evt wire.Event) {
	data, err := wire.Encode(evt)
	if err != nil {
		r.logger.Error("broadcast encode failed", zap.Error(err))
		return
	}

	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.write(data); err != nil {
			metrics.IncBroadcastError()
			r.logger.Warn("broadcast write failed", zap.String("session", s.ID), zap.Error(err))
			r.unregister(s, "error")
			continue
		}
		metrics.IncEventsBroadcast()
	}
}

// Drop force-closes one session. The client sees a socket error, exactly as
// on a real network failure.
func (r *Registry) Drop(id string) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.unregister(s, "forced")
	return nil
}

// Sessions returns a snapshot of the attached sessions.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Count returns how many sessions are attached.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) pingAll() {
	deadline := time.Now().Add(writeWait)
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.ping(deadline); err != nil {
			r.logger.Warn("heartbeat ping failed", zap.String("session", s.ID), zap.Error(err))
			r.unregister(s, "error")
		}
	}
}

// unregister removes and closes a session. Safe to call more than once per
// session; only the call that removes it publishes and counts.
func (r *Registry) unregister(s *Session, reason string) {
	r.mu.Lock()
	_, present := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	_ = s.conn.Close()
	if !present {
		return
	}

	metrics.DecSessionsActive()
	metrics.IncSessionClosed(reason)
	r.logger.Info("session detached", zap.String("session", s.ID), zap.String("reason", reason))
	r.bus.Publish(bus.Event{Kind: bus.KindSessionClosed, Timestamp: time.Now(), Payload: s.info()})
}
