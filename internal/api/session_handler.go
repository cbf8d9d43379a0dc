package api

import (
	"errors"
	"net/http"

	"chatsim/internal/ws"
	"github.com/gin-gonic/gin"
)

// SessionHandler manages attached websocket sessions.
type SessionHandler struct {
	registry *ws.Registry
}

// NewSessionHandler builds a SessionHandler over the session registry.
func NewSessionHandler(registry *ws.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// List returns the currently attached sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.registry.Sessions()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// Drop force-closes one session. The client sees a dead socket and is
// expected to walk its reconnect schedule.
func (h *SessionHandler) Drop(c *gin.Context) {
	id := c.Param("session_id")
	if err := h.registry.Drop(id); err != nil {
		if errors.Is(err, ws.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to drop session"})
		return
	}
	c.Status(http.StatusNoContent)
}
