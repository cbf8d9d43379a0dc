package api

import (
	"net/http"
	"time"

	"chatsim/internal/broker"
	"chatsim/internal/store"
	"chatsim/internal/ws"
	"github.com/gin-gonic/gin"
)

// StatusHandler reports a one-shot summary of the hub.
type StatusHandler struct {
	db       *store.DB
	registry *ws.Registry
	broker   *broker.Broker
	started  time.Time
}

// NewStatusHandler builds a StatusHandler. Uptime counts from now.
func NewStatusHandler(db *store.DB, registry *ws.Registry, b *broker.Broker) *StatusHandler {
	return &StatusHandler{db: db, registry: registry, broker: b, started: time.Now()}
}

// Status returns hub counters: attached sessions, stored chats and
// messages, broker pause state, and uptime.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	chats, err := h.db.ChatCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count chats"})
		return
	}
	messages, err := h.db.TotalMessages(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.registry.Count(),
		"chats":    chats,
		"messages": messages,
		"paused":   h.broker.Paused(),
		"uptimeMs": time.Since(h.started).Milliseconds(),
	})
}
