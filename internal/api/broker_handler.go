package api

import (
	"net/http"

	"chatsim/internal/broker"
	"github.com/gin-gonic/gin"
)

// BrokerHandler controls the synthetic message generator.
type BrokerHandler struct {
	broker *broker.Broker
}

// NewBrokerHandler builds a BrokerHandler.
func NewBrokerHandler(b *broker.Broker) *BrokerHandler {
	return &BrokerHandler{broker: b}
}

// Pause suspends message emission.
func (h *BrokerHandler) Pause(c *gin.Context) {
	h.broker.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume re-enables message emission.
func (h *BrokerHandler) Resume(c *gin.Context) {
	h.broker.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Tick forces one message emission immediately, useful for demos and tests.
// A paused broker or an empty store ticks as a no-op.
func (h *BrokerHandler) Tick(c *gin.Context) {
	if err := h.broker.Tick(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tick failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ticked": true, "paused": h.broker.Paused()})
}
