// Package api exposes the hub's control surface over HTTP: chat and message
// reads for operators, session management, and broker control.
package api

import (
	"net/http"
	"strconv"

	"chatsim/internal/store"
	"github.com/gin-gonic/gin"
)

// ChatHandler serves read access to chats and their messages.
type ChatHandler struct {
	db           *store.DB
	chatLimit    int
	messageLimit int
}

// NewChatHandler builds a ChatHandler with the given default page sizes.
func NewChatHandler(db *store.DB, chatLimit, messageLimit int) *ChatHandler {
	return &ChatHandler{db: db, chatLimit: chatLimit, messageLimit: messageLimit}
}

// List returns one page of chats, most recently active first.
func (h *ChatHandler) List(c *gin.Context) {
	limit, offset, ok := pageParams(c, h.chatLimit)
	if !ok {
		return
	}
	page, err := h.db.ListChats(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// Messages returns one page of a chat's messages, newest first.
func (h *ChatHandler) Messages(c *gin.Context) {
	chatID := c.Param("chat_id")
	chat, err := h.db.GetChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	if chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}

	limit, offset, ok := pageParams(c, h.messageLimit)
	if !ok {
		return
	}
	page, err := h.db.ListMessages(c.Request.Context(), chatID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// Search returns a chat's messages whose body contains the query,
// case-insensitively, newest first.
func (h *ChatHandler) Search(c *gin.Context) {
	chatID := c.Param("chat_id")
	chat, err := h.db.GetChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	if chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}
	items, err := h.db.SearchMessages(c.Request.Context(), chatID, c.Query("q"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// pageParams parses limit and offset query parameters, falling back to the
// handler default. Malformed values answer 400 and report !ok.
func pageParams(c *gin.Context, defaultLimit int) (limit, offset int, ok bool) {
	limit = defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
