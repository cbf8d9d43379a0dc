package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chatsim/internal/bus"
	"chatsim/internal/store"
	"chatsim/internal/wire"
	"go.uber.org/zap"
)

// ErrUnknownChat is returned by Select for a chat id the store has never
// seen.
var ErrUnknownChat = errors.New("unknown chat")

// Consumer folds incoming messages into a chat view: an ordered chat list,
// one optionally selected chat, and that chat's newest messages. The store
// stays the source of truth; the consumer keeps a cache shaped for display
// and falls back to a reload whenever an event refers to a chat it has not
// cached.
type Consumer struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	chatLimit int
	msgLimit  int

	mu       sync.RWMutex
	chats    []store.Chat
	selected string
	messages []store.Message // selected chat only, oldest first, newest at the end
	hasMore  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a consumer over the given store and bus. chatLimit
// bounds the cached chat list, msgLimit the visible message page.
func NewConsumer(db *store.DB, b *bus.Bus, logger *zap.Logger, chatLimit, msgLimit int) *Consumer {
	return &Consumer{
		db:        db,
		bus:       b,
		logger:    logger,
		chatLimit: chatLimit,
		msgLimit:  msgLimit,
	}
}

// Start loads the initial chat list and begins applying bus events. Stop
// ends the apply loop.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	events, unsub := c.bus.Subscribe("sync.", 256)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				wireEvt, ok := evt.Payload.(wire.Event)
				if !ok || wireEvt.Message == nil {
					continue
				}
				if err := c.apply(ctx, wireEvt.Message); err != nil {
					c.logger.Warn("apply failed",
						zap.String("chat", wireEvt.Message.ChatID),
						zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop halts the apply loop. The cached view stays readable.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

// Chats returns a copy of the cached chat list, most recent first.
func (c *Consumer) Chats() []store.Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

// Selected returns the selected chat id, or "" when nothing is selected.
func (c *Consumer) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// Messages returns a copy of the selected chat's visible messages in display
// order (oldest first, newest last) and whether older history remains before
// them.
func (c *Consumer) Messages() ([]store.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.Message, len(c.messages))
	copy(out, c.messages)
	return out, c.hasMore
}

// Select focuses a chat: its unread counter is cleared and the first page
// of its history is loaded.
func (c *Consumer) Select(ctx context.Context, chatID string) error {
	chat, err := c.db.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrUnknownChat
	}
	if err := c.db.MarkRead(ctx, chatID); err != nil {
		return err
	}
	page, err := c.db.ListMessages(ctx, chatID, c.msgLimit, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.selected = chatID
	c.messages = displayOrder(page.Items)
	c.hasMore = page.HasMore
	for i := range c.chats {
		if c.chats[i].ID == chatID {
			c.chats[i].UnreadCount = 0
		}
	}
	c.mu.Unlock()
	return nil
}

// LoadMore extends the visible history of the selected chat by one page of
// older messages. A no-op when nothing is selected or no history remains.
func (c *Consumer) LoadMore(ctx context.Context) error {
	c.mu.RLock()
	chatID, offset, hasMore := c.selected, len(c.messages), c.hasMore
	c.mu.RUnlock()
	if chatID == "" || !hasMore {
		return nil
	}

	page, err := c.db.ListMessages(ctx, chatID, c.msgLimit, offset)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.selected == chatID {
		c.messages = append(displayOrder(page.Items), c.messages...)
		c.hasMore = page.HasMore
	}
	c.mu.Unlock()
	return nil
}

// Refresh reloads the chat list, and the selected page if any, from the
// store.
func (c *Consumer) Refresh(ctx context.Context) error {
	page, err := c.db.ListChats(ctx, c.chatLimit, 0)
	if err != nil {
		return err
	}

	c.mu.RLock()
	selected := c.selected
	c.mu.RUnlock()

	var msgs store.MessagePage
	if selected != "" {
		if msgs, err = c.db.ListMessages(ctx, selected, c.msgLimit, 0); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.chats = page.Items
	if selected != "" && c.selected == selected {
		c.messages = displayOrder(msgs.Items)
		c.hasMore = msgs.HasMore
	}
	c.mu.Unlock()
	return nil
}

// apply folds one incoming message into the view. Messages for the selected
// chat are shown immediately and kept read; messages for other cached chats
// bump their unread counter and float the chat to the top; a message for an
// unknown chat forces a list reload.
func (c *Consumer) apply(ctx context.Context, msg *store.Message) error {
	c.mu.Lock()
	idx := -1
	for i := range c.chats {
		if c.chats[i].ID == msg.ChatID {
			idx = i
			break
		}
	}

	if idx < 0 {
		c.mu.Unlock()
		c.logger.Debug("message for uncached chat, reloading",
			zap.String("chat", msg.ChatID))
		return c.Refresh(ctx)
	}

	if c.chats[idx].LastMessageAt < msg.Timestamp {
		c.chats[idx].LastMessageAt = msg.Timestamp
	}
	selected := c.selected == msg.ChatID
	if selected {
		c.chats[idx].UnreadCount = 0
		c.messages = append(c.messages, *msg)
		if len(c.messages) > c.msgLimit {
			c.messages = c.messages[len(c.messages)-c.msgLimit:]
			c.hasMore = true
		}
	} else {
		c.chats[idx].UnreadCount++
	}
	c.resortLocked()
	c.mu.Unlock()

	if selected {
		// the user is looking at this chat, so it never reads as unread
		return c.db.MarkRead(ctx, msg.ChatID)
	}
	return nil
}

func (c *Consumer) resortLocked() {
	sort.SliceStable(c.chats, func(i, j int) bool {
		if c.chats[i].LastMessageAt != c.chats[j].LastMessageAt {
			return c.chats[i].LastMessageAt > c.chats[j].LastMessageAt
		}
		return c.chats[i].ID < c.chats[j].ID
	})
}

// displayOrder reverses a newest-first store page into oldest-first display
// order.
func displayOrder(items []store.Message) []store.Message {
	out := make([]store.Message, len(items))
	for i, m := range items {
		out[len(items)-1-i] = m
	}
	return out
}
