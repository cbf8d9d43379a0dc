package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatsim/internal/metrics"
)

// ErrNoChats is returned by RandomChatID when the chats table is empty.
var ErrNoChats = errors.New("store: no chats")

// InsertChat inserts a new chat row. Used by seeding and tests; the broker
// only ever appends messages to existing chats.
func (db *DB) InsertChat(ctx context.Context, c *Chat) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO chats (id, title, last_message_at, unread_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.LastMessageAt, c.UnreadCount, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// ListChats returns one page of chats sorted by last message timestamp
// descending, id ascending on ties. A non-positive limit yields an empty
// page; limits above the cap are clamped.
func (db *DB) ListChats(ctx context.Context, limit, offset int) (ChatPage, error) {
	limit = db.clampLimit(limit)
	if limit <= 0 {
		return ChatPage{Items: []Chat{}}, nil
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, title, last_message_at, unread_count, created_at
		FROM chats
		ORDER BY last_message_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return ChatPage{}, err
	}
	defer func() { _ = rows.Close() }()

	items := make([]Chat, 0, limit)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessageAt, &c.UnreadCount, &c.CreatedAt); err != nil {
			return ChatPage{}, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return ChatPage{}, err
	}
	return ChatPage{Items: items, HasMore: len(items) == limit}, nil
}

// GetChat returns a single chat by id, or nil when absent.
func (db *DB) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	err := db.QueryRowContext(ctx, `
		SELECT id, title, last_message_at, unread_count, created_at
		FROM chats
		WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.LastMessageAt, &c.UnreadCount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkRead zeroes the unread counter for a chat. Calling it again, or on a
// chat that does not exist, is a no-op.
func (db *DB) MarkRead(ctx context.Context, chatID string) error {
	_, err := db.ExecContext(ctx, `UPDATE chats SET unread_count = 0 WHERE id = ?`, chatID)
	metrics.IncStoreWrite("mark_read", err)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ChatCount returns the number of chats.
func (db *DB) ChatCount(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RandomChatID returns a uniformly random existing chat id.
func (db *DB) RandomChatID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM chats ORDER BY RANDOM() LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoChats
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
