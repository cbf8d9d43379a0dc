package store

import (
	"context"
	"fmt"
	"time"

	"chatsim/internal/metrics"
	"github.com/google/uuid"
)

// InsertMessage persists a message and updates its chat in one transaction:
// the chat's last_message_at advances to the message timestamp (never
// backwards) and its unread counter is incremented. On any failure nothing
// is visible — there is no state where the message row exists without the
// chat update. An unknown chat id fails the foreign key and leaves no trace.
func (db *DB) InsertMessage(ctx context.Context, m *Message) (err error) {
	defer func() { metrics.IncStoreWrite("insert_message", err) }()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender, body, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Sender, m.Body, m.Timestamp, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE chats
		SET last_message_at = MAX(last_message_at, ?),
		    unread_count = unread_count + 1
		WHERE id = ?`,
		m.Timestamp, m.ChatID); err != nil {
		return fmt.Errorf("update chat: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns one page of a chat's messages, newest first, id
// ascending on equal timestamps. An unknown chat yields an empty page, not
// an error. A non-positive limit yields an empty page; limits above the cap
// are clamped.
func (db *DB) ListMessages(ctx context.Context, chatID string, limit, offset int) (MessagePage, error) {
	limit = db.clampLimit(limit)
	if limit <= 0 {
		return MessagePage{Items: []Message{}}, nil
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, chat_id, sender, body, ts, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY ts DESC, id ASC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return MessagePage{}, err
	}
	defer func() { _ = rows.Close() }()

	items := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &m.Timestamp, &m.CreatedAt); err != nil {
			return MessagePage{}, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, err
	}
	return MessagePage{Items: items, HasMore: len(items) == limit}, nil
}

// MessageCount returns the number of messages in one chat.
func (db *DB) MessageCount(ctx context.Context, chatID string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// TotalMessages returns the number of messages across all chats.
func (db *DB) TotalMessages(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
