package store

import (
	"context"
	"fmt"
	"time"

	"chatsim/internal/metrics"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// SeedOpts controls one-time database seeding. Zero values fall back to the
// package defaults (12 chats, 15 to 60 messages each).
type SeedOpts struct {
	Chats       int
	MinMessages int
	MaxMessages int
}

// SeedResult reports what Seed found or created.
type SeedResult struct {
	Chats    int
	Messages int
	Skipped  bool
}

// Seed populates an empty database with fake chats and message history
// spread over the trailing week. Seeding is idempotent: if any chat already
// exists the database is left untouched and the existing counts are
// returned.
func (db *DB) Seed(ctx context.Context, opts SeedOpts) (res SeedResult, err error) {
	defer func() { metrics.IncStoreWrite("seed", err) }()

	if opts.Chats <= 0 {
		opts.Chats = 12
	}
	if opts.MinMessages <= 0 {
		opts.MinMessages = 15
	}
	if opts.MaxMessages < opts.MinMessages {
		opts.MaxMessages = opts.MinMessages + 45
	}

	existing, err := db.ChatCount(ctx)
	if err != nil {
		return SeedResult{}, err
	}
	if existing > 0 {
		var msgs int
		if err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&msgs); err != nil {
			return SeedResult{}, err
		}
		return SeedResult{Chats: existing, Messages: msgs, Skipped: true}, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return SeedResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	week := int(7 * 24 * time.Hour / time.Millisecond)

	for i := 0; i < opts.Chats; i++ {
		chatID := uuid.NewString()

		// Chat row first so the message foreign key holds inside the tx.
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO chats (id, title, last_message_at, unread_count, created_at)
			VALUES (?, ?, 0, 0, ?)`,
			chatID, gofakeit.Name(), now-int64(week)); err != nil {
			return SeedResult{}, fmt.Errorf("seed chat: %w", err)
		}

		count := gofakeit.Number(opts.MinMessages, opts.MaxMessages)
		var last int64
		for j := 0; j < count; j++ {
			ts := now - int64(gofakeit.Number(0, week))
			if ts > last {
				last = ts
			}
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO messages (id, chat_id, sender, body, ts, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), chatID, gofakeit.FirstName(),
				gofakeit.Sentence(gofakeit.Number(3, 12)), ts, now); err != nil {
				return SeedResult{}, fmt.Errorf("seed message: %w", err)
			}
		}

		// Seeded history counts as read, so only last_message_at moves.
		if _, err = tx.ExecContext(ctx, `
			UPDATE chats SET last_message_at = ? WHERE id = ?`, last, chatID); err != nil {
			return SeedResult{}, fmt.Errorf("seed chat timestamp: %w", err)
		}

		res.Chats++
		res.Messages += count
	}

	if err = tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	return res, nil
}
