package store

import (
	"context"
	"strings"
)

// SearchMessages performs a case-insensitive substring match on message
// bodies within one chat, newest first. An empty or all-whitespace query
// matches nothing. A non-positive limit falls back to the search cap;
// larger limits are clamped to it.
func (db *DB) SearchMessages(ctx context.Context, chatID, query string, limit int) ([]Message, error) {
	cap := db.Caps.SearchLimit
	if cap <= 0 {
		cap = defaultSearchLimit
	}
	if limit <= 0 || limit > cap {
		limit = cap
	}

	if strings.TrimSpace(query) == "" {
		return []Message{}, nil
	}

	// SQLite LIKE is case-insensitive for ASCII. % and _ in the query must
	// match literally.
	pattern := "%" + escapeLike(query) + "%"

	rows, err := db.QueryContext(ctx, `
		SELECT id, chat_id, sender, body, ts, created_at
		FROM messages
		WHERE chat_id = ? AND body LIKE ? ESCAPE '\'
		ORDER BY ts DESC, id ASC
		LIMIT ?`, chatID, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &m.Timestamp, &m.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
