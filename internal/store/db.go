package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultMaxPage     = 100
	defaultSearchLimit = 50
)

// Caps bound the limit arguments accepted by list and search operations.
type Caps struct {
	MaxPage     int
	SearchLimit int
}

// DefaultCaps returns the built-in pagination caps.
func DefaultCaps() Caps {
	return Caps{MaxPage: defaultMaxPage, SearchLimit: defaultSearchLimit}
}

// DB wraps a SQLite database connection for the hub-owned chatsim.db.
// The daemon is the only writing process; WAL mode lets client processes
// read (and mark chats read) concurrently.
type DB struct {
	*sql.DB
	Caps Caps
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, Caps: DefaultCaps()}, nil
}

// clampLimit applies the page cap. A non-positive limit stays non-positive so
// callers can map it to an empty page rather than a default.
func (db *DB) clampLimit(limit int) int {
	max := db.Caps.MaxPage
	if max <= 0 {
		max = defaultMaxPage
	}
	if limit > max {
		return max
	}
	return limit
}
