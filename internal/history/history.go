// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history records completed turns in a local SQLite database.
//
// The log is advisory: a turn that cannot be recorded still succeeds,
// and callers treat recording errors as non-fatal.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrClosed        = errors.New("history log closed")
	ErrDatabaseError = errors.New("database error")
)

// SchemaVersion tracks the database schema for migrations.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Turns table: one row per completed prompt/response pair
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at INTEGER NOT NULL,     -- Unix timestamp
    mode TEXT NOT NULL,              -- default, chat, repl, question
    conversation_id TEXT,            -- empty for one-shot turns
    role TEXT NOT NULL,              -- persona name
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    model TEXT,
    cached INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
CREATE INDEX IF NOT EXISTS idx_turns_mode ON turns(mode);
`

// =============================================================================
// TURN LOG
// =============================================================================

// Turn is one recorded prompt/response pair.
type Turn struct {
	ID             int64
	CreatedAt      time.Time
	Mode           string
	ConversationID string
	Role           string
	Prompt         string
	Response       string
	Model          string
	Cached         bool
	Duration       time.Duration
}

// Log is the SQLite-backed turn log.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	// The log is written from a single process at a time; one
	// connection avoids SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to apply schema: %v", ErrDatabaseError, err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprint(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends a turn to the log.
func (l *Log) Record(ctx context.Context, t Turn) error {
	if l == nil || l.db == nil {
		return ErrClosed
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	cached := 0
	if t.Cached {
		cached = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO turns (created_at, mode, conversation_id, role, prompt, response, model, cached, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.Unix(), t.Mode, t.ConversationID, t.Role,
		t.Prompt, t.Response, t.Model, cached, t.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// List returns the most recent turns, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]Turn, error) {
	if l == nil || l.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, created_at, mode, conversation_id, role, prompt, response, model, cached, duration_ms
		 FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// Search returns turns whose prompt or response contains query,
// newest first.
func (l *Log) Search(ctx context.Context, query string, limit int) ([]Turn, error) {
	if l == nil || l.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, created_at, mode, conversation_id, role, prompt, response, model, cached, duration_ms
		 FROM turns
		 WHERE prompt LIKE ? ESCAPE '\' OR response LIKE ? ESCAPE '\'
		 ORDER BY id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// Count reports the total number of recorded turns.
func (l *Log) Count(ctx context.Context) (int, error) {
	if l == nil || l.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var created, durationMS int64
		var cached int
		if err := rows.Scan(&t.ID, &created, &t.Mode, &t.ConversationID, &t.Role,
			&t.Prompt, &t.Response, &t.Model, &cached, &durationMS); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		t.CreatedAt = time.Unix(created, 0)
		t.Cached = cached != 0
		t.Duration = time.Duration(durationMS) * time.Millisecond
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return turns, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
