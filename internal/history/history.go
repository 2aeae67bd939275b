// Package history provides a SQLite-backed log of answered queries.
// Every successful answer is recorded with its question, sources, and
// relevance score, so operators can review what the system said and what
// grounded it. Logging is best-effort: a history failure never fails the
// query that triggered it.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Disabled is the path sentinel that turns history off entirely.
const Disabled = "disabled"

// Entry is one answered query.
type Entry struct {
	// Question is the user's question verbatim.
	Question string `json:"question"`
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources lists the document names behind the answer.
	Sources []string `json:"sources"`
	// Score is the relevance score reported with the answer.
	Score float64 `json:"score"`
	// ChunkCount is the number of chunks used in the context.
	ChunkCount int `json:"chunkCount"`
	// Model names the generation model that produced the answer.
	Model string `json:"model"`
	// Duration is the end-to-end query time.
	Duration time.Duration `json:"duration"`
	// CreatedAt is when the entry was persisted, second precision.
	CreatedAt time.Time `json:"createdAt"`
}

// Log records and retrieves answered queries. Implementations must be
// safe for concurrent use.
type Log interface {
	// Record persists a single entry.
	Record(ctx context.Context, e Entry) error
	// Recent returns the most recent n entries, ordered oldest-first.
	// If fewer than n exist, all are returned.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the log.
	Close() error
}

// Nop is a Log that discards everything. It backs the "disabled"
// history setting.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }

// SQLiteLog is a Log backed by a local SQLite database.
type SQLiteLog struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the query history database.
// It resolves to ~/.docqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// FromPath resolves a configured history path into a Log. "disabled"
// yields the Nop log, the empty string resolves to the default database
// location, and anything else opens that path. Use ":memory:" for an
// in-memory log.
func FromPath(path string) (Log, error) {
	switch path {
	case Disabled:
		return Nop{}, nil
	case "":
		resolved, err := DefaultDBPath()
		if err != nil {
			return nil, err
		}
		return Open(resolved)
	default:
		return Open(path)
	}
}

// Open opens (or creates) a SQLiteLog at the given path and runs the
// schema migration.
func Open(path string) (*SQLiteLog, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// migrate creates the schema if it does not already exist.
func (l *SQLiteLog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    question     TEXT    NOT NULL,
    answer       TEXT    NOT NULL,
    sources      TEXT    NOT NULL,  -- JSON array of document names
    score        REAL    NOT NULL,
    chunk_count  INTEGER NOT NULL,
    model        TEXT    NOT NULL,
    duration_ms  INTEGER NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_queries_created
    ON queries (created_at);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record persists a single entry. The entry's CreatedAt is ignored; the
// current time is stored.
func (l *SQLiteLog) Record(ctx context.Context, e Entry) error {
	sources := e.Sources
	if sources == nil {
		sources = []string{}
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("history: encode sources: %w", err)
	}

	const q = `INSERT INTO queries (question, answer, sources, score, chunk_count, model, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := l.db.ExecContext(ctx, q,
		e.Question, e.Answer, string(encoded), e.Score, e.ChunkCount, e.Model,
		e.Duration.Milliseconds(), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, ordered oldest-first. Uses a
// subquery to select the tail then re-order for display.
func (l *SQLiteLog) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT question, answer, sources, score, chunk_count, model, duration_ms, created_at FROM (
    SELECT id, question, answer, sources, score, chunk_count, model, duration_ms, created_at
    FROM   queries
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := l.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var sources string
		var durationMs, ts int64
		if err := rows.Scan(&e.Question, &e.Answer, &sources, &e.Score, &e.ChunkCount, &e.Model, &durationMs, &ts); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			return nil, fmt.Errorf("history: decode sources: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (l *SQLiteLog) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
