// Package requestlog persists settled calls to SQLite as a write-behind
// audit ledger. The in-memory session registry stays authoritative; the
// ledger exists so operators can reconcile spend after the process exits.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one settled call.
type Entry struct {
	CallID           string
	SessionID        string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD          float64
	LatencyMS        int64
	FinishReason     string
	ErrorCode        string
	CreatedAt        time.Time
}

// Writer persists call entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}

// NoopWriter ignores all writes. Used when no ledger DSN is configured.
type NoopWriter struct{}

func (NoopWriter) Write(context.Context, Entry) error { return nil }
func (NoopWriter) Close() error                       { return nil }

// SQLiteWriter persists entries to a SQLite database file.
type SQLiteWriter struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the ledger database at dsn.
func NewSQLite(dsn string) (*SQLiteWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "modelmux-calls.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open call ledger: %w", err)
	}
	w := &SQLiteWriter{db: db}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping call ledger: %w", err)
	}
	ddl := `
CREATE TABLE IF NOT EXISTS calls (
	id INTEGER PRIMARY KEY,
	call_id TEXT NOT NULL,
	session_id TEXT,
	provider TEXT,
	model TEXT,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cache_read_tokens INTEGER NOT NULL,
	cache_write_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	latency_ms INTEGER NOT NULL,
	finish_reason TEXT,
	error_code TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS calls_session_idx ON calls (session_id, created_at);`
	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize call ledger schema: %w", err)
	}
	return nil
}

// Write inserts one settled call.
func (w *SQLiteWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := w.db.ExecContext(ctx, `
INSERT INTO calls (
	call_id, session_id, provider, model,
	prompt_tokens, completion_tokens, cache_read_tokens, cache_write_tokens,
	cost_usd, latency_ms, finish_reason, error_code, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CallID, entry.SessionID, entry.Provider, entry.Model,
		entry.PromptTokens, entry.CompletionTokens, entry.CacheReadTokens, entry.CacheWriteTokens,
		entry.CostUSD, entry.LatencyMS, entry.FinishReason, entry.ErrorCode, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write call ledger entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (w *SQLiteWriter) Close() error { return w.db.Close() }
