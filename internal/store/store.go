// Package store implements the conversation store: a SQLite-backed,
// write-through log of every chat turn plus an audit trail, mediated
// by a single serializing connection since the store sits off the hot
// inference path.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edgerun/inferedge/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	user_msg      TEXT NOT NULL,
	assistant_msg TEXT NOT NULL,
	model         TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload    TEXT,
	created_at TEXT NOT NULL
);
`

// Turn is one immutable conversation record.
type Turn struct {
	SessionID        string
	UserMessage      string
	AssistantMessage string
	Model            string
	CreatedAt        time.Time
}

// HistoryPair is one (user, assistant) message pair returned by
// GetSessionHistory.
type HistoryPair struct {
	UserMessage      string
	AssistantMessage string
}

// Store owns the single database connection and the lock serializing
// all access to it.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log *slog.Logger
}

// Open creates the database file if absent, enables WAL + normal
// synchronous mode, and applies idempotent migrations.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeDatabase, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeDatabase, "failed to set synchronous mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeDatabase, "failed to migrate schema", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeDatabase, "database unreachable after open", err)
	}

	log.Info("conversation store initialized", "path", path)
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation inserts one conversation row.
func (s *Store) SaveConversation(ctx context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, user_msg, assistant_msg, model, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		turn.SessionID, turn.UserMessage, turn.AssistantMessage, turn.Model,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabase, "failed to save conversation turn", err)
	}
	return nil
}

// GetSessionHistory returns the most recent limit (user, assistant)
// pairs for session, newest first.
func (s *Store) GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]HistoryPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_msg, assistant_msg FROM conversations
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, "failed to query session history", err)
	}
	defer rows.Close()

	pairs := make([]HistoryPair, 0, limit)
	for rows.Next() {
		var p HistoryPair
		if err := rows.Scan(&p.UserMessage, &p.AssistantMessage); err != nil {
			return nil, apperr.Wrap(apperr.CodeDatabase, "failed to scan session history row", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, "failed reading session history", err)
	}
	return pairs, nil
}

// LogAudit inserts one audit-log row.
func (s *Store) LogAudit(ctx context.Context, eventType string, payload *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event_type, payload, created_at) VALUES (?, ?, ?)`,
		eventType, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabase, "failed to log audit event", err)
	}
	return nil
}

// Ping confirms the store is reachable; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "SELECT 1"); err != nil {
		return apperr.Wrap(apperr.CodeDatabase, "database ping failed", err)
	}
	return nil
}
