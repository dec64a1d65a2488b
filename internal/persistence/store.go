// Package persistence provides the coordinator's two-tier SQLite storage:
// a hot tier written synchronously on every mutation (crash-safe up to the
// last applied op) and a cold tier written only once a session has gone
// quiet (spec §4.2). Both tiers share the same schema and open/migrate
// pattern, grounded on the teacher's internal/store.Store.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adewale/keyboardia/internal/model"
)

// Store persists sessions in SQLite. A single Store is used for both the hot
// and cold tier; callers distinguish the two by calling SaveHot on every
// mutation and SaveCold only after a debounce timer fires on quiescence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The coordinator drives all session mutation through a single
	// goroutine per session, but multiple sessions share this *sql.DB, so
	// concurrent writers across sessions are expected.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions_hot (
		session_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		state_seq INTEGER NOT NULL,
		updated_at_unix_ms INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions_cold (
		session_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		state_seq INTEGER NOT NULL,
		updated_at_unix_ms INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_hot_updated ON sessions_hot(updated_at_unix_ms)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run sqlite migration: %w", err)
		}
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// SaveHot upserts s into the hot tier. Called synchronously after every
// applied mutation, so it is the source of truth across a coordinator crash.
func (s *Store) SaveHot(ctx context.Context, sess *model.Session) error {
	return s.save(ctx, "sessions_hot", sess)
}

// SaveCold upserts s into the cold tier. Called only once a session has been
// idle for its debounce window (spec §4.2), trading durability latency for
// write volume on a busy session.
func (s *Store) SaveCold(ctx context.Context, sess *model.Session) error {
	return s.save(ctx, "sessions_cold", sess)
}

func (s *Store) save(ctx context.Context, table string, sess *model.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	q := fmt.Sprintf(`
INSERT INTO %s (session_id, state_json, state_seq, updated_at_unix_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	state_json = excluded.state_json,
	state_seq = excluded.state_seq,
	updated_at_unix_ms = excluded.updated_at_unix_ms
`, table)
	_, err = s.db.ExecContext(ctx, q, sess.SessionID, string(b), sess.StateSeq, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save session to %s: %w", table, err)
	}
	slog.Debug("session persisted", "table", table, "session_id", sess.SessionID, "state_seq", sess.StateSeq)
	return nil
}

// ErrNotFound is returned when no row exists for a session id.
var ErrNotFound = fmt.Errorf("session not found")

// LoadHot loads a session from the hot tier, or ErrNotFound.
func (s *Store) LoadHot(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.load(ctx, "sessions_hot", sessionID)
}

// LoadCold loads a session from the cold tier, or ErrNotFound.
func (s *Store) LoadCold(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.load(ctx, "sessions_cold", sessionID)
}

func (s *Store) load(ctx context.Context, table, sessionID string) (*model.Session, error) {
	q := fmt.Sprintf(`SELECT state_json FROM %s WHERE session_id = ?`, table)
	var raw string
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session from %s: %w", table, err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// SessionSummary is a lightweight row for CLI/ops listing, avoiding a full
// state_json unmarshal for every session.
type SessionSummary struct {
	SessionID string
	StateSeq  uint64
	UpdatedAt time.Time
}

// ListSessionSummaries returns every session known to the hot tier, most
// recently updated first.
func (s *Store) ListSessionSummaries(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, state_seq, updated_at_unix_ms FROM sessions_hot
ORDER BY updated_at_unix_ms DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var updatedAtMs int64
		if err := rows.Scan(&sum.SessionID, &sum.StateSeq, &updatedAtMs); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.UpdatedAt = time.UnixMilli(updatedAtMs)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Hydrate loads a session for the coordinator on first access: hot tier
// first (it reflects every applied mutation up to the last process
// lifetime), falling back to the cold tier if the hot row is absent (spec
// §4.2's "hot tier missing, cold tier present" startup case).
func (s *Store) Hydrate(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.LoadHot(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	sess, err = s.LoadCold(ctx, sessionID)
	if err == nil {
		slog.Info("hydrated session from cold tier", "session_id", sessionID)
		if err := s.SaveHot(ctx, sess); err != nil {
			return nil, fmt.Errorf("mirror cold tier to hot: %w", err)
		}
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return nil, ErrNotFound
}
