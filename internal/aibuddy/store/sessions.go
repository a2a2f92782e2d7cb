package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bdobrica/aibuddy/internal/aibuddy/session"
)

// Compile-time assertion that SessionStore satisfies the engine's persistence
// contract.
var _ session.Store = (*SessionStore)(nil)

// SessionStore is the SQLite-backed session.Store implementation. Each save
// is a single upsert statement, so a concurrent Load on the shared connection
// sees either the old row or the new row, never a partial write.
type SessionStore struct {
	db *Store
}

// NewSessionStore returns a SessionStore backed by the application database.
// The sessions migration must have been applied (Store.New guarantees this).
func NewSessionStore(db *Store) *SessionStore {
	return &SessionStore{db: db}
}

// Load returns the session for userID. Missing rows map to
// session.ErrNotFound; rows whose history column cannot be decoded map to
// session.ErrMalformed.
func (s *SessionStore) Load(ctx context.Context, userID string) (*session.Session, error) {
	var (
		sess       session.Session
		historyRaw string
		lastMsg    sql.NullTime
	)
	err := s.db.db.QueryRowContext(ctx, `
		SELECT user_id, username, requests_remaining, total_requests,
		       persona_override, history, last_message_at, created_at
		FROM sessions
		WHERE user_id = ?
	`, userID).Scan(
		&sess.UserID, &sess.Username, &sess.RequestsRemaining, &sess.TotalRequests,
		&sess.PersonaOverride, &historyRaw, &lastMsg, &sess.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session %s: %w", userID, err)
	}

	if err := json.Unmarshal([]byte(historyRaw), &sess.History); err != nil {
		return nil, fmt.Errorf("store: session %s history: %w: %v", userID, session.ErrMalformed, err)
	}
	if lastMsg.Valid {
		sess.LastMessageAt = lastMsg.Time
	}
	return &sess, nil
}

// Save upserts the session row.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	history := sess.History
	if history == nil {
		history = []string{}
	}
	historyRaw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("store: encode history for %s: %w", sess.UserID, err)
	}

	var lastMsg any
	if !sess.LastMessageAt.IsZero() {
		lastMsg = sess.LastMessageAt.UTC()
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, username, requests_remaining, total_requests,
		                      persona_override, history, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username           = excluded.username,
			requests_remaining = excluded.requests_remaining,
			total_requests     = excluded.total_requests,
			persona_override   = excluded.persona_override,
			history            = excluded.history,
			last_message_at    = excluded.last_message_at
	`, sess.UserID, sess.Username, sess.RequestsRemaining, sess.TotalRequests,
		sess.PersonaOverride, string(historyRaw), lastMsg, sess.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", sess.UserID, err)
	}
	return nil
}

// SessionCount returns the number of persisted sessions, for status
// reporting.
func (s *SessionStore) SessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return n, nil
}
