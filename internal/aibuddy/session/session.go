// Package session implements the conversation session engine: per-user quota
// accounting, the bounded history window, token-budgeted prompt assembly, and
// the persistence contract the rest of the bot relies on.
//
// All engine operations mutate an explicit *Session value owned by the caller;
// nothing in this package performs I/O except through the Store interface.
// Concurrent interactions for the same user must be serialized by the caller
// (see UserLocks) — the engine itself holds no locks.
package session

import (
	"errors"
	"time"
)

// DefaultQuota is the number of requests a freshly created session may issue
// before the gate refuses further interactions.
const DefaultQuota = 666

// ErrQuotaExhausted is returned by Debit when the session has no requests
// left. Callers must check HasCapacity before attempting an interaction; a
// Debit that observes this error indicates a missed capacity check upstream.
var ErrQuotaExhausted = errors.New("session: quota exhausted")

// Session is the per-user aggregate: identity, quota counters, persona
// override, and the rolling history window. One session exists per user ID;
// GetOrCreate constructs it on first contact.
type Session struct {
	// UserID is the stable chat-transport identifier (e.g. a Matrix user ID).
	// Immutable after creation.
	UserID string

	// Username is the human-readable name, kept for admin-visible output only.
	// Never used in prompt assembly.
	Username string

	// RequestsRemaining is the non-negative request allowance. Decremented by
	// exactly one per accepted interaction; only an external top-up (a direct
	// DB edit) ever increases it.
	RequestsRemaining int

	// TotalRequests counts all-time accepted interactions.
	TotalRequests int

	// PersonaOverride, when non-empty, replaces the default system persona in
	// assembled prompts. Set by /pretend, cleared by /pretend with no text.
	PersonaOverride string

	// History holds prior user utterances, oldest first, bounded at
	// HistoryMax entries.
	History []string

	// LastMessageAt is the time of the last accepted interaction. Zero until
	// the first one.
	LastMessageAt time.Time

	// CreatedAt is the session creation time. Immutable.
	CreatedAt time.Time
}

// New constructs a default session for a previously unseen user: full quota,
// empty history, no persona override.
func New(userID, username string, quota int) *Session {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Session{
		UserID:            userID,
		Username:          username,
		RequestsRemaining: quota,
		CreatedAt:         time.Now().UTC(),
	}
}

// HasCapacity reports whether the session may issue another request.
// Pure: no side effects.
func (s *Session) HasCapacity() bool {
	return s.RequestsRemaining > 0
}

// Debit records one accepted interaction: RequestsRemaining goes down by one,
// TotalRequests up by one. Must only be called after HasCapacity returned
// true and the upstream call succeeded; calling it on an exhausted session
// returns ErrQuotaExhausted and leaves the counters untouched.
func (s *Session) Debit() error {
	if s.RequestsRemaining <= 0 {
		return ErrQuotaExhausted
	}
	s.RequestsRemaining--
	s.TotalRequests++
	return nil
}

// SetPersona stores a persona override. An empty string clears the override,
// reverting assembled prompts to the default persona.
func (s *Session) SetPersona(persona string) {
	s.PersonaOverride = persona
}

// Touch updates LastMessageAt. Called alongside Debit on accepted
// interactions.
func (s *Session) Touch(now time.Time) {
	s.LastMessageAt = now.UTC()
}
