package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Load when no session exists for the user.
var ErrNotFound = errors.New("session: not found")

// ErrMalformed is returned by Store.Load when a persisted record exists but
// cannot be decoded. The engine does not attempt partial repair; the caller
// decides whether to report or reset.
var ErrMalformed = errors.New("session: malformed record")

// Store is the persistence boundary for sessions.
//
// Implementations must guarantee:
//   - Save is atomic per session: a concurrent Load never observes a
//     half-written record.
//   - Load immediately after a successful Save for the same user ID returns a
//     record reflecting that save (read-your-writes within the process).
//
// The engine does not require cross-session transactions or
// optimistic-concurrency detection. Two overlapping interactions for the same
// user that both Load, mutate, and Save will race last-writer-wins; callers
// wanting strict ordering wrap engine calls in a UserLocks section.
type Store interface {
	// Load returns the session for userID, ErrNotFound when absent, or
	// ErrMalformed when the record cannot be decoded.
	Load(ctx context.Context, userID string) (*Session, error)

	// Save persists the session, creating or overwriting its record.
	Save(ctx context.Context, s *Session) error
}

// GetOrCreate loads the session for userID, constructing a fresh default
// session when none is persisted. The new session is NOT saved here — the
// caller persists after the first accepted mutation, so refused or failed
// first interactions leave no record behind.
func GetOrCreate(ctx context.Context, store Store, userID, username string, quota int) (*Session, error) {
	s, err := store.Load(ctx, userID)
	if err == nil {
		return s, nil
	}
	if errors.Is(err, ErrNotFound) {
		return New(userID, username, quota), nil
	}
	return nil, err
}
