package session

import "sync"

// UserLocks serializes interactions per user ID. The engine's load → mutate →
// save cycle is a read-modify-write: without serialization two overlapping
// messages from the same user would both load the same snapshot and the later
// save would silently discard the earlier debit. Handlers take the user's
// lock for the whole interaction so a single writer exists per user at a
// time within this process.
//
// UserLocks is safe for concurrent use. Entries are never removed; the map
// grows by one mutex per distinct user, which is negligible next to the
// session rows themselves.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks returns an empty lock registry.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for userID, creating it on first use. The returned
// function releases it; callers should defer it immediately.
func (ul *UserLocks) Lock(userID string) func() {
	ul.mu.Lock()
	m := ul.locks[userID]
	if m == nil {
		m = &sync.Mutex{}
		ul.locks[userID] = m
	}
	ul.mu.Unlock()

	m.Lock()
	return m.Unlock
}
