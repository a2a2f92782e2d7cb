package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bdobrica/aibuddy/internal/aibuddy/session"
	"github.com/bdobrica/aibuddy/internal/aibuddy/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "aibuddy-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSessionStore_LoadAbsent(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))

	_, err := sessions.Load(context.Background(), "@nobody:test")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Load of absent session: got %v, want session.ErrNotFound", err)
	}
}

func TestSessionStore_SaveLoadRoundTrip(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	s := session.New("@alice:test", "alice", 666)
	s.SetPersona("a weather forecaster")
	s.AppendHistory("what's the weather")
	s.AppendHistory("and tomorrow?")
	if err := s.Debit(); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	s.Touch(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))

	if err := sessions.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := sessions.Load(ctx, "@alice:test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID != "@alice:test" || got.Username != "alice" {
		t.Errorf("identity: got (%q, %q)", got.UserID, got.Username)
	}
	if got.RequestsRemaining != 665 || got.TotalRequests != 1 {
		t.Errorf("counters: got (%d, %d), want (665, 1)", got.RequestsRemaining, got.TotalRequests)
	}
	if got.PersonaOverride != "a weather forecaster" {
		t.Errorf("PersonaOverride: got %q", got.PersonaOverride)
	}
	if len(got.History) != 2 || got.History[0] != "what's the weather" || got.History[1] != "and tomorrow?" {
		t.Errorf("History: got %v", got.History)
	}
	if !got.LastMessageAt.Equal(s.LastMessageAt) {
		t.Errorf("LastMessageAt: got %v, want %v", got.LastMessageAt, s.LastMessageAt)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not persisted")
	}
}

func TestSessionStore_ReadYourWrites(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	s := session.New("@bob:test", "bob", 3)
	for i := 0; i < 3; i++ {
		if err := s.Debit(); err != nil {
			t.Fatalf("Debit %d: %v", i, err)
		}
		s.AppendHistory("msg")
		if err := sessions.Save(ctx, s); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}

		got, err := sessions.Load(ctx, "@bob:test")
		if err != nil {
			t.Fatalf("Load %d: %v", i, err)
		}
		if got.TotalRequests != s.TotalRequests {
			t.Errorf("save %d not visible to immediate load: got %d, want %d",
				i, got.TotalRequests, s.TotalRequests)
		}
	}
}

func TestSessionStore_UpsertOverwrites(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	s := session.New("@carol:test", "carol", 10)
	if err := sessions.Save(ctx, s); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	s.SetPersona("a pirate")
	s.AppendHistory("arr")
	if err := sessions.Save(ctx, s); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := sessions.Load(ctx, "@carol:test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PersonaOverride != "a pirate" || len(got.History) != 1 {
		t.Errorf("second save not reflected: %+v", got)
	}
}

func TestSessionStore_EmptyHistoryRoundTrips(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	s := session.New("@dave:test", "dave", 5)
	if err := sessions.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := sessions.Load(ctx, "@dave:test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.History) != 0 {
		t.Errorf("History: got %v, want empty", got.History)
	}
	if !got.LastMessageAt.IsZero() {
		t.Errorf("LastMessageAt: got %v, want zero", got.LastMessageAt)
	}
}

func TestSessionStore_MalformedHistory(t *testing.T) {
	db := newTestStore(t)
	sessions := store.NewSessionStore(db)
	ctx := context.Background()

	// Corrupt the history column directly, bypassing Save.
	_, err := db.DB().ExecContext(ctx, `
		INSERT INTO sessions (user_id, username, requests_remaining, total_requests,
		                      persona_override, history, created_at)
		VALUES ('@evil:test', '', 5, 0, '', '{not json', ?)
	`, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	_, err = sessions.Load(ctx, "@evil:test")
	if !errors.Is(err, session.ErrMalformed) {
		t.Fatalf("Load of corrupt record: got %v, want session.ErrMalformed", err)
	}
}

func TestSessionStore_SessionCount(t *testing.T) {
	sessions := store.NewSessionStore(newTestStore(t))
	ctx := context.Background()

	n, err := sessions.SessionCount(ctx)
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if n != 0 {
		t.Errorf("empty store count = %d", n)
	}

	for _, id := range []string{"@a:test", "@b:test"} {
		if err := sessions.Save(ctx, session.New(id, "", 5)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	n, err = sessions.SessionCount(ctx)
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}
