package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSessions(t *testing.T) (*sessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newSessionStore(rdb, time.Hour), mr
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, _ := newTestSessions(t)
	ctx := context.Background()

	got, err := store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no session, got %+v", got)
	}

	want := session{State: StateBrowsing, CreateStep: createStepContent, CreatePath: "docs/a.md"}
	if err := store.Set(ctx, 42, want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if err := store.Clear(ctx, 42); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = store.Get(ctx, 42)
	if err != nil || got != nil {
		t.Fatalf("expected cleared session, got %+v err %v", got, err)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	store, mr := newTestSessions(t)
	ctx := context.Background()

	if err := store.Set(ctx, 7, session{State: StateAwaitingToken}); err != nil {
		t.Fatalf("set: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired session, got %+v", got)
	}
}
