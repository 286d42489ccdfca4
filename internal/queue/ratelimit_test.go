package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, 2)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	allowed, used, _, err := rl.Allow(context.Background(), 42, now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), 42, now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), 42, now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}

	// A different user has their own window.
	allowed, used, _, err = rl.Allow(context.Background(), 7, now)
	if err != nil {
		t.Fatalf("allow other user: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected other user allowed with used=1, got allowed=%v used=%d", allowed, used)
	}
}

func TestUpdateDeduplicatorMarkFirst(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	d := NewUpdateDeduplicator(rdb, time.Hour)

	first, err := d.MarkFirst(context.Background(), 1001)
	if err != nil {
		t.Fatalf("mark first: %v", err)
	}
	if !first {
		t.Fatal("expected first delivery to be marked first")
	}

	first, err = d.MarkFirst(context.Background(), 1001)
	if err != nil {
		t.Fatalf("mark duplicate: %v", err)
	}
	if first {
		t.Fatal("expected redelivery to be suppressed")
	}
}
