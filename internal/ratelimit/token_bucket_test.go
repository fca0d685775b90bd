package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "user-a")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "user-a")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "user-a")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Keys are independent: draining user-a leaves user-b untouched.
	allowed, _, _ = bucket.Allow(ctx, "user-b")
	if !allowed {
		t.Fatalf("expected separate key to have its own bucket")
	}

	// Note: Cannot test refill with miniredis.FastForward() because the Lua script
	// receives time from Go's time.Now(), not Redis's internal clock.
}

func TestTokenBucketCost(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 5, 1, time.Minute)

	allowed, remaining, err := bucket.AllowN(ctx, "user-a", 3)
	if err != nil || !allowed {
		t.Fatalf("expected cost-3 request allowed got allowed=%v err=%v", allowed, err)
	}
	if remaining > 2 {
		t.Fatalf("expected at most 2 tokens remaining got %v", remaining)
	}

	// Unpayable cost is rejected whole and drains nothing.
	allowed, _, _ = bucket.AllowN(ctx, "user-a", 3)
	if allowed {
		t.Fatalf("expected cost-3 request to be rejected with 2 tokens left")
	}
	allowed, _, _ = bucket.AllowN(ctx, "user-a", 2)
	if !allowed {
		t.Fatalf("expected cost-2 request allowed after rejected overdraft")
	}
}
