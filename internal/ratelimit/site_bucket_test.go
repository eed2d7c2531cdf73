package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refillPerSecond float64) *SiteBucket {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSiteBucket(client, capacity, refillPerSecond, time.Minute)
}

func TestSiteBucketCapacity(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 2, 1)

	v, err := bucket.Allow(ctx, "shop.example.com", 0, 0)
	if err != nil || !v.Allowed {
		t.Fatalf("expected first token allowed, got %+v err=%v", v, err)
	}
	v, _ = bucket.Allow(ctx, "shop.example.com", 0, 0)
	if !v.Allowed {
		t.Fatalf("expected second token allowed")
	}
	v, _ = bucket.Allow(ctx, "shop.example.com", 0, 0)
	if v.Allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Budgets are per host: a different site has its own bucket.
	v, _ = bucket.Allow(ctx, "jobs.example.org", 0, 0)
	if !v.Allowed {
		t.Fatalf("expected fresh host to be allowed")
	}
}

func TestSiteBucketRetryAfterTracksRefill(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 1, 2) // 2 tokens/s: a drained bucket refills in ~500ms

	if v, _ := bucket.Allow(ctx, "shop.example.com", 0, 0); !v.Allowed {
		t.Fatalf("expected first token allowed")
	}
	v, err := bucket.Allow(ctx, "shop.example.com", 0, 0)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if v.Allowed {
		t.Fatalf("expected rejection on a drained budget")
	}
	if v.RetryAfter <= 0 || v.RetryAfter > 600*time.Millisecond {
		t.Fatalf("retry after = %s, want about 500ms for 2 tokens/s", v.RetryAfter)
	}
}

func TestSiteBucketPerSiteOverrides(t *testing.T) {
	ctx := context.Background()
	bucket := newTestBucket(t, 1, 1)

	// A crawl-tolerant site lifts its own capacity past the default.
	for i := 0; i < 3; i++ {
		v, err := bucket.Allow(ctx, "fast.example.com", 3, 10)
		if err != nil || !v.Allowed {
			t.Fatalf("request %d: got %+v err=%v, override capacity is 3", i+1, v, err)
		}
	}
	if v, _ := bucket.Allow(ctx, "fast.example.com", 3, 10); v.Allowed {
		t.Fatalf("expected rejection past the override capacity")
	}

	// A host without overrides still gets the defaults.
	if v, _ := bucket.Allow(ctx, "slow.example.com", 0, 0); !v.Allowed {
		t.Fatalf("expected default capacity of 1 to admit the first request")
	}
	if v, _ := bucket.Allow(ctx, "slow.example.com", 0, 0); v.Allowed {
		t.Fatalf("expected default capacity of 1 to reject the second request")
	}
}
