package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func feed(t *Throttle, failures, total int) {
	for i := 0; i < total; i++ {
		t.Observe(i >= failures)
	}
}

func TestThrottleBacksOffAboveHighWatermark(t *testing.T) {
	var resized int
	th := NewThrottle(ThrottleConfig{
		MaxLimit: 4,
		Delay:    100 * time.Millisecond,
		MaxDelay: time.Second,
	}, func(limit int, _ time.Duration) { resized = limit }, zerolog.Nop())

	// 8 of 20 failures = 40%, above the 30% watermark.
	feed(th, 8, 20)

	if got := th.Limit(); got != 3 {
		t.Fatalf("limit = %d after hot window, want exactly one step down to 3", got)
	}
	if resized != 3 {
		t.Fatalf("adjust callback saw limit %d, want 3", resized)
	}
	if got := th.Delay(); got != 150*time.Millisecond {
		t.Fatalf("delay = %s, want 150ms (x1.5)", got)
	}
}

func TestThrottleFloorsAtOne(t *testing.T) {
	th := NewThrottle(ThrottleConfig{MaxLimit: 2, MaxDelay: time.Second}, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		feed(th, 20, 20) // all failures
	}
	if got := th.Limit(); got != 1 {
		t.Fatalf("limit = %d, floor is 1", got)
	}
}

func TestThrottleRecoversAfterCalmWindows(t *testing.T) {
	th := NewThrottle(ThrottleConfig{
		MaxLimit: 4,
		Delay:    100 * time.Millisecond,
		MinDelay: 50 * time.Millisecond,
		MaxDelay: time.Second,
	}, nil, zerolog.Nop())

	feed(th, 8, 20) // back off to 3
	if got := th.Limit(); got != 3 {
		t.Fatalf("setup: limit = %d, want 3", got)
	}

	// Two calm windows are not enough.
	feed(th, 0, 20)
	feed(th, 0, 20)
	if got := th.Limit(); got != 3 {
		t.Fatalf("limit = %d after 2 calm windows, recovery needs 3", got)
	}

	feed(th, 0, 20)
	if got := th.Limit(); got != 4 {
		t.Fatalf("limit = %d after 3 calm windows, want recovery to 4", got)
	}
}

func TestThrottleMidRatioResetsCalmStreak(t *testing.T) {
	th := NewThrottle(ThrottleConfig{MaxLimit: 4, MaxDelay: time.Second}, nil, zerolog.Nop())

	feed(th, 8, 20) // down to 3
	feed(th, 0, 20)
	feed(th, 0, 20)
	feed(th, 3, 20) // 15%: between watermarks, resets the streak
	feed(th, 0, 20)
	if got := th.Limit(); got != 3 {
		t.Fatalf("limit = %d, hysteresis should have held it at 3", got)
	}
}

func TestThrottleDeliversAdjustmentsInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	th := NewThrottle(ThrottleConfig{MaxLimit: 8, MaxDelay: time.Second}, func(limit int, _ time.Duration) {
		mu.Lock()
		seen = append(seen, limit)
		mu.Unlock()
	}, zerolog.Nop())

	// All failures from several goroutines: the limit only ever steps
	// down, so delivered adjustments must be non-increasing and the last
	// one must match the live value.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				th.Observe(false)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no adjustments delivered")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] > seen[i-1] {
			t.Fatalf("adjustments out of order: %v", seen)
		}
	}
	if last := seen[len(seen)-1]; last != th.Limit() {
		t.Fatalf("last delivered limit %d, live limit %d", last, th.Limit())
	}
}

func TestThrottleNeverExceedsConfiguredMax(t *testing.T) {
	th := NewThrottle(ThrottleConfig{MaxLimit: 3, MaxDelay: time.Second}, nil, zerolog.Nop())

	for i := 0; i < 10; i++ {
		feed(th, 0, 20)
	}
	if got := th.Limit(); got != 3 {
		t.Fatalf("limit = %d, configured max is 3", got)
	}
}
