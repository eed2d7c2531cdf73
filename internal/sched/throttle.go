package sched

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Throttle watches task outcomes and adjusts the effective concurrency
// ceiling and inter-task delay. Every evalEvery completed tasks it computes
// the failure ratio: above the high watermark it backs off (ceiling -1,
// delay x backoff); below the low watermark for recoverAfter consecutive
// evaluations it recovers one step toward the configured maximum. The two
// watermarks give hysteresis so the ceiling does not oscillate.
type Throttle struct {
	mu sync.Mutex

	limit    int
	maxLimit int
	minLimit int

	delay    time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	backoff  float64

	evalEvery    int
	high         float64
	low          float64
	recoverAfter int

	successes   int
	failures    int
	calmWindows int
	adjustedAt  time.Time

	onAdjust func(limit int, delay time.Duration)
	log      zerolog.Logger
}

// ThrottleConfig carries the tunables; zero values take the defaults
// (eval every 20, watermarks 30%/5%, recover after 3 calm windows,
// backoff factor 1.5).
type ThrottleConfig struct {
	MaxLimit     int
	Delay        time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Backoff      float64
	EvalEvery    int
	High         float64
	Low          float64
	RecoverAfter int
}

// NewThrottle builds a throttle starting at the configured maximum.
// onAdjust is invoked, in adjustment order, whenever limit or delay
// change; it runs under the throttle's lock and must not call back in.
func NewThrottle(cfg ThrottleConfig, onAdjust func(int, time.Duration), log zerolog.Logger) *Throttle {
	if cfg.MaxLimit < 1 {
		cfg.MaxLimit = 1
	}
	if cfg.EvalEvery <= 0 {
		cfg.EvalEvery = 20
	}
	if cfg.High == 0 {
		cfg.High = 0.3
	}
	if cfg.Low == 0 {
		cfg.Low = 0.05
	}
	if cfg.RecoverAfter <= 0 {
		cfg.RecoverAfter = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 1.5
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Delay < cfg.MinDelay {
		cfg.Delay = cfg.MinDelay
	}
	return &Throttle{
		limit:        cfg.MaxLimit,
		maxLimit:     cfg.MaxLimit,
		minLimit:     1,
		delay:        cfg.Delay,
		minDelay:     cfg.MinDelay,
		maxDelay:     cfg.MaxDelay,
		backoff:      cfg.Backoff,
		evalEvery:    cfg.EvalEvery,
		high:         cfg.High,
		low:          cfg.Low,
		recoverAfter: cfg.RecoverAfter,
		onAdjust:     onAdjust,
		log:          log,
	}
}

// Observe records one settled task and evaluates the window when full.
func (t *Throttle) Observe(success bool) {
	t.mu.Lock()
	if success {
		t.successes++
	} else {
		t.failures++
	}
	total := t.successes + t.failures
	if total < t.evalEvery {
		t.mu.Unlock()
		return
	}

	ratio := float64(t.failures) / float64(total)
	t.successes, t.failures = 0, 0
	prevLimit, prevDelay := t.limit, t.delay

	switch {
	case ratio > t.high:
		t.calmWindows = 0
		if t.limit > t.minLimit {
			t.limit--
		}
		t.delay = clampDuration(time.Duration(float64(t.delay)*t.backoff), t.minDelay, t.maxDelay)
		if t.delay == 0 {
			// A zero configured delay has nothing to multiply; seed backoff
			// from one second so repeated failures still slow us down.
			t.delay = clampDuration(time.Second, t.minDelay, t.maxDelay)
		}
	case ratio < t.low:
		t.calmWindows++
		if t.calmWindows >= t.recoverAfter {
			t.calmWindows = 0
			if t.limit < t.maxLimit {
				t.limit++
			}
			t.delay = clampDuration(time.Duration(float64(t.delay)/t.backoff), t.minDelay, t.maxDelay)
		}
	default:
		t.calmWindows = 0
	}

	// Deliver the adjustment while still holding the lock so concurrent
	// evaluations cannot reorder resize calls and leave a stale ceiling.
	if t.limit != prevLimit || t.delay != prevDelay {
		t.adjustedAt = time.Now()
		t.log.Info().
			Float64("failure_ratio", ratio).
			Int("limit", t.limit).
			Dur("delay", t.delay).
			Msg("throttle adjusted")
		if t.onAdjust != nil {
			t.onAdjust(t.limit, t.delay)
		}
	}
	t.mu.Unlock()
}

// Limit returns the current concurrency ceiling.
func (t *Throttle) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// Delay returns the current inter-task delay.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
