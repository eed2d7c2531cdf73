package sched

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
)

// RetryPolicy wraps a unit of work with bounded, backed-off retries.
// Between attempts n and n+1 it waits
// min(BaseDelay * Multiplier^(n-1), DelayCap) plus uniform jitter in
// [0, Jitter); the jitter keeps simultaneously failing tasks from retrying
// in lockstep. Transient errors consume attempts; terminal errors fail on
// first occurrence.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	DelayCap   time.Duration
	Jitter     time.Duration
}

// Run executes the task until success, a terminal error, or attempt
// exhaustion, and returns the settled TaskResult. ctx is handed to the
// task itself; waitCtx governs the inter-attempt sleeps so a cancelled job
// abandons its backoff promptly instead of finishing the full sleep.
func (p RetryPolicy) Run(ctx, waitCtx context.Context, t Task) models.TaskResult {
	maxRetries := p.MaxRetries
	if t.MaxRetries >= 0 {
		maxRetries = t.MaxRetries
	}

	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		attempts = attempt
		fields, err := p.attempt(ctx, t)
		if err == nil {
			return models.TaskResult{
				TaskID:     t.ID,
				URL:        t.URL,
				Success:    true,
				Fields:     fields,
				Attempts:   attempts,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
		lastErr = err
		if !Retryable(err) || attempt > maxRetries {
			break
		}
		if err := p.sleep(waitCtx, attempt); err != nil {
			lastErr = errors.Join(lastErr, ErrCancelled)
			break
		}
	}

	return models.TaskResult{
		TaskID:     t.ID,
		URL:        t.URL,
		Success:    false,
		Error:      lastErr.Error(),
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// attempt runs the task once, converting a panic into a terminal error so
// one buggy unit of work settles as a failed result instead of taking the
// process down with it.
func (p RetryPolicy) attempt(ctx context.Context, t Task) (fields map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Terminal(fmt.Errorf("task %s panicked: %v", t.ID, r))
		}
	}()
	return t.Execute(ctx)
}

// sleep waits out the backoff before attempt n+1, or returns early when
// waitCtx is done.
func (p RetryPolicy) sleep(waitCtx context.Context, attempt int) error {
	d := p.backoffFor(attempt)
	if d <= 0 {
		return waitCtx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
}

func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	wait := time.Duration(float64(base) * math.Pow(mult, float64(attempt-1)))
	if p.DelayCap > 0 && wait > p.DelayCap {
		wait = p.DelayCap
	}
	if p.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return wait
}
