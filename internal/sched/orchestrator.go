package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/telemetry"
)

// RunJob drives a previously created job to completion. The task sequence
// is split into chunks sized at the current concurrency ceiling, re-read
// for every chunk since the throttle may have moved it. A chunk is
// dispatched in full and always fully settles; one failing task never
// aborts the batch. Progress is reported per settled task, and the
// configured inter-chunk delay is skipped once the job is cancelled.
func (s *Scheduler) RunJob(ctx context.Context, jobID string, tasks []Task) models.Summary {
	jobCtx := s.registry.Context(jobID)
	s.registry.Start(jobID)

	var closed bool
	idx := 0
	for idx < len(tasks) {
		if jobCtx.Err() != nil {
			break
		}
		size := s.chunkSize()
		end := idx + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunk := tasks[idx:end]

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, t := range chunk {
			wg.Add(1)
			go func(t Task) {
				defer wg.Done()
				res, cause := s.runTask(ctx, jobCtx, t)
				s.registry.Append(jobID, res)
				s.throttle.Observe(res.Success)
				if res.Success {
					telemetry.TasksSucceeded.Inc()
					return
				}
				telemetry.TasksFailed.Inc()
				if errors.Is(cause, ErrClosed) {
					mu.Lock()
					closed = true
					mu.Unlock()
				}
			}(t)
		}
		wg.Wait()
		idx = end

		if idx < len(tasks) && jobCtx.Err() == nil && s.opts.DelayBetweenBatches > 0 {
			sleepFor(jobCtx, s.opts.DelayBetweenBatches)
		}
	}

	switch {
	case closed:
		s.registry.Fail(jobID, ErrClosed)
	case jobCtx.Err() != nil:
		s.registry.MarkCancelled(jobID)
	default:
		s.registry.Complete(jobID)
	}

	snap, err := s.registry.Snapshot(jobID)
	if err != nil {
		return models.Summary{}
	}
	return models.Summarize(snap.Results)
}

// chunkSize is the current ceiling, optionally clamped by BatchSize.
func (s *Scheduler) chunkSize() int {
	size := s.throttle.Limit()
	if s.opts.BatchSize > 0 && s.opts.BatchSize < size {
		size = s.opts.BatchSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

// runTask takes one unit of work through gate -> window -> pacing delay ->
// retry. Suspension points watch jobCtx so cancellation abandons them
// promptly; the execution itself runs under ctx and is allowed to finish
// naturally once started. When the task settles before reaching its
// Execute, the typed cause is returned alongside the failed result.
func (s *Scheduler) runTask(ctx, jobCtx context.Context, t Task) (models.TaskResult, error) {
	start := time.Now()
	telemetry.TasksStarted.Inc()

	if jobCtx.Err() != nil {
		return settledError(t, start, 0, ErrCancelled), ErrCancelled
	}

	slot, err := s.gate.Acquire(jobCtx)
	if err != nil {
		if jobCtx.Err() != nil {
			err = ErrCancelled
		}
		return settledError(t, start, 0, err), err
	}
	defer slot.Release()

	for {
		ok, retryAt := s.window.TryAdmit()
		if ok {
			break
		}
		telemetry.RateLimitDeferrals.Inc()
		if err := sleepFor(jobCtx, time.Until(retryAt)); err != nil {
			return settledError(t, start, 0, ErrCancelled), ErrCancelled
		}
	}

	if d := s.throttle.Delay(); d > 0 {
		if err := sleepFor(jobCtx, d); err != nil {
			return settledError(t, start, 0, ErrCancelled), ErrCancelled
		}
	}

	telemetry.TasksInFlight.Inc()
	defer telemetry.TasksInFlight.Dec()
	res := s.retry.Run(ctx, jobCtx, t)
	if res.Attempts > 1 {
		telemetry.TaskRetries.Add(float64(res.Attempts - 1))
	}
	return res, nil
}

func settledError(t Task, start time.Time, attempts int, err error) models.TaskResult {
	return models.TaskResult{
		TaskID:     t.ID,
		URL:        t.URL,
		Success:    false,
		Error:      err.Error(),
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// sleepFor waits d or until ctx is done, whichever comes first.
func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
