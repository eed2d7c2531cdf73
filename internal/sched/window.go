package sched

import (
	"sync"
	"time"
)

// Window counts admissions inside a rolling time window and rejects once
// the burst limit is reached. The implementation is a bucket that resets at
// window boundaries, not a precise sliding window: up to 2x the limit can
// pass across one boundary. Callers must honor the returned retry time.
type Window struct {
	mu    sync.Mutex
	size  time.Duration
	max   int
	start time.Time
	count int
	now   func() time.Time
}

// NewWindow builds a counter admitting max requests per size. A nil clock
// defaults to time.Now.
func NewWindow(max int, size time.Duration, clock func() time.Time) *Window {
	if clock == nil {
		clock = time.Now
	}
	return &Window{size: size, max: max, now: clock, start: clock()}
}

// TryAdmit consumes one admission if the current window has room. On
// rejection it returns the time at which the window resets and admission
// becomes possible again.
func (w *Window) TryAdmit() (bool, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if now.Sub(w.start) >= w.size {
		w.start = now
		w.count = 0
	}
	if w.count >= w.max {
		return false, w.start.Add(w.size)
	}
	w.count++
	return true, time.Time{}
}

// InWindow reports the admission count of the current window.
func (w *Window) InWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.now().Sub(w.start) >= w.size {
		return 0
	}
	return w.count
}
