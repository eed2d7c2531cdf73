package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Gate caps the number of units of work executing at once. Admission is
// FIFO: waiters are granted slots in the order they arrived. Capacity can
// be changed at runtime (the adaptive throttle does this); shrinking never
// interrupts running work, the extra slots simply drain.
type Gate struct {
	mu       sync.Mutex
	capacity int
	active   int
	waiters  []*waiter
	closed   bool
	waitMax  time.Duration
	log      zerolog.Logger
}

type waiter struct {
	ready     chan struct{}
	granted   bool
	abandoned bool
	err       error
}

// Slot is a single execution permit. Release is idempotent; releasing
// twice is logged and ignored so a buggy caller cannot over-free the gate.
type Slot struct {
	gate     *Gate
	released bool
}

// NewGate builds a gate with the given capacity. waitMax bounds how long
// one Acquire may wait for a slot; zero means wait forever.
func NewGate(capacity int, waitMax time.Duration, log zerolog.Logger) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{capacity: capacity, waitMax: waitMax, log: log}
}

// Acquire blocks until a permit is free and returns its release handle.
// It fails with ErrClosed after Close, ErrSlotWait when the wait bound is
// exceeded, and the context error when ctx is cancelled first.
func (g *Gate) Acquire(ctx context.Context) (*Slot, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	if g.active < g.capacity && len(g.waiters) == 0 {
		g.active++
		g.mu.Unlock()
		return &Slot{gate: g}, nil
	}
	w := &waiter{ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	var timeout <-chan time.Time
	if g.waitMax > 0 {
		t := time.NewTimer(g.waitMax)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-w.ready:
		if w.err != nil {
			return nil, w.err
		}
		return &Slot{gate: g}, nil
	case <-ctx.Done():
		return nil, g.abandon(w, ctx.Err())
	case <-timeout:
		return nil, g.abandon(w, ErrSlotWait)
	}
}

// abandon retracts a waiter. If the grant raced ahead of the cancellation
// the slot is handed straight back so it is never leaked.
func (g *Gate) abandon(w *waiter, cause error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.granted {
		g.active--
		g.grantLocked()
		return cause
	}
	w.abandoned = true
	return cause
}

// grantLocked hands free slots to waiters in FIFO order. Callers hold g.mu.
func (g *Gate) grantLocked() {
	for g.active < g.capacity && len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		if w.abandoned {
			continue
		}
		w.granted = true
		g.active++
		close(w.ready)
	}
}

// Release frees the slot. Safe to call more than once.
func (s *Slot) Release() {
	g := s.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.released {
		g.log.Warn().Msg("slot released twice; ignoring")
		return
	}
	s.released = true
	if g.active == 0 {
		// Accounting bug somewhere above us; clamp rather than go negative.
		g.log.Error().Msg("slot release with zero active count")
		return
	}
	g.active--
	g.grantLocked()
}

// Resize changes the capacity, waking queued waiters when it grows.
func (g *Gate) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.capacity = capacity
	g.grantLocked()
}

// Close fails all queued waiters and makes future acquires return ErrClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for _, w := range g.waiters {
		if !w.abandoned {
			w.granted = false
			w.err = ErrClosed
			close(w.ready)
		}
	}
	g.waiters = nil
}

// Capacity returns the current permit ceiling.
func (g *Gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

// Active returns the number of permits in use.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Queued returns the number of callers waiting for a permit.
func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.waiters {
		if !w.abandoned {
			n++
		}
	}
	return n
}
