package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGateNeverExceedsCapacity(t *testing.T) {
	g := NewGate(2, 0, zerolog.Nop())

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			cur := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			slot.Release()
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Fatalf("observed %d concurrent holders, capacity is 2", p)
	}
}

func TestGateDoubleReleaseDoesNotOverFree(t *testing.T) {
	g := NewGate(1, 0, zerolog.Nop())

	slot, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	slot.Release()
	slot.Release() // must be a no-op

	if got := g.Active(); got != 0 {
		t.Fatalf("active = %d after double release, want 0", got)
	}

	// The single permit is free again; a second concurrent hold must block.
	first, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while permit held, got %v", err)
	}
}

func TestGateAcquireAfterClose(t *testing.T) {
	g := NewGate(1, 0, zerolog.Nop())

	held, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waiterErr := make(chan error, 1)
	go func() {
		_, err := g.Acquire(context.Background())
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	g.Close()

	if err := <-waiterErr; !errors.Is(err, ErrClosed) {
		t.Fatalf("queued waiter got %v, want ErrClosed", err)
	}
	if _, err := g.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("acquire after close got %v, want ErrClosed", err)
	}
	held.Release()
}

func TestGateSlotWaitBound(t *testing.T) {
	g := NewGate(1, 40*time.Millisecond, zerolog.Nop())

	held, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = g.Acquire(context.Background())
	if !errors.Is(err, ErrSlotWait) {
		t.Fatalf("expected ErrSlotWait, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("slot wait bound fired after %s", elapsed)
	}
}

func TestGateFIFOOrder(t *testing.T) {
	g := NewGate(1, 0, zerolog.Nop())

	held, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	order := make(chan int, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			slot, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			slot.Release()
		}()
		// Serialize arrival so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	held.Release()
	if first := <-order; first != 1 {
		t.Fatalf("waiter %d admitted first, want FIFO order", first)
	}
	<-order
}

func TestGateResizeWakesWaiters(t *testing.T) {
	g := NewGate(1, 0, zerolog.Nop())

	held, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	got := make(chan struct{})
	go func() {
		slot, err := g.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiter: %v", err)
			return
		}
		close(got)
		slot.Release()
	}()
	time.Sleep(20 * time.Millisecond)

	g.Resize(2)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("waiter not admitted after capacity grew")
	}
}
