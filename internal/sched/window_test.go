package sched

import (
	"testing"
	"time"
)

func TestWindowBurstLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	w := NewWindow(3, time.Second, clock)

	for i := 0; i < 3; i++ {
		ok, _ := w.TryAdmit()
		if !ok {
			t.Fatalf("admission %d rejected below the burst limit", i+1)
		}
	}

	ok, retryAt := w.TryAdmit()
	if ok {
		t.Fatal("fourth admission allowed, burst limit is 3")
	}
	if want := time.Unix(1, 0); !retryAt.Equal(want) {
		t.Fatalf("retry at %s, want window reset at %s", retryAt, want)
	}
	if got := w.InWindow(); got != 3 {
		t.Fatalf("in-window count %d, want 3", got)
	}
}

func TestWindowResetsAtBoundary(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewWindow(2, time.Second, func() time.Time { return now })

	w.TryAdmit()
	w.TryAdmit()
	if ok, _ := w.TryAdmit(); ok {
		t.Fatal("expected rejection at the limit")
	}

	now = now.Add(time.Second)
	if ok, _ := w.TryAdmit(); !ok {
		t.Fatal("expected admission after window reset")
	}
	if got := w.InWindow(); got != 1 {
		t.Fatalf("in-window count %d after reset, want 1", got)
	}
}

// No rolling span of one window length sees more than 2x the limit; the
// bucket-reset approximation is allowed to reach exactly 2x across a
// boundary but never beyond.
func TestWindowBoundaryAtMostDouble(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewWindow(5, time.Second, func() time.Time { return now })

	admitted := 0
	for i := 0; i < 20; i++ {
		if ok, _ := w.TryAdmit(); ok {
			admitted++
		}
	}
	now = now.Add(time.Second)
	for i := 0; i < 20; i++ {
		if ok, _ := w.TryAdmit(); ok {
			admitted++
		}
	}

	if admitted > 10 {
		t.Fatalf("%d admissions across one boundary, cap is 2x5", admitted)
	}
}
