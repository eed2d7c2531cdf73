package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/ratelimit"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
)

func testFetcher() *Fetcher {
	return NewFetcher(5*time.Second, []string{"test-agent/1.0"}, 2, nil, zerolog.Nop())
}

func TestFetchParsesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent/1.0" {
			t.Errorf("user agent = %q", ua)
		}
		w.Write([]byte(`<html><body><h1>hello</h1></body></html>`))
	}))
	defer srv.Close()

	doc, err := testFetcher().Fetch(context.Background(), srv.URL, SiteConfig{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := doc.Find("h1").Text(); got != "hello" {
		t.Fatalf("h1 = %q", got)
	}
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL, SiteConfig{})
	if err == nil || !sched.Retryable(err) {
		t.Fatalf("502 must be retryable, got %v", err)
	}
}

func TestFetchTooManyRequestsIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL, SiteConfig{})
	if err == nil || !sched.Retryable(err) {
		t.Fatalf("429 must be retryable, got %v", err)
	}
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL, SiteConfig{})
	if err == nil || sched.Retryable(err) {
		t.Fatalf("404 must be terminal, got %v", err)
	}
}

func TestFetchInvalidURLIsTerminal(t *testing.T) {
	_, err := testFetcher().Fetch(context.Background(), "not a url", SiteConfig{})
	if err == nil || sched.Retryable(err) {
		t.Fatalf("invalid url must be terminal, got %v", err)
	}
}

func bucketFetcher(t *testing.T, capacity int, refillPerSecond float64) *Fetcher {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := ratelimit.NewSiteBucket(client, capacity, refillPerSecond, time.Minute)
	return NewFetcher(5*time.Second, nil, 2, bucket, zerolog.Nop())
}

func TestFetchDefersOnDrainedSiteBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	// Capacity 1 at 50 tokens/s: the second fetch must wait roughly 20ms
	// for the refill instead of failing.
	f := bucketFetcher(t, 1, 50)
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL, SiteConfig{}); err != nil {
			t.Fatalf("fetch %d: %v", i+1, err)
		}
	}
}

func TestFetchSlowRefillIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	// Capacity 1 at 0.01 tokens/s: the refill is minutes away, far past
	// the polite-wait bound, so the failure goes to the retry coordinator.
	f := bucketFetcher(t, 1, 0.01)
	if _, err := f.Fetch(context.Background(), srv.URL, SiteConfig{}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	_, err := f.Fetch(context.Background(), srv.URL, SiteConfig{})
	if err == nil || !sched.Retryable(err) {
		t.Fatalf("drained budget with slow refill must be transient, got %v", err)
	}
}

func TestFetchHonorsPerHostLimit(t *testing.T) {
	var active, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&active, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	f := testFetcher() // per-host limit of 2
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := f.Fetch(context.Background(), srv.URL, SiteConfig{}); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}

	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Fatalf("host saw %d concurrent requests, limit is 2", p)
	}
}
