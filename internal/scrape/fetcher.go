package scrape

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/ratelimit"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/telemetry"
)

// Fetcher downloads and parses pages. It enforces two politeness layers
// below the scheduler: a per-host in-process semaphore so no single site
// sees more than a couple of simultaneous connections, and an optional
// Redis token bucket shared across replicas.
type Fetcher struct {
	client       *http.Client
	userAgents   []string
	perHostLimit int64
	perHostMu    sync.Mutex
	perHost      map[string]*semaphore.Weighted
	siteBucket   *ratelimit.SiteBucket
	log          zerolog.Logger
}

// NewFetcher builds a fetcher. siteBucket may be nil when Redis is not
// configured.
func NewFetcher(timeout time.Duration, userAgents []string, perHostLimit int64, siteBucket *ratelimit.SiteBucket, log zerolog.Logger) *Fetcher {
	if perHostLimit < 1 {
		perHostLimit = 1
	}
	return &Fetcher{
		client:       &http.Client{Timeout: timeout},
		userAgents:   userAgents,
		perHostLimit: perHostLimit,
		perHost:      make(map[string]*semaphore.Weighted),
		siteBucket:   siteBucket,
		log:          log,
	}
}

func (f *Fetcher) hostSem(host string) *semaphore.Weighted {
	f.perHostMu.Lock()
	defer f.perHostMu.Unlock()
	sem, ok := f.perHost[host]
	if !ok {
		sem = semaphore.NewWeighted(f.perHostLimit)
		f.perHost[host] = sem
	}
	return sem
}

// maxPoliteWait bounds how long a fetch waits in place for the site budget
// to refill. Longer waits surface as transient errors so the retry
// coordinator's backoff takes over instead of a slot sitting idle.
const maxPoliteWait = 2 * time.Second

// Fetch retrieves rawURL and parses it into a goquery document, honoring
// site's user agent and politeness overrides. Errors are classified for
// the retry coordinator: 429 and 5xx responses, network timeouts, and an
// exhausted site budget are transient; other 4xx are terminal.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, site SiteConfig) (*goquery.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, sched.Terminal(fmt.Errorf("invalid url %q: %w", rawURL, err))
	}

	if f.siteBucket != nil {
		if err := f.waitSiteBudget(ctx, u.Host, site); err != nil {
			return nil, err
		}
	}

	sem := f.hostSem(u.Host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, sched.Terminal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.pickUserAgent(site.UserAgent))

	resp, err := f.client.Do(req)
	if err != nil {
		// Timeouts, resets, DNS blips: all worth retrying.
		return nil, sched.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, sched.Transient(fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, sched.Terminal(fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, sched.Transient(fmt.Errorf("parse %s: %w", rawURL, err))
	}
	return doc, nil
}

// waitSiteBudget consumes one token from the shared site budget, deferring
// in place when the refill is close. Short waits are absorbed here so a
// momentarily drained budget does not burn a retry attempt; long waits and
// exhausted refills come back as transient errors. An unreachable limiter
// is logged and skipped rather than blocking the fetch.
func (f *Fetcher) waitSiteBudget(ctx context.Context, host string, site SiteConfig) error {
	for {
		v, err := f.siteBucket.Allow(ctx, host, site.RateCapacity, site.RateRefill)
		if err != nil {
			f.log.Warn().Err(err).Str("host", host).Msg("site budget unavailable; proceeding")
			return nil
		}
		if v.Allowed {
			return nil
		}
		telemetry.SiteLimitRejects.Inc()
		if v.RetryAfter <= 0 || v.RetryAfter > maxPoliteWait {
			return sched.Transient(fmt.Errorf("site budget exhausted for %s, retry in %s", host, v.RetryAfter))
		}
		timer := time.NewTimer(v.RetryAfter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

func (f *Fetcher) pickUserAgent(override string) string {
	if override != "" {
		return override
	}
	if len(f.userAgents) == 0 {
		return "mcp-scraper-agent/1.0"
	}
	return f.userAgents[rand.Intn(len(f.userAgents))]
}
