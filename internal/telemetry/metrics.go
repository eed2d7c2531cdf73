package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_tasks_started_total", Help: "Tasks submitted to the scheduler"})
	TasksSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_tasks_succeeded_total", Help: "Tasks that settled successfully"})
	TasksFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_tasks_failed_total", Help: "Tasks that settled with a failure"})
	TaskRetries        = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_task_retries_total", Help: "Retry attempts beyond the first"})
	RateLimitDeferrals = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_rate_limit_deferrals_total", Help: "Admissions deferred by the rate window"})
	SiteLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_site_limit_rejects_total", Help: "Fetches rejected by the per-site token bucket"})
	TasksInFlight      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scrape_tasks_inflight", Help: "Tasks currently executing"})
	ConcurrencyCeiling = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scrape_concurrency_ceiling", Help: "Current adaptive concurrency ceiling"})
	PacingDelayMs      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scrape_pacing_delay_ms", Help: "Current adaptive inter-task delay in milliseconds"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksStarted,
			TasksSucceeded,
			TasksFailed,
			TaskRetries,
			RateLimitDeferrals,
			SiteLimitRejects,
			TasksInFlight,
			ConcurrencyCeiling,
			PacingDelayMs,
		)
	})
	return promhttp.Handler()
}
