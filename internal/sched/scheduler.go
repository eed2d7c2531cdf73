package sched

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/telemetry"
)

// Options is the recognized scheduler configuration. Only synchronous
// construction errors are thrown; everything at runtime degrades into
// per-task failures instead.
type Options struct {
	MaxConcurrent       int
	Delay               time.Duration
	MinDelay            time.Duration
	MaxDelay            time.Duration
	BurstLimit          int
	TimeWindow          time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	RetryBackoffMult    float64
	RetryDelayCap       time.Duration
	RetryJitter         time.Duration
	BatchSize           int
	DelayBetweenBatches time.Duration
	SlotWaitTimeout     time.Duration

	ThrottleEvalEvery    int
	ThrottleHigh         float64
	ThrottleLow          float64
	ThrottleRecoverAfter int
	ThrottleBackoff      float64
}

func (o Options) validate() error {
	if o.MaxConcurrent < 1 {
		return fmt.Errorf("maxConcurrent must be >= 1, got %d", o.MaxConcurrent)
	}
	if o.BurstLimit < 1 {
		return fmt.Errorf("burstLimit must be >= 1, got %d", o.BurstLimit)
	}
	if o.TimeWindow <= 0 {
		return fmt.Errorf("timeWindow must be positive, got %s", o.TimeWindow)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", o.MaxRetries)
	}
	if o.RetryBackoffMult != 0 && o.RetryBackoffMult < 1 {
		return fmt.Errorf("retryBackoffMultiplier must be >= 1, got %g", o.RetryBackoffMult)
	}
	if o.MinDelay > o.MaxDelay && o.MaxDelay != 0 {
		return fmt.Errorf("minDelay %s exceeds maxDelay %s", o.MinDelay, o.MaxDelay)
	}
	return nil
}

// Scheduler wires the gate, rate window, adaptive throttle, retry policy,
// and job registry into one unit the surrounding tool layer drives.
type Scheduler struct {
	opts     Options
	gate     *Gate
	window   *Window
	throttle *Throttle
	retry    RetryPolicy
	registry *Registry
	log      zerolog.Logger
}

// Status is the live view exposed to callers.
type Status struct {
	ActiveCount             int   `json:"active_count"`
	QueuedCount             int   `json:"queued_count"`
	CurrentConcurrencyLimit int   `json:"current_concurrency_limit"`
	CurrentDelayMs          int64 `json:"current_delay_ms"`
	RequestsInCurrentWindow int   `json:"requests_in_current_window"`
}

// New validates opts and assembles a scheduler. archive may be nil.
func New(opts Options, archive Archiver, log zerolog.Logger) (*Scheduler, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	gate := NewGate(opts.MaxConcurrent, opts.SlotWaitTimeout, log)
	s := &Scheduler{
		opts:   opts,
		gate:   gate,
		window: NewWindow(opts.BurstLimit, opts.TimeWindow, nil),
		retry: RetryPolicy{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.RetryBaseDelay,
			Multiplier: opts.RetryBackoffMult,
			DelayCap:   opts.RetryDelayCap,
			Jitter:     opts.RetryJitter,
		},
		registry: NewRegistry(archive, log),
		log:      log,
	}
	s.throttle = NewThrottle(ThrottleConfig{
		MaxLimit:     opts.MaxConcurrent,
		Delay:        opts.Delay,
		MinDelay:     opts.MinDelay,
		MaxDelay:     opts.MaxDelay,
		Backoff:      opts.ThrottleBackoff,
		EvalEvery:    opts.ThrottleEvalEvery,
		High:         opts.ThrottleHigh,
		Low:          opts.ThrottleLow,
		RecoverAfter: opts.ThrottleRecoverAfter,
	}, func(limit int, delay time.Duration) {
		gate.Resize(limit)
		telemetry.ConcurrencyCeiling.Set(float64(limit))
		telemetry.PacingDelayMs.Set(float64(delay.Milliseconds()))
	}, log)
	telemetry.ConcurrencyCeiling.Set(float64(opts.MaxConcurrent))
	telemetry.PacingDelayMs.Set(float64(opts.Delay.Milliseconds()))
	return s, nil
}

// Registry exposes job lifecycle operations.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Status reports the live scheduler counters.
func (s *Scheduler) Status() Status {
	return Status{
		ActiveCount:             s.gate.Active(),
		QueuedCount:             s.gate.Queued(),
		CurrentConcurrencyLimit: s.throttle.Limit(),
		CurrentDelayMs:          s.throttle.Delay().Milliseconds(),
		RequestsInCurrentWindow: s.window.InWindow(),
	}
}

// Close shuts the gate down; queued acquires fail with ErrClosed.
func (s *Scheduler) Close() {
	s.gate.Close()
}
