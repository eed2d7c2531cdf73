package sched

import (
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/config"
)

// OptionsFromConfig translates the env-driven config into scheduler
// options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxConcurrent:        cfg.MaxConcurrent,
		Delay:                config.SchedulerMs(cfg.DelayMs),
		MinDelay:             config.SchedulerMs(cfg.MinDelayMs),
		MaxDelay:             config.SchedulerMs(cfg.MaxDelayMs),
		BurstLimit:           cfg.BurstLimit,
		TimeWindow:           config.SchedulerMs(cfg.TimeWindowMs),
		MaxRetries:           cfg.MaxRetries,
		RetryBaseDelay:       config.SchedulerMs(cfg.RetryBaseDelayMs),
		RetryBackoffMult:     cfg.RetryBackoffMult,
		RetryDelayCap:        config.SchedulerMs(cfg.RetryDelayCapMs),
		RetryJitter:          config.SchedulerMs(cfg.RetryJitterMs),
		BatchSize:            cfg.BatchSize,
		DelayBetweenBatches:  config.SchedulerMs(cfg.DelayBetweenBatchesMs),
		SlotWaitTimeout:      cfg.SlotWaitTimeout,
		ThrottleEvalEvery:    cfg.ThrottleEvalEvery,
		ThrottleHigh:         cfg.ThrottleHigh,
		ThrottleLow:          cfg.ThrottleLow,
		ThrottleRecoverAfter: cfg.ThrottleRecoverAfter,
	}
}
