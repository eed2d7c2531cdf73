package models

import (
	"time"
)

// Job lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job kinds accepted by the API.
const (
	KindSingle = "single"
	KindBatch  = "batch"
	KindBulk   = "bulk"
)

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskResult is the settled outcome of one unit of work.
type TaskResult struct {
	TaskID     string         `json:"task_id"`
	URL        string         `json:"url,omitempty"`
	Success    bool           `json:"success"`
	Fields     map[string]any `json:"fields,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	DurationMs int64          `json:"duration_ms"`
}

// Job is a snapshot of a logical scrape operation (single, batch, or bulk).
// Progress is a percentage in [0,100], non-decreasing until terminal.
type Job struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Site      string       `json:"site,omitempty"`
	Status    string       `json:"status"`
	Progress  int          `json:"progress"`
	Total     int          `json:"total"`
	Results   []TaskResult `json:"results"`
	Error     *string      `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// Summary aggregates per-task outcomes for a finished job.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summarize counts successes and failures in a result set.
func Summarize(results []TaskResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}
