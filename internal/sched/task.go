package sched

import (
	"context"
	"time"
)

// ExecuteFunc is the opaque unit of work. The scheduler never looks inside:
// it only cares whether the call returned an error and how that error
// classifies. The function owns its own operation timeout.
type ExecuteFunc func(ctx context.Context) (map[string]any, error)

// Task is one schedulable unit of work.
type Task struct {
	ID          string
	URL         string
	MaxRetries  int // -1 means "use the policy default"
	Execute     ExecuteFunc
	SubmittedAt time.Time
}
