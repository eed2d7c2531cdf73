package sched

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
)

// Archiver receives terminal jobs for write-behind persistence. Failures
// are logged, never propagated: losing an archive row must not disturb
// running work.
type Archiver interface {
	ArchiveJob(ctx context.Context, job models.Job) error
}

// Registry tracks job lifecycle and progress. The state machine is
// pending -> running -> {completed | failed | cancelled}; each terminal
// state is reached exactly once, after which no further results are
// appended and progress stops moving.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	archive Archiver
	log     zerolog.Logger
}

type jobEntry struct {
	job    models.Job
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry builds a registry. archive may be nil.
func NewRegistry(archive Archiver, log zerolog.Logger) *Registry {
	return &Registry{jobs: make(map[string]*jobEntry), archive: archive, log: log}
}

// Create registers a pending job covering total tasks and returns its id.
// The parent context bounds the whole job; cancelling the job (or the
// parent) wakes every suspension point watching the job context.
func (r *Registry) Create(parent context.Context, kind, site string, total int) string {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	r.mu.Lock()
	r.jobs[id] = &jobEntry{
		job: models.Job{
			ID:        id,
			Kind:      kind,
			Site:      site,
			Status:    models.StatusPending,
			Total:     total,
			Results:   make([]models.TaskResult, 0, total),
			CreatedAt: time.Now().UTC(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	r.mu.Unlock()
	return id
}

// Context returns the job's cancellation context; context.Background for
// unknown ids so callers can use it unconditionally.
func (r *Registry) Context(id string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok {
		return e.ctx
	}
	return context.Background()
}

// Start transitions pending -> running on first dispatch.
func (r *Registry) Start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status != models.StatusPending {
		return
	}
	now := time.Now().UTC()
	e.job.Status = models.StatusRunning
	e.job.StartedAt = &now
}

// Append records one settled task result and advances progress. Results
// arriving after a terminal transition are dropped.
func (r *Registry) Append(id string, res models.TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || models.Terminal(e.job.Status) {
		return
	}
	e.job.Results = append(e.job.Results, res)
	if e.job.Total > 0 {
		if p := len(e.job.Results) * 100 / e.job.Total; p > e.job.Progress {
			e.job.Progress = p
		}
	}
}

// Complete marks the job completed. The terminal transition happens at
// most once; later calls to any terminal setter are no-ops.
func (r *Registry) Complete(id string) {
	r.finish(id, models.StatusCompleted, nil)
}

// Fail marks the job failed with the given error.
func (r *Registry) Fail(id string, err error) {
	var msg *string
	if err != nil {
		s := err.Error()
		msg = &s
	}
	r.finish(id, models.StatusFailed, msg)
}

// Cancel requests cooperative cancellation: the job context is cancelled
// so pending suspensions wake, no new chunks are dispatched, and in-flight
// tasks finish naturally. Unknown ids return ErrNotFound; jobs already
// terminal are left untouched.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	cancel := e.cancel
	terminal := models.Terminal(e.job.Status)
	r.mu.Unlock()

	if terminal {
		return nil
	}
	cancel()
	r.finish(id, models.StatusCancelled, nil)
	return nil
}

// MarkCancelled records the cancelled terminal state. Used by the
// orchestrator when the job context dies without an explicit Cancel call
// (e.g. process shutdown).
func (r *Registry) MarkCancelled(id string) {
	r.finish(id, models.StatusCancelled, nil)
}

func (r *Registry) finish(id, status string, errMsg *string) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok || models.Terminal(e.job.Status) {
		r.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	e.job.Status = status
	e.job.EndedAt = &now
	e.job.Error = errMsg
	if status == models.StatusCompleted {
		e.job.Progress = 100
	}
	snapshot := cloneJob(e.job)
	e.cancel()
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.ArchiveJob(context.Background(), snapshot); err != nil {
			r.log.Warn().Err(err).Str("job_id", id).Msg("archive job failed")
		}
	}
}

// Snapshot returns a copy of the job state; ErrNotFound for unknown ids.
func (r *Registry) Snapshot(id string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return cloneJob(e.job), nil
}

// Cancelled reports whether the job's context has been cancelled.
func (r *Registry) Cancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return false
	}
	return e.ctx.Err() != nil
}

func cloneJob(j models.Job) models.Job {
	out := j
	out.Results = make([]models.TaskResult, len(j.Results))
	copy(out.Results, j.Results)
	return out
}
