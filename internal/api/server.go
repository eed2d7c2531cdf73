package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/config"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/scrape"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/store"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/telemetry"
)

// Server wires the HTTP surface over the scheduler.
type Server struct {
	cfg       config.Config
	scheduler *sched.Scheduler
	scraper   *scrape.Scraper
	sites     map[string]scrape.SiteConfig
	archive   *store.Store
	exporter  *scrape.Exporter
	log       zerolog.Logger
}

// New constructs the API server. archive and exporter may be nil.
func New(cfg config.Config, scheduler *sched.Scheduler, scraper *scrape.Scraper, sites map[string]scrape.SiteConfig, archive *store.Store, exporter *scrape.Exporter, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		scheduler: scheduler,
		scraper:   scraper,
		sites:     sites,
		archive:   archive,
		exporter:  exporter,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/scrape", s.handleScrape)
	r.Post("/batch", s.handleBatch)
	r.Get("/status", s.handleStatus)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/failures", s.handleFailures)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Post("/jobs/{id}/export", s.handleExport)
	return r
}

type scrapeRequest struct {
	URL    string                 `json:"url"`
	Site   string                 `json:"site,omitempty"`
	Fields []scrape.FieldSelector `json:"fields,omitempty"`
}

type batchRequest struct {
	URLs   []string               `json:"urls"`
	Site   string                 `json:"site,omitempty"`
	Fields []scrape.FieldSelector `json:"fields,omitempty"`
}

type batchResponse struct {
	JobID string `json:"job_id"`
}

// resolveSite picks a named site config or builds an ad-hoc one from the
// request's inline field map.
func (s *Server) resolveSite(name string, fields []scrape.FieldSelector) (scrape.SiteConfig, bool) {
	if name != "" {
		cfg, ok := s.sites[name]
		return cfg, ok
	}
	if len(fields) == 0 {
		return scrape.SiteConfig{}, false
	}
	return scrape.SiteConfig{Name: "adhoc", Fields: fields}, true
}

// handleScrape runs a single URL through the scheduler and waits for its
// result. Single scrapes share the same gate and rate window as batches,
// so one caller cannot starve another's budget.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	site, ok := s.resolveSite(req.Site, req.Fields)
	if !ok {
		http.Error(w, "unknown site and no inline fields", http.StatusBadRequest)
		return
	}

	reg := s.scheduler.Registry()
	jobID := reg.Create(r.Context(), models.KindSingle, site.Name, 1)
	task := s.scraper.TaskFor(site, req.URL)
	s.scheduler.RunJob(r.Context(), jobID, []sched.Task{task})

	snap, err := reg.Snapshot(jobID)
	if err != nil || len(snap.Results) == 0 {
		http.Error(w, "scrape produced no result", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap.Results[0])
}

// handleBatch accepts a URL list and runs it asynchronously.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, "urls are required", http.StatusBadRequest)
		return
	}
	site, ok := s.resolveSite(req.Site, req.Fields)
	if !ok {
		http.Error(w, "unknown site and no inline fields", http.StatusBadRequest)
		return
	}

	reg := s.scheduler.Registry()
	// The job outlives this request; it is bounded by the job context, not
	// the request context.
	jobID := reg.Create(context.Background(), models.KindBatch, site.Name, len(req.URLs))
	tasks := make([]sched.Task, 0, len(req.URLs))
	for _, u := range req.URLs {
		tasks = append(tasks, s.scraper.TaskFor(site, u))
	}

	go func() {
		summary := s.scheduler.RunJob(context.Background(), jobID, tasks)
		s.log.Info().
			Str("job_id", jobID).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Msg("batch settled")
	}()

	writeJSON(w, http.StatusAccepted, batchResponse{JobID: jobID})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

// snapshotOrArchived checks the live registry first, then the archive.
func (s *Server) snapshotOrArchived(r *http.Request, id string) (models.Job, error) {
	job, err := s.scheduler.Registry().Snapshot(id)
	if err == nil {
		return job, nil
	}
	if s.archive == nil {
		return models.Job{}, sched.ErrNotFound
	}
	job, err = s.archive.GetJob(r.Context(), id)
	if err != nil {
		return models.Job{}, sched.ErrNotFound
	}
	return job, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.snapshotOrArchived(r, id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.snapshotOrArchived(r, id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	failed := make([]models.TaskResult, 0)
	for _, res := range job.Results {
		if !res.Success {
			failed = append(failed, res)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": failed})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Registry().Cancel(id); err != nil {
		if errors.Is(err, sched.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		http.Error(w, "export not configured", http.StatusNotImplemented)
		return
	}
	id := chi.URLParam(r, "id")
	job, err := s.snapshotOrArchived(r, id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if !models.Terminal(job.Status) {
		http.Error(w, "job still running", http.StatusConflict)
		return
	}
	loc, err := s.exporter.Export(r.Context(), job)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": loc})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
