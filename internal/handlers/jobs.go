package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/store"
)

// JobQueue is the job inspection surface.
type JobQueue interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	CancelJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
	ListFailedJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// JobHandler holds dependencies for job handlers
type JobHandler struct {
	Queue  JobQueue
	Logger *zap.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(queue JobQueue, logger *zap.Logger) *JobHandler {
	return &JobHandler{Queue: queue, Logger: loggerOrNop(logger).Named("jobs")}
}

// RegisterRoutes registers job handlers with the router
func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/jobs/stats", h.Stats())
	router.Get("/api/jobs/failed", h.Failed())
	router.Get("/api/jobs/{id}", h.Get())
	router.Post("/api/jobs/{id}/cancel", h.Cancel())
}

func jobID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// Get retrieves a job by ID
func (h *JobHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(r)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "invalid job ID")
			return
		}
		job, err := h.Queue.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, h.Logger.With(zap.Int64("job_id", id)), "get job", err, "")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// Cancel cancels a pending or failed job
func (h *JobHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(r)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "invalid job ID")
			return
		}
		if err := h.Queue.CancelJob(r.Context(), id); err != nil {
			msg := ""
			if errors.Is(err, store.ErrJobNotCancellable) {
				msg = "job cannot be cancelled"
			}
			writeError(w, h.Logger.With(zap.Int64("job_id", id)), "cancel job", err, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "message": "Job cancelled successfully"})
	}
}

// Stats returns statistics about the job queue
func (h *JobHandler) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.Queue.GetStats(r.Context())
		if err != nil {
			writeError(w, h.Logger, "job stats", err, "failed to retrieve job statistics")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// Failed lists recently failed jobs, newest first.
func (h *JobHandler) Failed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
		jobs, err := h.Queue.ListFailedJobs(r.Context(), limit)
		if err != nil {
			writeError(w, h.Logger, "list failed jobs", err, "failed to retrieve jobs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
	}
}
