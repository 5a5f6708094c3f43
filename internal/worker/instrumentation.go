package worker

import (
	"time"

	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// MetricsInstrumentation reports the job lifecycle to Prometheus and logs a
// heartbeat with the worker counters.
func MetricsInstrumentation(m *metrics.Metrics, logger *zap.Logger) *Instrumentation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumentation{
		OnEnqueue: func(job *models.Job) { m.ObserveJob(job.JobType, "enqueued") },
		OnStart:   func(job *models.Job) { m.ObserveJob(job.JobType, "started") },
		OnComplete: func(job *models.Job, d time.Duration) {
			m.ObserveJob(job.JobType, "completed")
			m.ObserveJobDuration(job.JobType, d)
		},
		OnFail: func(job *models.Job, _ error, d time.Duration) {
			m.ObserveJob(job.JobType, "failed")
			m.ObserveJobDuration(job.JobType, d)
		},
		OnRetry:  func(job *models.Job, _ time.Duration) { m.ObserveJob(job.JobType, "retried") },
		OnCancel: func(job *models.Job) { m.ObserveJob(job.JobType, "cancelled") },
		OnHeartbeat: func(workerID string, s Stats) {
			logger.Debug("worker heartbeat",
				zap.String("worker_id", workerID),
				zap.Int64("processed", s.JobsProcessed),
				zap.Int64("failed", s.JobsFailed),
				zap.Int("active", s.ActiveWorkers),
			)
		},
	}
}
