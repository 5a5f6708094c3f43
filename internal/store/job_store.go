package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// ErrJobNotFound is returned when a job is not found in the database
var ErrJobNotFound = fmt.Errorf("job not found: %w", models.ErrNotFound)

// ErrJobNotCancellable is returned for jobs that are processing or finished.
var ErrJobNotCancellable = fmt.Errorf("job cannot be cancelled (may be processing or already completed): %w", models.ErrConflict)

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts,
       created_at, updated_at, scheduled_for, last_error, retry_after,
       processed_at, completed_at, worker_id, metadata`

const priorityOrder = `CASE priority
	WHEN 'critical' THEN 4
	WHEN 'high' THEN 3
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 1
END DESC, created_at ASC`

// JobStore provides database operations for job queue management
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

// Enqueue creates a new job in the queue
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	_, err := s.enqueue(ctx, job, "")
	return err
}

// EnqueueOnce creates the job unless one with the same dedup key exists.
// Provider event ids are used as keys so redelivered webhooks are absorbed.
// It reports whether a new job was created.
func (s *JobStore) EnqueueOnce(ctx context.Context, job *models.Job, dedupKey string) (bool, error) {
	if dedupKey == "" {
		return false, errors.New("dedup key is required")
	}
	return s.enqueue(ctx, job, dedupKey)
}

func (s *JobStore) enqueue(ctx context.Context, job *models.Job, dedupKey string) (bool, error) {
	if err := job.IsValid(); err != nil {
		return false, fmt.Errorf("invalid job: %w", err)
	}

	status := models.JobStatusPending
	if job.Status != "" {
		status = job.Status
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (job_type, payload, status, priority, max_attempts, scheduled_for, metadata, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING
		RETURNING id, created_at, updated_at`,
		job.JobType,
		job.Payload,
		status,
		job.Priority,
		job.MaxAttempts,
		job.ScheduledFor,
		job.Metadata,
		dedupKey,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	job.Status = status
	return true, nil
}

// GetByID retrieves a job by its ID
func (s *JobStore) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically claims the next available job for processing.
// It returns nil, nil when the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $1,
		    processed_at = NOW(),
		    updated_at = NOW(),
		    attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (scheduled_for IS NULL OR scheduled_for <= NOW())
			  AND (retry_after IS NULL OR retry_after <= NOW())
			ORDER BY `+priorityOrder+`
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, workerID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// MarkCompleted marks a job as successfully completed
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.exec(ctx, "mark job completed", `
		UPDATE jobs
		SET status = 'completed', completed_at = NOW(), updated_at = NOW(), worker_id = NULL
		WHERE id = $1`, id)
}

// MarkFailed marks a job as failed with an error message
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	return s.exec(ctx, "mark job failed", `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW(), worker_id = NULL
		WHERE id = $1`, id, errorMsg)
}

// ScheduleRetry puts a failed job back in the queue after retryAfter.
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error {
	return s.exec(ctx, "schedule job retry", `
		UPDATE jobs
		SET status = 'pending', last_error = $2, retry_after = $3, updated_at = NOW(), worker_id = NULL
		WHERE id = $1`, id, errorMsg, retryAfter)
}

// ReleaseJob releases a processing job back to pending (for graceful shutdown)
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	return s.exec(ctx, "release job", `
		UPDATE jobs
		SET status = 'pending', worker_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
}

// CancelJob marks a pending or failed job as cancelled
func (s *JobStore) CancelJob(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = NOW(), worker_id = NULL
		WHERE id = $1 AND status IN ('pending', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrJobNotCancellable
	}
	return nil
}

// GetStats returns statistics about the job queue
func (s *JobStore) GetStats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*)
		FROM jobs`,
	).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.Cancelled, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// ListFailedJobs returns the most recently failed jobs, newest first.
func (s *JobStore) ListFailedJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// CleanupOldJobs removes finished jobs older than olderThan.
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < NOW() - INTERVAL '1 second' * $1`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

func (s *JobStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var payloadJSON, metadataJSON []byte

	if err := row.Scan(
		&job.ID,
		&job.JobType,
		&payloadJSON,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ScheduledFor,
		&job.LastError,
		&job.RetryAfter,
		&job.ProcessedAt,
		&job.CompletedAt,
		&job.WorkerID,
		&metadataJSON,
	); err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return job, nil
}
