// Package worker processes the durable job queue: a pool of processors
// claims jobs, runs the registered handler and retries failures with
// exponential backoff.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// Handler is a function that processes a job
type Handler func(ctx context.Context, job *models.Job) error

// Handlers maps job types to their handlers
type Handlers map[string]Handler

// Queue is the persistence the worker runs on. store.JobStore implements it.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	EnqueueOnce(ctx context.Context, job *models.Job, dedupKey string) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error
	ReleaseJob(ctx context.Context, id int64) error
	CancelJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; the job is failed at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Instrumentation provides hooks for monitoring job lifecycle
type Instrumentation struct {
	OnEnqueue   func(job *models.Job)
	OnStart     func(job *models.Job)
	OnComplete  func(job *models.Job, duration time.Duration)
	OnFail      func(job *models.Job, err error, duration time.Duration)
	OnRetry     func(job *models.Job, retryAfter time.Duration)
	OnCancel    func(job *models.Job)
	OnHeartbeat func(workerID string, stats Stats)
}

// Stats holds worker statistics
type Stats struct {
	JobsProcessed   int64
	JobsSucceeded   int64
	JobsFailed      int64
	JobsRetried     int64
	ActiveWorkers   int
	LastProcessedAt time.Time
}

// Config holds worker configuration
type Config struct {
	MaxConcurrent          int
	PollInterval           time.Duration
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	RetryBackoffMultiplier float64
	// JobTimeout bounds a single handler run.
	JobTimeout        time.Duration
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           time.Second,
		RetryBaseDelay:         time.Second,
		RetryMaxDelay:          time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             2 * time.Minute,
		ShutdownTimeout:        30 * time.Second,
		HeartbeatInterval:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.RetryBackoffMultiplier <= 1 {
		c.RetryBackoffMultiplier = d.RetryBackoffMultiplier
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}

// Worker is the async job queue processor
type Worker struct {
	config          Config
	queue           Queue
	logger          *zap.Logger
	instrumentation *Instrumentation

	handlersMu sync.RWMutex
	handlers   Handlers

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	mu       sync.RWMutex

	// activeJobs tracks currently processing job IDs for graceful shutdown
	activeJobs map[int64]context.CancelFunc

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a worker. Handlers can also be added later with RegisterHandler.
func New(config Config, queue Queue, logger *zap.Logger, handlers Handlers) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handlers == nil {
		handlers = Handlers{}
	}
	id := generateWorkerID()
	return &Worker{
		config:          config.withDefaults(),
		queue:           queue,
		logger:          logger.Named("worker").With(zap.String("worker_id", id)),
		handlers:        handlers,
		workerID:        id,
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[int64]context.CancelFunc),
		instrumentation: &Instrumentation{},
	}
}

// RegisterHandler binds a handler to a job type, replacing any previous one.
func (w *Worker) RegisterHandler(jobType string, h Handler) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.handlers[jobType] = h
}

func (w *Worker) handler(jobType string) (Handler, bool) {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// SetInstrumentation sets the instrumentation hooks
func (w *Worker) SetInstrumentation(inst *Instrumentation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if inst == nil {
		inst = &Instrumentation{}
	}
	w.instrumentation = inst
}

func (w *Worker) hooks() *Instrumentation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.instrumentation
}

// Start launches the processors and returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting worker", zap.Int("max_concurrent", w.config.MaxConcurrent))

	if w.hooks().OnHeartbeat != nil {
		w.wg.Add(1)
		go w.heartbeat(ctx)
	}

	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
}

// Stop releases in-flight jobs back to pending and waits for processors to
// exit, bounded by ShutdownTimeout.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		w.logger.Warn("shutdown timeout exceeded, forcing stop")
		return errors.New("worker: shutdown timeout exceeded")
	}
}

func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.logger.With(zap.Int("processor", id))

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}
		if err := w.processNextJob(ctx); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Error("claim failed", zap.Error(err))
			w.sleep(ctx, w.config.PollInterval)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

// processNextJob claims and runs one job, or waits a poll interval when the
// queue is empty.
func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.sleep(ctx, w.config.PollInterval)
		return ctx.Err()
	}
	w.processJob(ctx, job)
	return nil
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	if h := w.hooks().OnStart; h != nil {
		h(job)
	}

	w.logger.Debug("processing job",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
	)

	handler, ok := w.handler(job.JobType)
	if !ok {
		w.handleError(ctx, job, Permanent(fmt.Errorf("no handler registered for job type: %s", job.JobType)), start)
		return
	}

	if err := runHandler(jobCtx, handler, job); err != nil {
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

// runHandler turns a handler panic into an error so the job is retried
// instead of killing the processor.
func runHandler(ctx context.Context, h Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// retryDelay is base * multiplier^(attempt-1), capped and jittered by ±20%.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, float64(attempt-1))
	delay := math.Min(base, float64(w.config.RetryMaxDelay))
	return time.Duration(delay * (0.8 + 0.4*rand.Float64()))
}

func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	duration := time.Since(start)
	log := w.logger.With(
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts),
		zap.Duration("duration", duration),
		zap.Error(err),
	)

	w.statsMu.Lock()
	w.stats.JobsProcessed++
	w.stats.JobsFailed++
	w.stats.LastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if h := w.hooks().OnFail; h != nil {
		h(job, err, duration)
	}

	if !IsPermanent(err) && job.Attempts < job.MaxAttempts {
		delay := w.retryDelay(job.Attempts)

		w.statsMu.Lock()
		w.stats.JobsRetried++
		w.statsMu.Unlock()

		if h := w.hooks().OnRetry; h != nil {
			h(job, delay)
		}
		log.Warn("job failed, scheduling retry", zap.Duration("retry_in", delay))
		if serr := w.queue.ScheduleRetry(ctx, job.ID, err.Error(), time.Now().Add(delay)); serr != nil {
			log.Error("schedule retry failed", zap.NamedError("store_error", serr))
		}
		return
	}

	log.Error("job failed permanently")
	if merr := w.queue.MarkFailed(ctx, job.ID, err.Error()); merr != nil {
		log.Error("mark failed failed", zap.NamedError("store_error", merr))
	}
}

func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	duration := time.Since(start)

	w.statsMu.Lock()
	w.stats.JobsProcessed++
	w.stats.JobsSucceeded++
	w.stats.LastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if h := w.hooks().OnComplete; h != nil {
		h(job, duration)
	}

	w.logger.Info("job completed",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Duration("duration", duration),
	)
	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		w.logger.Error("mark completed failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) trackActiveJob(jobID int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[jobID] = cancel
}

func (w *Worker) untrackActiveJob(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, jobID)
}

func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	ids := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		cancel()
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.queue.ReleaseJob(ctx, id); err != nil {
			w.logger.Error("release job failed", zap.Int64("job_id", id), zap.Error(err))
			continue
		}
		w.logger.Info("released job back to pending", zap.Int64("job_id", id))
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if h := w.hooks().OnHeartbeat; h != nil {
				h(w.workerID, w.GetStats())
			}
		}
	}
}

// GetStats returns a snapshot of this worker's counters.
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	s := w.stats
	w.statsMu.RUnlock()

	w.mu.RLock()
	s.ActiveWorkers = len(w.activeJobs)
	w.mu.RUnlock()
	return s
}

// Enqueue creates a new job in the queue
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return err
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	w.enqueued(job)
	return nil
}

// EnqueueOnce enqueues unless a job with dedupKey already exists. The result
// is false for duplicates.
func (w *Worker) EnqueueOnce(ctx context.Context, job *models.Job, dedupKey string) (bool, error) {
	if err := job.IsValid(); err != nil {
		return false, err
	}
	created, err := w.queue.EnqueueOnce(ctx, job, dedupKey)
	if err != nil {
		return false, err
	}
	if !created {
		w.logger.Info("duplicate job ignored", zap.String("job_type", job.JobType), zap.String("dedup_key", dedupKey))
		return false, nil
	}
	w.enqueued(job)
	return true, nil
}

func (w *Worker) enqueued(job *models.Job) {
	if h := w.hooks().OnEnqueue; h != nil {
		h(job)
	}
	w.logger.Info("enqueued job",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.String("priority", string(job.Priority)),
	)
}

// CancelJob cancels a pending or failed job
func (w *Worker) CancelJob(ctx context.Context, jobID int64) error {
	if err := w.queue.CancelJob(ctx, jobID); err != nil {
		return err
	}
	if h := w.hooks().OnCancel; h != nil {
		if job, _ := w.queue.GetByID(ctx, jobID); job != nil {
			h(job)
		}
	}
	w.logger.Info("cancelled job", zap.Int64("job_id", jobID))
	return nil
}

// GetJob returns a job by id.
func (w *Worker) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return w.queue.GetByID(ctx, jobID)
}

// GetQueueStats returns statistics about the job queue
func (w *Worker) GetQueueStats(ctx context.Context) (*models.JobStats, error) {
	return w.queue.GetStats(ctx)
}

func generateWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}
