package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/shared/metrics"
)

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	LeaseDuration time.Duration
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:  5 * time.Second,
		BatchSize:     20,
		LeaseDuration: 2 * time.Minute,
		RetryBackoff:  15 * time.Second,
		MaxBackoff:    10 * time.Minute,
	}
}

// Worker polls a Queue and runs due jobs through a Handler.
type Worker struct {
	queue   Queue
	handler Handler
	config  WorkerConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewWorker(queue Queue, handler Handler, config WorkerConfig, logger *zap.Logger) *Worker {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the worker's time source.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("escalation worker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	for {
		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("escalation worker poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("escalation worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue leases one batch of due jobs and runs them in order. It
// returns how many jobs it leased.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	jobs, err := w.queue.Lease(ctx, w.now(), w.config.BatchSize, w.config.LeaseDuration)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	started := w.now()
	logger := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("incident_id", job.IncidentID.String()),
		zap.Int("step_index", job.StepIndex),
		zap.Int("attempt", job.Attempts),
	)

	err := w.handler(ctx, job)
	elapsed := w.now().Sub(started)
	lag := started.Sub(job.RunAt)

	if err == nil {
		if cerr := w.queue.Complete(ctx, job.ID); cerr != nil {
			logger.Warn("failed to complete escalation job", zap.Error(cerr))
		}
		metrics.RecordSchedulerJob("succeeded", elapsed, lag)
		return
	}

	if job.Exhausted() {
		logger.Error("escalation job dead-lettered", zap.Error(err))
		if derr := w.queue.DeadLetter(ctx, job.ID, err.Error()); derr != nil {
			logger.Warn("failed to dead-letter escalation job", zap.Error(derr))
		}
		metrics.RecordSchedulerJob("dead_lettered", elapsed, lag)
		return
	}

	delay := w.backoff(job.Attempts)
	logger.Warn("escalation job failed, retrying", zap.Error(err), zap.Duration("retry_in", delay))
	if rerr := w.queue.Retry(ctx, job.ID, w.now().Add(delay), err.Error()); rerr != nil {
		logger.Warn("failed to reschedule escalation job", zap.Error(rerr))
	}
	metrics.RecordSchedulerJob("retried", elapsed, lag)
}

// backoff doubles RetryBackoff per attempt, capped at MaxBackoff.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.config.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if w.config.MaxBackoff > 0 && d >= w.config.MaxBackoff {
			return w.config.MaxBackoff
		}
	}
	if w.config.MaxBackoff > 0 && d > w.config.MaxBackoff {
		return w.config.MaxBackoff
	}
	return d
}
