package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/logger"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Handler executes one job and returns its result message.
// connector.Dispatcher implements it.
type Handler interface {
	Dispatch(ctx context.Context, job *integration.Job) (string, error)
}

// JobRecorder receives job outcomes. telemetry.SyncMetrics implements it.
type JobRecorder interface {
	RecordJob(ctx context.Context, operation string, status integration.JobStatus, d time.Duration)
}

type nopJobRecorder struct{}

func (nopJobRecorder) RecordJob(context.Context, string, integration.JobStatus, time.Duration) {}

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	Workers          int
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultRunnerConfig returns default configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval:     2 * time.Second,
		BatchSize:        20,
		Workers:          4,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	def := DefaultRunnerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.CleanupRetention <= 0 {
		c.CleanupRetention = def.CleanupRetention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}

// Runner polls due jobs and runs them through a Handler. Claiming uses
// FOR UPDATE SKIP LOCKED, so several runners may share one database.
type Runner struct {
	jobs     integration.JobRepository
	dedup    integration.JobDeduplicator
	handler  Handler
	recorder JobRecorder
	config   RunnerConfig
	logger   *zap.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithRecorder reports job outcomes to rec
func WithRecorder(rec JobRecorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRunner creates a runner
func NewRunner(
	jobs integration.JobRepository,
	dedup integration.JobDeduplicator,
	handler Handler,
	config RunnerConfig,
	log *zap.Logger,
	opts ...RunnerOption,
) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		jobs:     jobs,
		dedup:    dedup,
		handler:  handler,
		recorder: nopJobRecorder{},
		config:   config.withDefaults(),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts polling in the background
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.pollLoop(ctx)

	if r.config.CleanupEnabled {
		r.wg.Add(1)
		go r.cleanupLoop(ctx)
	}

	r.logger.Info("job runner started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Int("workers", r.config.Workers),
		zap.Duration("poll_interval", r.config.PollInterval),
	)
	return nil
}

// Stop waits for running jobs to finish or ctx to expire
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("job runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain the backlog before waiting for the next tick
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					r.logger.Error("failed to claim due jobs", zap.Error(err))
				}
				if err != nil || n < r.config.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce claims one batch of due jobs, runs it and returns the number of
// jobs run.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	jobs, err := r.jobs.ClaimDue(ctx, r.now(), r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, r.config.Workers)
	var wg sync.WaitGroup
	for _, job := range jobs {
		// a started job no longer absorbs duplicates
		if err := r.dedup.Release(ctx, integration.DedupKey(job.IdentityKey, job.Priority)); err != nil {
			r.logger.Warn("failed to release job identity", zap.String("job_id", job.ID.String()), zap.Error(err))
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(job *integration.Job) {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.run(ctx, job)
		}(job)
	}
	wg.Wait()
	return len(jobs), nil
}

// run executes a claimed job and stores the outcome. Failures are retried
// with exponential backoff unless permanent.
func (r *Runner) run(ctx context.Context, job *integration.Job) {
	ctx, log := logger.WithJob(ctx, r.logger, job.ID.String(), job.Operation,
		job.Args.String("backend_id"), job.Args.String("model"))
	log = log.With(zap.Int("attempt", job.Attempts))

	ctx, span := telemetry.StartSpan(ctx, "job."+job.Operation,
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrAttempt, job.Attempts),
	)
	defer span.End()

	start := time.Now()
	result, err := r.dispatch(ctx, job)

	var (
		nothing   *integration.NothingToDoError
		retryable *integration.RetryableJobError
	)
	switch {
	case err == nil:
		job.MarkDone(result)
		telemetry.SetOK(span)
		log.Info("job done", zap.String("result", result))
	case errors.As(err, &nothing):
		job.MarkDone(nothing.Reason)
		telemetry.SetOK(span)
		log.Info("job cancelled", zap.String("reason", nothing.Reason))
	case errors.As(err, &retryable):
		job.MarkFailed(err.Error(), false, retryable.RetryAfter)
		log.Warn("job postponed", zap.Error(err), zap.Time("eta", job.ETA))
	default:
		permanent := integration.IsPermanent(err)
		job.MarkFailed(err.Error(), permanent, 0)
		telemetry.RecordError(span, err)
		if job.Status == integration.JobStatusFailed {
			log.Error("job failed", zap.Error(err), zap.Bool("permanent", permanent))
		} else {
			log.Warn("job will be retried", zap.Error(err), zap.Time("eta", job.ETA))
		}
	}

	// the outcome is stored even when the runner is stopping
	if err := r.jobs.Update(context.WithoutCancel(ctx), job); err != nil {
		log.Error("failed to store job outcome", zap.Error(err))
	}
	r.recorder.RecordJob(ctx, job.Operation, job.Status, time.Since(start))
}

// dispatch converts handler panics into failures.
func (r *Runner) dispatch(ctx context.Context, job *integration.Job) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &integration.InvalidDataError{Reason: "job panicked: " + anyString(p)}
		}
	}()
	return r.handler.Dispatch(ctx, job)
}

func anyString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return integration.AsString(v)
}

func (r *Runner) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				r.logger.Error("failed to clean up finished jobs", zap.Error(err))
			}
		}
	}
}

// Cleanup deletes jobs finished before the retention window
func (r *Runner) Cleanup(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.config.CleanupRetention)
	deleted, err := r.jobs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Info("cleaned up finished jobs",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
