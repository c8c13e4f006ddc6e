package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDedupTTL bounds how long an identity claim outlives a job that
// never started.
const DefaultDedupTTL = 24 * time.Hour

// Queue implements integration.JobEnqueuer on top of the job repository.
// Identity claims in the deduplicator collapse concurrent enqueues of the
// same work; the repository stays the source of truth.
type Queue struct {
	jobs   integration.JobRepository
	dedup  integration.JobDeduplicator
	ttl    time.Duration
	logger *zap.Logger
}

// NewQueue creates a queue. A zero ttl selects DefaultDedupTTL.
func NewQueue(jobs integration.JobRepository, dedup integration.JobDeduplicator, ttl time.Duration, logger *zap.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{jobs: jobs, dedup: dedup, ttl: ttl, logger: logger}
}

// Enqueue persists a pending job, or returns the handle of the pending job
// with the same identity key and priority.
func (q *Queue) Enqueue(ctx context.Context, req integration.JobRequest) (*integration.JobHandle, error) {
	if req.Operation == "" {
		return nil, &integration.InvalidDataError{Reason: "job operation is required"}
	}
	job := integration.NewJob(uuid.New(), req)
	key := integration.DedupKey(job.IdentityKey, job.Priority)

	claimed, err := q.claim(ctx, key, job)
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		q.logger.Debug("job deduplicated",
			zap.String("operation", job.Operation),
			zap.String("job_id", claimed.ID.String()),
		)
		return claimed, nil
	}

	// a pending job may exist without a claim, e.g. after a restart with the
	// in-memory deduplicator
	existing, err := q.jobs.FindPending(ctx, job.IdentityKey, job.Priority)
	switch {
	case err == nil:
		if err := q.takeOver(ctx, key, existing.ID); err != nil {
			return nil, err
		}
		return &integration.JobHandle{ID: existing.ID, IdentityKey: existing.IdentityKey, Deduplicated: true}, nil
	case !errors.Is(err, integration.ErrJobNotFound):
		q.release(ctx, key)
		return nil, fmt.Errorf("find pending job: %w", err)
	}

	if err := q.jobs.Create(ctx, job); err != nil {
		q.release(ctx, key)
		return nil, fmt.Errorf("create job: %w", err)
	}
	q.logger.Debug("job enqueued",
		zap.String("operation", job.Operation),
		zap.String("job_id", job.ID.String()),
		zap.Int("priority", job.Priority),
	)
	return &integration.JobHandle{ID: job.ID, IdentityKey: job.IdentityKey}, nil
}

// claim registers job as owner of key. It returns the handle of the owning
// job when another pending job holds the key, and nil when job won it.
func (q *Queue) claim(ctx context.Context, key string, job *integration.Job) (*integration.JobHandle, error) {
	owner, ok, err := q.dedup.Claim(ctx, key, job.ID, q.ttl)
	if err != nil {
		return nil, fmt.Errorf("claim job identity: %w", err)
	}
	if ok {
		return nil, nil
	}

	current, err := q.jobs.GetByID(ctx, owner)
	switch {
	case err == nil && current.Status == integration.JobStatusPending:
		return &integration.JobHandle{ID: current.ID, IdentityKey: current.IdentityKey, Deduplicated: true}, nil
	case err != nil && !errors.Is(err, integration.ErrJobNotFound):
		return nil, fmt.Errorf("load job %s: %w", owner, err)
	}

	// the owner started, finished or was never stored
	if err := q.takeOver(ctx, key, job.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

// takeOver hands key to jobID. A racing enqueue may win the key in
// between; both jobs are then stored, which only costs a redundant run.
func (q *Queue) takeOver(ctx context.Context, key string, jobID uuid.UUID) error {
	if err := q.dedup.Release(ctx, key); err != nil {
		return fmt.Errorf("release job identity: %w", err)
	}
	if _, _, err := q.dedup.Claim(ctx, key, jobID, q.ttl); err != nil {
		return fmt.Errorf("claim job identity: %w", err)
	}
	return nil
}

func (q *Queue) release(ctx context.Context, key string) {
	if err := q.dedup.Release(ctx, key); err != nil {
		q.logger.Warn("failed to release job identity", zap.String("key", key), zap.Error(err))
	}
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*integration.Job, error) {
	return q.jobs.GetByID(ctx, id)
}

// List returns jobs matching filter, newest first.
func (q *Queue) List(ctx context.Context, filter integration.JobFilter) ([]*integration.Job, int64, error) {
	return q.jobs.FindAll(ctx, filter)
}

var _ integration.JobEnqueuer = (*Queue)(nil)
