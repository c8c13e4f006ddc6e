package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

type handlerFunc func(ctx context.Context, job *integration.Job) (string, error)

func (f handlerFunc) Dispatch(ctx context.Context, job *integration.Job) (string, error) {
	return f(ctx, job)
}

type recordedJob struct {
	Operation string
	Status    integration.JobStatus
}

type fakeRecorder struct {
	mu   sync.Mutex
	jobs []recordedJob
}

func (r *fakeRecorder) RecordJob(_ context.Context, operation string, status integration.JobStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, recordedJob{Operation: operation, Status: status})
}

// runJob enqueues req, runs one batch with handler and returns the stored job.
func runJob(t *testing.T, req integration.JobRequest, handler handlerFunc) *integration.Job {
	t.Helper()
	repo := setupJobRepo(t)
	dedup := newDedup(t)
	ctx := context.Background()

	handle, err := NewQueue(repo, dedup, 0, nil).Enqueue(ctx, req)
	require.NoError(t, err)

	runner := NewRunner(repo, dedup, handler, RunnerConfig{}, nil)
	runner.now = func() time.Time { return time.Now().UTC().Add(time.Second) }
	n, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := repo.GetByID(ctx, handle.ID)
	require.NoError(t, err)
	return job
}

func TestRunner_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		err         error
		result      string
		wantStatus  integration.JobStatus
		wantResult  string
		wantRetry   bool
	}{
		{
			name:       "success",
			result:     "Record 42 imported.",
			wantStatus: integration.JobStatusDone,
			wantResult: "Record 42 imported.",
		},
		{
			name:       "nothing to do",
			err:        &integration.NothingToDoError{Reason: "Already up-to-date."},
			wantStatus: integration.JobStatusDone,
			wantResult: "Already up-to-date.",
		},
		{
			name:       "permanent",
			err:        integration.NewMappingError("magento.product.category", "12"),
			wantStatus: integration.JobStatusFailed,
		},
		{
			name:       "unknown operation",
			err:        integration.ErrUnknownOperation,
			wantStatus: integration.JobStatusFailed,
		},
		{
			name:       "transient",
			err:        &integration.RemoteFault{Code: 503, Message: "Service Unavailable"},
			wantStatus: integration.JobStatusPending,
			wantRetry:  true,
		},
		{
			name:        "transient out of attempts",
			maxAttempts: 1,
			err:         &integration.RemoteFault{Code: 503, Message: "Service Unavailable"},
			wantStatus:  integration.JobStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := exportRequest(uuid.NewString(), integration.PriorityExport)
			req.MaxAttempts = tt.maxAttempts
			before := time.Now()

			job := runJob(t, req, func(context.Context, *integration.Job) (string, error) {
				return tt.result, tt.err
			})

			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, 1, job.Attempts)
			if tt.wantResult != "" {
				assert.Equal(t, tt.wantResult, job.Result)
			}
			if tt.err != nil && tt.wantStatus != integration.JobStatusDone {
				assert.Equal(t, tt.err.Error(), job.LastError)
			}
			if tt.wantRetry {
				assert.True(t, job.ETA.After(before.Add(5*time.Second)), "backoff delays the next attempt")
				assert.Nil(t, job.FinishedAt)
			}
			if tt.wantStatus != integration.JobStatusPending {
				assert.NotNil(t, job.FinishedAt)
			}
		})
	}
}

func TestRunner_RetryAfter(t *testing.T) {
	before := time.Now()
	job := runJob(t, exportRequest("b-1", integration.PriorityStock), func(context.Context, *integration.Job) (string, error) {
		return "", &integration.RetryableJobError{
			Reason:     "A concurrent job is already exporting stock item b-1.",
			RetryAfter: time.Minute,
			Err:        integration.ErrRecordLocked,
		}
	})

	assert.Equal(t, integration.JobStatusPending, job.Status)
	assert.WithinDuration(t, before.Add(time.Minute), job.ETA, 10*time.Second)
}

func TestRunner_Panic(t *testing.T) {
	job := runJob(t, exportRequest("b-1", integration.PriorityStock), func(context.Context, *integration.Job) (string, error) {
		panic("boom")
	})

	assert.Equal(t, integration.JobStatusFailed, job.Status)
	assert.Contains(t, job.LastError, "boom")
}

func TestRunner_ReleasesIdentityOnStart(t *testing.T) {
	repo := setupJobRepo(t)
	dedup := newDedup(t)
	q := NewQueue(repo, dedup, 0, nil)
	ctx := context.Background()
	req := exportRequest("b-1", integration.PriorityStock)

	first, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	var during *integration.JobHandle
	runner := NewRunner(repo, dedup, handlerFunc(func(ctx context.Context, job *integration.Job) (string, error) {
		// a change made while the export runs needs its own job
		var err error
		during, err = q.Enqueue(ctx, req)
		return "", err
	}), RunnerConfig{}, nil)
	runner.now = func() time.Time { return time.Now().UTC().Add(time.Second) }

	_, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, during)
	assert.False(t, during.Deduplicated)
	assert.NotEqual(t, first.ID, during.ID)
}

func TestRunner_RetriedJobAbsorbsDuplicates(t *testing.T) {
	repo := setupJobRepo(t)
	dedup := newDedup(t)
	q := NewQueue(repo, dedup, 0, nil)
	ctx := context.Background()
	req := exportRequest("b-1", integration.PriorityStock)

	first, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	runner := NewRunner(repo, dedup, handlerFunc(func(context.Context, *integration.Job) (string, error) {
		return "", errors.New("connection reset by peer")
	}), RunnerConfig{}, nil)
	runner.now = func() time.Time { return time.Now().UTC().Add(time.Second) }
	_, err = runner.RunOnce(ctx)
	require.NoError(t, err)

	again, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.ID, again.ID)
}

func TestRunner_PriorityOrderAndRecorder(t *testing.T) {
	repo := setupJobRepo(t)
	dedup := newDedup(t)
	q := NewQueue(repo, dedup, 0, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, integration.JobRequest{
		Operation: integration.OperationImportRecord,
		Args:      integration.Record{"model": "magento.product.product", "external_id": "1"},
		Priority:  integration.PriorityImport,
	})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	rec := &fakeRecorder{}
	runner := NewRunner(repo, dedup, handlerFunc(func(_ context.Context, job *integration.Job) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, job.Operation)
		return "ok", nil
	}), RunnerConfig{Workers: 1}, nil, WithRecorder(rec))
	runner.now = func() time.Time { return time.Now().UTC().Add(time.Second) }

	n, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{integration.OperationExportRecord, integration.OperationImportRecord}, order)
	assert.ElementsMatch(t, []recordedJob{
		{Operation: integration.OperationExportRecord, Status: integration.JobStatusDone},
		{Operation: integration.OperationImportRecord, Status: integration.JobStatusDone},
	}, rec.jobs)

	n, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunner_Cleanup(t *testing.T) {
	repo := setupJobRepo(t)
	dedup := newDedup(t)
	ctx := context.Background()

	handle, err := NewQueue(repo, dedup, 0, nil).Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)
	pending, err := NewQueue(repo, dedup, 0, nil).Enqueue(ctx, exportRequest("b-2", integration.PriorityStock))
	require.NoError(t, err)

	job, err := repo.GetByID(ctx, handle.ID)
	require.NoError(t, err)
	job.MarkDone("done")
	require.NoError(t, repo.Update(ctx, job))

	runner := NewRunner(repo, dedup, handlerFunc(func(context.Context, *integration.Job) (string, error) {
		return "", nil
	}), RunnerConfig{CleanupRetention: 24 * time.Hour}, nil)

	deleted, err := runner.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	runner.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	deleted, err = runner.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, handle.ID)
	assert.ErrorIs(t, err, integration.ErrJobNotFound)
	_, err = repo.GetByID(ctx, pending.ID)
	assert.NoError(t, err)
}

func TestRunner_StartStop(t *testing.T) {
	repo := setupJobRepo(t)
	dedup := newDedup(t)
	ctx := context.Background()

	handle, err := NewQueue(repo, dedup, 0, nil).Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)

	done := make(chan struct{})
	var once sync.Once
	runner := NewRunner(repo, dedup, handlerFunc(func(context.Context, *integration.Job) (string, error) {
		once.Do(func() { close(done) })
		return "ok", nil
	}), RunnerConfig{PollInterval: 10 * time.Millisecond}, nil)
	runner.now = func() time.Time { return time.Now().UTC().Add(time.Second) }

	require.NoError(t, runner.Start(ctx))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not run")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(stopCtx))

	job, err := repo.GetByID(ctx, handle.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusDone, job.Status)
}
