package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T, repo *GormJobRepository, productID string, priority int, eta time.Time) *integration.Job {
	job := integration.NewJob(uuid.New(), integration.JobRequest{
		Operation: integration.OperationImportRecord,
		Args:      integration.Record{"model": "magento.product.product", "external_id": productID},
		Priority:  priority,
		ETA:       &eta,
	})
	job.CreatedAt = job.CreatedAt.UTC()
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestGormJobRepository_FindPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newTestJob(t, repo, "10", integration.PriorityImport, now)

	found, err := repo.FindPending(ctx, job.IdentityKey, integration.PriorityImport)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)
	assert.Equal(t, "10", found.Args.String("external_id"))

	_, err = repo.FindPending(ctx, job.IdentityKey, integration.PriorityStock)
	assert.ErrorIs(t, err, integration.ErrJobNotFound)

	job.MarkStarted()
	require.NoError(t, repo.Update(ctx, job))
	_, err = repo.FindPending(ctx, job.IdentityKey, integration.PriorityImport)
	assert.ErrorIs(t, err, integration.ErrJobNotFound)
}

func TestGormJobRepository_ClaimDue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	late := newTestJob(t, repo, "1", integration.PriorityImport, now.Add(-time.Minute))
	stock := newTestJob(t, repo, "2", integration.PriorityStock, now.Add(-time.Second))
	future := newTestJob(t, repo, "3", integration.PriorityStock, now.Add(time.Hour))

	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	// lower priority value runs first
	assert.Equal(t, stock.ID, claimed[0].ID)
	assert.Equal(t, late.ID, claimed[1].ID)
	for _, job := range claimed {
		assert.Equal(t, integration.JobStatusStarted, job.Status)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.StartedAt)
	}

	stored, err := repo.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusStarted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	again, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err := repo.GetByID(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusPending, pending.Status)
}

func TestGormJobRepository_ClaimDueLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormJobRepository(db)
	now := time.Now().UTC()

	newTestJob(t, repo, "1", integration.PriorityImport, now.Add(-time.Minute))
	newTestJob(t, repo, "2", integration.PriorityImport, now.Add(-time.Minute))

	claimed, err := repo.ClaimDue(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestGormJobRepository_FindAllAndCleanup(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	done := newTestJob(t, repo, "1", integration.PriorityImport, now)
	failed := newTestJob(t, repo, "2", integration.PriorityImport, now)
	newTestJob(t, repo, "3", integration.PriorityImport, now)

	finished := now.Add(-48 * time.Hour)
	done.MarkStarted()
	done.MarkDone("imported")
	done.FinishedAt = &finished
	require.NoError(t, repo.Update(ctx, done))

	failed.MarkStarted()
	failed.MarkFailed("boom", true, 0)
	failed.FinishedAt = &finished
	require.NoError(t, repo.Update(ctx, failed))

	jobs, total, err := repo.FindAll(ctx, integration.JobFilter{Status: integration.JobStatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, jobs, 1)

	jobs, total, err = repo.FindAll(ctx, integration.JobFilter{Operation: integration.OperationImportRecord, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, jobs, 2)

	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.GetByID(ctx, done.ID)
	assert.ErrorIs(t, err, integration.ErrJobNotFound)
}

func TestGormJobRepository_FindAllSorted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	low := newTestJob(t, repo, "1", integration.PriorityStock, now)
	high := newTestJob(t, repo, "2", integration.PriorityImport, now)

	jobs, _, err := repo.FindAll(ctx, integration.JobFilter{SortBy: "priority", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, low.ID, jobs[0].ID)
	assert.Equal(t, high.ID, jobs[1].ID)

	jobs, _, err = repo.FindAll(ctx, integration.JobFilter{SortBy: "priority; DROP TABLE connector_jobs", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
