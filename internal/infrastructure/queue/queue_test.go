package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/cache"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
)

func setupJobRepo(t *testing.T) *persistence.GormJobRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.JobModel{}))
	return persistence.NewGormJobRepository(db)
}

func newDedup(t *testing.T) *cache.InMemoryJobDeduplicator {
	t.Helper()
	d := cache.NewInMemoryJobDeduplicator()
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func exportRequest(bindingID string, priority int) integration.JobRequest {
	return integration.JobRequest{
		Operation: integration.OperationExportRecord,
		Args:      integration.Record{"model": "magento.stock.item", "binding_id": bindingID},
		Priority:  priority,
	}
}

func TestQueue_Enqueue(t *testing.T) {
	repo := setupJobRepo(t)
	q := NewQueue(repo, newDedup(t), 0, nil)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)

	stored, err := q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusPending, stored.Status)
	assert.Equal(t, "b-1", stored.Args.String("binding_id"))
	assert.Equal(t, integration.DefaultMaxAttempts, stored.MaxAttempts)

	t.Run("same identity and priority collapse", func(t *testing.T) {
		again, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
		require.NoError(t, err)
		assert.True(t, again.Deduplicated)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("another priority is another job", func(t *testing.T) {
		other, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityExport))
		require.NoError(t, err)
		assert.False(t, other.Deduplicated)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("other arguments are another job", func(t *testing.T) {
		other, err := q.Enqueue(ctx, exportRequest("b-2", integration.PriorityStock))
		require.NoError(t, err)
		assert.False(t, other.Deduplicated)
	})

	_, total, err := q.List(ctx, integration.JobFilter{Status: integration.JobStatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestQueue_EnqueueAfterStart(t *testing.T) {
	repo := setupJobRepo(t)
	q := NewQueue(repo, newDedup(t), 0, nil)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)

	// started without releasing its claim
	claimed, err := repo.ClaimDue(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	next, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)
	assert.False(t, next.Deduplicated)
	assert.NotEqual(t, first.ID, next.ID)

	again, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, next.ID, again.ID)
}

func TestQueue_EnqueueFindsPendingWithoutClaim(t *testing.T) {
	repo := setupJobRepo(t)
	ctx := context.Background()

	first, err := NewQueue(repo, newDedup(t), 0, nil).Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)

	// a fresh deduplicator, as after a restart
	q := NewQueue(repo, newDedup(t), 0, nil)
	again, err := q.Enqueue(ctx, exportRequest("b-1", integration.PriorityStock))
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.ID, again.ID)
}

func TestQueue_EnqueueRequiresOperation(t *testing.T) {
	q := NewQueue(setupJobRepo(t), newDedup(t), 0, nil)

	_, err := q.Enqueue(context.Background(), integration.JobRequest{})
	var invalid *integration.InvalidDataError
	assert.ErrorAs(t, err, &invalid)
}
