package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormJobRepository implements JobRepository using GORM
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GormJobRepository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Create persists a new job
func (r *GormJobRepository) Create(ctx context.Context, job *integration.Job) error {
	var model models.JobModel
	model.FromDomain(job)
	return conn(ctx, r.db).Create(&model).Error
}

// Update persists the state of a job
func (r *GormJobRepository) Update(ctx context.Context, job *integration.Job) error {
	var model models.JobModel
	model.FromDomain(job)
	result := conn(ctx, r.db).Select("*").Where("id = ?", job.ID).Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrJobNotFound
	}
	return nil
}

// GetByID finds a job by its ID
func (r *GormJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*integration.Job, error) {
	var model models.JobModel
	if err := conn(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPending returns the oldest not-started job with the identity key and
// priority, or ErrJobNotFound
func (r *GormJobRepository) FindPending(ctx context.Context, identityKey string, priority int) (*integration.Job, error) {
	var model models.JobModel
	err := conn(ctx, r.db).
		Where("identity_key = ? AND priority = ? AND status = ?", identityKey, priority, integration.JobStatusPending).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ClaimDue atomically marks up to limit due pending jobs as started and
// returns them. Rows locked by another worker are skipped.
func (r *GormJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*integration.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	var jobs []*integration.Job

	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var jobModels []models.JobModel
		// Lock and fetch due jobs using FOR UPDATE SKIP LOCKED
		if err := tx.
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			}).
			Where("status = ? AND eta <= ?", integration.JobStatusPending, now).
			Order("priority ASC, eta ASC, created_at ASC").
			Limit(limit).
			Find(&jobModels).Error; err != nil {
			return err
		}

		if len(jobModels) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(jobModels))
		for i := range jobModels {
			ids[i] = jobModels[i].ID
		}

		if err := tx.Model(&models.JobModel{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     integration.JobStatusStarted,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": now,
			}).Error; err != nil {
			return err
		}

		jobs = make([]*integration.Job, len(jobModels))
		for i := range jobModels {
			job := jobModels[i].ToDomain()
			job.Status = integration.JobStatusStarted
			job.Attempts++
			startedAt := now
			job.StartedAt = &startedAt
			jobs[i] = job
		}
		return nil
	})

	return jobs, err
}

// FindAll lists jobs with optional filtering and pagination, newest first
func (r *GormJobRepository) FindAll(ctx context.Context, filter integration.JobFilter) ([]*integration.Job, int64, error) {
	query := conn(ctx, r.db).Model(&models.JobModel{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Operation != "" {
		query = query.Where("operation = ?", filter.Operation)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var jobModels []models.JobModel
	order := ValidateSortField(filter.SortBy, JobSortFields, "created_at") + " " + ValidateSortOrder(filter.SortOrder)
	if err := query.Order(order).Find(&jobModels).Error; err != nil {
		return nil, 0, err
	}
	jobs := make([]*integration.Job, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}
	return jobs, total, nil
}

// DeleteFinishedBefore deletes done and failed jobs finished before a time
func (r *GormJobRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := conn(ctx, r.db).
		Where("status IN ? AND finished_at < ?", []integration.JobStatus{integration.JobStatusDone, integration.JobStatusFailed}, before).
		Delete(&models.JobModel{})
	return result.RowsAffected, result.Error
}

// Ensure GormJobRepository implements JobRepository
var _ integration.JobRepository = (*GormJobRepository)(nil)
