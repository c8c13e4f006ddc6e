package persistence

import (
	"context"
	"errors"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBackendRepository implements BackendRepository using GORM
type GormBackendRepository struct {
	db *gorm.DB
}

// NewGormBackendRepository creates a new GormBackendRepository
func NewGormBackendRepository(db *gorm.DB) *GormBackendRepository {
	return &GormBackendRepository{db: db}
}

// Create persists a new backend
func (r *GormBackendRepository) Create(ctx context.Context, backend *integration.Backend) error {
	var model models.BackendModel
	model.FromDomain(backend)
	return conn(ctx, r.db).Create(&model).Error
}

// Update persists changes to a backend, checkpoints included
func (r *GormBackendRepository) Update(ctx context.Context, backend *integration.Backend) error {
	var model models.BackendModel
	model.FromDomain(backend)
	result := conn(ctx, r.db).Select("*").Where("id = ?", backend.ID).Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrBackendNotFound
	}
	return nil
}

// GetByID finds a backend by its ID
func (r *GormBackendRepository) GetByID(ctx context.Context, id uuid.UUID) (*integration.Backend, error) {
	var model models.BackendModel
	if err := conn(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrBackendNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists backends ordered by name
func (r *GormBackendRepository) FindAll(ctx context.Context, activeOnly bool) ([]*integration.Backend, error) {
	query := conn(ctx, r.db)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var backendModels []models.BackendModel
	if err := query.Order("name ASC").Find(&backendModels).Error; err != nil {
		return nil, err
	}
	backends := make([]*integration.Backend, len(backendModels))
	for i := range backendModels {
		backends[i] = backendModels[i].ToDomain()
	}
	return backends, nil
}

// Ensure GormBackendRepository implements BackendRepository
var _ integration.BackendRepository = (*GormBackendRepository)(nil)
