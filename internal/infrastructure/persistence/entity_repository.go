package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormEntityStore implements EntityStore using GORM. Entities of every
// internal model share one table keyed by model name.
type GormEntityStore struct {
	db *gorm.DB
}

// NewGormEntityStore creates a new GormEntityStore
func NewGormEntityStore(db *gorm.DB) *GormEntityStore {
	return &GormEntityStore{db: db}
}

// Create persists a new entity
func (s *GormEntityStore) Create(ctx context.Context, entity *integration.Entity) error {
	var model models.EntityModel
	model.FromDomain(entity)
	if err := conn(ctx, s.db).Create(&model).Error; err != nil {
		return fmt.Errorf("create %s: %w", entity.Model, err)
	}
	return nil
}

// Update persists the values and key of an entity
func (s *GormEntityStore) Update(ctx context.Context, entity *integration.Entity) error {
	var model models.EntityModel
	model.FromDomain(entity)
	result := conn(ctx, s.db).
		Model(&models.EntityModel{}).
		Where("id = ? AND model = ?", entity.ID, entity.Model).
		Updates(map[string]any{
			"entity_key":   model.Key,
			"field_values": model.Values,
			"updated_at":   model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrEntityNotFound
	}
	return nil
}

// GetByID finds an entity of model by ID
func (s *GormEntityStore) GetByID(ctx context.Context, model string, id uuid.UUID) (*integration.Entity, error) {
	var entity models.EntityModel
	if err := conn(ctx, s.db).First(&entity, "id = ? AND model = ?", id, model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrEntityNotFound
		}
		return nil, err
	}
	return entity.ToDomain(), nil
}

// FindByKey finds the entities of model sharing a key, oldest first
func (s *GormEntityStore) FindByKey(ctx context.Context, model, key string) ([]*integration.Entity, error) {
	var entityModels []models.EntityModel
	if err := conn(ctx, s.db).
		Where("model = ? AND entity_key = ?", model, key).
		Order("created_at ASC").
		Find(&entityModels).Error; err != nil {
		return nil, err
	}
	entities := make([]*integration.Entity, len(entityModels))
	for i := range entityModels {
		entities[i] = entityModels[i].ToDomain()
	}
	return entities, nil
}

// Delete removes an entity
func (s *GormEntityStore) Delete(ctx context.Context, model string, id uuid.UUID) error {
	result := conn(ctx, s.db).Delete(&models.EntityModel{}, "id = ? AND model = ?", id, model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrEntityNotFound
	}
	return nil
}

// Ensure GormEntityStore implements EntityStore
var _ integration.EntityStore = (*GormEntityStore)(nil)
