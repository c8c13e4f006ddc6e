package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBindingRepository implements BindingRepository using GORM
type GormBindingRepository struct {
	db *gorm.DB
}

// NewGormBindingRepository creates a new GormBindingRepository
func NewGormBindingRepository(db *gorm.DB) *GormBindingRepository {
	return &GormBindingRepository{db: db}
}

// ---------------------------------------------------------------------------
// BindingReader implementation
// ---------------------------------------------------------------------------

// GetByID finds a binding by its ID
func (r *GormBindingRepository) GetByID(ctx context.Context, id uuid.UUID) (*integration.Binding, error) {
	var model models.BindingModel
	if err := conn(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrBindingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ---------------------------------------------------------------------------
// BindingFinder implementation
// ---------------------------------------------------------------------------

var externalColumns = map[integration.ExternalField]string{
	integration.FieldExternalID:    "external_id",
	integration.FieldAltExternalID: "alt_external_id",
}

// FindByExternalID finds the bindings of model on a backend by remote key
func (r *GormBindingRepository) FindByExternalID(ctx context.Context, model string, backendID uuid.UUID, field integration.ExternalField, value string) ([]*integration.Binding, error) {
	column, ok := externalColumns[field]
	if !ok {
		return nil, fmt.Errorf("persistence: unknown external field %q", field)
	}
	var bindingModels []models.BindingModel
	if err := conn(ctx, r.db).
		Where("model = ? AND backend_id = ? AND "+column+" = ?", model, backendID, value).
		Order("created_at ASC").
		Find(&bindingModels).Error; err != nil {
		return nil, err
	}
	return toBindings(bindingModels), nil
}

// FindByInternalID finds the bindings of model wrapping an entity
func (r *GormBindingRepository) FindByInternalID(ctx context.Context, model string, backendID, internalID uuid.UUID) ([]*integration.Binding, error) {
	query := conn(ctx, r.db).Where("model = ? AND internal_id = ?", model, internalID)
	if backendID != uuid.Nil {
		query = query.Where("backend_id = ?", backendID)
	}
	var bindingModels []models.BindingModel
	if err := query.Order("created_at ASC").Find(&bindingModels).Error; err != nil {
		return nil, err
	}
	return toBindings(bindingModels), nil
}

// FindAll lists bindings with optional filtering and pagination
func (r *GormBindingRepository) FindAll(ctx context.Context, filter integration.BindingFilter) ([]*integration.Binding, int64, error) {
	query := conn(ctx, r.db).Model(&models.BindingModel{})
	if filter.Model != "" {
		query = query.Where("model = ?", filter.Model)
	}
	if filter.BackendID != uuid.Nil {
		query = query.Where("backend_id = ?", filter.BackendID)
	}
	if filter.Bound != nil {
		if *filter.Bound {
			query = query.Where("external_id IS NOT NULL")
		} else {
			query = query.Where("external_id IS NULL")
		}
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

	var bindingModels []models.BindingModel
	if err := query.Order("created_at ASC").Find(&bindingModels).Error; err != nil {
		return nil, 0, err
	}
	return toBindings(bindingModels), total, nil
}

// ---------------------------------------------------------------------------
// BindingWriter implementation
// ---------------------------------------------------------------------------

// Create persists a new binding. A bound binding whose external id is
// already taken on the backend is rejected before the insert; the unique
// index catches concurrent inserts.
func (r *GormBindingRepository) Create(ctx context.Context, binding *integration.Binding) error {
	db := conn(ctx, r.db)
	if binding.IsBound() {
		var count int64
		if err := db.Model(&models.BindingModel{}).
			Where("model = ? AND backend_id = ? AND external_id = ?", binding.Model, binding.BackendID, binding.ExternalID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s %q", integration.ErrDuplicateBinding, binding.Model, binding.ExternalID)
		}
	}

	var model models.BindingModel
	model.FromDomain(binding)
	if err := db.Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s %q", integration.ErrDuplicateBinding, binding.Model, binding.ExternalID)
		}
		return err
	}
	return nil
}

// Update persists changes to a binding
func (r *GormBindingRepository) Update(ctx context.Context, binding *integration.Binding) error {
	var model models.BindingModel
	model.FromDomain(binding)
	result := conn(ctx, r.db).Select("*").Where("id = ?", binding.ID).Updates(&model)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return fmt.Errorf("%w: %s %q", integration.ErrDuplicateBinding, binding.Model, binding.ExternalID)
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrBindingNotFound
	}
	return nil
}

// Delete removes a binding
func (r *GormBindingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := conn(ctx, r.db).Delete(&models.BindingModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrBindingNotFound
	}
	return nil
}

// Lock takes SELECT ... FOR UPDATE NOWAIT on the binding row. The lock lives
// as long as the transaction carried by ctx; a row locked by another
// transaction yields ErrRecordLocked instead of waiting.
func (r *GormBindingRepository) Lock(ctx context.Context, id uuid.UUID) error {
	var model models.BindingModel
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Select("id").
		Where("id = ?", id).
		Take(&model).Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return integration.ErrBindingNotFound
	case isLockNotAvailable(err):
		return fmt.Errorf("%w: binding %s", integration.ErrRecordLocked, id)
	default:
		return err
	}
}

func toBindings(bindingModels []models.BindingModel) []*integration.Binding {
	bindings := make([]*integration.Binding, len(bindingModels))
	for i := range bindingModels {
		bindings[i] = bindingModels[i].ToDomain()
	}
	return bindings
}

// Ensure GormBindingRepository implements BindingRepository
var _ integration.BindingRepository = (*GormBindingRepository)(nil)
