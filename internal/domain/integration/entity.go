package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entity is an internal ERP record (product, category, warehouse, picking...)
// as seen by the connector: a model name, a lookup key and a value map.
type Entity struct {
	ID    uuid.UUID
	Model string
	// Key is the namespace uniqueness hint used to match unbound records
	// on first import (default_code for products, code for warehouses)
	Key       string
	Values    Record
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntity creates an entity with the given values.
func NewEntity(model, key string, values Record) *Entity {
	if values == nil {
		values = Record{}
	}
	now := time.Now()
	return &Entity{
		ID:        uuid.New(),
		Model:     model,
		Key:       key,
		Values:    values,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply merges values into the entity.
func (e *Entity) Apply(values Record) {
	if e.Values == nil {
		e.Values = Record{}
	}
	e.Values.Merge(values)
	e.UpdatedAt = time.Now()
}

// EntityStore is the port to the ERP's record storage.
type EntityStore interface {
	Create(ctx context.Context, entity *Entity) error
	Update(ctx context.Context, entity *Entity) error
	GetByID(ctx context.Context, model string, id uuid.UUID) (*Entity, error)
	// FindByKey returns entities of model whose Key equals key
	FindByKey(ctx context.Context, model, key string) ([]*Entity, error)
	Delete(ctx context.Context, model string, id uuid.UUID) error
}

// TransactionManager runs fn inside one all-or-nothing unit of work. Nested
// calls join the outer transaction.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
