package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Binding Entity
// ---------------------------------------------------------------------------

// Binding links one internal entity to one external record within one backend.
// It decorates the internal entity and never owns its lifecycle.
type Binding struct {
	// ID is the unique identifier of this binding
	ID uuid.UUID
	// Model is the binding model, e.g. "magento.product.product"
	Model string
	// BackendID is the backend this binding belongs to
	BackendID uuid.UUID
	// ExternalID is the opaque remote identifier; "" means not exported yet
	// and "0" is a valid identifier
	ExternalID string
	// AltExternalID is a secondary remote key (the numeric id when the
	// external id is a SKU)
	AltExternalID string
	// InternalID references the wrapped internal entity; uuid.Nil when the
	// record is not materialized yet
	InternalID uuid.UUID
	// Data is the last fetched snapshot of the remote representation
	Data json.RawMessage
	// Values holds binding-level fields (status, product type, backorders...)
	Values Record
	// SyncDate is when this binding was last imported or exported
	SyncDate *time.Time
	// CreatedAt is when this binding was created
	CreatedAt time.Time
	// UpdatedAt is when this binding was last updated
	UpdatedAt time.Time
}

// NewBinding creates an unbound binding for an internal entity.
func NewBinding(model string, backendID, internalID uuid.UUID) (*Binding, error) {
	if model == "" {
		return nil, ErrBindingInvalidModel
	}
	if backendID == uuid.Nil {
		return nil, ErrBindingInvalidBackend
	}

	now := time.Now()
	return &Binding{
		ID:         uuid.New(),
		Model:      model,
		BackendID:  backendID,
		InternalID: internalID,
		Values:     Record{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsBound returns true once the binding carries an external id.
func (b *Binding) IsBound() bool {
	return b.ExternalID != ""
}

// HasInternal returns true when the binding wraps an internal entity.
func (b *Binding) HasInternal() bool {
	return b.InternalID != uuid.Nil
}

// SetExternalID assigns the remote identifier. An identity that is already
// set can only be confirmed, never replaced.
func (b *Binding) SetExternalID(externalID string) error {
	if b.ExternalID != "" && b.ExternalID != externalID {
		return ErrBindingConflict
	}
	b.ExternalID = externalID
	b.UpdatedAt = time.Now()
	return nil
}

// RecordSync stamps the binding after a successful import or export.
func (b *Binding) RecordSync(at time.Time, data json.RawMessage) {
	b.SyncDate = &at
	if data != nil {
		b.Data = data
	}
	b.UpdatedAt = time.Now()
}

// Value returns a binding-level field.
func (b *Binding) Value(key string) any {
	if b.Values == nil {
		return nil
	}
	return b.Values[key]
}

// SetValues merges binding-level fields.
func (b *Binding) SetValues(values Record) {
	if b.Values == nil {
		b.Values = Record{}
	}
	b.Values.Merge(values)
	b.UpdatedAt = time.Now()
}

// IsActive reports the binding's "active" flag; bindings without the flag
// are active.
func (b *Binding) IsActive() bool {
	v, ok := b.Values["active"]
	if !ok || v == nil {
		return true
	}
	active, isBool := v.(bool)
	return !isBool || active
}

// Snapshot decodes the last fetched remote representation.
func (b *Binding) Snapshot() (Record, error) {
	return DecodeRecord(b.Data)
}

// ---------------------------------------------------------------------------
// Binding Repository Interfaces
// ---------------------------------------------------------------------------

// ExternalField selects which remote key a lookup compares against.
type ExternalField string

const (
	// FieldExternalID compares against Binding.ExternalID
	FieldExternalID ExternalField = "external_id"
	// FieldAltExternalID compares against Binding.AltExternalID
	FieldAltExternalID ExternalField = "alt_external_id"
)

// BindingFilter narrows binding listings.
type BindingFilter struct {
	Model     string
	BackendID uuid.UUID
	Bound     *bool
	Page      int
	PageSize  int
}

// BindingReader provides read access to bindings.
type BindingReader interface {
	// GetByID retrieves a binding by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Binding, error)
}

// BindingFinder provides lookup operations for bindings.
type BindingFinder interface {
	// FindByExternalID returns every binding of model on backend whose field
	// equals value. More than one result is a data integrity problem.
	FindByExternalID(ctx context.Context, model string, backendID uuid.UUID, field ExternalField, value string) ([]*Binding, error)
	// FindByInternalID returns the bindings of model on backend wrapping an
	// entity; uuid.Nil as backendID matches every backend
	FindByInternalID(ctx context.Context, model string, backendID, internalID uuid.UUID) ([]*Binding, error)
	// FindAll lists bindings matching filter
	FindAll(ctx context.Context, filter BindingFilter) ([]*Binding, int64, error)
}

// BindingWriter provides write access to bindings.
type BindingWriter interface {
	// Create persists a new binding; fails with ErrDuplicateBinding when the
	// (model, backend, external id) triple is taken
	Create(ctx context.Context, binding *Binding) error
	// Update persists changes to a binding
	Update(ctx context.Context, binding *Binding) error
	// Delete removes a binding
	Delete(ctx context.Context, id uuid.UUID) error
	// Lock takes an exclusive row lock held until the surrounding
	// transaction ends; fails with ErrRecordLocked when another job holds it
	Lock(ctx context.Context, id uuid.UUID) error
}

// BindingRepository combines every binding persistence operation.
type BindingRepository interface {
	BindingReader
	BindingFinder
	BindingWriter
}
