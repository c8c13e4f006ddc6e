package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Binder translates between external ids and internal records for one
// binding model on one backend.
type Binder struct {
	info     ModelInfo
	backend  *integration.Backend
	bindings integration.BindingRepository
	entities integration.EntityStore
	logger   *zap.Logger
	now      func() time.Time
}

// LookupOption tunes ToInternal.
type LookupOption func(*lookupOptions)

type lookupOptions struct {
	field integration.ExternalField
}

// ByAltExternalID matches the secondary remote key instead of the external id.
func ByAltExternalID() LookupOption {
	return func(o *lookupOptions) {
		o.field = integration.FieldAltExternalID
	}
}

// Model returns the binding model.
func (b *Binder) Model() string {
	return b.info.BindingModel
}

// ToInternal returns the binding carrying externalID, or nil when none
// exists. Several matches are logged and the first one is used.
func (b *Binder) ToInternal(ctx context.Context, externalID string, opts ...LookupOption) (*integration.Binding, error) {
	if externalID == "" {
		return nil, nil
	}
	o := lookupOptions{field: integration.FieldExternalID}
	for _, opt := range opts {
		opt(&o)
	}

	found, err := b.bindings.FindByExternalID(ctx, b.info.BindingModel, b.backend.ID, o.field, externalID)
	if err != nil {
		return nil, fmt.Errorf("binder %s: %w", b.info.BindingModel, err)
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		b.logger.Error("several bindings found for one external id",
			zap.String("model", b.info.BindingModel),
			zap.String("backend_id", b.backend.ID.String()),
			zap.String("field", string(o.field)),
			zap.String("external_id", externalID),
			zap.Int("count", len(found)),
		)
		return found[0], nil
	}
}

// ToInternalEntity returns the internal entity wrapped by the binding
// carrying externalID. No binding, or a binding without entity, yields nil.
func (b *Binder) ToInternalEntity(ctx context.Context, externalID string, opts ...LookupOption) (*integration.Entity, error) {
	binding, err := b.ToInternal(ctx, externalID, opts...)
	if err != nil || binding == nil || !binding.HasInternal() {
		return nil, err
	}
	entity, err := b.entities.GetByID(ctx, b.info.InternalModel, binding.InternalID)
	if errors.Is(err, integration.ErrEntityNotFound) {
		return nil, nil
	}
	return entity, err
}

// ToExternal returns the external id stored on the binding.
func (b *Binder) ToExternal(binding *integration.Binding) string {
	if binding == nil {
		return ""
	}
	return binding.ExternalID
}

// ToExternalOf returns the external id of the binding wrapping an internal
// entity, or "" when the entity is not bound on this backend.
func (b *Binder) ToExternalOf(ctx context.Context, internalID uuid.UUID) (string, error) {
	if internalID == uuid.Nil {
		return "", nil
	}
	found, err := b.bindings.FindByInternalID(ctx, b.info.BindingModel, b.backend.ID, internalID)
	if err != nil {
		return "", fmt.Errorf("binder %s: %w", b.info.BindingModel, err)
	}
	for _, binding := range found {
		if binding.IsBound() {
			return binding.ExternalID, nil
		}
	}
	return "", nil
}

// Bind stores externalID on an existing binding and stamps the sync date.
// An identity cannot be reassigned, and an id owned by another binding of
// the same model and backend is rejected.
func (b *Binder) Bind(ctx context.Context, externalID string, binding *integration.Binding) error {
	if externalID == "" {
		return fmt.Errorf("binder %s: cannot bind an empty external id", b.info.BindingModel)
	}
	others, err := b.bindings.FindByExternalID(ctx, b.info.BindingModel, b.backend.ID, integration.FieldExternalID, externalID)
	if err != nil {
		return fmt.Errorf("binder %s: %w", b.info.BindingModel, err)
	}
	for _, other := range others {
		if other.ID != binding.ID {
			return fmt.Errorf("%w: %s %q", integration.ErrDuplicateBinding, b.info.BindingModel, externalID)
		}
	}
	if err := binding.SetExternalID(externalID); err != nil {
		return err
	}
	binding.RecordSync(b.now(), nil)
	return b.bindings.Update(ctx, binding)
}
