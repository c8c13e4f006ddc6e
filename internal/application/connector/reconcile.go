package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.uber.org/zap"
)

// Reconciler keeps local and remote state consistent around an export. The
// backend's sync strategy picks the implementation.
type Reconciler interface {
	// BeforeExport runs before the binding is locked
	BeforeExport(ctx context.Context, w *Work, binding *integration.Binding) error
	// AfterExport runs after the remote write; stored is the record returned
	// by the backend, nil when it returned nothing
	AfterExport(ctx context.Context, w *Work, binding *integration.Binding, stored integration.Record) error
}

// ReconcilerFor returns the reconciler of a sync strategy.
func ReconcilerFor(strategy integration.SyncStrategy) Reconciler {
	if strategy == integration.SyncOdooFirst {
		return OdooFirstReconciler{}
	}
	return MagentoFirstReconciler{}
}

// NoopReconciler does nothing.
type NoopReconciler struct{}

func (NoopReconciler) BeforeExport(context.Context, *Work, *integration.Binding) error { return nil }

func (NoopReconciler) AfterExport(context.Context, *Work, *integration.Binding, integration.Record) error {
	return nil
}

// MagentoFirstReconciler treats the backend as authoritative: when the remote
// record changed since the last sync, a forced import is delayed before the
// local version is pushed.
type MagentoFirstReconciler struct{}

func (MagentoFirstReconciler) BeforeExport(ctx context.Context, w *Work, binding *integration.Binding) error {
	if !binding.IsBound() {
		return nil
	}
	adapter, err := w.Adapter()
	if err != nil {
		return err
	}
	remote, err := adapter.Read(ctx, binding.ExternalID, []string{"updated_at"})
	if errors.Is(err, integration.ErrIDMissingInBackend) {
		// the remote record is gone; export it again as a new one
		w.Logger().Warn("bound record missing on backend, recreating",
			zap.String("binding_id", binding.ID.String()),
			zap.String("external_id", binding.ExternalID),
		)
		binding.ExternalID = ""
		binding.AltExternalID = ""
		return w.svc.Bindings.Update(ctx, binding)
	}
	if err != nil {
		return err
	}

	updatedAt, ok := ParseRemoteTime(remote["updated_at"])
	if !ok {
		return nil
	}
	if binding.SyncDate != nil && !binding.SyncDate.Before(updatedAt) {
		return nil
	}
	if _, err := w.DelayImport(ctx, binding.ExternalID, true); err != nil {
		return fmt.Errorf("delay import of newer remote record: %w", err)
	}
	return nil
}

func (MagentoFirstReconciler) AfterExport(context.Context, *Work, *integration.Binding, integration.Record) error {
	return nil
}

// OdooFirstReconciler treats the ERP as authoritative and reads the stored
// remote record back through the model's update-write mapper. The local
// write runs under integration.WithoutExport so it cannot trigger another
// export.
type OdooFirstReconciler struct{}

func (OdooFirstReconciler) BeforeExport(context.Context, *Work, *integration.Binding) error { return nil }

func (OdooFirstReconciler) AfterExport(ctx context.Context, w *Work, binding *integration.Binding, stored integration.Record) error {
	registry := w.svc.Registry
	if !registry.Has(w, UsageUpdateWriteMapper) || !binding.IsBound() {
		return nil
	}
	mapper, err := registry.Mapper(w, UsageUpdateWriteMapper)
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		adapter, err := w.Adapter()
		if err != nil {
			return err
		}
		if stored, err = adapter.Read(ctx, binding.ExternalID, nil); err != nil {
			return err
		}
	}

	values, err := mapper.MapRecord(w, stored).Values(ctx, MapOptions{Binding: binding})
	if err != nil {
		return err
	}
	info := w.Info()
	entityValues, bindingValues := splitValues(info, values)
	if binding.HasInternal() && len(entityValues) > 0 {
		if _, err := w.svc.writer().Write(integration.WithoutExport(ctx), info.InternalModel, binding.InternalID, entityValues); err != nil {
			return err
		}
	}
	if len(bindingValues) > 0 {
		binding.SetValues(bindingValues)
		return w.svc.Bindings.Update(ctx, binding)
	}
	return nil
}
