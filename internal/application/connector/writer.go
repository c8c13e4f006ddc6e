package connector

import (
	"context"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WriteListener is notified after an internal entity changed.
type WriteListener interface {
	OnWrite(ctx context.Context, entity *integration.Entity, fields []string) error
}

// EntityWriter is the single write path to internal entities. Listeners
// observe every write, which is how local changes turn into export jobs.
type EntityWriter struct {
	entities  integration.EntityStore
	listeners []WriteListener
}

// NewEntityWriter creates a writer over an entity store.
func NewEntityWriter(entities integration.EntityStore, listeners ...WriteListener) *EntityWriter {
	return &EntityWriter{entities: entities, listeners: listeners}
}

// AddListener registers a listener.
func (w *EntityWriter) AddListener(l WriteListener) {
	w.listeners = append(w.listeners, l)
}

// Create persists a new entity.
func (w *EntityWriter) Create(ctx context.Context, entity *integration.Entity) error {
	if err := w.entities.Create(ctx, entity); err != nil {
		return err
	}
	return w.notify(ctx, entity, entity.Values.Keys())
}

// Write applies values to an existing entity.
func (w *EntityWriter) Write(ctx context.Context, model string, id uuid.UUID, values integration.Record) (*integration.Entity, error) {
	entity, err := w.entities.GetByID(ctx, model, id)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return entity, nil
	}
	entity.Apply(values)
	if err := w.entities.Update(ctx, entity); err != nil {
		return nil, err
	}
	return entity, w.notify(ctx, entity, values.Keys())
}

func (w *EntityWriter) notify(ctx context.Context, entity *integration.Entity, fields []string) error {
	for _, l := range w.listeners {
		if err := l.OnWrite(ctx, entity, fields); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Export listener
// ---------------------------------------------------------------------------

// ExportListener delays an export of every binding wrapping a written
// entity. Writes made under integration.WithoutExport are ignored.
type ExportListener struct {
	registry *Registry
	bindings integration.BindingRepository
	backends integration.BackendRepository
	jobs     integration.JobEnqueuer
	logger   *zap.Logger
}

// NewExportListener creates an export listener.
func NewExportListener(
	registry *Registry,
	bindings integration.BindingRepository,
	backends integration.BackendRepository,
	jobs integration.JobEnqueuer,
	logger *zap.Logger,
) *ExportListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportListener{
		registry: registry,
		bindings: bindings,
		backends: backends,
		jobs:     jobs,
		logger:   logger,
	}
}

// OnWrite implements WriteListener.
func (l *ExportListener) OnWrite(ctx context.Context, entity *integration.Entity, fields []string) error {
	if integration.IsExportSuppressed(ctx) {
		return nil
	}
	for _, model := range l.registry.BindingModelsFor(entity.Model) {
		info, err := l.registry.ModelInfo(model)
		if err != nil {
			return err
		}
		recordExport := !info.ManualExport && l.registry.Supports(model, UsageRecordExporter)
		inventoryExport := l.registry.Supports(model, UsageInventoryExporter)
		if !recordExport && !inventoryExport {
			continue
		}

		// uuid.Nil matches bindings of every backend
		bindings, err := l.bindings.FindByInternalID(ctx, model, uuid.Nil, entity.ID)
		if err != nil {
			return fmt.Errorf("export listener: %w", err)
		}
		for _, binding := range bindings {
			if recordExport {
				if err := l.enqueue(ctx, integration.OperationExportRecord, binding, fields, integration.PriorityExport); err != nil {
					return err
				}
			}
			if inventoryExport && binding.IsBound() && l.stockChanged(ctx, binding, fields) {
				if err := l.enqueue(ctx, integration.OperationExportInventory, binding, fields, integration.PriorityStock); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (l *ExportListener) stockChanged(ctx context.Context, binding *integration.Binding, fields []string) bool {
	stockField := integration.DefaultStockField
	if backend, err := l.backends.GetByID(ctx, binding.BackendID); err == nil && backend.StockField != "" {
		stockField = backend.StockField
	}
	for _, f := range fields {
		if f == stockField {
			return true
		}
	}
	return false
}

func (l *ExportListener) enqueue(ctx context.Context, operation string, binding *integration.Binding, fields []string, priority int) error {
	args := integration.Record{
		"backend_id": binding.BackendID.String(),
		"model":      binding.Model,
		"binding_id": binding.ID.String(),
	}
	if len(fields) > 0 && operation == integration.OperationExportRecord {
		args["fields"] = fields
	}
	handle, err := l.jobs.Enqueue(ctx, integration.JobRequest{
		Operation: operation,
		Args:      args,
		Priority:  priority,
	})
	if err != nil {
		return fmt.Errorf("export listener: enqueue %s: %w", operation, err)
	}
	l.logger.Debug("export delayed",
		zap.String("operation", operation),
		zap.String("binding_id", binding.ID.String()),
		zap.String("job_id", handle.ID.String()),
		zap.Bool("deduplicated", handle.Deduplicated),
	)
	return nil
}

var _ WriteListener = (*ExportListener)(nil)
