package connector

import (
	"context"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BindAction is what BindEntities does once bindings exist.
type BindAction string

const (
	// BindOnlyCreate only creates the missing bindings
	BindOnlyCreate BindAction = "only_create"
	// BindImport delays a forced import of every bound binding
	BindImport BindAction = "import"
	// BindExport delays an export of every binding
	BindExport BindAction = "export"
)

// IsValid reports whether the action is known.
func (a BindAction) IsValid() bool {
	switch a {
	case BindOnlyCreate, BindImport, BindExport:
		return true
	}
	return false
}

// SyncService exposes the synchronization operations. Every record-level
// operation runs in one transaction, so a failure leaves no partial binding.
type SyncService struct {
	svc *Services
}

// NewSyncService creates a SyncService.
func NewSyncService(svc *Services) *SyncService {
	return &SyncService{svc: svc}
}

// Services exposes the shared collaborators.
func (s *SyncService) Services() *Services {
	return s.svc
}

func (s *SyncService) work(ctx context.Context, backendID uuid.UUID, model string) (*Work, error) {
	backend, err := s.svc.Backends.GetByID(ctx, backendID)
	if err != nil {
		return nil, err
	}
	if !backend.Active {
		return nil, fmt.Errorf("%w: %s", integration.ErrBackendInactive, backend.Name)
	}
	if _, err := s.svc.Registry.ModelInfo(model); err != nil {
		return nil, err
	}
	return NewWork(s.svc, backend, model), nil
}

func (s *SyncService) bindingWork(ctx context.Context, bindingID uuid.UUID) (*Work, *integration.Binding, error) {
	binding, err := s.svc.Bindings.GetByID(ctx, bindingID)
	if err != nil {
		return nil, nil, err
	}
	w, err := s.work(ctx, binding.BackendID, binding.Model)
	if err != nil {
		return nil, nil, err
	}
	return w, binding, nil
}

// ImportBatch imports the records of model changed since the last batch. An
// explicit filters.From overrides the stored checkpoint; the checkpoint only
// advances when it was used.
func (s *SyncService) ImportBatch(ctx context.Context, backendID uuid.UUID, model string, filters integration.Filters) (*BatchSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "import_batch",
		telemetry.WithAttribute(telemetry.SpanAttrBackendID, backendID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrModel, model),
	)
	defer span.End()

	w, err := s.work(ctx, backendID, model)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	importer, err := s.svc.Registry.BatchImporter(w)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	useCheckpoint := filters.From == nil
	if useCheckpoint {
		filters.From = w.Backend.Checkpoint(model)
	}
	if filters.To == nil {
		to := s.svc.now()
		filters.To = &to
	}

	summary, err := importer.Run(ctx, filters)
	if err != nil {
		telemetry.RecordError(span, err)
		return summary, err
	}

	if useCheckpoint {
		w.Backend.SetCheckpoint(model, *filters.To)
		if err := s.svc.Backends.Update(ctx, w.Backend); err != nil {
			return summary, fmt.Errorf("save import checkpoint: %w", err)
		}
	}
	telemetry.SetAttributes(span, "found", summary.Found, "enqueued", summary.Enqueued)
	return summary, nil
}

// ImportRecord imports one record.
func (s *SyncService) ImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (string, error) {
	w, err := s.work(ctx, backendID, model)
	if err != nil {
		return "", err
	}
	importer, err := s.svc.Registry.Importer(w)
	if err != nil {
		return "", err
	}
	var msg string
	err = s.svc.withinTx(ctx, func(ctx context.Context) error {
		msg, err = importer.Run(ctx, externalID, force)
		return err
	})
	return msg, err
}

// ExportRecord exports one binding.
func (s *SyncService) ExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (string, error) {
	return s.export(ctx, bindingID, UsageRecordExporter, fields)
}

// ExportInventory pushes the stock level of one binding.
func (s *SyncService) ExportInventory(ctx context.Context, bindingID uuid.UUID, fields []string) (string, error) {
	return s.export(ctx, bindingID, UsageInventoryExporter, fields)
}

func (s *SyncService) export(ctx context.Context, bindingID uuid.UUID, usage Usage, fields []string) (string, error) {
	w, binding, err := s.bindingWork(ctx, bindingID)
	if err != nil {
		return "", err
	}
	exporter, err := s.svc.Registry.Exporter(w, usage)
	if err != nil {
		return "", err
	}
	var msg string
	err = s.svc.withinTx(ctx, func(ctx context.Context) error {
		msg, err = exporter.Run(ctx, binding, fields)
		return err
	})
	return msg, err
}

// ExportDeleteRecord deletes a record on the backend.
func (s *SyncService) ExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (string, error) {
	w, err := s.work(ctx, backendID, model)
	if err != nil {
		return "", err
	}
	deleter, err := s.svc.Registry.Deleter(w)
	if err != nil {
		return "", err
	}
	return deleter.Run(ctx, externalID)
}

// WriteEntity changes an internal entity. Bindings wrapping it get an export
// delayed by the export listener.
func (s *SyncService) WriteEntity(ctx context.Context, model string, id uuid.UUID, values integration.Record) (*integration.Entity, error) {
	var entity *integration.Entity
	err := s.svc.withinTx(ctx, func(ctx context.Context) error {
		var err error
		entity, err = s.svc.writer().Write(ctx, model, id, values)
		return err
	})
	return entity, err
}

// BindEntities creates the missing bindings of model for the given internal
// entities on a backend, then applies action to every binding.
func (s *SyncService) BindEntities(ctx context.Context, backendID uuid.UUID, model string, internalIDs []uuid.UUID, action BindAction) ([]*integration.Binding, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: bind action %q", integration.ErrUnknownOperation, action)
	}
	w, err := s.work(ctx, backendID, model)
	if err != nil {
		return nil, err
	}

	var out []*integration.Binding
	err = s.svc.withinTx(ctx, func(ctx context.Context) error {
		for _, id := range internalIDs {
			if _, err := s.svc.Entities.GetByID(ctx, w.Info().InternalModel, id); err != nil {
				return err
			}
			found, err := s.svc.Bindings.FindByInternalID(ctx, model, backendID, id)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				out = append(out, found[0])
				continue
			}
			binding, err := integration.NewBinding(model, backendID, id)
			if err != nil {
				return err
			}
			if err := s.svc.Bindings.Create(ctx, binding); err != nil {
				return err
			}
			out = append(out, binding)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, binding := range out {
		switch action {
		case BindExport:
			_, err = w.DelayExport(ctx, binding.ID, integration.OperationExportRecord, integration.PriorityExport)
		case BindImport:
			if binding.IsBound() {
				_, err = w.DelayImport(ctx, binding.ExternalID, true)
			}
		}
		if err != nil {
			return out, err
		}
	}
	w.Logger().Info("entities bound", zap.Int("count", len(out)), zap.String("action", string(action)))
	return out, nil
}

// ---------------------------------------------------------------------------
// Delayed variants
// ---------------------------------------------------------------------------

func (s *SyncService) enqueue(ctx context.Context, operation string, args integration.Record, priority int) (*integration.JobHandle, error) {
	if s.svc.Jobs == nil {
		return nil, fmt.Errorf("%w: job enqueuer", integration.ErrComponentNotFound)
	}
	return s.svc.Jobs.Enqueue(ctx, integration.JobRequest{Operation: operation, Args: args, Priority: priority})
}

// DelayImportBatch enqueues ImportBatch.
func (s *SyncService) DelayImportBatch(ctx context.Context, backendID uuid.UUID, model string) (*integration.JobHandle, error) {
	if _, err := s.work(ctx, backendID, model); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, integration.OperationImportBatch, integration.Record{
		"backend_id": backendID.String(),
		"model":      model,
	}, integration.PriorityImport)
}

// DelayImportRecord enqueues ImportRecord.
func (s *SyncService) DelayImportRecord(ctx context.Context, backendID uuid.UUID, model, externalID string, force bool) (*integration.JobHandle, error) {
	w, err := s.work(ctx, backendID, model)
	if err != nil {
		return nil, err
	}
	return w.DelayImport(ctx, externalID, force)
}

// DelayExportRecord enqueues ExportRecord.
func (s *SyncService) DelayExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string) (*integration.JobHandle, error) {
	return s.delayExport(ctx, bindingID, integration.OperationExportRecord, integration.PriorityExport, fields)
}

// DelayExportInventory enqueues ExportInventory.
func (s *SyncService) DelayExportInventory(ctx context.Context, bindingID uuid.UUID) (*integration.JobHandle, error) {
	return s.delayExport(ctx, bindingID, integration.OperationExportInventory, integration.PriorityStock, nil)
}

func (s *SyncService) delayExport(ctx context.Context, bindingID uuid.UUID, operation string, priority int, fields []string) (*integration.JobHandle, error) {
	binding, err := s.svc.Bindings.GetByID(ctx, bindingID)
	if err != nil {
		return nil, err
	}
	args := integration.Record{
		"backend_id": binding.BackendID.String(),
		"model":      binding.Model,
		"binding_id": binding.ID.String(),
	}
	if len(fields) > 0 {
		args["fields"] = fields
	}
	return s.enqueue(ctx, operation, args, priority)
}

// DelayExportDeleteRecord enqueues ExportDeleteRecord.
func (s *SyncService) DelayExportDeleteRecord(ctx context.Context, backendID uuid.UUID, model, externalID string) (*integration.JobHandle, error) {
	if _, err := s.work(ctx, backendID, model); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, integration.OperationExportDeleteRecord, integration.Record{
		"backend_id":  backendID.String(),
		"model":       model,
		"external_id": externalID,
	}, integration.PriorityExport)
}
