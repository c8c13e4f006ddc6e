package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// MsgNothingToExport is returned when the mapping produced no data.
const MsgNothingToExport = "Nothing to export."

// ExportBehavior customizes the steps of the export state machine.
type ExportBehavior interface {
	// CheckSkip returns a non-empty reason to end the export without writing
	CheckSkip(ctx context.Context, w *Work, binding *integration.Binding) string
	// ExportDependencies exports the records referenced by binding
	ExportDependencies(ctx context.Context, w *Work, binding *integration.Binding) error
	// BeforeCreate adjusts the payload of a remote creation
	BeforeCreate(ctx context.Context, w *Work, binding *integration.Binding, data integration.Record) (integration.Record, error)
	// ResolveCreatedID turns the id returned by the backend into the
	// external id stored on the binding
	ResolveCreatedID(ctx context.Context, w *Work, binding *integration.Binding, data integration.Record, created string) (string, error)
	// AfterExport runs once the remote write and the bind succeeded
	AfterExport(ctx context.Context, w *Work, binding *integration.Binding, stored integration.Record) error
}

// BaseExportBehavior implements every step as a no-op.
type BaseExportBehavior struct{}

func (BaseExportBehavior) CheckSkip(context.Context, *Work, *integration.Binding) string { return "" }

func (BaseExportBehavior) ExportDependencies(context.Context, *Work, *integration.Binding) error {
	return nil
}

func (BaseExportBehavior) BeforeCreate(_ context.Context, _ *Work, _ *integration.Binding, data integration.Record) (integration.Record, error) {
	return data, nil
}

func (BaseExportBehavior) ResolveCreatedID(_ context.Context, _ *Work, _ *integration.Binding, _ integration.Record, created string) (string, error) {
	return created, nil
}

func (BaseExportBehavior) AfterExport(context.Context, *Work, *integration.Binding, integration.Record) error {
	return nil
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithReconciler overrides the reconciler picked from the backend strategy.
func WithReconciler(r Reconciler) ExporterOption {
	return func(e *Exporter) { e.reconciler = r }
}

// Exporter runs the generic export state machine for one binding model:
// check-skip, should-import, dependencies, lock, map, write, bind,
// reconcile.
type Exporter struct {
	work       *Work
	mapper     *Mapper
	behavior   ExportBehavior
	reconciler Reconciler
}

// NewExporter creates an exporter.
func NewExporter(w *Work, mapper *Mapper, behavior ExportBehavior, opts ...ExporterOption) *Exporter {
	if behavior == nil {
		behavior = BaseExportBehavior{}
	}
	e := &Exporter{
		work:       w,
		mapper:     mapper,
		behavior:   behavior,
		reconciler: ReconcilerFor(w.Backend.SyncStrategy),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run exports one binding. fields restricts an update to the given source
// fields; a first export always sends every field.
func (e *Exporter) Run(ctx context.Context, binding *integration.Binding, fields []string) (string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "connector", "export",
		telemetry.WithAttribute(telemetry.SpanAttrModel, e.work.Model),
		telemetry.WithAttribute(telemetry.SpanAttrBindingID, binding.ID.String()),
	)
	defer span.End()

	msg, err := e.run(ctx, binding, fields)
	if err != nil {
		telemetry.RecordError(span, err)
		e.work.svc.recorder().RecordExport(ctx, e.work.Model, OutcomeFailed)
	}
	return msg, err
}

func (e *Exporter) run(ctx context.Context, binding *integration.Binding, fields []string) (string, error) {
	w := e.work
	metrics := w.svc.recorder()

	if reason := e.behavior.CheckSkip(ctx, w, binding); reason != "" {
		metrics.RecordExport(ctx, w.Model, OutcomeSkipped)
		return reason, nil
	}

	if err := e.reconciler.BeforeExport(ctx, w, binding); err != nil {
		return "", err
	}

	if err := e.behavior.ExportDependencies(ctx, w, binding); err != nil {
		return "", err
	}

	if err := w.svc.Bindings.Lock(ctx, binding.ID); err != nil {
		if errors.Is(err, integration.ErrRecordLocked) {
			return "", &integration.RetryableJobError{
				Reason: fmt.Sprintf("A concurrent job is already exporting the same record (%s with id %s). The job will be retried later.",
					w.Model, binding.ID),
				Err: err,
			}
		}
		return "", err
	}

	source, err := e.sourceRecord(ctx, binding)
	if err != nil {
		return "", err
	}

	forCreate := !binding.IsBound()
	if forCreate {
		fields = nil
	}
	data, err := e.mapper.MapRecord(w, source).Values(ctx, MapOptions{
		ForCreate: forCreate,
		Binding:   binding,
		Fields:    fields,
	})
	if err != nil {
		return "", err
	}
	if forCreate {
		if data, err = e.behavior.BeforeCreate(ctx, w, binding, data); err != nil {
			return "", err
		}
	}
	if len(data) == 0 {
		metrics.RecordExport(ctx, w.Model, OutcomeSkipped)
		return MsgNothingToExport, nil
	}

	adapter, err := w.Adapter()
	if err != nil {
		return "", err
	}

	var stored integration.Record
	outcome := OutcomeUpdated
	if forCreate {
		created, err := adapter.Create(ctx, data)
		if err != nil {
			return "", err
		}
		if created == "" {
			return "", fmt.Errorf("%w: %s", integration.ErrEmptyCreateResult, w.Model)
		}
		externalID, err := e.behavior.ResolveCreatedID(ctx, w, binding, data, created)
		if err != nil {
			return "", err
		}
		if err := w.Binder().Bind(ctx, externalID, binding); err != nil {
			return "", err
		}
		outcome = OutcomeCreated
	} else {
		if stored, err = adapter.Update(ctx, binding.ExternalID, data); err != nil {
			return "", err
		}
		if err := w.Binder().Bind(ctx, binding.ExternalID, binding); err != nil {
			return "", err
		}
	}

	if err := e.reconciler.AfterExport(ctx, w, binding, stored); err != nil {
		return "", err
	}
	if err := e.behavior.AfterExport(ctx, w, binding, stored); err != nil {
		return "", err
	}

	metrics.RecordExport(ctx, w.Model, outcome)
	w.Logger().Info("record exported",
		zap.String("binding_id", binding.ID.String()),
		zap.String("external_id", binding.ExternalID),
		zap.String("outcome", outcome),
	)
	return fmt.Sprintf("Record exported with ID %s on Magento.", binding.ExternalID), nil
}

// sourceRecord is what export mappers read: the wrapped entity's values,
// then binding-level values, plus the identifiers.
func (e *Exporter) sourceRecord(ctx context.Context, binding *integration.Binding) (integration.Record, error) {
	w := e.work
	source := integration.Record{}
	if binding.HasInternal() {
		entity, err := w.svc.Entities.GetByID(ctx, w.Info().InternalModel, binding.InternalID)
		if err != nil {
			return nil, err
		}
		source.Merge(entity.Values)
		source[InternalIDKey] = entity.ID.String()
	}
	source.Merge(binding.Values)
	source["external_id"] = binding.ExternalID
	return source, nil
}

var _ RecordExporter = (*Exporter)(nil)
