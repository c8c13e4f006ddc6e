// Package connector implements the synchronization protocol shared by every
// binding model: identity resolution (Binder), field transformation (Mapper),
// and the import/export state machines that drive them.
package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Services bundles the collaborators every component needs.
type Services struct {
	Bindings integration.BindingRepository
	Backends integration.BackendRepository
	Entities integration.EntityStore
	Tx       integration.TransactionManager
	Jobs     integration.JobEnqueuer
	Adapters integration.AdapterProvider
	Registry *Registry
	Writer   *EntityWriter
	Metrics  Recorder
	Logger   *zap.Logger
	// Clock returns the current time; defaults to time.Now
	Clock func() time.Time
}

func (s *Services) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Services) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// EntityWriter returns the write path to internal entities.
func (s *Services) EntityWriter() *EntityWriter {
	return s.writer()
}

func (s *Services) writer() *EntityWriter {
	if s.Writer == nil {
		return NewEntityWriter(s.Entities)
	}
	return s.Writer
}

// withinTx runs fn in the service transaction, or directly without one.
func (s *Services) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.Tx == nil {
		return fn(ctx)
	}
	return s.Tx.WithinTransaction(ctx, fn)
}

func (s *Services) recorder() Recorder {
	if s.Metrics == nil {
		return nopRecorder{}
	}
	return s.Metrics
}

// Work is the environment of one component: a backend and the binding
// model it operates on.
type Work struct {
	Backend *integration.Backend
	Model   string
	svc     *Services
}

// NewWork creates the environment for model on backend.
func NewWork(svc *Services, backend *integration.Backend, model string) *Work {
	return &Work{Backend: backend, Model: model, svc: svc}
}

// For returns the environment of another binding model on the same backend.
func (w *Work) For(model string) *Work {
	return &Work{Backend: w.Backend, Model: model, svc: w.svc}
}

// Services exposes the shared collaborators.
func (w *Work) Services() *Services {
	return w.svc
}

// Now returns the service clock.
func (w *Work) Now() time.Time {
	return w.svc.now()
}

// Logger returns a logger tagged with the backend and model.
func (w *Work) Logger() *zap.Logger {
	return w.svc.logger().With(
		zap.String("backend_id", w.Backend.ID.String()),
		zap.String("model", w.Model),
	)
}

// Info returns the registered description of the current model.
func (w *Work) Info() ModelInfo {
	info, err := w.svc.Registry.ModelInfo(w.Model)
	if err != nil {
		return ModelInfo{BindingModel: w.Model}
	}
	return info
}

// Binder returns the binder of the current model.
func (w *Work) Binder() *Binder {
	return w.BinderFor(w.Model)
}

// BinderFor returns the binder of another binding model on the same backend.
func (w *Work) BinderFor(model string) *Binder {
	info, err := w.svc.Registry.ModelInfo(model)
	if err != nil {
		info = ModelInfo{BindingModel: model}
	}
	return &Binder{
		info:     info,
		backend:  w.Backend,
		bindings: w.svc.Bindings,
		entities: w.svc.Entities,
		logger:   w.svc.logger(),
		now:      w.svc.now,
	}
}

// Adapter returns the backend adapter of the current model.
func (w *Work) Adapter() (integration.BackendAdapter, error) {
	if w.svc.Adapters == nil {
		return nil, fmt.Errorf("%w: backend adapter for %s", integration.ErrComponentNotFound, w.Model)
	}
	return w.svc.Adapters.Adapter(w.Backend, w.Model)
}

// FindUnboundEntity returns the first internal entity with the given key
// that no binding of the current model wraps on this backend.
func (w *Work) FindUnboundEntity(ctx context.Context, key string) (*integration.Entity, error) {
	if key == "" {
		return nil, nil
	}
	candidates, err := w.svc.Entities.FindByKey(ctx, w.Info().InternalModel, key)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		bound, err := w.svc.Bindings.FindByInternalID(ctx, w.Model, w.Backend.ID, candidate.ID)
		if err != nil {
			return nil, err
		}
		if len(bound) == 0 {
			return candidate, nil
		}
	}
	return nil, nil
}

// ImportDependency imports a record referenced by the record being imported.
// Unless always is set, an already bound record is not imported again.
func (w *Work) ImportDependency(ctx context.Context, externalID, model string, always bool) error {
	if externalID == "" {
		return nil
	}
	dep := w.For(model)
	if !always {
		binding, err := dep.Binder().ToInternal(ctx, externalID)
		if err != nil {
			return err
		}
		if binding != nil {
			return nil
		}
	}
	importer, err := w.svc.Registry.Importer(dep)
	if err != nil {
		return err
	}
	w.Logger().Debug("importing dependency",
		zap.String("dependency_model", model),
		zap.String("external_id", externalID),
	)
	_, err = importer.Run(ctx, externalID, false)
	return err
}

// ExportDependency makes sure an internal record referenced by the record
// being exported exists remotely. A binding is created when missing and the
// export runs only when the binding has no external id yet.
func (w *Work) ExportDependency(ctx context.Context, internalID uuid.UUID, model string) (*integration.Binding, error) {
	dep := w.For(model)
	found, err := w.svc.Bindings.FindByInternalID(ctx, model, w.Backend.ID, internalID)
	if err != nil {
		return nil, err
	}

	var binding *integration.Binding
	if len(found) > 0 {
		binding = found[0]
	} else {
		binding, err = integration.NewBinding(model, w.Backend.ID, internalID)
		if err != nil {
			return nil, err
		}
		if err := w.svc.Bindings.Create(ctx, binding); err != nil {
			return nil, err
		}
	}
	if binding.IsBound() {
		return binding, nil
	}

	exporter, err := w.svc.Registry.Exporter(dep, UsageRecordExporter)
	if err != nil {
		return nil, err
	}
	if _, err := exporter.Run(ctx, binding, nil); err != nil {
		return nil, err
	}
	return binding, nil
}

// Enqueue submits deferred work on the current backend.
func (w *Work) Enqueue(ctx context.Context, operation string, args integration.Record, priority int) (*integration.JobHandle, error) {
	if w.svc.Jobs == nil {
		return nil, fmt.Errorf("%w: job enqueuer", integration.ErrComponentNotFound)
	}
	if args == nil {
		args = integration.Record{}
	}
	args["backend_id"] = w.Backend.ID.String()
	return w.svc.Jobs.Enqueue(ctx, integration.JobRequest{
		Operation: operation,
		Args:      args,
		Priority:  priority,
	})
}

// DelayImport enqueues an import of one record of the current model.
func (w *Work) DelayImport(ctx context.Context, externalID string, force bool) (*integration.JobHandle, error) {
	return w.Enqueue(ctx, integration.OperationImportRecord, integration.Record{
		"model":       w.Model,
		"external_id": externalID,
		"force":       force,
	}, integration.PriorityImport)
}

// DelayExport enqueues an export of a binding of the current model.
func (w *Work) DelayExport(ctx context.Context, bindingID uuid.UUID, operation string, priority int) (*integration.JobHandle, error) {
	return w.Enqueue(ctx, operation, integration.Record{
		"model":      w.Model,
		"binding_id": bindingID.String(),
	}, priority)
}
