package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Messages returned by importers.
const (
	MsgRecordVanished = "Record does no longer exist in Magento"
	MsgUpToDate       = "Already up-to-date."
)

// InternalIDKey is the mapped value through which an only-create rule hands
// an existing entity to the importer.
const InternalIDKey = "internal_id"

// ImportBehavior customizes the steps of the import state machine.
type ImportBehavior interface {
	// MustSkip returns a non-empty reason to end the import without writing
	MustSkip(ctx context.Context, w *Work, record integration.Record) string
	// ImportDependencies imports the records referenced by record
	ImportDependencies(ctx context.Context, w *Work, record integration.Record) error
	// Validate checks the mapped values before they are written
	Validate(ctx context.Context, w *Work, values integration.Record) error
	// AfterImport runs once the binding is persisted
	AfterImport(ctx context.Context, w *Work, binding *integration.Binding, record integration.Record) error
}

// BaseImportBehavior implements every step as a no-op.
type BaseImportBehavior struct{}

func (BaseImportBehavior) MustSkip(context.Context, *Work, integration.Record) string { return "" }

func (BaseImportBehavior) ImportDependencies(context.Context, *Work, integration.Record) error {
	return nil
}

func (BaseImportBehavior) Validate(context.Context, *Work, integration.Record) error { return nil }

func (BaseImportBehavior) AfterImport(context.Context, *Work, *integration.Binding, integration.Record) error {
	return nil
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithExternalIDField names the payload key holding the external id.
func WithExternalIDField(field string) ImporterOption {
	return func(i *Importer) { i.idField = field }
}

// WithAltIDField names the payload key stored as alternate external id.
func WithAltIDField(field string) ImporterOption {
	return func(i *Importer) { i.altIDField = field }
}

// WithUpdatedAtField names the payload key compared against the sync date.
func WithUpdatedAtField(field string) ImporterOption {
	return func(i *Importer) { i.updatedAtField = field }
}

// WithPreprocess reshapes a fetched record before any step reads it.
func WithPreprocess(fn func(integration.Record) integration.Record) ImporterOption {
	return func(i *Importer) { i.preprocess = fn }
}

// Importer runs the generic import state machine for one binding model:
// fetch, must-skip, freshness, dependencies, map, validate, create or
// update, after-import.
type Importer struct {
	work           *Work
	mapper         *Mapper
	behavior       ImportBehavior
	idField        string
	altIDField     string
	updatedAtField string
	preprocess     func(integration.Record) integration.Record
}

// NewImporter creates an importer.
func NewImporter(w *Work, mapper *Mapper, behavior ImportBehavior, opts ...ImporterOption) *Importer {
	if behavior == nil {
		behavior = BaseImportBehavior{}
	}
	i := &Importer{
		work:           w,
		mapper:         mapper,
		behavior:       behavior,
		idField:        "id",
		updatedAtField: "updated_at",
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run fetches and imports one record.
func (i *Importer) Run(ctx context.Context, externalID string, force bool) (string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "connector", "import",
		telemetry.WithAttribute(telemetry.SpanAttrModel, i.work.Model),
		telemetry.WithAttribute(telemetry.SpanAttrExternalID, externalID),
	)
	defer span.End()

	adapter, err := i.work.Adapter()
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	record, err := adapter.Read(ctx, externalID, nil)
	if errors.Is(err, integration.ErrIDMissingInBackend) {
		i.work.Logger().Info("record vanished from backend", zap.String("external_id", externalID))
		return MsgRecordVanished, nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	msg, err := i.RunRecord(ctx, externalID, record, force)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return msg, err
}

// RunRecord imports an already fetched record. An empty externalID is read
// from the record's id field.
func (i *Importer) RunRecord(ctx context.Context, externalID string, record integration.Record, force bool) (string, error) {
	w := i.work
	if i.preprocess != nil {
		record = i.preprocess(record)
	}
	if externalID == "" {
		externalID = integration.AsString(record[i.idField])
	}
	metrics := w.svc.recorder()
	logger := w.Logger().With(zap.String("external_id", externalID))

	if reason := i.behavior.MustSkip(ctx, w, record); reason != "" {
		metrics.RecordImport(ctx, w.Model, OutcomeSkipped)
		logger.Debug("import skipped", zap.String("reason", reason))
		return reason, nil
	}

	binding, err := w.Binder().ToInternal(ctx, externalID)
	if err != nil {
		return "", err
	}

	if !force && binding != nil && i.isUpToDate(binding, record) {
		metrics.RecordImport(ctx, w.Model, OutcomeSkipped)
		return MsgUpToDate, nil
	}

	if err := i.behavior.ImportDependencies(ctx, w, record); err != nil {
		metrics.RecordImport(ctx, w.Model, OutcomeFailed)
		return "", err
	}

	values, err := i.mapper.MapRecord(w, record).Values(ctx, MapOptions{
		ForCreate: binding == nil,
		Binding:   binding,
	})
	if err != nil {
		metrics.RecordImport(ctx, w.Model, OutcomeFailed)
		return "", err
	}

	if err := i.behavior.Validate(ctx, w, values); err != nil {
		metrics.RecordImport(ctx, w.Model, OutcomeFailed)
		return "", err
	}

	raw, err := record.JSON()
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	var msg, outcome string
	if binding != nil {
		err = i.update(ctx, binding, record, values, raw)
		msg, outcome = fmt.Sprintf("Record updated with ID %s", externalID), OutcomeUpdated
	} else {
		binding, err = i.create(ctx, externalID, record, values, raw)
		msg, outcome = fmt.Sprintf("Record imported with ID %s", externalID), OutcomeCreated
	}
	if err != nil {
		metrics.RecordImport(ctx, w.Model, OutcomeFailed)
		return "", err
	}

	if err := i.behavior.AfterImport(ctx, w, binding, record); err != nil {
		metrics.RecordImport(ctx, w.Model, OutcomeFailed)
		return "", err
	}

	metrics.RecordImport(ctx, w.Model, outcome)
	logger.Info("record imported", zap.String("outcome", outcome), zap.String("binding_id", binding.ID.String()))
	return msg, nil
}

func (i *Importer) isUpToDate(binding *integration.Binding, record integration.Record) bool {
	if binding.SyncDate == nil {
		return false
	}
	remote, ok := ParseRemoteTime(record[i.updatedAtField])
	if !ok {
		return false
	}
	return !binding.SyncDate.Before(remote)
}

func (i *Importer) update(ctx context.Context, binding *integration.Binding, record, values integration.Record, raw []byte) error {
	w := i.work
	info := w.Info()
	entityValues, bindingValues := splitValues(info, values)
	delete(entityValues, InternalIDKey)

	if binding.HasInternal() && len(entityValues) > 0 {
		if _, err := w.svc.writer().Write(integration.WithoutExport(ctx), info.InternalModel, binding.InternalID, entityValues); err != nil {
			return fmt.Errorf("update %s: %w", info.InternalModel, err)
		}
	}

	binding.SetValues(bindingValues)
	if i.altIDField != "" {
		if alt := integration.AsString(record[i.altIDField]); alt != "" {
			binding.AltExternalID = alt
		}
	}
	binding.RecordSync(w.Now(), raw)
	return w.svc.Bindings.Update(ctx, binding)
}

func (i *Importer) create(ctx context.Context, externalID string, record, values integration.Record, raw []byte) (*integration.Binding, error) {
	w := i.work
	info := w.Info()
	entityValues, bindingValues := splitValues(info, values)

	entity, err := i.resolveEntity(ctx, info, entityValues)
	if err != nil {
		return nil, err
	}

	binding, err := integration.NewBinding(w.Model, w.Backend.ID, entity.ID)
	if err != nil {
		return nil, err
	}
	binding.ExternalID = externalID
	if i.altIDField != "" {
		binding.AltExternalID = integration.AsString(record[i.altIDField])
	}
	binding.SetValues(bindingValues)
	binding.RecordSync(w.Now(), raw)
	if err := w.svc.Bindings.Create(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// resolveEntity picks the entity the new binding wraps: the one named by an
// only-create rule, else the first unbound entity sharing the key, else a
// new one.
func (i *Importer) resolveEntity(ctx context.Context, info ModelInfo, values integration.Record) (*integration.Entity, error) {
	w := i.work
	writer := w.svc.writer()
	noExport := integration.WithoutExport(ctx)

	explicit := values[InternalIDKey]
	delete(values, InternalIDKey)
	key := ""
	if info.KeyField != "" {
		key = integration.AsString(values[info.KeyField])
	}

	if id, ok := asUUID(explicit); ok {
		return writer.Write(noExport, info.InternalModel, id, values)
	}

	match, err := w.FindUnboundEntity(ctx, key)
	if err != nil {
		return nil, err
	}
	if match != nil {
		return writer.Write(noExport, info.InternalModel, match.ID, values)
	}

	entity := integration.NewEntity(info.InternalModel, key, values)
	if err := writer.Create(noExport, entity); err != nil {
		return nil, fmt.Errorf("create %s: %w", info.InternalModel, err)
	}
	return entity, nil
}

// splitValues separates binding-level values from entity values.
func splitValues(info ModelInfo, values integration.Record) (entity, binding integration.Record) {
	entity = integration.Record{}
	binding = integration.Record{}
	for k, v := range values {
		if info.IsBindingField(k) {
			binding[k] = v
		} else {
			entity[k] = v
		}
	}
	return entity, binding
}

func asUUID(v any) (uuid.UUID, bool) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, val != uuid.Nil
	case string:
		id, err := uuid.Parse(val)
		return id, err == nil && id != uuid.Nil
	default:
		return uuid.Nil, false
	}
}

var _ RecordImporter = (*Importer)(nil)
