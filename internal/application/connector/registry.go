package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// Usage names a capability a component provides for a model.
type Usage string

const (
	UsageRecordImporter      Usage = "record.importer"
	UsageBatchImporter       Usage = "batch.importer"
	UsageRecordExporter      Usage = "record.exporter"
	UsageExportDeleter       Usage = "record.exporter.deleter"
	UsageImportMapper        Usage = "import.mapper"
	UsageExportMapper        Usage = "export.mapper"
	UsageUpdateWriteMapper   Usage = "record.update.write"
	UsageUpdateCreateMapper  Usage = "record.update.create"
	UsageImageImporter       Usage = "product.image.importer"
	UsageTranslationImporter Usage = "translation.importer"
	UsageBundleImporter      Usage = "product.bundle.importer"
	UsageInventoryExporter   Usage = "product.inventory.exporter"
)

// AnyVersion registers a component for every backend version that has no
// dedicated variant.
const AnyVersion integration.Version = ""

// ---------------------------------------------------------------------------
// Component contracts
// ---------------------------------------------------------------------------

// RecordImporter imports one external record.
type RecordImporter interface {
	Run(ctx context.Context, externalID string, force bool) (string, error)
}

// RecordExporter exports one binding.
type RecordExporter interface {
	Run(ctx context.Context, binding *integration.Binding, fields []string) (string, error)
}

// RecordDeleter deletes one remote record.
type RecordDeleter interface {
	Run(ctx context.Context, externalID string) (string, error)
}

// BatchImporter imports every record matching filters.
type BatchImporter interface {
	Run(ctx context.Context, filters integration.Filters) (*BatchSummary, error)
}

// Hook is a sub-importer run after a record import (images, translations,
// bundle components).
type Hook interface {
	Run(ctx context.Context, w *Work, binding *integration.Binding, record integration.Record) error
}

// Factories build a component bound to a Work.
type (
	ImporterFactory      func(w *Work) RecordImporter
	ExporterFactory      func(w *Work) RecordExporter
	DeleterFactory       func(w *Work) RecordDeleter
	BatchImporterFactory func(w *Work) BatchImporter
	MapperFactory        func(w *Work) *Mapper
	HookFactory          func(w *Work) Hook
)

// ModelInfo describes a binding model.
type ModelInfo struct {
	// BindingModel is the binding model name
	BindingModel string
	// InternalModel is the model of the wrapped internal entity
	InternalModel string
	// KeyField is the internal value copied into Entity.Key
	KeyField string
	// BindingFields are mapped values stored on the binding rather than
	// on the internal entity
	BindingFields []string
	// ManualExport models are exported on request only; the export
	// listener never delays their record export
	ManualExport bool
}

// IsBindingField reports whether key is stored on the binding.
func (m ModelInfo) IsBindingField(key string) bool {
	for _, f := range m.BindingFields {
		if f == key {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

type componentKey struct {
	model   string
	usage   Usage
	version integration.Version
}

// Registry maps (model, usage, version) to component factories. Components
// are registered at startup; registering the same key twice fails.
type Registry struct {
	mu         sync.RWMutex
	components map[componentKey]any
	models     map[string]ModelInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[componentKey]any),
		models:     make(map[string]ModelInfo),
	}
}

// RegisterModel declares a binding model.
func (r *Registry) RegisterModel(info ModelInfo) error {
	if info.BindingModel == "" || info.InternalModel == "" {
		return fmt.Errorf("connector: model info requires binding and internal model")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[info.BindingModel]; exists {
		return fmt.Errorf("%w: model %s", integration.ErrComponentRegistered, info.BindingModel)
	}
	r.models[info.BindingModel] = info
	return nil
}

// ModelInfo returns the description of a binding model.
func (r *Registry) ModelInfo(model string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.models[model]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: model %s", integration.ErrComponentNotFound, model)
	}
	return info, nil
}

// BindingModelsFor lists the binding models wrapping internalModel.
func (r *Registry) BindingModelsFor(internalModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, info := range r.models {
		if info.InternalModel == internalModel {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) register(model string, usage Usage, version integration.Version, factory any) error {
	if model == "" {
		return fmt.Errorf("connector: cannot register %s without a model", usage)
	}
	key := componentKey{model: model, usage: usage, version: version}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[key]; exists {
		return fmt.Errorf("%w: %s/%s/%q", integration.ErrComponentRegistered, model, usage, version)
	}
	r.components[key] = factory
	return nil
}

func (r *Registry) lookup(model string, usage Usage, version integration.Version) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.components[componentKey{model: model, usage: usage, version: version}]; ok {
		return f, nil
	}
	if f, ok := r.components[componentKey{model: model, usage: usage, version: AnyVersion}]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s/%s for version %q", integration.ErrComponentNotFound, model, usage, version)
}

// Has reports whether a component is registered for the work's model.
func (r *Registry) Has(w *Work, usage Usage) bool {
	_, err := r.lookup(w.Model, usage, w.Backend.Version)
	return err == nil
}

// Supports reports whether model has a component for usage on any version.
func (r *Registry) Supports(model string, usage Usage) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key := range r.components {
		if key.model == model && key.usage == usage {
			return true
		}
	}
	return false
}

// RegisterImporter registers the record importer of model.
func (r *Registry) RegisterImporter(model string, version integration.Version, f ImporterFactory) error {
	return r.register(model, UsageRecordImporter, version, f)
}

// RegisterExporter registers an exporter of model under usage
// (record.exporter or product.inventory.exporter).
func (r *Registry) RegisterExporter(model string, usage Usage, version integration.Version, f ExporterFactory) error {
	return r.register(model, usage, version, f)
}

// RegisterDeleter registers the remote deleter of model.
func (r *Registry) RegisterDeleter(model string, version integration.Version, f DeleterFactory) error {
	return r.register(model, UsageExportDeleter, version, f)
}

// RegisterBatchImporter registers the batch importer of model.
func (r *Registry) RegisterBatchImporter(model string, version integration.Version, f BatchImporterFactory) error {
	return r.register(model, UsageBatchImporter, version, f)
}

// RegisterMapper registers a mapper of model under usage.
func (r *Registry) RegisterMapper(model string, usage Usage, version integration.Version, f MapperFactory) error {
	return r.register(model, usage, version, f)
}

// RegisterHook registers a sub-importer of model under usage.
func (r *Registry) RegisterHook(model string, usage Usage, version integration.Version, f HookFactory) error {
	return r.register(model, usage, version, f)
}

// Importer resolves the record importer of the work's model.
func (r *Registry) Importer(w *Work) (RecordImporter, error) {
	f, err := r.lookup(w.Model, UsageRecordImporter, w.Backend.Version)
	if err != nil {
		return nil, err
	}
	factory, ok := f.(ImporterFactory)
	if !ok {
		return nil, fmt.Errorf("connector: component %s is not a RecordImporter", w.Model)
	}
	return factory(w), nil
}

// Exporter resolves an exporter of the work's model.
func (r *Registry) Exporter(w *Work, usage Usage) (RecordExporter, error) {
	f, err := r.lookup(w.Model, usage, w.Backend.Version)
	if err != nil {
		return nil, err
	}
	factory, ok := f.(ExporterFactory)
	if !ok {
		return nil, fmt.Errorf("connector: component %s is not a RecordExporter", w.Model)
	}
	return factory(w), nil
}

// Deleter resolves the remote deleter of the work's model.
func (r *Registry) Deleter(w *Work) (RecordDeleter, error) {
	f, err := r.lookup(w.Model, UsageExportDeleter, w.Backend.Version)
	if err != nil {
		return nil, err
	}
	factory, ok := f.(DeleterFactory)
	if !ok {
		return nil, fmt.Errorf("connector: component %s is not a RecordDeleter", w.Model)
	}
	return factory(w), nil
}

// BatchImporter resolves the batch importer of the work's model.
func (r *Registry) BatchImporter(w *Work) (BatchImporter, error) {
	f, err := r.lookup(w.Model, UsageBatchImporter, w.Backend.Version)
	if err != nil {
		return nil, err
	}
	factory, ok := f.(BatchImporterFactory)
	if !ok {
		return nil, fmt.Errorf("connector: component %s is not a BatchImporter", w.Model)
	}
	return factory(w), nil
}

// Mapper resolves a mapper of the work's model.
func (r *Registry) Mapper(w *Work, usage Usage) (*Mapper, error) {
	f, err := r.lookup(w.Model, usage, w.Backend.Version)
	if err != nil {
		return nil, err
	}
	factory, ok := f.(MapperFactory)
	if !ok {
		return nil, fmt.Errorf("connector: component %s is not a Mapper", w.Model)
	}
	return factory(w), nil
}

// Hook resolves a sub-importer of the work's model.
func (r *Registry) Hook(w *Work, usage Usage) (Hook, error) {
	f, err := r.lookup(w.Model, usage, w.Backend.Version)
	if err != nil {
		return nil, err
	}
	factory, ok := f.(HookFactory)
	if !ok {
		return nil, fmt.Errorf("connector: component %s is not a Hook", w.Model)
	}
	return factory(w), nil
}
