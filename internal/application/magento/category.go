package magento

import (
	"context"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
)

// DefaultRootCategory is the "Default Category" every store root hangs
// from; categories without a parent are exported under it.
const DefaultRootCategory = "2"

// isTreeRoot reports whether a remote parent id denotes the catalog root,
// which is never imported.
func isTreeRoot(parentID string) bool {
	return parentID == "" || parentID == "0" || parentID == "1"
}

func categoryImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("description", "description"),
			connector.FieldWith("is_active", "active", connector.ToBool),
			connector.FieldWith("position", "sequence", connector.ToInt),
		},
		Rules: []connector.Rule{
			connector.Mapping("parent_id", categoryParent),
		},
	}
}

func categoryParent(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	parentID := record.String("parent_id")
	if isTreeRoot(parentID) {
		return integration.Record{"parent_id": nil}, nil
	}
	parent, err := w.Binder().ToInternal(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, integration.NewMappingError(ModelCategory, parentID)
	}
	return integration.Record{"parent_id": parent.InternalID.String()}, nil
}

type categoryImportBehavior struct {
	connector.BaseImportBehavior
}

func (categoryImportBehavior) ImportDependencies(ctx context.Context, w *connector.Work, record integration.Record) error {
	parentID := record.String("parent_id")
	if isTreeRoot(parentID) {
		return nil
	}
	return w.ImportDependency(ctx, parentID, ModelCategory, false)
}

func categoryExportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.FieldWith("active", "is_active", connector.ToBool),
			connector.FieldWith("sequence", "position", connector.ToInt),
		},
		Rules: []connector.Rule{
			connector.Mapping("parent_id", func(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				parentID, ok := asUUID(record["parent_id"])
				if !ok {
					return integration.Record{"parent_id": DefaultRootCategory}, nil
				}
				external, err := w.Binder().ToExternalOf(ctx, parentID)
				if err != nil {
					return nil, err
				}
				if external == "" {
					return nil, &integration.MappingError{Model: ModelCategory, ExternalID: parentID.String(), Reason: "parent category is not exported"}
				}
				return integration.Record{"parent_id": external}, nil
			}, "parent_id"),
			connector.Mapping("include_in_menu", func(context.Context, *connector.Work, integration.Record, *integration.Binding) (integration.Record, error) {
				return integration.Record{"include_in_menu": true}, nil
			}),
			connector.Mapping("custom_attributes", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				if !record.Has("description") {
					return nil, nil
				}
				return integration.Record{"custom_attributes": []any{
					map[string]any{"attribute_code": "description", "value": record.String("description")},
				}}, nil
			}, "description"),
		},
	}
}

// categoryExportBehavior exports the parent category first.
type categoryExportBehavior struct {
	connector.BaseExportBehavior
}

func (categoryExportBehavior) ExportDependencies(ctx context.Context, w *connector.Work, binding *integration.Binding) error {
	if !binding.HasInternal() {
		return nil
	}
	entity, err := w.Services().Entities.GetByID(ctx, InternalCategory, binding.InternalID)
	if err != nil {
		return err
	}
	parentID, ok := asUUID(entity.Values["parent_id"])
	if !ok {
		return nil
	}
	_, err = w.ExportDependency(ctx, parentID, ModelCategory)
	return err
}

func registerCategories(reg *connector.Registry, _ *options) error {
	idField := map[integration.Version]string{
		integration.Version17: "category_id",
		integration.Version20: "id",
	}
	for version, field := range idField {
		err := reg.RegisterImporter(ModelCategory, version, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, categoryImportMapper(w), categoryImportBehavior{},
				connector.WithExternalIDField(field),
				connector.WithPreprocess(flattenCustomAttributes),
			)
		})
		if err != nil {
			return err
		}
	}
	if err := reg.RegisterBatchImporter(ModelCategory, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
		return connector.NewDelayedBatchImporter(w)
	}); err != nil {
		return err
	}
	if err := reg.RegisterMapper(ModelCategory, connector.UsageExportMapper, connector.AnyVersion, categoryExportMapper); err != nil {
		return err
	}
	if err := reg.RegisterExporter(ModelCategory, connector.UsageRecordExporter, connector.AnyVersion, func(w *connector.Work) connector.RecordExporter {
		return connector.NewExporter(w, categoryExportMapper(w), categoryExportBehavior{})
	}); err != nil {
		return err
	}
	return reg.RegisterDeleter(ModelCategory, connector.AnyVersion, func(w *connector.Work) connector.RecordDeleter {
		return connector.NewDeleter(w)
	})
}

// asUUID reads an entity reference stored as a string.
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

// uuids reads a list of entity references.
func uuids(v any) []uuid.UUID {
	var out []uuid.UUID
	for _, s := range stringList(v) {
		if id, ok := asUUID(s); ok {
			out = append(out, id)
		}
	}
	return out
}
