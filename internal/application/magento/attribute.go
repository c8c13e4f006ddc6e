package magento

import (
	"context"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Attribute sets
// ---------------------------------------------------------------------------

func attributeSetImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("attribute_set_name", "name"),
			connector.FieldWith("sort_order", "sequence", connector.ToInt),
		},
	}
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

func attributeImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("attribute_code", "code"),
			connector.Field("attribute_code", "attribute_code"),
			connector.Field("frontend_input", "frontend_input"),
			connector.FieldWith("is_user_defined", "is_user_defined", connector.ToBool),
		},
		Rules: []connector.Rule{
			connector.Mapping("name", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				name := record.String("default_frontend_label")
				if name == "" {
					name = record.String("frontend_label")
				}
				if name == "" {
					name = record.String("attribute_code")
				}
				return integration.Record{"name": name}, nil
			}),
		},
	}
}

// attributeImportBehavior turns the attribute options into value bindings.
type attributeImportBehavior struct {
	connector.BaseImportBehavior
}

func (attributeImportBehavior) Validate(_ context.Context, _ *connector.Work, values integration.Record) error {
	if values.String("code") == "" {
		return &integration.InvalidDataError{Reason: "attribute without attribute_code"}
	}
	return nil
}

func (attributeImportBehavior) AfterImport(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error {
	options := records(record["options"])
	if len(options) == 0 {
		return nil
	}
	values := w.For(ModelAttributeValue)
	binder := values.Binder()
	svc := w.Services()
	code := record.String("attribute_code")

	for _, option := range options {
		value := option.String("value")
		if value == "" {
			continue
		}
		label := option.String("label")
		externalID := ValueExternalID(binding.ExternalID, value)

		existing, err := binder.ToInternal(ctx, externalID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.SetValues(integration.Record{"label": label})
			if err := svc.Bindings.Update(ctx, existing); err != nil {
				return err
			}
			continue
		}

		entity := integration.NewEntity(InternalAttributeValue, "", integration.Record{
			"name":         label,
			"attribute_id": binding.InternalID.String(),
		})
		if err := svc.EntityWriter().Create(integration.WithoutExport(ctx), entity); err != nil {
			return fmt.Errorf("create attribute value %s: %w", externalID, err)
		}
		vb, err := integration.NewBinding(ModelAttributeValue, w.Backend.ID, entity.ID)
		if err != nil {
			return err
		}
		vb.ExternalID = externalID
		vb.SetValues(integration.Record{"code": value, "label": label, "attribute_code": code})
		vb.RecordSync(w.Now(), nil)
		if err := svc.Bindings.Create(ctx, vb); err != nil {
			return err
		}
		values.Logger().Debug("attribute value bound", zap.String("external_id", externalID))
	}
	return nil
}

// ValueExternalID is the external id of an attribute option:
// "<attribute id>_<option value>".
func ValueExternalID(attributeID, value string) string {
	return attributeID + "_" + value
}

func registerAttributes(reg *connector.Registry, _ *options) error {
	setIDField := map[integration.Version]string{
		integration.Version17: "set_id",
		integration.Version20: "attribute_set_id",
	}
	for version, idField := range setIDField {
		err := reg.RegisterImporter(ModelAttributeSet, version, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, attributeSetImportMapper(w), nil, connector.WithExternalIDField(idField))
		})
		if err != nil {
			return err
		}
	}
	err := reg.RegisterImporter(ModelAttribute, connector.AnyVersion, func(w *connector.Work) connector.RecordImporter {
		return connector.NewImporter(w, attributeImportMapper(w), attributeImportBehavior{},
			connector.WithExternalIDField("attribute_id"),
			connector.WithAltIDField("attribute_code"),
		)
	})
	if err != nil {
		return err
	}
	for _, model := range []string{ModelAttributeSet, ModelAttribute} {
		err := reg.RegisterBatchImporter(model, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
			return connector.NewDelayedBatchImporter(w)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
