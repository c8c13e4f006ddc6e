package connector_test

import (
	"context"
	"testing"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/application/connector/connectortest"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/stretchr/testify/require"
)

const (
	partnerModel = "magento.res.partner"
	groupModel   = "magento.res.partner.category"
)

type partnerBehavior struct {
	connector.BaseImportBehavior
	withDependencies bool
}

func (b partnerBehavior) MustSkip(_ context.Context, _ *connector.Work, record integration.Record) string {
	if record.String("status") == "2" {
		return "Customer is disabled"
	}
	return ""
}

func (b partnerBehavior) ImportDependencies(ctx context.Context, w *connector.Work, record integration.Record) error {
	if !b.withDependencies {
		return nil
	}
	return w.ImportDependency(ctx, record.String("group_id"), groupModel, false)
}

func partnerImportMapper() *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("email", "ref"),
			connector.Field("status", "status"),
		},
		Rules: []connector.Rule{
			connector.Mapping("group", func(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				groupID := record.String("group_id")
				if groupID == "" {
					return nil, nil
				}
				group, err := w.BinderFor(groupModel).ToInternalEntity(ctx, groupID)
				if err != nil {
					return nil, err
				}
				if group == nil {
					return nil, integration.NewMappingError(groupModel, groupID)
				}
				return integration.Record{"category_id": group.ID.String()}, nil
			}),
		},
	}
}

func partnerExportMapper() *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "firstname"),
			connector.Field("ref", "email"),
		},
		Rules: []connector.Rule{
			connector.OnlyCreate("website", func(context.Context, *connector.Work, integration.Record, *integration.Binding) (integration.Record, error) {
				return integration.Record{"website_id": 1}, nil
			}),
		},
	}
}

type registerOptions struct {
	withDependencies bool
	updateWrite      bool
}

func registerPartners(opts registerOptions) func(*connector.Registry) error {
	return func(reg *connector.Registry) error {
		if err := reg.RegisterModel(connector.ModelInfo{
			BindingModel:  partnerModel,
			InternalModel: "res.partner",
			KeyField:      "ref",
			BindingFields: []string{"status"},
		}); err != nil {
			return err
		}
		if err := reg.RegisterModel(connector.ModelInfo{BindingModel: groupModel, InternalModel: "res.partner.category"}); err != nil {
			return err
		}
		if err := reg.RegisterImporter(partnerModel, connector.AnyVersion, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, partnerImportMapper(), partnerBehavior{withDependencies: opts.withDependencies})
		}); err != nil {
			return err
		}
		if err := reg.RegisterImporter(groupModel, connector.AnyVersion, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, &connector.Mapper{Direct: []connector.Direct{connector.Field("name", "name")}}, nil)
		}); err != nil {
			return err
		}
		if err := reg.RegisterExporter(partnerModel, connector.UsageRecordExporter, connector.AnyVersion, func(w *connector.Work) connector.RecordExporter {
			return connector.NewExporter(w, partnerExportMapper(), nil)
		}); err != nil {
			return err
		}
		if err := reg.RegisterBatchImporter(partnerModel, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
			return connector.NewDelayedBatchImporter(w)
		}); err != nil {
			return err
		}
		if err := reg.RegisterBatchImporter(groupModel, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
			return connector.NewDirectBatchImporter(w)
		}); err != nil {
			return err
		}
		if err := reg.RegisterDeleter(partnerModel, connector.AnyVersion, func(w *connector.Work) connector.RecordDeleter {
			return connector.NewDeleter(w)
		}); err != nil {
			return err
		}
		if opts.updateWrite {
			return reg.RegisterMapper(partnerModel, connector.UsageUpdateWriteMapper, connector.AnyVersion, func(*connector.Work) *connector.Mapper {
				return &connector.Mapper{Direct: []connector.Direct{connector.Field("updated_at", "magento_updated_at")}}
			})
		}
		return nil
	}
}

func newEnv(t *testing.T, opts registerOptions) *connectortest.Env {
	t.Helper()
	return connectortest.NewEnv(t, integration.Version20, registerPartners(opts))
}

// seedPartner stores an internal partner and an unbound binding for it.
func seedPartner(t *testing.T, env *connectortest.Env, externalID string) (*integration.Entity, *integration.Binding) {
	t.Helper()
	ctx := context.Background()
	entity := integration.NewEntity("res.partner", "jane@example.com", integration.Record{
		"name": "Jane",
		"ref":  "jane@example.com",
	})
	require.NoError(t, env.Entities.Create(ctx, entity))

	binding, err := integration.NewBinding(partnerModel, env.Backend.ID, entity.ID)
	require.NoError(t, err)
	binding.ExternalID = externalID
	require.NoError(t, env.Bindings.Create(ctx, binding))
	return entity, binding
}

func ptr[T any](v T) *T {
	return &v
}
