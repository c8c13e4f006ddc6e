package magento

import (
	"context"
	"sort"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// Websites and store views are small reference tables: they are imported
// inline by a direct batch importer.

func websiteImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("code", "code"),
			connector.FieldWith("sort_order", "sequence", connector.ToInt),
		},
	}
}

func storeviewImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("code", "code"),
			connector.FieldWith("sort_order", "sequence", connector.ToInt),
		},
		Rules: []connector.Rule{
			connector.Mapping("lang", storeviewLang),
			connector.Mapping("active", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				if !record.Has("is_active") {
					return integration.Record{"active": true}, nil
				}
				return integration.Record{"active": connector.BoolValue(record["is_active"])}, nil
			}),
			connector.Mapping("website_id", storeviewWebsite),
		},
	}
}

// storeviewLang reads the locale of the store view; Magento 2 only returns
// it in the store configs merged by the adapter.
func storeviewLang(_ context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	lang := record.String("locale")
	if lang == "" {
		lang = record.Path("extension_attributes.locale").String()
	}
	if lang == "" {
		lang = w.Backend.DefaultLang
	}
	return integration.Record{"lang": lang}, nil
}

func storeviewWebsite(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	websiteID := record.String("website_id")
	if websiteID == "" {
		return nil, nil
	}
	website, err := w.BinderFor(ModelWebsite).ToInternal(ctx, websiteID)
	if err != nil {
		return nil, err
	}
	if website == nil {
		return nil, integration.NewMappingError(ModelWebsite, websiteID)
	}
	return integration.Record{"website_id": website.InternalID.String()}, nil
}

type storeviewImportBehavior struct {
	connector.BaseImportBehavior
}

func (storeviewImportBehavior) ImportDependencies(ctx context.Context, w *connector.Work, record integration.Record) error {
	return w.ImportDependency(ctx, record.String("website_id"), ModelWebsite, false)
}

func registerStores(reg *connector.Registry, _ *options) error {
	idFields := map[integration.Version][2]string{
		integration.Version17: {"website_id", "store_id"},
		integration.Version20: {"id", "id"},
	}
	for version, fields := range idFields {
		websiteID, storeviewID := fields[0], fields[1]
		err := reg.RegisterImporter(ModelWebsite, version, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, websiteImportMapper(w), nil, connector.WithExternalIDField(websiteID))
		})
		if err != nil {
			return err
		}
		err = reg.RegisterImporter(ModelStoreview, version, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, storeviewImportMapper(w), storeviewImportBehavior{}, connector.WithExternalIDField(storeviewID))
		})
		if err != nil {
			return err
		}
	}
	for _, model := range []string{ModelWebsite, ModelStoreview} {
		err := reg.RegisterBatchImporter(model, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
			return connector.NewDirectBatchImporter(w)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// storeviewTarget is a translation target: one store view of a language
// other than the backend default.
type storeviewTarget struct {
	ExternalID string
	Code       string
	Lang       string
}

// storeviewLangs returns one store view per distinct language other than
// the default one, in external id order.
func storeviewLangs(ctx context.Context, w *connector.Work) ([]storeviewTarget, error) {
	bound := true
	views, _, err := w.Services().Bindings.FindAll(ctx, integration.BindingFilter{
		Model:     ModelStoreview,
		BackendID: w.Backend.ID,
		Bound:     &bound,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ExternalID < views[j].ExternalID })

	var out []storeviewTarget
	seen := map[string]bool{w.Backend.DefaultLang: true}
	for _, view := range views {
		if !view.HasInternal() {
			continue
		}
		entity, err := w.Services().Entities.GetByID(ctx, InternalStoreview, view.InternalID)
		if err != nil {
			return nil, err
		}
		lang := entity.Values.String("lang")
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, storeviewTarget{ExternalID: view.ExternalID, Code: entity.Values.String("code"), Lang: lang})
	}
	return out, nil
}
