package magento

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.uber.org/zap"
)

// Export defaults for products created from the ERP.
const (
	DefaultAttributeSet = "4"
	DefaultVisibility   = 4
	DefaultProductType  = "simple"
)

// productSKU is the SKU a product is exported under: the external id once
// bound on Magento 2, the product code otherwise.
func productSKU(w *connector.Work, record integration.Record) string {
	if w.Backend.Version == integration.Version20 {
		if sku := record.String("external_id"); sku != "" {
			return sku
		}
	}
	return record.String("default_code")
}

func productExportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.FieldWith("weight", "weight", connector.ToFloat),
			connector.FieldWith("list_price", "price", connector.ToFloat),
		},
		Rules: []connector.Rule{
			connector.Mapping("sku", func(_ context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				sku := productSKU(w, record)
				if sku == "" {
					return nil, nil
				}
				return integration.Record{"sku": sku}, nil
			}, "default_code"),
			connector.Mapping("type_id", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				typeID := record.String("product_type")
				if typeID == "" {
					typeID = DefaultProductType
				}
				return integration.Record{"type_id": typeID}, nil
			}, "product_type"),
			connector.Mapping("status", productExportStatus, "active"),
			connector.Mapping("visibility", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				visibility := DefaultVisibility
				if v, err := connector.ToInt(record["magento_visibility"]); err == nil && record["magento_visibility"] != nil {
					visibility = v.(int)
				}
				return integration.Record{"visibility": visibility}, nil
			}, "magento_visibility"),
			connector.Mapping("attribute_set_id", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				setID := record.String("attribute_set_id")
				if setID == "" {
					setID = DefaultAttributeSet
				}
				return integration.Record{"attribute_set_id": setID}, nil
			}, "attribute_set_id"),
			connector.Mapping("website_ids", productExportWebsites, "website_ids"),
			connector.Mapping("custom_attributes", productCustomAttributes,
				"category_ids", "attribute_value_ids", "description", "magento_url_key",
				"website_meta_title", "website_meta_description", "website_meta_keywords"),
			connector.Mapping("product_links", productExportLinks, "product_link_ids"),
		},
	}
}

// productExportStatus disables inactive products and keeps the remote
// status of the others.
func productExportStatus(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	status := StatusEnabled
	if v, ok := record["active"].(bool); ok && !v {
		status = StatusDisabled
	} else if s := record.String("magento_status"); s != "" {
		status = s
	}
	code, err := connector.ToInt(status)
	if err != nil {
		return nil, &integration.InvalidDataError{Reason: fmt.Sprintf("status %q", status)}
	}
	return integration.Record{"status": code}, nil
}

// productExportWebsites publishes the product on its websites, or on every
// bound website when none is set.
func productExportWebsites(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	ids := stringList(record["website_ids"])
	if len(ids) == 0 {
		bound := true
		websites, _, err := w.Services().Bindings.FindAll(ctx, integration.BindingFilter{
			Model:     ModelWebsite,
			BackendID: w.Backend.ID,
			Bound:     &bound,
		})
		if err != nil {
			return nil, err
		}
		for _, website := range websites {
			ids = append(ids, website.ExternalID)
		}
	}
	ids = sortedUnique(ids)
	websiteIDs := make([]any, 0, len(ids))
	for _, id := range ids {
		if n, err := connector.ToInt(id); err == nil {
			websiteIDs = append(websiteIDs, n)
		} else {
			websiteIDs = append(websiteIDs, id)
		}
	}
	return integration.Record{"extension_attributes": map[string]any{"website_ids": websiteIDs}}, nil
}

// productCustomAttributes builds the custom attribute list in a stable
// order: categories, attribute values by code, then the plain fields.
func productCustomAttributes(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	var attrs []any
	add := func(code string, value any) {
		attrs = append(attrs, map[string]any{"attribute_code": code, "value": value})
	}

	if categories := uuids(record["category_ids"]); len(categories) > 0 {
		binder := w.BinderFor(ModelCategory)
		ids := make([]string, 0, len(categories))
		for _, id := range categories {
			external, err := binder.ToExternalOf(ctx, id)
			if err != nil {
				return nil, err
			}
			if external == "" {
				return nil, &integration.MappingError{Model: ModelCategory, ExternalID: id.String(), Reason: "category is not exported"}
			}
			ids = append(ids, external)
		}
		add("category_ids", ids)
	}

	values, err := productExportAttributeValues(ctx, w, stringList(record["attribute_value_ids"]))
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(values))
	for code := range values {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		add(code, strings.Join(values[code], ","))
	}

	for _, field := range []struct{ from, code string }{
		{"magento_url_key", "url_key"},
		{"description", "description"},
		{"website_meta_title", "meta_title"},
		{"website_meta_description", "meta_description"},
		{"website_meta_keywords", "meta_keyword"},
	} {
		if v := record.String(field.from); v != "" {
			add(field.code, v)
		}
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return integration.Record{"custom_attributes": attrs}, nil
}

// productExportAttributeValues groups the option codes of the value bindings
// by attribute code.
func productExportAttributeValues(ctx context.Context, w *connector.Work, externalIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	binder := w.BinderFor(ModelAttributeValue)
	for _, externalID := range externalIDs {
		value, err := binder.ToInternal(ctx, externalID)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, integration.NewMappingError(ModelAttributeValue, externalID)
		}
		code := integration.AsString(value.Value("attribute_code"))
		out[code] = append(out[code], integration.AsString(value.Value("code")))
	}
	return out, nil
}

// productExportLinks exports the members of a grouped product.
func productExportLinks(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	if record.String("product_type") != "grouped" {
		return nil, nil
	}
	sku := productSKU(w, record)
	binder := w.BinderFor(ModelProduct)
	var links []any
	for position, id := range uuids(record["product_link_ids"]) {
		member, err := binder.ToExternalOf(ctx, id)
		if err != nil {
			return nil, err
		}
		if member == "" {
			return nil, &integration.MappingError{Model: ModelProduct, ExternalID: id.String(), Reason: "grouped member is not exported"}
		}
		links = append(links, map[string]any{
			"sku":                 sku,
			"link_type":           "associated",
			"linked_product_sku":  member,
			"linked_product_type": "simple",
			"position":            position,
		})
	}
	return integration.Record{"product_links": links}, nil
}

// productUpdateMapper reads back what Magento stored after an export.
func productUpdateMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.FieldWith("id", "magento_internal_id", connector.ToString),
			connector.FieldWith("updated_at", "updated_at", connector.ToTime),
			connector.FieldWith("visibility", "magento_visibility", connector.ToInt),
			connector.FieldWith("status", "magento_status", connector.ToString),
		},
		Rules: []connector.Rule{
			connector.Mapping("url_key", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				record = flattenCustomAttributes(record)
				if !record.Has("url_key") {
					return nil, nil
				}
				return integration.Record{"magento_url_key": record.String("url_key")}, nil
			}),
			connector.Mapping("website_ids", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				ids := pathStrings(record, "extension_attributes.website_ids")
				if len(ids) == 0 {
					return nil, nil
				}
				return integration.Record{"website_ids": sortedUnique(ids)}, nil
			}),
		},
	}
}

// productCreateMapper adds the creation stamps to the update-write fields.
func productCreateMapper(w *connector.Work) *connector.Mapper {
	m := productUpdateMapper(w)
	m.Direct = append(m.Direct,
		connector.FieldWith("created_at", "created_at", connector.ToTime),
		connector.FieldWith("attribute_set_id", "attribute_set_id", connector.ToString),
	)
	return m
}

// productExportBehavior exports categories and grouped members first and
// picks a free SKU for new products.
type productExportBehavior struct {
	connector.BaseExportBehavior
}

func (productExportBehavior) ExportDependencies(ctx context.Context, w *connector.Work, binding *integration.Binding) error {
	if !binding.HasInternal() {
		return nil
	}
	entity, err := w.Services().Entities.GetByID(ctx, InternalProduct, binding.InternalID)
	if err != nil {
		return err
	}
	for _, id := range uuids(entity.Values["category_ids"]) {
		if _, err := w.ExportDependency(ctx, id, ModelCategory); err != nil {
			return fmt.Errorf("export category %s: %w", id, err)
		}
	}
	for _, id := range uuids(entity.Values["product_link_ids"]) {
		if _, err := w.ExportDependency(ctx, id, ModelProduct); err != nil {
			return fmt.Errorf("export grouped member %s: %w", id, err)
		}
	}
	return nil
}

func (productExportBehavior) BeforeCreate(ctx context.Context, w *connector.Work, binding *integration.Binding, data integration.Record) (integration.Record, error) {
	name := data.String("name")
	code := data.String("sku")
	if binding.HasInternal() {
		entity, err := w.Services().Entities.GetByID(ctx, InternalProduct, binding.InternalID)
		if err != nil {
			return nil, err
		}
		code = entity.Values.String("default_code")
		if name == "" {
			name = entity.Values.String("name")
		}
	}
	proposed := proposeSKU(code, name)
	if proposed == "" {
		return nil, &integration.InvalidDataError{Reason: "product without code nor name has no SKU"}
	}
	sku, err := uniqueSKU(ctx, w, proposed)
	if err != nil {
		return nil, err
	}
	if sku != proposed {
		w.Logger().Info("sku taken, using a suffixed one", zap.String("proposed", proposed), zap.String("sku", sku))
	}
	data["sku"] = sku
	return data, nil
}

// ResolveCreatedID binds Magento 2 products by SKU, keeping the numeric id
// returned by the create call as alternate id.
func (productExportBehavior) ResolveCreatedID(ctx context.Context, w *connector.Work, binding *integration.Binding, data integration.Record, created string) (string, error) {
	if w.Backend.Version != integration.Version20 {
		return created, nil
	}
	binding.AltExternalID = created
	binding.SetValues(integration.Record{"magento_internal_id": created})
	return data.String("sku"), nil
}

// AfterExport refreshes the binding from the record Magento stored on
// creation.
func (productExportBehavior) AfterExport(ctx context.Context, w *connector.Work, binding *integration.Binding, stored integration.Record) error {
	if stored != nil || binding.Value("created_at") != nil {
		return nil
	}
	registry := w.Services().Registry
	if !registry.Has(w, connector.UsageUpdateCreateMapper) {
		return nil
	}
	mapper, err := registry.Mapper(w, connector.UsageUpdateCreateMapper)
	if err != nil {
		return err
	}
	adapter, err := w.Adapter()
	if err != nil {
		return err
	}
	remote, err := adapter.Read(ctx, binding.ExternalID, nil)
	if err != nil {
		w.Logger().Warn("created product unreadable", zap.String("external_id", binding.ExternalID), zap.Error(err))
		return nil
	}
	values, err := mapper.MapRecord(w, remote).Values(ctx, connector.MapOptions{Binding: binding})
	if err != nil {
		return err
	}
	binding.SetValues(values)
	return w.Services().Bindings.Update(integration.WithoutExport(ctx), binding)
}

func registerProducts(reg *connector.Registry, _ *options) error {
	if err := reg.RegisterImporter(ModelProduct, connector.AnyVersion, func(w *connector.Work) connector.RecordImporter {
		return newProductImporter(w)
	}); err != nil {
		return err
	}
	if err := reg.RegisterBatchImporter(ModelProduct, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
		return connector.NewDelayedBatchImporter(w)
	}); err != nil {
		return err
	}
	mappers := []struct {
		usage   connector.Usage
		factory connector.MapperFactory
	}{
		{connector.UsageImportMapper, productImportMapper},
		{connector.UsageExportMapper, productExportMapper},
		{connector.UsageUpdateWriteMapper, productUpdateMapper},
		{connector.UsageUpdateCreateMapper, productCreateMapper},
	}
	for _, m := range mappers {
		if err := reg.RegisterMapper(ModelProduct, m.usage, connector.AnyVersion, m.factory); err != nil {
			return err
		}
	}
	if err := reg.RegisterExporter(ModelProduct, connector.UsageRecordExporter, connector.AnyVersion, func(w *connector.Work) connector.RecordExporter {
		return connector.NewExporter(w, productExportMapper(w), productExportBehavior{},
			connector.WithReconciler(connector.ReconcilerFor(w.Backend.SyncStrategy)))
	}); err != nil {
		return err
	}
	return reg.RegisterDeleter(ModelProduct, connector.AnyVersion, func(w *connector.Work) connector.RecordDeleter {
		return connector.NewDeleter(w)
	})
}
