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

// Skip reasons of the product importer.
const (
	MsgProductDisabled     = "The product is disabled in Magento, import skipped."
	MsgConfigurableSkipped = "The configurable product is not imported, only simple products are used in sales orders."
)

// Magento status values.
const (
	StatusEnabled  = "1"
	StatusDisabled = "2"
)

// productTypes maps the supported Magento product types to the internal
// detailed type; an empty value keeps the default.
var productTypes = map[string]string{
	"simple":       "product",
	"grouped":      "product",
	"virtual":      "service",
	"downloadable": "service",
	"giftcard":     "service",
	"bundle":       "",
}

// productIDField is the payload key of the product external id: the SKU on
// Magento 2, which is the slug of the product REST API.
var productIDField = map[integration.Version]string{
	integration.Version17: "product_id",
	integration.Version20: "sku",
}

func productImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("description", "description"),
			connector.FieldWith("weight", "weight", connector.ToDecimal),
			connector.Field("sku", "default_code"),
			connector.Field("type_id", "product_type"),
			connector.FieldWith("created_at", "created_at", connector.ToTime),
			connector.FieldWith("updated_at", "updated_at", connector.ToTime),
			connector.FieldWith("id", "magento_internal_id", connector.ToString),
			connector.FieldWith("product_id", "magento_internal_id", connector.ToString),
			connector.FieldWith("visibility", "magento_visibility", connector.ToInt),
			connector.Field("url_key", "magento_url_key"),
			connector.Field("meta_title", "website_meta_title"),
			connector.Field("meta_description", "website_meta_description"),
			connector.Field("meta_keyword", "website_meta_keywords"),
		},
		Rules: []connector.Rule{
			connector.OnlyCreate("internal_id", productMatchByCode),
			connector.Mapping("is_active", productActive),
			connector.Mapping("price", productPrice),
			connector.Mapping("type", productDetailedType),
			connector.Mapping("tax_class_id", productTaxClass),
			connector.Mapping("website_ids", productWebsites),
			connector.Mapping("categories", productCategories),
			connector.OnlyCreate("product_links", productLinks),
			connector.Mapping("attributes", productAttributeValues),
			connector.Mapping("attribute_set_id", productAttributeSet),
		},
	}
}

// productMatchByCode binds the first import to an existing product with
// the same code.
func productMatchByCode(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	match, err := w.FindUnboundEntity(ctx, record.String("sku"))
	if err != nil || match == nil {
		return nil, err
	}
	return integration.Record{connector.InternalIDKey: match.ID.String()}, nil
}

// productActive reads the Magento status: 1 is enabled, 2 disabled. 1.x
// sends a string, 2.x an integer.
func productActive(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	status := record.String("status")
	return integration.Record{
		"active":         status != StatusDisabled,
		"magento_status": status,
	}, nil
}

func productPrice(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	cost, err := connector.DecimalValue(record["cost"])
	if err != nil {
		return nil, &integration.InvalidDataError{Reason: fmt.Sprintf("cost %v: %v", record["cost"], err)}
	}
	price, err := connector.DecimalValue(record["price"])
	if err != nil {
		return nil, &integration.InvalidDataError{Reason: fmt.Sprintf("price %v: %v", record["price"], err)}
	}
	return integration.Record{"standard_price": cost, "list_price": price}, nil
}

func productDetailedType(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	detailed := productTypes[record.String("type_id")]
	if detailed == "" {
		return nil, nil
	}
	return integration.Record{"detailed_type": detailed}, nil
}

func productTaxClass(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	taxClass := record.String("tax_class_id")
	if taxClass == "" || taxClass == "0" {
		return nil, nil
	}
	return integration.Record{"tax_class_id": taxClass}, nil
}

// productWebsites keeps the websites of the product as external ids; 1.x
// sends "websites", 2.x the extension attribute.
func productWebsites(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	ids := stringList(record["websites"])
	if len(ids) == 0 {
		ids = pathStrings(record, "extension_attributes.website_ids")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	binder := w.BinderFor(ModelWebsite)
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		website, err := binder.ToInternal(ctx, id)
		if err != nil {
			return nil, err
		}
		if website == nil {
			w.Logger().Warn("product website not imported", zap.String("website_id", id))
			continue
		}
		known = append(known, id)
	}
	return integration.Record{"website_ids": known}, nil
}

// productCategoryIDs reads "category_ids" (2.x custom attribute),
// "categories" (1.x) or the 2.x category links.
func productCategoryIDs(record integration.Record) []string {
	if ids := stringList(record["category_ids"]); len(ids) > 0 {
		return ids
	}
	if ids := stringList(record["categories"]); len(ids) > 0 {
		return ids
	}
	return pathStrings(record, "extension_attributes.category_links.#.category_id")
}

func productCategories(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	binder := w.BinderFor(ModelCategory)
	var ids []string
	for _, external := range productCategoryIDs(record) {
		category, err := binder.ToInternalEntity(ctx, external)
		if err != nil {
			return nil, err
		}
		if category == nil {
			return nil, integration.NewMappingError(ModelCategory, external)
		}
		ids = append(ids, category.ID.String())
	}
	return integration.Record{"category_ids": ids}, nil
}

// productLinks keeps the members of a grouped product in position order.
func productLinks(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	if record.String("type_id") != "grouped" {
		return nil, nil
	}
	links := records(record["product_links"])
	sortByPosition(links)
	binder := w.Binder()
	var ids []string
	for _, link := range links {
		sku := link.String("linked_product_sku")
		member, err := binder.ToInternal(ctx, sku)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, integration.NewMappingError(ModelProduct, sku)
		}
		ids = append(ids, member.InternalID.String())
	}
	return integration.Record{"product_link_ids": ids}, nil
}

// productAttributeValues resolves the user defined custom attributes to
// attribute value bindings. Unchanged values are left out so that an update
// does not rewrite them.
func productAttributeValues(ctx context.Context, w *connector.Work, record integration.Record, binding *integration.Binding) (integration.Record, error) {
	attributes := w.BinderFor(ModelAttribute)
	values := w.BinderFor(ModelAttributeValue)
	var found []string
	for _, custom := range records(record["custom_attributes"]) {
		attribute, err := attributes.ToInternal(ctx, custom.String("attribute_code"), connector.ByAltExternalID())
		if err != nil {
			return nil, err
		}
		if attribute == nil || !connector.BoolValue(attribute.Value("is_user_defined")) {
			continue
		}
		// multiselect values come as "4,5"
		for _, v := range strings.Split(custom.String("value"), ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			externalID := ValueExternalID(attribute.ExternalID, v)
			value, err := values.ToInternal(ctx, externalID)
			if err != nil {
				return nil, err
			}
			if value == nil {
				return nil, &integration.MappingError{
					Model:      ModelAttributeValue,
					ExternalID: externalID,
					Reason:     fmt.Sprintf("value of attribute %s is not imported", custom.String("attribute_code")),
				}
			}
			found = append(found, externalID)
		}
	}
	found = sortedUnique(found)
	if binding != nil && sameStrings(found, stringList(binding.Value("attribute_value_ids"))) {
		return nil, nil
	}
	return integration.Record{"attribute_value_ids": found}, nil
}

func productAttributeSet(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	setID := record.String("attribute_set_id")
	if setID == "" {
		return nil, nil
	}
	set, err := w.BinderFor(ModelAttributeSet).ToInternal(ctx, setID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, integration.NewMappingError(ModelAttributeSet, setID)
	}
	return integration.Record{"attribute_set_id": setID}, nil
}

// ---------------------------------------------------------------------------
// Importer
// ---------------------------------------------------------------------------

type productImportBehavior struct {
	connector.BaseImportBehavior
}

func (productImportBehavior) MustSkip(_ context.Context, _ *connector.Work, record integration.Record) string {
	if record.String("status") == StatusDisabled {
		return MsgProductDisabled
	}
	if record.String("type_id") == "configurable" {
		return MsgConfigurableSkipped
	}
	return ""
}

func (productImportBehavior) ImportDependencies(ctx context.Context, w *connector.Work, record integration.Record) error {
	if err := w.ImportDependency(ctx, record.String("attribute_set_id"), ModelAttributeSet, false); err != nil {
		return err
	}
	for _, id := range productCategoryIDs(record) {
		if err := w.ImportDependency(ctx, id, ModelCategory, false); err != nil {
			return err
		}
	}
	switch record.String("type_id") {
	case "bundle":
		for _, child := range bundleChildren(w, record) {
			if err := w.ImportDependency(ctx, child, ModelProduct, false); err != nil {
				return err
			}
		}
	case "grouped":
		for _, link := range records(record["product_links"]) {
			if err := w.ImportDependency(ctx, link.String("linked_product_sku"), ModelProduct, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// bundleChildren lists the external ids of the bundle selections.
func bundleChildren(w *connector.Work, record integration.Record) []string {
	if w.Backend.Version == integration.Version17 {
		return pathStrings(record, "_bundle_data.options.#.selections.#.product_id")
	}
	return pathStrings(record, "extension_attributes.bundle_product_options.#.product_links.#.sku")
}

func (productImportBehavior) Validate(_ context.Context, _ *connector.Work, values integration.Record) error {
	productType := values.String("product_type")
	if _, ok := productTypes[productType]; !ok {
		return &integration.InvalidDataError{
			Reason: fmt.Sprintf("the product type %q is not supported by the connector", productType),
		}
	}
	return nil
}

func (productImportBehavior) AfterImport(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error {
	if err := importStockItem(ctx, w, binding, record); err != nil {
		return err
	}
	registry := w.Services().Registry
	for _, usage := range []connector.Usage{connector.UsageTranslationImporter, connector.UsageImageImporter} {
		if !registry.Has(w, usage) {
			continue
		}
		hook, err := registry.Hook(w, usage)
		if err != nil {
			return err
		}
		if err := hook.Run(ctx, w, binding, record); err != nil {
			return fmt.Errorf("%s: %w", usage, err)
		}
	}
	if record.String("type_id") == "bundle" {
		hook, err := registry.Hook(w, connector.UsageBundleImporter)
		if err != nil {
			return err
		}
		return hook.Run(ctx, w, binding, record)
	}
	return nil
}

func newProductImporter(w *connector.Work) *connector.Importer {
	opts := []connector.ImporterOption{
		connector.WithExternalIDField(productIDField[w.Backend.Version]),
		connector.WithPreprocess(flattenCustomAttributes),
	}
	if w.Backend.Version == integration.Version20 {
		opts = append(opts, connector.WithAltIDField("id"))
	}
	return connector.NewImporter(w, productImportMapper(w), productImportBehavior{}, opts...)
}

func sortByPosition(items []integration.Record) {
	sort.SliceStable(items, func(i, j int) bool {
		return intValue(items[i]["position"]) < intValue(items[j]["position"])
	})
}
