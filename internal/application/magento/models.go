// Package magento registers the Magento binding models: their mappers,
// importers, exporters and sub-importers, per backend version.
package magento

import (
	"github.com/connectorhq/magento-connector/internal/application/connector"
)

// Binding models.
const (
	ModelWebsite        = "magento.website"
	ModelStoreview      = "magento.storeview"
	ModelAttributeSet   = "magento.product.attribute.set"
	ModelAttribute      = "magento.product.attribute"
	ModelAttributeValue = "magento.product.attribute.value"
	ModelCategory       = "magento.product.category"
	ModelProduct        = "magento.product.product"
	ModelWarehouse      = "magento.stock.warehouse"
	ModelStockItem      = "magento.stock.item"
	ModelSaleOrder      = "magento.sale.order"
	ModelSaleOrderLine  = "magento.sale.order.line"
	ModelPicking        = "magento.stock.picking"
)

// Internal models wrapped by the bindings.
const (
	InternalWebsite        = "shop.website"
	InternalStoreview      = "shop.storeview"
	InternalAttributeSet   = "product.attribute.set"
	InternalAttribute      = "product.attribute"
	InternalAttributeValue = "product.attribute.value"
	InternalCategory       = "product.category.public"
	InternalProduct        = "product.product"
	InternalWarehouse      = "stock.warehouse"
	InternalSaleOrder      = "sale.order"
	InternalSaleOrderLine  = "sale.order.line"
	InternalPicking        = "stock.picking"
)

// Models lists the binding models in dependency order.
var Models = []connector.ModelInfo{
	{BindingModel: ModelWebsite, InternalModel: InternalWebsite, KeyField: "code"},
	{BindingModel: ModelStoreview, InternalModel: InternalStoreview, KeyField: "code"},
	{BindingModel: ModelAttributeSet, InternalModel: InternalAttributeSet, KeyField: "name"},
	{
		BindingModel:  ModelAttribute,
		InternalModel: InternalAttribute,
		KeyField:      "code",
		BindingFields: []string{"attribute_code", "frontend_input", "is_user_defined"},
	},
	{
		BindingModel:  ModelAttributeValue,
		InternalModel: InternalAttributeValue,
		BindingFields: []string{"code", "label", "attribute_code"},
	},
	{BindingModel: ModelCategory, InternalModel: InternalCategory},
	{
		BindingModel:  ModelProduct,
		InternalModel: InternalProduct,
		KeyField:      "default_code",
		BindingFields: []string{
			"magento_status", "product_type", "magento_internal_id",
			"created_at", "updated_at", "attribute_set_id", "website_ids",
			"magento_visibility", "magento_url_key", "backorders",
			"manage_stock", "active", "attribute_value_ids", "magento_qty",
		},
	},
	{
		BindingModel:  ModelWarehouse,
		InternalModel: InternalWarehouse,
		KeyField:      "code",
		BindingFields: []string{"source_code"},
	},
	{
		BindingModel:  ModelStockItem,
		InternalModel: InternalProduct,
		BindingFields: []string{
			"qty", "min_qty", "min_sale_qty", "is_qty_decimal", "is_in_stock",
			"backorders", "manage_stock", "product_type",
			"product_binding_id", "warehouse_binding_id", "product_sku",
		},
		ManualExport: true,
	},
	{
		BindingModel:  ModelSaleOrder,
		InternalModel: InternalSaleOrder,
		KeyField:      "name",
		BindingFields: []string{"magento_order_id", "magento_state", "magento_status"},
	},
	{
		BindingModel:  ModelSaleOrderLine,
		InternalModel: InternalSaleOrderLine,
		BindingFields: []string{"product_type"},
	},
	{
		BindingModel:  ModelPicking,
		InternalModel: InternalPicking,
		BindingFields: []string{"picking_method"},
	},
}

// Option configures Register.
type Option func(*options)

type options struct {
	images     ImageStore
	downloader Downloader
}

// WithImageStore enables the product image importer. Images are fetched
// with d and written to store.
func WithImageStore(store ImageStore, d Downloader) Option {
	return func(o *options) {
		o.images = store
		o.downloader = d
	}
}

type registration func(reg *connector.Registry, o *options) error

// Register declares every Magento model and component.
func Register(reg *connector.Registry, opts ...Option) error {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	for _, info := range Models {
		if err := reg.RegisterModel(info); err != nil {
			return err
		}
	}
	for _, r := range []registration{
		registerStores,
		registerAttributes,
		registerCategories,
		registerProducts,
		registerInventory,
		registerHooks,
		registerSales,
		registerPickings,
	} {
		if err := r(reg, o); err != nil {
			return err
		}
	}
	return nil
}
