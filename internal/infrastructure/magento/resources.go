package magento

import (
	"net/url"
	"strings"

	appmagento "github.com/connectorhq/magento-connector/internal/application/magento"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// Resource describes how one binding model is reached on both API
// generations.
type Resource struct {
	// V1Model is the Magento 1.x API resource, e.g. "catalog_product"
	V1Model string
	// V1Search overrides the "<V1Model>.list" search method
	V1Search string
	// V1Key is the id field of 1.x search results
	V1Key string
	// V1NotFound lists the fault codes meaning the id is unknown
	V1NotFound []int
	// V1CreateArgs builds the create arguments; the default is [data]
	V1CreateArgs func(data integration.Record) []any

	// V2Path is the REST collection path, e.g. "products"
	V2Path string
	// V2Search overrides the search path
	V2Search string
	// V2Key is the id field of search results
	V2Key string
	// V2Name wraps create and update payloads: {"product": {...}}
	V2Name string
	// V2Read and V2Write override the record path. "{id}" is replaced by
	// the external id and "{field}" by the value of field in the payload.
	V2Read  string
	V2Write string
	// V2List marks small collections returned whole, without searchCriteria;
	// single records are picked from the list
	V2List bool
	// V2Configs is a list merged into records by id (store view locales)
	V2Configs string
}

func (r Resource) v1Method(op string) string {
	return r.V1Model + "." + op
}

func (r Resource) v2ReadPath(id string) string {
	if r.V2Read != "" {
		return expandPath(r.V2Read, id, nil)
	}
	return r.V2Path + "/" + url.PathEscape(id)
}

func (r Resource) v2WritePath(id string, data integration.Record) string {
	if r.V2Write != "" {
		return expandPath(r.V2Write, id, data)
	}
	return r.V2Path + "/" + url.PathEscape(id)
}

func (r Resource) v2SearchPath() string {
	if r.V2Search != "" {
		return r.V2Search
	}
	return r.V2Path
}

func (r Resource) wrap(data integration.Record) any {
	if r.V2Name == "" {
		return data
	}
	return map[string]any{r.V2Name: data}
}

func (r Resource) isNotFound(code int) bool {
	for _, c := range r.V1NotFound {
		if c == code {
			return true
		}
	}
	return false
}

// expandPath fills "{id}" and "{field}" placeholders.
func expandPath(template, id string, data integration.Record) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		name := rest[start+1 : start+end]
		value := id
		if name != "id" {
			value = integration.AsString(data[name])
		}
		b.WriteString(url.PathEscape(value))
		rest = rest[start+end+1:]
	}
}

// Resources maps binding models to their remote resources. Order lines are
// carried by their order and attribute values by their attribute, so
// neither has one.
var Resources = map[string]Resource{
	appmagento.ModelWebsite: {
		V1Model: "ol_websites", V1Search: "ol_websites.search", V1Key: "website_id",
		V1NotFound: []int{FaultNotExists},
		V2Path:     "store/websites", V2Key: "id", V2List: true,
	},
	appmagento.ModelStoreview: {
		V1Model: "ol_storeviews", V1Search: "ol_storeviews.search", V1Key: "store_id",
		V1NotFound: []int{FaultNotExists},
		V2Path:     "store/storeViews", V2Key: "id", V2List: true,
		V2Configs: "store/storeConfigs",
	},
	appmagento.ModelAttributeSet: {
		V1Model: "product_attribute_set", V1Key: "set_id",
		V1NotFound: []int{FaultNotExists},
		V2Path:     "products/attribute-sets", V2Search: "products/attribute-sets/sets/list",
		V2Key: "attribute_set_id",
	},
	appmagento.ModelAttribute: {
		V1Model: "product_attribute", V1Key: "attribute_id",
		V1NotFound: []int{FaultNotExists, FaultProductNotExists},
		V2Path:     "products/attributes", V2Key: "attribute_id", V2Name: "attribute",
	},
	appmagento.ModelCategory: {
		V1Model: "catalog_category", V1Search: "oerp_catalog_category.search", V1Key: "category_id",
		V1NotFound: []int{FaultCategoryNotExists},
		V1CreateArgs: func(data integration.Record) []any {
			return []any{data["parent_id"], data}
		},
		V2Path: "categories", V2Search: "categories/list", V2Key: "id", V2Name: "category",
	},
	appmagento.ModelProduct: {
		V1Model: "catalog_product", V1Key: "product_id",
		V1NotFound: []int{FaultProductNotExists},
		V1CreateArgs: func(data integration.Record) []any {
			return []any{data["type_id"], data["attribute_set_id"], data["sku"], data}
		},
		V2Path: "products", V2Key: "sku", V2Name: "product",
	},
	appmagento.ModelWarehouse: {
		V2Path: "inventory/sources", V2Key: "source_code",
	},
	appmagento.ModelStockItem: {
		V1Model: "cataloginventory_stock_item", V1Key: "item_id",
		V1NotFound: []int{FaultProductNotExists},
		V2Path:     "stockItems", V2Search: "stockItems/lowStock", V2Key: "item_id", V2Name: "stockItem",
		V2Read:  "stockItems/{id}",
		V2Write: "products/{id}/stockItems/{item_id}",
	},
	appmagento.ModelSaleOrder: {
		V1Model: "sales_order", V1Key: "increment_id",
		V1NotFound: []int{FaultNotExists},
		V2Path:     "orders", V2Key: "entity_id",
	},
	appmagento.ModelPicking: {
		V1Model: "sales_order_shipment", V1Key: "increment_id",
		V1NotFound: []int{FaultNotExists},
		V2Path:     "shipments", V2Key: "entity_id",
		V2Read:     "shipment/{id}",
	},
}
