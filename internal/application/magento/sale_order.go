package magento

import (
	"context"
	"fmt"
	"strings"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// orderIDField is the payload key of the order external id: the increment
// id on 1.x, whose API addresses orders by it, the entity id on 2.x.
var orderIDField = map[integration.Version]string{
	integration.Version17: "increment_id",
	integration.Version20: "entity_id",
}

func saleOrderImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("increment_id", "name"),
			connector.FieldWith("created_at", "date_order", connector.ToTime),
			connector.FieldWith("grand_total", "amount_total", connector.ToDecimal),
			connector.FieldWith("subtotal", "amount_untaxed", connector.ToDecimal),
			connector.FieldWith("tax_amount", "amount_tax", connector.ToDecimal),
			connector.FieldWith("shipping_amount", "amount_shipping", connector.ToDecimal),
			connector.Field("order_currency_code", "currency"),
			connector.Field("customer_email", "partner_email"),
			connector.Field("shipping_description", "carrier_title"),
			connector.Field("state", "magento_state"),
			connector.Field("status", "magento_status"),
			connector.FieldWith("entity_id", "magento_order_id", connector.ToString),
			connector.FieldWith("order_id", "magento_order_id", connector.ToString),
		},
		Rules: []connector.Rule{
			connector.Mapping("partner_name", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				name := strings.TrimSpace(record.String("customer_firstname") + " " + record.String("customer_lastname"))
				if name == "" {
					name = record.String("customer_email")
				}
				if name == "" {
					return nil, nil
				}
				return integration.Record{"partner_name": name}, nil
			}),
		},
	}
}

// orderLineProductKey is the product external id referenced by an order
// item: the SKU on 2.x, the product id on 1.x.
func orderLineProductKey(w *connector.Work, item integration.Record) string {
	if w.Backend.Version == integration.Version20 {
		return item.String("sku")
	}
	return item.String("product_id")
}

// orderItems lists the order items owning a line. Children of configurable
// and bundle items are carried by their parent.
func orderItems(record integration.Record) []integration.Record {
	var out []integration.Record
	for _, item := range records(record["items"]) {
		if item.String("parent_item_id") != "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

type saleOrderImportBehavior struct {
	connector.BaseImportBehavior
}

func (saleOrderImportBehavior) ImportDependencies(ctx context.Context, w *connector.Work, record integration.Record) error {
	for _, item := range orderItems(record) {
		if err := w.ImportDependency(ctx, orderLineProductKey(w, item), ModelProduct, false); err != nil {
			return fmt.Errorf("import product of order item %s: %w", item.String("item_id"), err)
		}
	}
	return nil
}

func (saleOrderImportBehavior) Validate(_ context.Context, _ *connector.Work, values integration.Record) error {
	if values.String("name") == "" {
		return &integration.InvalidDataError{Reason: "order without increment_id"}
	}
	return nil
}

// AfterImport binds the order lines.
func (saleOrderImportBehavior) AfterImport(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error {
	lines := newSaleOrderLineImporter(w.For(ModelSaleOrderLine))
	for _, item := range orderItems(record) {
		item = item.Clone()
		item["order_binding_id"] = binding.ID.String()
		item["order_internal_id"] = binding.InternalID.String()
		if _, err := lines.RunRecord(ctx, "", item, true); err != nil {
			return fmt.Errorf("order line %s: %w", item.String("item_id"), err)
		}
	}
	return nil
}

func saleOrderLineImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.Field("name", "name"),
			connector.Field("order_internal_id", "order_id"),
			connector.FieldWith("qty_ordered", "product_uom_qty", connector.ToFloat),
			connector.FieldWith("price", "price_unit", connector.ToDecimal),
			connector.FieldWith("discount_amount", "discount_amount", connector.ToDecimal),
			connector.FieldWith("tax_percent", "tax_percent", connector.ToFloat),
			connector.Field("product_type", "product_type"),
		},
		Rules: []connector.Rule{
			connector.Mapping("product_id", func(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				key := orderLineProductKey(w, record)
				product, err := w.BinderFor(ModelProduct).ToInternal(ctx, key)
				if err != nil {
					return nil, err
				}
				if product == nil {
					return nil, integration.NewMappingError(ModelProduct, key)
				}
				return integration.Record{"product_id": product.InternalID.String()}, nil
			}),
		},
	}
}

func newSaleOrderLineImporter(w *connector.Work) *connector.Importer {
	return connector.NewImporter(w, saleOrderLineImportMapper(w), nil, connector.WithExternalIDField("item_id"))
}

func registerSales(reg *connector.Registry, _ *options) error {
	for version, idField := range orderIDField {
		err := reg.RegisterImporter(ModelSaleOrder, version, func(w *connector.Work) connector.RecordImporter {
			return connector.NewImporter(w, saleOrderImportMapper(w), saleOrderImportBehavior{},
				connector.WithExternalIDField(idField))
		})
		if err != nil {
			return err
		}
	}
	if err := reg.RegisterImporter(ModelSaleOrderLine, connector.AnyVersion, func(w *connector.Work) connector.RecordImporter {
		return newSaleOrderLineImporter(w)
	}); err != nil {
		return err
	}
	return reg.RegisterBatchImporter(ModelSaleOrder, connector.AnyVersion, func(w *connector.Work) connector.BatchImporter {
		return connector.NewDelayedBatchImporter(w)
	})
}
