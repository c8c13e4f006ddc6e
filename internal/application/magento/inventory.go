package magento

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultWarehouseCode is the code of the warehouse wrapped by stock
// bindings created on product import.
const DefaultWarehouseCode = "WH"

// Messages of the stock exporters.
const (
	MsgStockItemRemoved = "The stock item no longer exists in Magento, its binding was removed."
	MsgStockUnchanged   = "Stock quantity unchanged, nothing to export."
	MsgProductNotSynced = "The product is not active on Magento, stock not exported."
)

// backorderCodes maps the backorders selection to Magento's codes.
var backorderCodes = map[string]int{
	"no":                   0,
	"yes":                  1,
	"yes-and-notification": 2,
}

func backorderSelection(code any) string {
	d, err := connector.DecimalValue(code)
	if err != nil {
		return "no"
	}
	for name, v := range backorderCodes {
		if int64(v) == d.IntPart() {
			return name
		}
	}
	return "no"
}

// stockQty reads the exported quantity of a product entity: the backend's
// stock field.
func stockQty(w *connector.Work, product *integration.Entity) decimal.Decimal {
	field := w.Backend.StockField
	if field == "" {
		field = integration.DefaultStockField
	}
	qty, err := connector.DecimalValue(product.Values[field])
	if err != nil {
		w.Logger().Warn("invalid stock quantity", zap.String("field", field), zap.Error(err))
		return decimal.Zero
	}
	return qty
}

// ---------------------------------------------------------------------------
// Warehouse and stock item import
// ---------------------------------------------------------------------------

// ensureWarehouse returns the warehouse binding of a Magento stock id,
// binding the default warehouse when none exists. Magento has no API
// exposing stocks, so this is the only way warehouses get bound.
func ensureWarehouse(ctx context.Context, w *connector.Work, stockID string) (*integration.Binding, error) {
	wh := w.For(ModelWarehouse)
	existing, err := wh.Binder().ToInternal(ctx, stockID)
	if err != nil || existing != nil {
		return existing, err
	}

	entity, err := wh.FindUnboundEntity(ctx, DefaultWarehouseCode)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		entity = integration.NewEntity(InternalWarehouse, DefaultWarehouseCode, integration.Record{
			"code": DefaultWarehouseCode,
			"name": "Magento stock " + stockID,
		})
		if err := w.Services().EntityWriter().Create(integration.WithoutExport(ctx), entity); err != nil {
			return nil, fmt.Errorf("create warehouse: %w", err)
		}
	}

	binding, err := integration.NewBinding(ModelWarehouse, w.Backend.ID, entity.ID)
	if err != nil {
		return nil, err
	}
	binding.ExternalID = stockID
	binding.SetValues(integration.Record{"source_code": "default"})
	binding.RecordSync(w.Now(), nil)
	if err := w.Services().Bindings.Create(ctx, binding); err != nil {
		return nil, err
	}
	wh.Logger().Info("warehouse bound", zap.String("external_id", stockID))
	return binding, nil
}

// importStockItem provisions the warehouse and stock item bindings from the
// stock item embedded in a Magento 2 product.
func importStockItem(ctx context.Context, w *connector.Work, product *integration.Binding, record integration.Record) error {
	ext, _ := asRecord(record["extension_attributes"])
	item, ok := asRecord(ext["stock_item"])
	if !ok {
		return nil
	}
	if _, err := ensureWarehouse(ctx, w, item.String("stock_id")); err != nil {
		return err
	}
	item = item.Clone()
	item["product_sku"] = product.ExternalID
	_, err := newStockItemImporter(w.For(ModelStockItem)).RunRecord(ctx, "", item, true)
	return err
}

func stockItemImportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.FieldWith("qty", "qty", connector.ToFloat),
			connector.FieldWith("min_qty", "min_qty", connector.ToFloat),
			connector.FieldWith("min_sale_qty", "min_sale_qty", connector.ToFloat),
			connector.FieldWith("is_qty_decimal", "is_qty_decimal", connector.ToBool),
			connector.FieldWith("is_in_stock", "is_in_stock", connector.ToBool),
			connector.Field("product_sku", "product_sku"),
		},
		Rules: []connector.Rule{
			connector.Mapping("backorders", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				if connector.BoolValue(record["use_config_backorders"]) {
					return integration.Record{"backorders": "use_default"}, nil
				}
				return integration.Record{"backorders": backorderSelection(record["backorders"])}, nil
			}),
			connector.Mapping("manage_stock", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				switch {
				case connector.BoolValue(record["use_config_manage_stock"]):
					return integration.Record{"manage_stock": "use_default"}, nil
				case connector.BoolValue(record["manage_stock"]):
					return integration.Record{"manage_stock": "yes"}, nil
				default:
					return integration.Record{"manage_stock": "no"}, nil
				}
			}),
			connector.Mapping("product", stockItemProduct),
			connector.Mapping("warehouse", stockItemWarehouse),
		},
	}
}

// stockItemProductBinding finds the product binding owning a stock item.
func stockItemProductBinding(ctx context.Context, w *connector.Work, record integration.Record) (*integration.Binding, error) {
	binder := w.BinderFor(ModelProduct)
	if sku := record.String("product_sku"); sku != "" && w.Backend.Version == integration.Version20 {
		return binder.ToInternal(ctx, sku)
	}
	if w.Backend.Version == integration.Version20 {
		return binder.ToInternal(ctx, record.String("product_id"), connector.ByAltExternalID())
	}
	return binder.ToInternal(ctx, record.String("product_id"))
}

func stockItemProduct(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	product, err := stockItemProductBinding(ctx, w, record)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, integration.NewMappingError(ModelProduct, record.String("product_id"))
	}
	productType := "product"
	if product.Value("product_type") == "configurable" {
		productType = "configurable"
	}
	return integration.Record{
		connector.InternalIDKey: product.InternalID.String(),
		"product_binding_id":    product.ID.String(),
		"product_type":          productType,
	}, nil
}

func stockItemWarehouse(ctx context.Context, w *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
	stockID := record.String("stock_id")
	warehouse, err := w.BinderFor(ModelWarehouse).ToInternal(ctx, stockID)
	if err != nil {
		return nil, err
	}
	if warehouse == nil {
		return nil, integration.NewMappingError(ModelWarehouse, stockID)
	}
	return integration.Record{"warehouse_binding_id": warehouse.ID.String()}, nil
}

func newStockItemImporter(w *connector.Work) *connector.Importer {
	alt := "product_id"
	if w.Backend.Version == integration.Version20 {
		alt = "product_sku"
	}
	return connector.NewImporter(w, stockItemImportMapper(w), nil,
		connector.WithExternalIDField("item_id"),
		connector.WithAltIDField(alt),
	)
}

// ---------------------------------------------------------------------------
// Stock item export
// ---------------------------------------------------------------------------

func stockItemExportMapper(*connector.Work) *connector.Mapper {
	return &connector.Mapper{
		Direct: []connector.Direct{
			connector.FieldWith("min_sale_qty", "min_sale_qty", connector.ToFloat),
			connector.FieldWith("is_qty_decimal", "is_qty_decimal", connector.ToBool),
		},
		Rules: []connector.Rule{
			connector.Mapping("qty", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				qty, err := connector.DecimalValue(record["calculated_qty"])
				if err != nil {
					return nil, err
				}
				inStock := 0
				if record.String("product_type") == "configurable" || qty.IsPositive() {
					inStock = 1
				}
				return integration.Record{"qty": qty.InexactFloat64(), "is_in_stock": inStock}, nil
			}),
			connector.Mapping("backorders", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				code, ok := backorderCodes[record.String("backorders")]
				if !ok {
					return nil, nil
				}
				return integration.Record{"backorders": code, "use_config_backorders": false}, nil
			}),
			connector.Mapping("min_qty", func(_ context.Context, _ *connector.Work, record integration.Record, _ *integration.Binding) (integration.Record, error) {
				minQty, err := connector.DecimalValue(record["min_qty"])
				if err != nil {
					return nil, err
				}
				return integration.Record{"min_qty": minQty.InexactFloat64()}, nil
			}),
		},
	}
}

// stockItemExporter pushes the quantity of one stock item. It does not
// follow the generic export flow: the remote item always exists, and a
// stock item vanished from Magento is unbound instead of recreated.
type stockItemExporter struct {
	work   *connector.Work
	mapper *connector.Mapper
}

func (e *stockItemExporter) Run(ctx context.Context, binding *integration.Binding, _ []string) (string, error) {
	w := e.work
	svc := w.Services()
	logger := w.Logger().With(zap.String("binding_id", binding.ID.String()))

	adapter, err := w.Adapter()
	if err != nil {
		return "", err
	}
	key := binding.AltExternalID
	if key == "" {
		key = binding.ExternalID
	}
	// any read failure means the item is gone; only our own cancellation
	// keeps the binding
	if _, err := adapter.Read(ctx, key, nil); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("stock item unreadable, removing binding", zap.String("key", key), zap.Error(err))
		if err := svc.Bindings.Delete(ctx, binding.ID); err != nil {
			return "", err
		}
		return MsgStockItemRemoved, nil
	}

	productID, _ := asUUID(binding.Value("product_binding_id"))
	product, err := svc.Bindings.GetByID(ctx, productID)
	if errors.Is(err, integration.ErrBindingNotFound) {
		return MsgProductNotSynced, nil
	}
	if err != nil {
		return "", err
	}
	if !product.IsActive() || integration.AsString(product.Value("magento_status")) == StatusDisabled {
		return MsgProductNotSynced, nil
	}

	entity, err := svc.Entities.GetByID(ctx, InternalProduct, binding.InternalID)
	if err != nil {
		return "", err
	}
	qty := stockQty(w, entity)
	if previous, err := connector.DecimalValue(binding.Value("qty")); err == nil && binding.Value("qty") != nil && previous.Equal(qty) {
		return MsgStockUnchanged, nil
	}

	if err := svc.Bindings.Lock(ctx, binding.ID); err != nil {
		if errors.Is(err, integration.ErrRecordLocked) {
			return "", &integration.RetryableJobError{
				Reason: fmt.Sprintf("A concurrent job is already exporting stock item %s. The job will be retried later.", binding.ID),
				Err:    err,
			}
		}
		return "", err
	}

	source := integration.Record{}
	source.Merge(binding.Values)
	source["calculated_qty"] = qty
	data, err := e.mapper.MapRecord(w, source).Values(ctx, connector.MapOptions{Binding: binding})
	if err != nil {
		return "", err
	}
	data["item_id"] = binding.ExternalID
	if _, err := adapter.Update(ctx, key, data); err != nil {
		return "", err
	}

	binding.SetValues(integration.Record{"qty": qty.InexactFloat64()})
	binding.RecordSync(w.Now(), nil)
	if err := svc.Bindings.Update(integration.WithoutExport(ctx), binding); err != nil {
		return "", err
	}
	logger.Info("stock item exported", zap.String("qty", qty.String()))
	return fmt.Sprintf("Stock item %s exported with qty %s.", binding.ExternalID, qty.String()), nil
}

// ---------------------------------------------------------------------------
// Product inventory export
// ---------------------------------------------------------------------------

// productInventoryExporter pushes the stock level of a product through the
// adapter's inventory capability.
type productInventoryExporter struct {
	work *connector.Work
}

func (e *productInventoryExporter) Run(ctx context.Context, binding *integration.Binding, _ []string) (string, error) {
	w := e.work
	svc := w.Services()
	if !binding.IsBound() {
		return connector.MsgNothingToExport, nil
	}
	adapter, err := w.Adapter()
	if err != nil {
		return "", err
	}
	updater, ok := adapter.(integration.InventoryUpdater)
	if !ok {
		return "", fmt.Errorf("%w: inventory update on %s", integration.ErrCapabilityMissing, w.Model)
	}
	entity, err := svc.Entities.GetByID(ctx, InternalProduct, binding.InternalID)
	if err != nil {
		return "", err
	}
	qty := stockQty(w, entity)
	data := integration.Record{
		"qty":         qty.InexactFloat64(),
		"is_in_stock": boolInt(qty.IsPositive()),
	}
	manage := integration.AsString(binding.Value("manage_stock"))
	data["manage_stock"] = boolInt(manage == "yes")
	data["use_config_manage_stock"] = boolInt(manage == "" || manage == "use_default")
	if code, ok := backorderCodes[integration.AsString(binding.Value("backorders"))]; ok {
		data["backorders"] = code
		data["use_config_backorders"] = 0
	}

	if err := updater.UpdateInventory(ctx, binding.ExternalID, data); err != nil {
		return "", err
	}
	binding.SetValues(integration.Record{"magento_qty": qty.InexactFloat64()})
	if err := svc.Bindings.Update(ctx, binding); err != nil {
		return "", err
	}
	w.Logger().Info("inventory exported",
		zap.String("external_id", binding.ExternalID),
		zap.String("qty", qty.String()),
	)
	return fmt.Sprintf("Inventory of %s exported with qty %s.", binding.ExternalID, qty.String()), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func registerInventory(reg *connector.Registry, _ *options) error {
	if err := reg.RegisterImporter(ModelStockItem, connector.AnyVersion, func(w *connector.Work) connector.RecordImporter {
		return newStockItemImporter(w)
	}); err != nil {
		return err
	}
	if err := reg.RegisterMapper(ModelStockItem, connector.UsageExportMapper, connector.AnyVersion, stockItemExportMapper); err != nil {
		return err
	}
	if err := reg.RegisterExporter(ModelStockItem, connector.UsageRecordExporter, connector.AnyVersion, func(w *connector.Work) connector.RecordExporter {
		return &stockItemExporter{work: w, mapper: stockItemExportMapper(w)}
	}); err != nil {
		return err
	}
	return reg.RegisterExporter(ModelProduct, connector.UsageInventoryExporter, connector.AnyVersion, func(w *connector.Work) connector.RecordExporter {
		return &productInventoryExporter{work: w}
	})
}
