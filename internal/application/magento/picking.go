package magento

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Picking methods: a complete picking ships the whole order, a partial one
// only its lines.
const (
	PickingComplete = "complete"
	PickingPartial  = "partial"
)

// FaultAlreadyExists is the 1.x fault code of a shipment that cannot be
// created anymore.
const FaultAlreadyExists = 102

// Messages of the shipment exporter.
const (
	MsgAlreadyExported  = "Already exported"
	MsgShipmentNoLines  = "Canceled: the delivery order does not contain lines from the original sale order."
	MsgShipmentExisting = "Canceled: the delivery order already exists in Magento."
)

// pickingExporter creates the Magento shipment of a delivery order.
type pickingExporter struct {
	work *connector.Work
}

// linesInfo sums the shipped quantity per remote order item. Moves whose
// sale line is not bound on the backend are left out.
func (e *pickingExporter) linesInfo(ctx context.Context, picking *integration.Entity) (map[string]float64, []uuid.UUID, error) {
	w := e.work
	lines := make(map[string]float64)
	var products []uuid.UUID
	for _, move := range records(picking.Values["moves"]) {
		lineID, ok := asUUID(move["sale_line_id"])
		if !ok {
			continue
		}
		bound, err := w.Services().Bindings.FindByInternalID(ctx, ModelSaleOrderLine, w.Backend.ID, lineID)
		if err != nil {
			return nil, nil, err
		}
		if len(bound) == 0 || !bound[0].IsBound() {
			continue
		}
		qty, err := connector.DecimalValue(move["product_qty"])
		if err != nil {
			return nil, nil, fmt.Errorf("move quantity: %w", err)
		}
		lines[bound[0].ExternalID] += qty.InexactFloat64()
		if productID, ok := asUUID(move["product_id"]); ok {
			products = append(products, productID)
		}
	}
	return lines, products, nil
}

func (e *pickingExporter) Run(ctx context.Context, binding *integration.Binding, _ []string) (string, error) {
	w := e.work
	svc := w.Services()
	if binding.IsBound() {
		return MsgAlreadyExported, nil
	}

	picking, err := svc.Entities.GetByID(ctx, InternalPicking, binding.InternalID)
	if err != nil {
		return "", err
	}
	saleID, ok := asUUID(picking.Values["sale_id"])
	if !ok {
		return "", &integration.InvalidDataError{Reason: "delivery order without sale order"}
	}
	orders, err := svc.Bindings.FindByInternalID(ctx, ModelSaleOrder, w.Backend.ID, saleID)
	if err != nil {
		return "", err
	}
	if len(orders) == 0 || !orders[0].IsBound() {
		return "", &integration.MappingError{Model: ModelSaleOrder, ExternalID: saleID.String(), Reason: "sale order is not imported from this backend"}
	}
	order := orders[0]

	lines, products, err := e.linesInfo(ctx, picking)
	if err != nil {
		return "", err
	}

	method := integration.AsString(binding.Value("picking_method"))
	if method == "" {
		method = PickingComplete
	}
	req := integration.ShipmentRequest{
		OrderID: order.ExternalID,
		Comment: picking.Values.String("note"),
		Notify:  true,
	}

	if w.Backend.Version == integration.Version17 {
		switch method {
		case PickingComplete:
			// an empty item list ships the whole order
		case PickingPartial:
			if len(lines) == 0 {
				return "", &integration.NothingToDoError{Reason: MsgShipmentNoLines}
			}
			req.Items = lines
		default:
			return "", fmt.Errorf("picking method %q is not supported", method)
		}
	} else {
		if len(lines) == 0 {
			return "", &integration.NothingToDoError{Reason: MsgShipmentNoLines}
		}
		req.Items = lines
		sourceCode, err := e.sourceCode(ctx, picking)
		if err != nil {
			return "", err
		}
		req.SourceCode = sourceCode
	}
	if ref := picking.Values.String("carrier_tracking_ref"); ref != "" {
		req.Tracks = []integration.ShipmentTrack{{
			Number:      ref,
			Title:       picking.Values.String("carrier_title"),
			CarrierCode: picking.Values.String("carrier_code"),
		}}
	}

	adapter, err := w.Adapter()
	if err != nil {
		return "", err
	}
	creator, ok := adapter.(integration.ShipmentCreator)
	if !ok {
		return "", fmt.Errorf("%w: shipment creation", integration.ErrCapabilityMissing)
	}
	shipmentID, err := creator.CreateShipment(ctx, req)
	var fault *integration.RemoteFault
	if errors.As(err, &fault) && fault.Code == FaultAlreadyExists {
		return "", &integration.NothingToDoError{Reason: MsgShipmentExisting}
	}
	if err != nil {
		return "", err
	}

	if err := w.Binder().Bind(ctx, shipmentID, binding); err != nil {
		return "", err
	}
	w.Logger().Info("shipment created",
		zap.String("order", order.ExternalID),
		zap.String("shipment", shipmentID),
		zap.Int("lines", len(lines)),
	)

	if w.Backend.Version == integration.Version20 {
		if err := e.delayStockExports(ctx, products); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Shipment %s created for order %s.", shipmentID, order.ExternalID), nil
}

// sourceCode reads the MSI source of the picking's warehouse.
func (e *pickingExporter) sourceCode(ctx context.Context, picking *integration.Entity) (string, error) {
	w := e.work
	warehouseID, ok := asUUID(picking.Values["warehouse_id"])
	if !ok {
		return "default", nil
	}
	bound, err := w.Services().Bindings.FindByInternalID(ctx, ModelWarehouse, w.Backend.ID, warehouseID)
	if err != nil {
		return "", err
	}
	if len(bound) == 0 {
		return "default", nil
	}
	if code := integration.AsString(bound[0].Value("source_code")); code != "" {
		return code, nil
	}
	return "default", nil
}

// delayStockExports schedules the stock item export of shipped products,
// once per stock item.
func (e *pickingExporter) delayStockExports(ctx context.Context, products []uuid.UUID) error {
	w := e.work.For(ModelStockItem)
	seen := make(map[uuid.UUID]bool)
	var items []*integration.Binding
	for _, productID := range products {
		bound, err := w.Services().Bindings.FindByInternalID(ctx, ModelStockItem, w.Backend.ID, productID)
		if err != nil {
			return err
		}
		for _, item := range bound {
			if !seen[item.ID] {
				seen[item.ID] = true
				items = append(items, item)
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ExternalID < items[j].ExternalID })
	for _, item := range items {
		if _, err := w.DelayExport(ctx, item.ID, integration.OperationExportRecord, integration.PriorityStock); err != nil {
			return fmt.Errorf("delay stock export of %s: %w", item.ExternalID, err)
		}
	}
	return nil
}

func registerPickings(reg *connector.Registry, _ *options) error {
	return reg.RegisterExporter(ModelPicking, connector.UsageRecordExporter, connector.AnyVersion, func(w *connector.Work) connector.RecordExporter {
		return &pickingExporter{work: w}
	})
}
