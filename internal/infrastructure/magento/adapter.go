package magento

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	appmagento "github.com/connectorhq/magento-connector/internal/application/magento"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// ResourceAdapter is the BackendAdapter of one binding model. Exactly one of
// rest and rpc is set, following the backend version.
type ResourceAdapter struct {
	model    string
	resource Resource
	rest     *RESTClient
	rpc      *XMLRPCClient
}

func (a *ResourceAdapter) isREST() bool {
	return a.rest != nil
}

// Search returns the ids of records changed within the filter window.
func (a *ResourceAdapter) Search(ctx context.Context, filters integration.Filters) ([]string, error) {
	r := a.resource
	if a.isREST() {
		if r.V2List {
			items, err := a.list(ctx, r.V2Path)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(items))
			for _, item := range items {
				if id := integration.AsString(item[r.V2Key]); id != "" && id != "0" {
					ids = append(ids, id)
				}
			}
			return ids, nil
		}
		return a.rest.Search(ctx, r.v2SearchPath(), r.V2Key, filters)
	}

	method := r.V1Search
	if method == "" {
		method = r.v1Method("list")
	}
	res, err := a.rpc.Call(ctx, method, []any{v1Filters(filters)})
	if err != nil {
		return nil, err
	}
	list, _ := res.([]any)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		switch val := item.(type) {
		case map[string]any:
			if id := integration.AsString(val[r.V1Key]); id != "" {
				ids = append(ids, id)
			}
		default:
			if id := integration.AsString(val); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// v1Filters renders filters in the 1.x collection filter syntax.
func v1Filters(filters integration.Filters) map[string]any {
	out := make(map[string]any)
	if filters.From != nil || filters.To != nil {
		window := make(map[string]any)
		if filters.From != nil {
			window["from"] = filters.From.UTC().Format(remoteTimeFormat)
		}
		if filters.To != nil {
			window["to"] = filters.To.UTC().Format(remoteTimeFormat)
		}
		out["updated_at"] = window
	}
	for field, value := range filters.Fields {
		out[field] = map[string]any{"eq": value}
	}
	return out
}

// Read fetches one record.
func (a *ResourceAdapter) Read(ctx context.Context, externalID string, attributes []string) (integration.Record, error) {
	return a.ReadStoreview(ctx, externalID, "", attributes)
}

// ReadStoreview fetches one record with the values of a store view: the
// store code on 2.x, the store id on 1.x.
func (a *ResourceAdapter) ReadStoreview(ctx context.Context, externalID, storeview string, attributes []string) (integration.Record, error) {
	r := a.resource
	if a.isREST() {
		if r.V2List {
			return a.readFromList(ctx, externalID)
		}
		res, err := a.rest.Get(ctx, r.v2ReadPath(externalID), storeview, nil)
		if err != nil {
			return nil, err
		}
		return asRecord(res, externalID)
	}

	args := []any{externalID}
	if storeview != "" || len(attributes) > 0 {
		args = append(args, nilIfEmpty(storeview), stringsToAny(attributes))
	}
	if a.model == appmagento.ModelProduct {
		// catalog_product resolves the id as a SKU unless told otherwise
		for len(args) < 3 {
			args = append(args, nil)
		}
		args = append(args, "id")
	}
	if a.model == appmagento.ModelStockItem {
		res, err := a.v1Call(ctx, r.v1Method("list"), []any{[]any{externalID}})
		if err != nil {
			return nil, err
		}
		list, _ := res.([]any)
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: stock item %s", integration.ErrIDMissingInBackend, externalID)
		}
		return asRecord(list[0], externalID)
	}
	res, err := a.v1Call(ctx, r.v1Method("info"), args)
	if err != nil {
		return nil, err
	}
	return asRecord(res, externalID)
}

func (a *ResourceAdapter) readFromList(ctx context.Context, externalID string) (integration.Record, error) {
	r := a.resource
	items, err := a.list(ctx, r.V2Path)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if integration.AsString(item[r.V2Key]) != externalID {
			continue
		}
		if r.V2Configs != "" {
			configs, err := a.list(ctx, r.V2Configs)
			if err != nil {
				return nil, err
			}
			for _, cfg := range configs {
				if integration.AsString(cfg["id"]) == externalID {
					for k, v := range cfg {
						if !item.Has(k) {
							item[k] = v
						}
					}
				}
			}
		}
		return item, nil
	}
	return nil, fmt.Errorf("%w: %s %s", integration.ErrIDMissingInBackend, r.V2Path, externalID)
}

func (a *ResourceAdapter) list(ctx context.Context, path string) ([]integration.Record, error) {
	res, err := a.rest.Get(ctx, path, "", nil)
	if err != nil {
		return nil, err
	}
	items, _ := searchItems(res)
	return items, nil
}

// Create creates a record and returns its id.
func (a *ResourceAdapter) Create(ctx context.Context, data integration.Record) (string, error) {
	r := a.resource
	var (
		res any
		err error
	)
	if a.isREST() {
		res, err = a.rest.Post(ctx, r.V2Path, "", r.wrap(data))
	} else {
		args := []any{data}
		if r.V1CreateArgs != nil {
			args = r.V1CreateArgs(data)
		}
		res, err = a.v1Call(ctx, r.v1Method("create"), args)
	}
	if err != nil {
		return "", err
	}
	id := createdID(res)
	if id == "" {
		return "", integration.ErrEmptyCreateResult
	}
	return id, nil
}

// createdID reads the id out of a create answer: a bare id, or the stored
// record.
func createdID(res any) string {
	if m, ok := res.(map[string]any); ok {
		for _, key := range []string{"id", "entity_id", "item_id"} {
			if id := integration.AsString(m[key]); id != "" {
				return id
			}
		}
		return ""
	}
	return integration.AsString(res)
}

// Update writes data. The stored record is returned on 2.x; 1.x answers a
// boolean and a false one means nothing changed.
func (a *ResourceAdapter) Update(ctx context.Context, externalID string, data integration.Record) (integration.Record, error) {
	r := a.resource
	if a.isREST() {
		res, err := a.rest.Put(ctx, r.v2WritePath(externalID, data), "", r.wrap(data))
		if err != nil {
			return nil, err
		}
		if m, ok := res.(map[string]any); ok {
			return integration.Record(m), nil
		}
		return nil, nil
	}
	args := []any{externalID, data}
	if a.model == appmagento.ModelProduct {
		args = append(args, nil, "id")
	}
	res, err := a.v1Call(ctx, r.v1Method("update"), args)
	if err != nil {
		return nil, err
	}
	if ok, isBool := res.(bool); isBool && !ok {
		return nil, nil
	}
	return data, nil
}

// Delete removes a record.
func (a *ResourceAdapter) Delete(ctx context.Context, externalID string) error {
	r := a.resource
	if a.isREST() {
		_, err := a.rest.Delete(ctx, r.v2ReadPath(externalID))
		return err
	}
	_, err := a.v1Call(ctx, r.v1Method("delete"), []any{externalID})
	return err
}

// UpdateInventory pushes the stock settings of a product.
func (a *ResourceAdapter) UpdateInventory(ctx context.Context, externalID string, data integration.Record) error {
	if a.isREST() {
		// 1 is the default stock item of a single-source install
		_, err := a.rest.Put(ctx, fmt.Sprintf("products/%s/stockItems/1", url.PathEscape(externalID)), "", map[string]any{"stockItem": data})
		return err
	}
	_, err := a.v1Call(ctx, "cataloginventory_stock_item.update", []any{externalID, data})
	return err
}

// CreateShipment ships an order and returns the shipment id.
func (a *ResourceAdapter) CreateShipment(ctx context.Context, req integration.ShipmentRequest) (string, error) {
	if a.isREST() {
		return a.createShipmentREST(ctx, req)
	}
	items := make(map[string]any, len(req.Items))
	for id, qty := range req.Items {
		items[id] = qty
	}
	res, err := a.v1Call(ctx, "sales_order_shipment.create", []any{req.OrderID, items, req.Comment, req.Notify, req.Comment != ""})
	if err != nil {
		return "", err
	}
	shipmentID := integration.AsString(res)
	for _, track := range req.Tracks {
		args := []any{shipmentID, track.CarrierCode, track.Title, track.Number}
		if _, err := a.v1Call(ctx, "sales_order_shipment.addTrack", args); err != nil {
			return "", fmt.Errorf("add tracking %s to shipment %s: %w", track.Number, shipmentID, err)
		}
	}
	return shipmentID, nil
}

func (a *ResourceAdapter) createShipmentREST(ctx context.Context, req integration.ShipmentRequest) (string, error) {
	body := map[string]any{"notify": req.Notify}
	if len(req.Items) > 0 {
		items := make([]any, 0, len(req.Items))
		for _, id := range sortedKeys(req.Items) {
			items = append(items, map[string]any{"order_item_id": numericID(id), "qty": req.Items[id]})
		}
		body["items"] = items
	}
	if req.Comment != "" {
		body["appendComment"] = true
		body["comment"] = map[string]any{"comment": req.Comment, "is_visible_on_front": 0}
	}
	if len(req.Tracks) > 0 {
		tracks := make([]any, 0, len(req.Tracks))
		for _, t := range req.Tracks {
			tracks = append(tracks, map[string]any{"track_number": t.Number, "title": t.Title, "carrier_code": t.CarrierCode})
		}
		body["tracks"] = tracks
	}
	if req.SourceCode != "" {
		body["arguments"] = map[string]any{
			"extension_attributes": map[string]any{"source_code": req.SourceCode},
		}
	}
	res, err := a.rest.Post(ctx, fmt.Sprintf("order/%s/ship", url.PathEscape(req.OrderID)), "", body)
	if err != nil {
		return "", err
	}
	id := integration.AsString(res)
	if id == "" {
		return "", integration.ErrEmptyCreateResult
	}
	return id, nil
}

// Call performs a raw remote call on the backend transport.
func (a *ResourceAdapter) Call(ctx context.Context, method string, args any) (any, error) {
	if a.isREST() {
		return a.rest.Call(ctx, method, args)
	}
	return a.rpc.Call(ctx, method, args)
}

// v1Call maps the resource's not-found faults to ErrIDMissingInBackend.
func (a *ResourceAdapter) v1Call(ctx context.Context, method string, args []any) (any, error) {
	res, err := a.rpc.Call(ctx, method, args)
	var fault *integration.RemoteFault
	if errors.As(err, &fault) && a.resource.isNotFound(fault.Code) {
		return nil, fmt.Errorf("%w: %s", integration.ErrIDMissingInBackend, fault.Message)
	}
	return res, err
}

func asRecord(res any, externalID string) (integration.Record, error) {
	m, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrIDMissingInBackend, externalID)
	}
	return integration.Record(m), nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringsToAny(values []string) any {
	if len(values) == 0 {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// numericID sends numeric ids as numbers, as Magento's typed endpoints
// expect.
func numericID(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}

var (
	_ integration.BackendAdapter   = (*ResourceAdapter)(nil)
	_ integration.InventoryUpdater = (*ResourceAdapter)(nil)
	_ integration.ShipmentCreator  = (*ResourceAdapter)(nil)
	_ integration.StoreviewReader  = (*ResourceAdapter)(nil)
	_ integration.Caller           = (*ResourceAdapter)(nil)
)

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// AdapterProvider builds ResourceAdapters. Clients are shared per backend so
// that the rate limit and the 1.x session span every model.
type AdapterProvider struct {
	cfg       ClientConfig
	resources map[string]Resource
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*backendClients
}

type backendClients struct {
	fingerprint string
	rest        *RESTClient
	rpc         *XMLRPCClient
}

// NewAdapterProvider creates a provider over Resources.
func NewAdapterProvider(cfg ClientConfig, logger *zap.Logger) *AdapterProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdapterProvider{
		cfg:       cfg,
		resources: Resources,
		logger:    logger,
		clients:   make(map[string]*backendClients),
	}
}

// Adapter returns the adapter of model on backend.
func (p *AdapterProvider) Adapter(backend *integration.Backend, model string) (integration.BackendAdapter, error) {
	resource, ok := p.resources[model]
	if !ok {
		return nil, fmt.Errorf("%w: no remote resource for %s", integration.ErrComponentNotFound, model)
	}
	clients, err := p.clientsFor(backend)
	if err != nil {
		return nil, err
	}
	if backend.Version == integration.Version17 && resource.V1Model == "" {
		return nil, fmt.Errorf("%w: %s on Magento %s", integration.ErrCapabilityMissing, model, backend.Version)
	}
	return &ResourceAdapter{model: model, resource: resource, rest: clients.rest, rpc: clients.rpc}, nil
}

func (p *AdapterProvider) clientsFor(backend *integration.Backend) (*backendClients, error) {
	fingerprint := string(backend.Version) + "|" + backend.Location + "|" + backend.Token + "|" + backend.Username + "|" + backend.Password
	key := backend.ID.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok && c.fingerprint == fingerprint {
		return c, nil
	}

	c := &backendClients{fingerprint: fingerprint}
	var err error
	switch backend.Version {
	case integration.Version20:
		c.rest, err = NewRESTClient(backend, p.cfg, p.logger)
	case integration.Version17:
		c.rpc, err = NewXMLRPCClient(backend, p.cfg, p.logger)
	default:
		err = fmt.Errorf("%w: %s", ErrConfigUnsupportedVersion, backend.Version)
	}
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
