package connectortest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// Call is one recorded adapter call.
type Call struct {
	Method     string
	ExternalID string
	Data       integration.Record
}

// Adapter is an in-memory integration.BackendAdapter standing for one remote
// resource. It also implements InventoryUpdater, ShipmentCreator and
// StoreviewReader.
type Adapter struct {
	mu      sync.Mutex
	Records map[string]integration.Record
	// Storeviews holds per store view records: store view, then external id
	Storeviews map[string]map[string]integration.Record
	Calls   []Call
	// SearchIDs is returned by Search when set, otherwise every record id
	SearchIDs []string
	// CreateID is returned by Create when set; otherwise ids are sequential
	CreateID *string
	// Err fails every call when set
	Err error
	// ShipmentErr fails CreateShipment when set
	ShipmentErr error
	nextID      int
}

// NewAdapter creates an adapter holding records keyed by external id.
func NewAdapter(records map[string]integration.Record) *Adapter {
	if records == nil {
		records = make(map[string]integration.Record)
	}
	return &Adapter{Records: records, nextID: 100}
}

func (a *Adapter) record(method, id string, data integration.Record) {
	a.Calls = append(a.Calls, Call{Method: method, ExternalID: id, Data: data})
}

func (a *Adapter) Search(_ context.Context, _ integration.Filters) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("search", "", nil)
	if a.Err != nil {
		return nil, a.Err
	}
	if a.SearchIDs != nil {
		return a.SearchIDs, nil
	}
	ids := make([]string, 0, len(a.Records))
	for id := range a.Records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *Adapter) Read(_ context.Context, externalID string, _ []string) (integration.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("read", externalID, nil)
	if a.Err != nil {
		return nil, a.Err
	}
	rec, ok := a.Records[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrIDMissingInBackend, externalID)
	}
	return rec.Clone(), nil
}

func (a *Adapter) Create(_ context.Context, data integration.Record) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("create", "", data)
	if a.Err != nil {
		return "", a.Err
	}
	var id string
	if a.CreateID != nil {
		id = *a.CreateID
	} else {
		a.nextID++
		id = strconv.Itoa(a.nextID)
	}
	if id != "" {
		a.Records[id] = data.Clone()
	}
	return id, nil
}

func (a *Adapter) Update(_ context.Context, externalID string, data integration.Record) (integration.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("update", externalID, data)
	if a.Err != nil {
		return nil, a.Err
	}
	rec, ok := a.Records[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrIDMissingInBackend, externalID)
	}
	rec.Merge(data)
	return nil, nil
}

func (a *Adapter) Delete(_ context.Context, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("delete", externalID, nil)
	if a.Err != nil {
		return a.Err
	}
	delete(a.Records, externalID)
	return nil
}

func (a *Adapter) UpdateInventory(_ context.Context, externalID string, data integration.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("update_inventory", externalID, data)
	return a.Err
}

func (a *Adapter) CreateShipment(_ context.Context, req integration.ShipmentRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	items := integration.Record{}
	for k, v := range req.Items {
		items[k] = v
	}
	a.record("create_shipment", req.OrderID, integration.Record{"items": items, "source_code": req.SourceCode, "tracks": len(req.Tracks)})
	if a.ShipmentErr != nil {
		return "", a.ShipmentErr
	}
	a.nextID++
	return strconv.Itoa(a.nextID), nil
}

func (a *Adapter) ReadStoreview(_ context.Context, externalID, storeview string, _ []string) (integration.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("read_storeview", externalID, integration.Record{"storeview": storeview})
	if a.Err != nil {
		return nil, a.Err
	}
	rec, ok := a.Storeviews[storeview][externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", integration.ErrIDMissingInBackend, externalID, storeview)
	}
	return rec.Clone(), nil
}

// Methods lists the recorded call methods in order.
func (a *Adapter) Methods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Calls))
	for _, c := range a.Calls {
		out = append(out, c.Method)
	}
	return out
}

// LastCall returns the most recent call of method.
func (a *Adapter) LastCall(method string) (Call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.Calls) - 1; i >= 0; i-- {
		if a.Calls[i].Method == method {
			return a.Calls[i], true
		}
	}
	return Call{}, false
}

// Provider serves one Adapter per binding model.
type Provider struct {
	mu       sync.Mutex
	Adapters map[string]*Adapter
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{Adapters: make(map[string]*Adapter)}
}

// For returns the adapter of model, creating it on first use.
func (p *Provider) For(model string) *Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.Adapters[model]
	if !ok {
		a = NewAdapter(nil)
		p.Adapters[model] = a
	}
	return a
}

func (p *Provider) Adapter(_ *integration.Backend, model string) (integration.BackendAdapter, error) {
	return p.For(model), nil
}

var (
	_ integration.BackendAdapter   = (*Adapter)(nil)
	_ integration.InventoryUpdater = (*Adapter)(nil)
	_ integration.ShipmentCreator  = (*Adapter)(nil)
	_ integration.StoreviewReader  = (*Adapter)(nil)
	_ integration.AdapterProvider  = (*Provider)(nil)
)
