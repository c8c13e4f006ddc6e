package integration

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// BackendAdapter Port
// ---------------------------------------------------------------------------

// Filters restrict a remote search.
type Filters struct {
	// From and To bound the remote updated_at timestamp
	From *time.Time
	To   *time.Time
	// Fields are equality filters on remote attributes
	Fields map[string]string
}

// BackendAdapter performs remote I/O for one external resource type.
// Implementations live in the infrastructure layer; the core only relies on
// this contract.
type BackendAdapter interface {
	// Search returns the external ids matching filters
	Search(ctx context.Context, filters Filters) ([]string, error)
	// Read fetches one record; a missing record yields ErrIDMissingInBackend
	Read(ctx context.Context, externalID string, attributes []string) (Record, error)
	// Create creates a record and returns its server-assigned id
	Create(ctx context.Context, data Record) (string, error)
	// Update writes data and returns the stored record, or nil when the
	// backend reports nothing changed
	Update(ctx context.Context, externalID string, data Record) (Record, error)
	// Delete removes a record
	Delete(ctx context.Context, externalID string) error
}

// InventoryUpdater is implemented by adapters able to push stock levels.
type InventoryUpdater interface {
	UpdateInventory(ctx context.Context, externalID string, data Record) error
}

// ShipmentRequest describes one shipment creation.
type ShipmentRequest struct {
	OrderID string
	// Items maps remote order item id to quantity; empty ships everything
	Items map[string]float64
	// Comment and Notify feed the customer notification
	Comment string
	Notify  bool
	// Tracks are carrier tracking references
	Tracks []ShipmentTrack
	// SourceCode is the MSI source shipped from
	SourceCode string
}

// ShipmentTrack is one carrier tracking reference.
type ShipmentTrack struct {
	Number      string
	Title       string
	CarrierCode string
}

// ShipmentCreator is implemented by shipment adapters.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (string, error)
}

// StoreviewReader reads a record as seen from one store view, which is how
// translated values are fetched.
type StoreviewReader interface {
	ReadStoreview(ctx context.Context, externalID, storeview string, attributes []string) (Record, error)
}

// Caller performs a raw remote call: an XML-RPC method with positional
// arguments, or a REST path with a JSON body.
type Caller interface {
	Call(ctx context.Context, method string, args any) (any, error)
}

// AdapterProvider builds the adapter of a binding model for a backend.
type AdapterProvider interface {
	Adapter(backend *Backend, model string) (BackendAdapter, error)
}

// ---------------------------------------------------------------------------
// Export suppression marker
// ---------------------------------------------------------------------------

type noExportKey struct{}

// WithoutExport marks ctx so that writes made under it do not trigger an
// export of the written record.
func WithoutExport(ctx context.Context) context.Context {
	return context.WithValue(ctx, noExportKey{}, true)
}

// IsExportSuppressed reports whether ctx carries the WithoutExport marker.
func IsExportSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(noExportKey{}).(bool)
	return v
}
