package integration

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Version
// ---------------------------------------------------------------------------

// Version is the Magento API generation a backend speaks.
type Version string

const (
	// Version17 is Magento 1.7 over XML-RPC
	Version17 Version = "1.7"
	// Version20 is Magento 2.x over REST
	Version20 Version = "2.0"
)

// IsValid returns true if the version is supported
func (v Version) IsValid() bool {
	return v == Version17 || v == Version20
}

// String returns the string representation
func (v Version) String() string {
	return string(v)
}

// ---------------------------------------------------------------------------
// SyncStrategy
// ---------------------------------------------------------------------------

// SyncStrategy decides which side wins when both sides changed a record.
type SyncStrategy string

const (
	// SyncOdooFirst keeps the ERP authoritative and reconciles server
	// normalized fields back after each export
	SyncOdooFirst SyncStrategy = "odoo_first"
	// SyncMagentoFirst re-imports a record before exporting it when the
	// remote copy changed since the last sync
	SyncMagentoFirst SyncStrategy = "magento_first"
)

// IsValid returns true if the strategy is known
func (s SyncStrategy) IsValid() bool {
	return s == SyncOdooFirst || s == SyncMagentoFirst
}

// ---------------------------------------------------------------------------
// Backend Entity
// ---------------------------------------------------------------------------

// Backend is one configured connection to an external Magento instance.
type Backend struct {
	ID           uuid.UUID
	Name         string
	Version      Version
	Location     string
	Username     string
	Password     string
	Token        string
	SyncStrategy SyncStrategy
	// StockField is the internal quantity field exported as stock
	StockField string
	// DefaultLang is the language of the admin store view
	DefaultLang string
	// ImportCheckpoints keeps, per binding model, the upper bound of the
	// last successful batch import
	ImportCheckpoints map[string]time.Time
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DefaultStockField is exported when a backend does not pick one.
const DefaultStockField = "virtual_available"

// NewBackend creates a backend after validating its connection settings.
func NewBackend(name string, version Version, location string) (*Backend, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrBackendInvalidName
	}
	if !version.IsValid() {
		return nil, ErrBackendInvalidVersion
	}
	if strings.TrimSpace(location) == "" {
		return nil, ErrBackendInvalidURL
	}

	now := time.Now()
	return &Backend{
		ID:                uuid.New(),
		Name:              name,
		Version:           version,
		Location:          strings.TrimRight(location, "/"),
		SyncStrategy:      SyncMagentoFirst,
		StockField:        DefaultStockField,
		DefaultLang:       "en_US",
		ImportCheckpoints: make(map[string]time.Time),
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Checkpoint returns the last batch import bound for model, or nil.
func (b *Backend) Checkpoint(model string) *time.Time {
	if b.ImportCheckpoints == nil {
		return nil
	}
	at, ok := b.ImportCheckpoints[model]
	if !ok {
		return nil
	}
	return &at
}

// SetCheckpoint moves the batch import bound of model forward.
func (b *Backend) SetCheckpoint(model string, at time.Time) {
	if b.ImportCheckpoints == nil {
		b.ImportCheckpoints = make(map[string]time.Time)
	}
	b.ImportCheckpoints[model] = at
	b.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// Backend Repository Interface
// ---------------------------------------------------------------------------

// BackendRepository persists backends.
type BackendRepository interface {
	Create(ctx context.Context, backend *Backend) error
	Update(ctx context.Context, backend *Backend) error
	GetByID(ctx context.Context, id uuid.UUID) (*Backend, error)
	FindAll(ctx context.Context, activeOnly bool) ([]*Backend, error)
}
