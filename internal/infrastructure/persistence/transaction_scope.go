package persistence

import (
	"context"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"gorm.io/gorm"
)

type txKey struct{}

// GormTransactionScope implements integration.TransactionManager using GORM
// transactions. The open transaction travels in the context, so every
// repository called with that context joins it.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// WithinTransaction runs fn within a database transaction. If fn returns an
// error the transaction is rolled back, otherwise it is committed. A nested
// call reuses the outer transaction.
func (s *GormTransactionScope) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction carried by ctx, or db outside a transaction.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// Ensure GormTransactionScope implements TransactionManager
var _ integration.TransactionManager = (*GormTransactionScope)(nil)
