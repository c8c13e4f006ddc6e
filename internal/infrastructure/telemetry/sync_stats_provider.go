package telemetry

import (
	"context"

	"gorm.io/gorm"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// GormSyncStatsProvider implements SyncStatsProvider using GORM.
// It queries the job and binding tables directly for aggregated counts.
type GormSyncStatsProvider struct {
	db *gorm.DB
}

// NewGormSyncStatsProvider creates a new GormSyncStatsProvider.
func NewGormSyncStatsProvider(db *gorm.DB) *GormSyncStatsProvider {
	return &GormSyncStatsProvider{db: db}
}

// CountJobsByStatus returns the number of jobs per status.
func (p *GormSyncStatsProvider) CountJobsByStatus(ctx context.Context) (map[integration.JobStatus]int64, error) {
	type result struct {
		Status integration.JobStatus `gorm:"column:status"`
		Count  int64                 `gorm:"column:count"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("connector_jobs").
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	m := make(map[integration.JobStatus]int64, len(results))
	for _, r := range results {
		m[r.Status] = r.Count
	}
	return m, nil
}

// CountBindingsByModel returns the number of bound records per model.
// Bindings without an external id are not counted.
func (p *GormSyncStatsProvider) CountBindingsByModel(ctx context.Context) (map[string]int64, error) {
	type result struct {
		Model string `gorm:"column:model"`
		Count int64  `gorm:"column:count"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("connector_bindings").
		Select("model, COUNT(*) as count").
		Where("external_id IS NOT NULL").
		Group("model").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(results))
	for _, r := range results {
		m[r.Model] = r.Count
	}
	return m, nil
}
