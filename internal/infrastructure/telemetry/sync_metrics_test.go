package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
)

func newSyncMetrics(t *testing.T, provider telemetry.SyncStatsProvider) (*telemetry.SyncMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:         mp.Meter("test"),
		Logger:        zap.NewNop(),
		StatsProvider: provider,
	})
	require.NoError(t, err)
	return sm, reader
}

// collect returns the metric named name from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return nil
}

func pointValue[N int64 | float64](t *testing.T, points []metricdata.DataPoint[N], attrs ...attribute.KeyValue) N {
	t.Helper()
	want := attribute.NewSet(attrs...)
	for _, p := range points {
		if p.Attributes.Equals(&want) {
			return p.Value
		}
	}
	t.Fatalf("no data point with attributes %v", attrs)
	return 0
}

func TestNewSyncMetrics_NilMeter(t *testing.T) {
	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{})
	require.Error(t, err)
	assert.Nil(t, sm)
	assert.Equal(t, "NewSyncMetrics: meter cannot be nil", err.Error())
}

func TestSyncMetrics_Noop(t *testing.T) {
	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter: noop.NewMeterProvider().Meter("test"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	sm.RecordImport(ctx, "magento.product.product", "created")
	sm.RecordExport(ctx, "magento.stock.item", "skipped")
	sm.RecordJob(ctx, integration.OperationImportBatch, integration.JobStatusDone, time.Second)
	sm.Collect(ctx)
	sm.Stop()
	sm.Stop()
}

func TestSyncMetrics_Counters(t *testing.T) {
	sm, reader := newSyncMetrics(t, nil)
	ctx := context.Background()

	sm.RecordImport(ctx, "magento.product.product", "created")
	sm.RecordImport(ctx, "magento.product.product", "created")
	sm.RecordImport(ctx, "magento.product.product", "updated")
	sm.RecordExport(ctx, "magento.stock.item", "failed")

	imports := collect(t, reader, "connector_import_total").(metricdata.Sum[int64])
	assert.Equal(t, int64(2), pointValue(t, imports.DataPoints,
		telemetry.AttrModel.String("magento.product.product"), telemetry.AttrOutcome.String("created")))
	assert.Equal(t, int64(1), pointValue(t, imports.DataPoints,
		telemetry.AttrModel.String("magento.product.product"), telemetry.AttrOutcome.String("updated")))

	exports := collect(t, reader, "connector_export_total").(metricdata.Sum[int64])
	assert.Equal(t, int64(1), pointValue(t, exports.DataPoints,
		telemetry.AttrModel.String("magento.stock.item"), telemetry.AttrOutcome.String("failed")))
}

func TestSyncMetrics_RecordJob(t *testing.T) {
	sm, reader := newSyncMetrics(t, nil)
	ctx := context.Background()

	sm.RecordJob(ctx, integration.OperationExportRecord, integration.JobStatusDone, 200*time.Millisecond)
	sm.RecordJob(ctx, integration.OperationExportRecord, integration.JobStatusPending, 3*time.Second)

	jobs := collect(t, reader, "connector_job_total").(metricdata.Sum[int64])
	assert.Equal(t, int64(1), pointValue(t, jobs.DataPoints,
		telemetry.AttrOperation.String(integration.OperationExportRecord),
		telemetry.AttrJobStatus.String(string(integration.JobStatusPending))))

	durations := collect(t, reader, "connector_job_duration_seconds").(metricdata.Histogram[float64])
	require.Len(t, durations.DataPoints, 2)
	var total float64
	for _, p := range durations.DataPoints {
		total += p.Sum
	}
	assert.InDelta(t, 3.2, total, 0.001)
}

func setupStatsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.JobModel{}, &models.BindingModel{}))
	return db
}

func TestSyncMetrics_CollectFromDatabase(t *testing.T) {
	db := setupStatsDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, status := range []integration.JobStatus{
		integration.JobStatusPending, integration.JobStatusPending, integration.JobStatusFailed,
	} {
		require.NoError(t, db.Create(&models.JobModel{
			ID: uuid.New(), Operation: integration.OperationImportRecord, Args: "{}",
			IdentityKey: uuid.NewString(), Priority: 10, Status: status,
			MaxAttempts: 5, ETA: now, CreatedAt: now,
		}).Error)
	}
	backendID := uuid.New()
	ext := "42"
	for _, b := range []models.BindingModel{
		{ID: uuid.New(), Model: "magento.product.product", BackendID: backendID, ExternalID: &ext},
		{ID: uuid.New(), Model: "magento.product.product", BackendID: backendID},
	} {
		b.Data, b.Values, b.CreatedAt, b.UpdatedAt = "{}", "{}", now, now
		require.NoError(t, db.Create(&b).Error)
	}

	provider := telemetry.NewGormSyncStatsProvider(db)
	counts, err := provider.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[integration.JobStatus]int64{
		integration.JobStatusPending: 2,
		integration.JobStatusFailed:  1,
	}, counts)

	bindings, err := provider.CountBindingsByModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"magento.product.product": 1}, bindings)

	sm, reader := newSyncMetrics(t, provider)
	sm.Collect(ctx)

	gauge := collect(t, reader, "connector_jobs").(metricdata.Gauge[int64])
	assert.Equal(t, int64(2), pointValue(t, gauge.DataPoints,
		telemetry.AttrJobStatus.String(string(integration.JobStatusPending))))
	assert.Equal(t, int64(0), pointValue(t, gauge.DataPoints,
		telemetry.AttrJobStatus.String(string(integration.JobStatusDone))))
}

func TestSyncMetrics_PeriodicCollection(t *testing.T) {
	db := setupStatsDB(t)
	sm, reader := newSyncMetrics(t, telemetry.NewGormSyncStatsProvider(db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sm.StartPeriodicCollection(ctx, time.Hour)
	defer sm.Stop()

	// the first collection runs immediately
	assert.Eventually(t, func() bool {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			return false
		}
		for _, s := range rm.ScopeMetrics {
			for _, m := range s.Metrics {
				if m.Name == "connector_jobs" {
					return true
				}
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
