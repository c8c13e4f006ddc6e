package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence/models"
)

func manualMeterProvider(t *testing.T) (*MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &MeterProvider{provider: provider}, reader
}

func counterPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data.(metricdata.Sum[int64]).DataPoints
			}
		}
	}
	return nil
}

func countFor(points []metricdata.DataPoint[int64], attrs ...attribute.KeyValue) int64 {
	want := attribute.NewSet(attrs...)
	for _, p := range points {
		if p.Attributes.Equals(&want) {
			return p.Value
		}
	}
	return 0
}

func TestStatementKind(t *testing.T) {
	tests := map[string]string{
		"SELECT * FROM connector_jobs FOR UPDATE SKIP LOCKED": "SELECT",
		"  insert into connector_bindings values (1)":         "INSERT",
		"UPDATE connector_jobs SET status = 'done'":           "UPDATE",
		"delete from connector_entities":                      "DELETE",
		"WITH due AS (SELECT id FROM connector_jobs) SELECT 1": "CTE",
		"VACUUM":                                               "OTHER",
		"":                                                     "OTHER",
	}
	for sql, want := range tests {
		assert.Equal(t, want, StatementKind(sql), sql)
	}
}

func TestRegisterDBMetrics_Disabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	m, err := RegisterDBMetrics(db, &MeterProvider{}, DefaultDBMetricsConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, m)

	mp, _ := manualMeterProvider(t)
	m, err = RegisterDBMetrics(db, mp, DBMetricsConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRegisterDBMetrics_LabelsSyncOperation(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.BindingModel{}))

	mp, reader := manualMeterProvider(t)
	cfg := DefaultDBMetricsConfig()
	cfg.SlowQueryThreshold = time.Nanosecond
	m, err := RegisterDBMetrics(db, mp, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Stop()

	ctx := context.WithValue(context.Background(), operationKey{}, "connector.import")
	var bindings []models.BindingModel
	require.NoError(t, db.WithContext(ctx).Find(&bindings).Error)
	require.NoError(t, db.WithContext(ctx).Exec("DELETE FROM connector_bindings").Error)
	require.NoError(t, db.WithContext(context.Background()).Find(&bindings).Error)

	queries := counterPoints(t, reader, "db_query_total")
	assert.Equal(t, int64(1), countFor(queries,
		AttrDBOperation.String("SELECT"), AttrSyncOperation.String("connector.import")))
	assert.Equal(t, int64(1), countFor(queries,
		AttrDBOperation.String("DELETE"), AttrSyncOperation.String("connector.import")))
	assert.Equal(t, int64(1), countFor(queries,
		AttrDBOperation.String("SELECT"), AttrSyncOperation.String("none")))

	slow := counterPoints(t, reader, "db_slow_query_total")
	assert.Equal(t, int64(1), countFor(slow,
		AttrDBTable.String("connector_bindings"), AttrSyncOperation.String("connector.import")))
}

func TestDBMetrics_PoolStats(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(3)

	mp, reader := manualMeterProvider(t)
	m, err := NewDBMetrics(mp.Meter("db.client"), sqlDB, DBMetricsConfig{PoolStatsInterval: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartPoolStatsCollection(ctx)

	assert.Eventually(t, func() bool {
		var rm metricdata.ResourceMetrics
		if reader.Collect(context.Background(), &rm) != nil {
			return false
		}
		for _, sm := range rm.ScopeMetrics {
			for _, metric := range sm.Metrics {
				if metric.Name == "db_pool_connections_max" {
					points := metric.Data.(metricdata.Gauge[int64]).DataPoints
					return len(points) == 1 && points[0].Value == 3
				}
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()
}
