package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig configures statement and pool metrics.
type DBMetricsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

// DefaultDBMetricsConfig enables collection with a 200ms slow query bar and
// pool sampling every 15 seconds.
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

// DBMetrics counts statements per sync operation and samples the pool.
type DBMetrics struct {
	queryTotal     *Counter
	queryDuration  *Histogram
	slowQueryTotal *Counter
	poolConns      *Gauge
	poolConnsMax   *Gauge

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDBMetrics creates the instruments on meter. sqlDB may be nil when the
// pool is not sampled.
func NewDBMetrics(meter metric.Meter, sqlDB *sql.DB, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultDBMetricsConfig()
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = defaults.SlowQueryThreshold
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = defaults.PoolStatsInterval
	}
	m := &DBMetrics{config: cfg, logger: logger, sqlDB: sqlDB, stopCh: make(chan struct{})}

	var err error
	if m.queryTotal, err = NewCounter(meter, "db_query_total",
		"Database statements by operation and issuing sync operation", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total",
		"Database statements slower than the configured threshold", "{query}"); err != nil {
		return nil, err
	}
	if m.poolConns, err = NewGauge(meter, "db_pool_connections",
		"Pool connections by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnsMax, err = NewGauge(meter, "db_pool_connections_max",
		"Maximum open pool connections", "{connection}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuery records one statement. Statements issued outside a sync
// operation are labelled "none".
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration) {
	syncOp := OperationFromContext(ctx)
	if syncOp == "" {
		syncOp = "none"
	}
	attrs := []attribute.KeyValue{AttrDBOperation.String(operation), AttrSyncOperation.String(syncOp)}
	m.queryTotal.Inc(ctx, attrs...)
	m.queryDuration.RecordDuration(ctx, d, attrs...)
	if d > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table), AttrSyncOperation.String(syncOp))
	}
}

// StartPoolStatsCollection samples the pool until Stop or ctx is done.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	if m.sqlDB == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()
		for {
			m.collectPoolStats(ctx)
			select {
			case <-ticker.C:
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *DBMetrics) collectPoolStats(ctx context.Context) {
	stats := m.sqlDB.Stats()
	m.poolConnsMax.Record(ctx, int64(stats.MaxOpenConnections))
	m.poolConns.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConns.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConns.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling. Safe to call more than once.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

type dbMetricsStartKey struct{}

// dbMetricsPlugin times every gorm statement into DBMetrics.
type dbMetricsPlugin struct {
	metrics *DBMetrics
}

func (p *dbMetricsPlugin) Name() string { return "connector:db_metrics" }

func (p *dbMetricsPlugin) Initialize(db *gorm.DB) error {
	start := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, dbMetricsStartKey{}, time.Now())
		}
	}
	record := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) { p.record(tx, operation) }
	}

	cb := db.Callback()
	hooks := []struct {
		callback gormRegister
		name     string
		fn       func(*gorm.DB)
	}{
		{cb.Create().Before("gorm:create"), "db_metrics:before_create", start},
		{cb.Create().After("gorm:create"), "db_metrics:after_create", record("INSERT")},
		{cb.Query().Before("gorm:query"), "db_metrics:before_query", start},
		{cb.Query().After("gorm:query"), "db_metrics:after_query", record("SELECT")},
		{cb.Update().Before("gorm:update"), "db_metrics:before_update", start},
		{cb.Update().After("gorm:update"), "db_metrics:after_update", record("UPDATE")},
		{cb.Delete().Before("gorm:delete"), "db_metrics:before_delete", start},
		{cb.Delete().After("gorm:delete"), "db_metrics:after_delete", record("DELETE")},
		{cb.Row().Before("gorm:row"), "db_metrics:before_row", start},
		{cb.Row().After("gorm:row"), "db_metrics:after_row", record("")},
		{cb.Raw().Before("gorm:raw"), "db_metrics:before_raw", start},
		{cb.Raw().After("gorm:raw"), "db_metrics:after_raw", record("")},
	}
	for _, h := range hooks {
		if err := h.callback.Register(h.name, h.fn); err != nil {
			return err
		}
	}
	return nil
}

func (p *dbMetricsPlugin) record(tx *gorm.DB, operation string) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	start, ok := ctx.Value(dbMetricsStartKey{}).(time.Time)
	if !ok {
		return
	}
	if operation == "" {
		operation = StatementKind(tx.Statement.SQL.String())
	}
	p.metrics.RecordQuery(ctx, operation, tx.Statement.Table, time.Since(start))
}

// StatementKind classifies raw SQL by its leading keyword. Row locking
// claims (SELECT ... FOR UPDATE SKIP LOCKED) count as SELECT.
func StatementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "OTHER"
	}
	switch kw := strings.ToUpper(fields[0]); kw {
	case "SELECT", "INSERT", "UPDATE", "DELETE":
		return kw
	case "WITH":
		return "CTE"
	default:
		return "OTHER"
	}
}

// RegisterDBMetrics installs statement metrics on db and returns the
// handle whose Stop ends pool sampling. It returns nil when metrics or the
// meter provider are disabled.
func RegisterDBMetrics(db *gorm.DB, mp *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if !cfg.Enabled || !mp.IsEnabled() {
		return nil, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	m, err := NewDBMetrics(mp.Meter("db.client"), sqlDB, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Use(&dbMetricsPlugin{metrics: m}); err != nil {
		return nil, err
	}
	logger.Info("Database metrics registered",
		zap.Duration("slow_query_threshold", m.config.SlowQueryThreshold),
		zap.Duration("pool_stats_interval", m.config.PoolStatsInterval),
	)
	return m, nil
}
