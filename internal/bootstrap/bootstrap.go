// Package bootstrap assembles the connector object graph shared by the API
// server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	magentoapp "github.com/connectorhq/magento-connector/internal/application/magento"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/connectorhq/magento-connector/internal/infrastructure/cache"
	"github.com/connectorhq/magento-connector/internal/infrastructure/config"
	"github.com/connectorhq/magento-connector/internal/infrastructure/logger"
	"github.com/connectorhq/magento-connector/internal/infrastructure/magento"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence"
	"github.com/connectorhq/magento-connector/internal/infrastructure/queue"
	"github.com/connectorhq/magento-connector/internal/infrastructure/scheduler"
	"github.com/connectorhq/magento-connector/internal/infrastructure/storage"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TimeFormat is the log timestamp layout of every binary
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Connector is the synchronization core: repositories, the job queue and
// the Magento component registry.
type Connector struct {
	Services   *connector.Services
	Sync       *connector.SyncService
	Dispatcher *connector.Dispatcher
	Queue      *queue.Queue
	Jobs       integration.JobRepository
	Dedup      integration.JobDeduplicator
}

// ConnectorOptions tunes NewConnector
type ConnectorOptions struct {
	Jobs    config.JobsConfig
	Magento magento.ClientConfig
	// Images enables the product image importer when set
	Images   magentoapp.ImageStore
	Metrics  connector.Recorder
	Adapters integration.AdapterProvider
}

// NewConnector wires the connector services over db. Entity writes made by
// the services delay an export of every binding wrapping the entity.
func NewConnector(db *gorm.DB, dedup integration.JobDeduplicator, opts ConnectorOptions, log *zap.Logger) (*Connector, error) {
	if log == nil {
		log = zap.NewNop()
	}

	registry := connector.NewRegistry()
	var regOpts []magentoapp.Option
	if opts.Images != nil {
		regOpts = append(regOpts, magentoapp.WithImageStore(opts.Images, magento.NewMediaDownloader(opts.Magento)))
	}
	if err := magentoapp.Register(registry, regOpts...); err != nil {
		return nil, fmt.Errorf("register magento components: %w", err)
	}

	jobs := persistence.NewGormJobRepository(db)
	bindings := persistence.NewGormBindingRepository(db)
	backends := persistence.NewGormBackendRepository(db)
	entities := persistence.NewGormEntityStore(db)
	q := queue.NewQueue(jobs, dedup, opts.Jobs.DedupTTL, logger.Named(log, "queue"))

	adapters := opts.Adapters
	if adapters == nil {
		adapters = magento.NewAdapterProvider(opts.Magento, logger.Named(log, "magento"))
	}

	writer := connector.NewEntityWriter(entities,
		connector.NewExportListener(registry, bindings, backends, q, logger.Named(log, "export_listener")))

	svc := &connector.Services{
		Bindings: bindings,
		Backends: backends,
		Entities: entities,
		Tx:       persistence.NewGormTransactionScope(db),
		Jobs:     q,
		Adapters: adapters,
		Registry: registry,
		Writer:   writer,
		Metrics:  opts.Metrics,
		Logger:   logger.Named(log, "connector"),
	}
	syncSvc := connector.NewSyncService(svc)

	return &Connector{
		Services:   svc,
		Sync:       syncSvc,
		Dispatcher: connector.NewDispatcher(syncSvc),
		Queue:      q,
		Jobs:       jobs,
		Dedup:      dedup,
	}, nil
}

// NewRunner builds the job worker executing jobs through the dispatcher.
func (c *Connector) NewRunner(cfg config.JobsConfig, rec queue.JobRecorder, log *zap.Logger) *queue.Runner {
	var opts []queue.RunnerOption
	if rec != nil {
		opts = append(opts, queue.WithRecorder(rec))
	}
	return queue.NewRunner(c.Jobs, c.Dedup, c.Dispatcher, queue.RunnerConfig{
		PollInterval:     cfg.PollInterval,
		BatchSize:        cfg.BatchSize,
		Workers:          cfg.Workers,
		CleanupEnabled:   cfg.CleanupEnabled,
		CleanupRetention: cfg.CleanupRetention,
		CleanupInterval:  cfg.CleanupInterval,
	}, logger.Named(log, "runner"), opts...)
}

// NewScheduler builds the periodic batch import scheduler.
func (c *Connector) NewScheduler(cfg *config.SchedulerConfig, log *zap.Logger) (*scheduler.BatchImportScheduler, error) {
	return scheduler.NewBatchImportScheduler(scheduler.BatchImportSchedulerConfig{
		Enabled:        cfg.Enabled,
		Schedules:      cfg.Schedules,
		Location:       cfg.Location(),
		TriggerTimeout: cfg.TriggerTimeout,
	}, c.Services.Backends, c.Sync, logger.Named(log, "scheduler"))
}

// MagentoClientConfig converts the configured client settings.
func MagentoClientConfig(cfg config.MagentoConfig) magento.ClientConfig {
	return magento.ClientConfig{
		Timeout:         cfg.Timeout,
		RateLimit:       cfg.RateLimit,
		Burst:           cfg.Burst,
		MaxResponseSize: cfg.MaxResponseSize,
		PageSize:        cfg.PageSize,
	}
}

// App owns the process-wide resources: logger, telemetry providers, the
// database and the connector built on them.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *persistence.Database
	Tracer    *telemetry.TracerProvider
	Meter     *telemetry.MeterProvider
	Metrics   *telemetry.SyncMetrics
	Connector *Connector

	logs      *telemetry.LoggerProvider
	dbMetrics *telemetry.DBMetrics
}

// New opens every resource described by cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	log, logs, err := newLogger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Logger = log
	app.logs = logs

	if err := app.initTelemetry(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := app.initDatabase(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := app.initConnector(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func newLogger(ctx context.Context, cfg *config.Config) (*zap.Logger, *telemetry.LoggerProvider, error) {
	base, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: TimeFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	if !cfg.Telemetry.LogsEnabled {
		return base, nil, nil
	}

	logs, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           true,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, base)
	if err != nil {
		base.Warn("OTLP log export unavailable, logging locally only", zap.Error(err))
		return base, nil, nil
	}
	return telemetry.BridgeLogger(base, logs, cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level)), logs, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	t := a.Config.Telemetry

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           t.Enabled,
		CollectorEndpoint: t.CollectorEndpoint,
		SamplingRatio:     t.SamplingRatio,
		ServiceName:       t.ServiceName,
		Insecure:          t.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("initialize tracer provider: %w", err)
	}
	a.Tracer = tracer

	meter, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           t.MetricsEnabled,
		CollectorEndpoint: t.CollectorEndpoint,
		ExportInterval:    t.MetricsInterval,
		ServiceName:       t.ServiceName,
		Insecure:          t.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("initialize meter provider: %w", err)
	}
	a.Meter = meter
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	gormLog := logger.NewGormLogger(a.Logger, logger.MapGormLogLevel(a.Config.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&a.Config.Database, gormLog)
	if err != nil {
		return err
	}
	a.DB = db
	a.Logger.Info("Database connected",
		zap.String("host", a.Config.Database.Host),
		zap.String("database", a.Config.Database.DBName),
	)

	t := a.Config.Telemetry
	if t.Enabled && t.DBTraceEnabled {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			LogFullSQL:      t.DBLogFullSQL,
			SlowQueryThresh: t.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}, a.Logger)
		if err := plugin.RegisterOtelGorm(db.DB); err != nil {
			return fmt.Errorf("register database tracing: %w", err)
		}
	}

	dbCfg := telemetry.DefaultDBMetricsConfig()
	if t.DBSlowQueryThresh > 0 {
		dbCfg.SlowQueryThreshold = t.DBSlowQueryThresh
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, a.Meter, dbCfg, a.Logger)
	if err != nil {
		return fmt.Errorf("register database metrics: %w", err)
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
		a.dbMetrics = dbMetrics
	}
	return nil
}

func (a *App) initConnector(ctx context.Context) error {
	cfg := a.Config

	dedup, err := cache.NewDeduplicatorFactory(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cache.WithLogger(a.Logger), cache.WithInMemoryFallback(cfg.Jobs.RedisFallback)).Create()
	if err != nil {
		return err
	}

	opts := ConnectorOptions{
		Jobs:    cfg.Jobs,
		Magento: MagentoClientConfig(cfg.Magento),
	}

	if a.Meter != nil && a.Meter.IsEnabled() {
		metrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
			Meter:         a.Meter.Meter("connector"),
			Logger:        a.Logger,
			StatsProvider: telemetry.NewGormSyncStatsProvider(a.DB.DB),
		})
		if err != nil {
			_ = dedup.Close()
			return fmt.Errorf("initialize sync metrics: %w", err)
		}
		metrics.StartPeriodicCollection(ctx, cfg.Telemetry.MetricsInterval)
		a.Metrics = metrics
		opts.Metrics = metrics
	}

	if cfg.Storage.Enabled {
		store, err := storage.NewS3ImageStore(&cfg.Storage, storage.WithLogger(a.Logger))
		if err != nil {
			_ = dedup.Close()
			return fmt.Errorf("initialize image storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			a.Logger.Warn("Image bucket check failed", zap.String("bucket", store.Bucket()), zap.Error(err))
		}
		opts.Images = store
	}

	c, err := NewConnector(a.DB.DB, dedup, opts, a.Logger)
	if err != nil {
		_ = dedup.Close()
		return err
	}
	a.Connector = c
	return nil
}

// Recorder returns the job metrics recorder, nil when metrics are off.
func (a *App) Recorder() queue.JobRecorder {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics
}

// Close releases the resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Metrics != nil {
		a.Metrics.Stop()
	}
	if a.Connector != nil && a.Connector.Dedup != nil {
		errs = append(errs, a.Connector.Dedup.Close())
	}
	if a.dbMetrics != nil {
		a.dbMetrics.Stop()
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Meter != nil {
		errs = append(errs, a.Meter.Shutdown(ctx))
	}
	if a.Tracer != nil {
		errs = append(errs, a.Tracer.Shutdown(ctx))
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Shutdown(ctx))
	}
	if a.Logger != nil {
		_ = logger.Sync(a.Logger)
	}
	return errors.Join(errs...)
}
