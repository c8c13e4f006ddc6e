package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics records synchronization activity: import and export outcomes
// per binding model, job outcomes and durations, and queue depth gauges.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	importTotal *Counter
	exportTotal *Counter
	jobTotal    *Counter
	jobDuration *Histogram

	jobsByStatus *Gauge
	bindings     *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	statsProvider SyncStatsProvider
}

// SyncStatsProvider provides queue and binding counts for periodic
// collection.
type SyncStatsProvider interface {
	// CountJobsByStatus returns the number of jobs per status
	CountJobsByStatus(ctx context.Context) (map[integration.JobStatus]int64, error)
	// CountBindingsByModel returns the number of bound records per model
	CountBindingsByModel(ctx context.Context) (map[string]int64, error)
}

// SyncMetricsConfig holds configuration for synchronization metrics.
type SyncMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	StatsProvider SyncStatsProvider
}

// JobDurationBuckets are the histogram boundaries of job durations in
// seconds; batch imports run for minutes.
var JobDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

// NewSyncMetrics creates the synchronization instruments.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		statsProvider: cfg.StatsProvider,
	}

	var err error
	sm.importTotal, err = NewCounter(cfg.Meter,
		"connector_import_total",
		"Total number of imported records by model and outcome",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	sm.exportTotal, err = NewCounter(cfg.Meter,
		"connector_export_total",
		"Total number of exported records by model and outcome",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	sm.jobTotal, err = NewCounter(cfg.Meter,
		"connector_job_total",
		"Total number of job runs by operation and resulting status",
		"{jobs}",
	)
	if err != nil {
		return nil, err
	}

	sm.jobDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "connector_job_duration_seconds",
		Description: "Duration of job runs",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	sm.jobsByStatus, err = NewGauge(cfg.Meter,
		"connector_jobs",
		"Current number of jobs by status",
		"{jobs}",
	)
	if err != nil {
		return nil, err
	}

	sm.bindings, err = NewGauge(cfg.Meter,
		"connector_bindings",
		"Current number of bound records by model",
		"{bindings}",
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordImport counts one record import.
func (sm *SyncMetrics) RecordImport(ctx context.Context, model, outcome string) {
	sm.importTotal.Inc(ctx, AttrModel.String(model), AttrOutcome.String(outcome))
}

// RecordExport counts one record export.
func (sm *SyncMetrics) RecordExport(ctx context.Context, model, outcome string) {
	sm.exportTotal.Inc(ctx, AttrModel.String(model), AttrOutcome.String(outcome))
}

// RecordJob counts a job run and its duration.
func (sm *SyncMetrics) RecordJob(ctx context.Context, operation string, status integration.JobStatus, d time.Duration) {
	attrs := []attribute.KeyValue{AttrOperation.String(operation), AttrJobStatus.String(string(status))}
	sm.jobTotal.Inc(ctx, attrs...)
	sm.jobDuration.RecordDuration(ctx, d, attrs...)
}

// StartPeriodicCollection collects the gauges every interval (default: 1
// minute) until Stop is called or ctx is done.
func (sm *SyncMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	sm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		go sm.runPeriodicCollection(ctx, interval)
	})
}

func (sm *SyncMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.Collect(ctx)

	for {
		select {
		case <-sm.stopChan:
			sm.logger.Info("Stopping periodic sync metrics collection")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.Collect(ctx)
		}
	}
}

// Collect records the gauges once.
func (sm *SyncMetrics) Collect(ctx context.Context) {
	if sm.statsProvider == nil {
		sm.logger.Debug("No stats provider configured, skipping sync metrics collection")
		return
	}

	jobs, err := sm.statsProvider.CountJobsByStatus(ctx)
	if err != nil {
		sm.logger.Warn("Failed to count jobs", zap.Error(err))
	} else {
		for _, status := range []integration.JobStatus{
			integration.JobStatusPending, integration.JobStatusStarted,
			integration.JobStatusDone, integration.JobStatusFailed,
		} {
			sm.jobsByStatus.Record(ctx, jobs[status], AttrJobStatus.String(string(status)))
		}
	}

	bindings, err := sm.statsProvider.CountBindingsByModel(ctx)
	if err != nil {
		sm.logger.Warn("Failed to count bindings", zap.Error(err))
		return
	}
	for model, n := range bindings {
		sm.bindings.Record(ctx, n, AttrModel.String(model))
	}
}

// Stop stops the periodic collection.
func (sm *SyncMetrics) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
