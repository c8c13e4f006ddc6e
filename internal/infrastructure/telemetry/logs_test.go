package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func recordAttrs(r sdklog.Record) map[string]string {
	attrs := make(map[string]string)
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestBridgeLogger_Disabled(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, BridgeLogger(base, nil, "magento-connector", zapcore.InfoLevel))
	assert.Same(t, base, BridgeLogger(base, &LoggerProvider{}, "magento-connector", zapcore.InfoLevel))
}

func TestBridgeLogger_ExportsScopedRecords(t *testing.T) {
	exporter := &memoryLogExporter{}
	lp := &LoggerProvider{provider: sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)),
	)}
	defer func() { require.NoError(t, lp.Shutdown(context.Background())) }()

	core, recorded := observer.New(zapcore.InfoLevel)
	log := BridgeLogger(zap.New(core), lp, "magento-connector", zapcore.WarnLevel)

	jobLog := log.With(zap.String("job_id", "job-1"), zap.String("backend_id", "b-1"))
	jobLog.Info("job done")
	jobLog.Warn("job will be retried")

	assert.Len(t, recorded.All(), 2)

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	require.Len(t, exporter.records, 1)
	r := exporter.records[0]
	assert.Equal(t, "job will be retried", r.Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, r.Severity())
	attrs := recordAttrs(r)
	assert.Equal(t, "job-1", attrs["job_id"])
	assert.Equal(t, "b-1", attrs["backend_id"])
}

func TestProviders_DisabledAreNoops(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	tp, err := NewTracerProvider(ctx, Config{}, log)
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NoError(t, tp.Shutdown(ctx))

	mp, err := NewMeterProvider(ctx, MetricsConfig{}, log)
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("http.server"))
	assert.NoError(t, mp.Shutdown(ctx))

	lp, err := NewLoggerProvider(ctx, LogsConfig{}, log)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestServiceResource(t *testing.T) {
	res, err := serviceResource("magento-connector")
	require.NoError(t, err)
	var name, version string
	for _, kv := range res.Attributes() {
		switch kv.Key {
		case "service.name":
			name = kv.Value.AsString()
		case "service.version":
			version = kv.Value.AsString()
		}
	}
	assert.Equal(t, "magento-connector", name)
	assert.Equal(t, ServiceVersion, version)
}
