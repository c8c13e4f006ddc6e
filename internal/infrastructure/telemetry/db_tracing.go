package telemetry

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig configures statement spans.
type DBTracingConfig struct {
	// LogFullSQL keeps bound values in db.statement; off, they are masked
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DBTracingPlugin adds a span per gorm statement through otelgorm. Inside
// a sync operation the span is renamed after it, for example
// "connector.import select magento_bindings", so binding lookups show up
// under the import or export that issued them.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates the plugin; RegisterOtelGorm installs it.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

type gormRegister interface {
	Register(name string, fn func(*gorm.DB)) error
}

type statementStartKey struct{}

// RegisterOtelGorm installs otelgorm and the connector hooks around its
// span callbacks.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	cb := db.Callback()
	hooks := []struct {
		callback gormRegister
		name     string
		fn       func(*gorm.DB)
	}{
		{cb.Create().Before("gorm:create").After("otel:before:create"), "connector:span_before_create", p.before("insert")},
		{cb.Create().After("gorm:create").Before("otel:after:create"), "connector:span_after_create", p.after},
		{cb.Query().Before("gorm:query").After("otel:before:select"), "connector:span_before_query", p.before("select")},
		{cb.Query().After("gorm:query").Before("otel:after:select"), "connector:span_after_query", p.after},
		{cb.Update().Before("gorm:update").After("otel:before:update"), "connector:span_before_update", p.before("update")},
		{cb.Update().After("gorm:update").Before("otel:after:update"), "connector:span_after_update", p.after},
		{cb.Delete().Before("gorm:delete").After("otel:before:delete"), "connector:span_before_delete", p.before("delete")},
		{cb.Delete().After("gorm:delete").Before("otel:after:delete"), "connector:span_after_delete", p.after},
		{cb.Row().Before("gorm:row").After("otel:before:row"), "connector:span_before_row", p.before("row")},
		{cb.Row().After("gorm:row").Before("otel:after:row"), "connector:span_after_row", p.after},
		{cb.Raw().Before("gorm:raw").After("otel:before:raw"), "connector:span_before_raw", p.before("raw")},
		{cb.Raw().After("gorm:raw").Before("otel:after:raw"), "connector:span_after_raw", p.after},
	}
	for _, h := range hooks {
		if err := h.callback.Register(h.name, h.fn); err != nil {
			return err
		}
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

// StatementSpanName names a statement span issued inside operation.
func StatementSpanName(operation, verb, table string) string {
	parts := []string{operation, verb}
	if table != "" {
		parts = append(parts, table)
	}
	return strings.Join(parts, " ")
}

func (p *DBTracingPlugin) before(verb string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		if ctx == nil {
			return
		}
		tx.Statement.Context = context.WithValue(ctx, statementStartKey{}, time.Now())

		span := trace.SpanFromContext(ctx)
		op := OperationFromContext(ctx)
		if op == "" || !span.IsRecording() {
			return
		}
		span.SetName(StatementSpanName(op, verb, tx.Statement.Table))
		span.SetAttributes(attribute.String(SpanAttrOperation, op))
	}
}

func (p *DBTracingPlugin) after(tx *gorm.DB) {
	ctx := tx.Statement.Context
	if ctx == nil || p.config.SlowQueryThresh <= 0 {
		return
	}
	span := trace.SpanFromContext(ctx)
	start, ok := ctx.Value(statementStartKey{}).(time.Time)
	if !ok || !span.IsRecording() {
		return
	}
	if elapsed := time.Since(start); elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}
