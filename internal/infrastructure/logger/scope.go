package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Scope identifies the sync work a context belongs to. Empty fields are
// left out of log entries.
type Scope struct {
	RequestID string
	JobID     string
	Operation string
	BackendID string
	Model     string
}

type scopeKey struct{}

type loggerKey struct{}

// Fields renders the non-empty parts of the scope.
func (s Scope) Fields() []zap.Field {
	fields := make([]zap.Field, 0, 5)
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	add("request_id", s.RequestID)
	add("job_id", s.JobID)
	add("operation", s.Operation)
	add("backend_id", s.BackendID)
	add("model", s.Model)
	return fields
}

// merge overlays the non-empty fields of o.
func (s Scope) merge(o Scope) Scope {
	if o.RequestID != "" {
		s.RequestID = o.RequestID
	}
	if o.JobID != "" {
		s.JobID = o.JobID
	}
	if o.Operation != "" {
		s.Operation = o.Operation
	}
	if o.BackendID != "" {
		s.BackendID = o.BackendID
	}
	if o.Model != "" {
		s.Model = o.Model
	}
	return s
}

// ScopeFromContext returns the scope stored by WithScope.
func ScopeFromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// WithScope extends the scope carried by ctx and returns a logger tagged
// with the added fields. The logger is stored in the context too.
func WithScope(ctx context.Context, log *zap.Logger, s Scope) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, scopeKey{}, ScopeFromContext(ctx).merge(s))
	log = log.With(s.Fields()...)
	return context.WithValue(ctx, loggerKey{}, log), log
}

// WithJob scopes ctx to a queued job. Backend and model are read from the
// job arguments when present.
func WithJob(ctx context.Context, log *zap.Logger, jobID, operation, backendID, model string) (context.Context, *zap.Logger) {
	return WithScope(ctx, log, Scope{JobID: jobID, Operation: operation, BackendID: backendID, Model: model})
}

// FromContext returns the scoped logger, with trace correlation fields
// when a span is recording. Without one a no-op logger is returned.
func FromContext(ctx context.Context) *zap.Logger {
	log, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		log = log.With(zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
	}
	return log
}
