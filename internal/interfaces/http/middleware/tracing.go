// Package middleware provides the gin middleware of the sync API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
)

// MaxRequestIDLength bounds request ids copied from headers into spans.
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "magento-connector",
		Enabled:     true,
	}
}

// Tracing returns OpenTelemetry tracing middleware with default configuration.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig wraps otelgin and tags the server span with the request
// id, the operator and the backend, binding, model and external id found in
// the route.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	base := otelgin.Middleware(cfg.ServiceName)
	return func(c *gin.Context) {
		// otelgin runs the rest of the chain, so params and claims are set here
		base(c)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(spanAttributes(c)...)
		}
	}
}

func spanAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := getRequestID(c); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if operator := GetJWTOperator(c); operator != "" {
		attrs = append(attrs, attribute.String("operator", operator))
	}

	route := c.FullPath()
	if id := c.Param("id"); id != "" {
		switch {
		case strings.Contains(route, "/backends/:id"):
			attrs = append(attrs, attribute.String(telemetry.SpanAttrBackendID, id))
		case strings.Contains(route, "/bindings/:id"):
			attrs = append(attrs, attribute.String(telemetry.SpanAttrBindingID, id))
		case strings.Contains(route, "/jobs/:id"):
			attrs = append(attrs, attribute.String(telemetry.SpanAttrJobID, id))
		}
	}
	if model := c.Param("model"); model != "" {
		attrs = append(attrs, attribute.String(telemetry.SpanAttrModel, model))
	}
	if ext := c.Param("external_id"); ext != "" {
		attrs = append(attrs, attribute.String(telemetry.SpanAttrExternalID, ext))
	}
	return attrs
}

// getRequestID retrieves the request ID from the gin context or header.
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	headerID := c.GetHeader("X-Request-ID")
	if len(headerID) > MaxRequestIDLength {
		return headerID[:MaxRequestIDLength]
	}
	return headerID
}

// SpanErrorMarker marks the current span as failed for 4xx and 5xx
// responses. It must run after Tracing.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}
		message := http.StatusText(status)
		if status >= http.StatusInternalServerError {
			message = "Internal Server Error"
		}
		span.SetStatus(codes.Error, message)
		span.SetAttributes(telemetry.AttrHTTPStatusCode.Int(status))
	}
}
