package router

import (
	"github.com/connectorhq/magento-connector/internal/infrastructure/logger"
	"github.com/connectorhq/magento-connector/internal/infrastructure/telemetry"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/handler"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers groups the API handlers mounted by NewEngine
type Handlers struct {
	System   *handler.SystemHandler
	Backends *handler.BackendHandler
	Sync     *handler.SyncHandler
	Jobs     *handler.JobHandler
}

// EngineConfig carries the middleware settings of the sync API
type EngineConfig struct {
	Logger         *zap.Logger
	TokenValidator middleware.TokenValidator
	CORS           middleware.CORSConfig
	MaxBodyBytes   int64
	RateLimiter    *middleware.RateLimiter
	MeterProvider  *telemetry.MeterProvider
	Tracing        middleware.TracingConfig
}

// NewEngine builds the gin engine: the shared middleware chain, a public
// health probe and the JWT-protected /api/v1 group.
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	middleware.SetupValidator()

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
	)
	if cfg.Tracing.Enabled {
		engine.Use(middleware.TracingWithConfig(cfg.Tracing), middleware.SpanErrorMarker())
	}
	if cfg.MeterProvider != nil {
		engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: cfg.MeterProvider,
			Enabled:       cfg.MeterProvider.IsEnabled(),
		}))
	}
	engine.Use(middleware.Secure(), middleware.CORSWithConfig(cfg.CORS))
	if cfg.MaxBodyBytes > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}

	engine.GET("/health", h.System.Health)

	jwtCfg := middleware.DefaultJWTConfig(cfg.TokenValidator)
	jwtCfg.Logger = log
	opts := []RouterOption{
		WithAPIVersion("v1"),
		WithAPIMiddleware(middleware.JWTAuthMiddlewareWithConfig(jwtCfg)),
	}
	// keyed on the operator, so it runs after authentication
	if cfg.RateLimiter != nil {
		opts = append(opts, WithAPIMiddleware(middleware.RateLimit(cfg.RateLimiter)))
	}

	r := NewRouter(engine, opts...)
	r.Register(NewDomainGroup("system", "/system").
		GET("/info", h.System.GetSystemInfo))
	r.Register(backendRoutes(h))
	r.Register(NewDomainGroup("bindings", "/bindings").
		POST("/:id/export", h.Sync.ExportRecord).
		POST("/:id/export-inventory", h.Sync.ExportInventory))
	r.Register(NewDomainGroup("jobs", "/jobs").
		GET("", h.Jobs.List).
		GET("/:id", h.Jobs.Get))
	r.Setup()

	return engine
}

func backendRoutes(h Handlers) *DomainGroup {
	g := NewDomainGroup("backends", "/backends").
		POST("", h.Backends.Create).
		GET("", h.Backends.List).
		GET("/:id", h.Backends.Get).
		PATCH("/:id", h.Backends.SetActive)

	g.POST("/:id/:model/import", h.Sync.ImportBatch).
		POST("/:id/:model/records/:external_id/import", h.Sync.ImportRecord).
		DELETE("/:id/:model/records/:external_id", h.Sync.ExportDelete)
	return g
}
