package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/connectorhq/magento-connector/internal/application/integration"
	"github.com/connectorhq/magento-connector/internal/bootstrap"
	"github.com/connectorhq/magento-connector/internal/infrastructure/auth"
	"github.com/connectorhq/magento-connector/internal/infrastructure/config"
	"github.com/connectorhq/magento-connector/internal/infrastructure/persistence"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/handler"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/middleware"
	"github.com/connectorhq/magento-connector/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		panic("Failed to initialize connector: " + err.Error())
	}
	log := app.Logger
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	log.Info("Starting Magento connector",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("port", cfg.HTTP.Port),
	)

	c := app.Connector

	// Job worker
	if cfg.Jobs.WorkerEnabled {
		runner := c.NewRunner(cfg.Jobs, app.Recorder(), log)
		if err := runner.Start(ctx); err != nil {
			log.Fatal("Failed to start job runner", zap.Error(err))
		}
		defer stopWithTimeout(log, "job runner", runner.Stop)
		log.Info("Job runner started",
			zap.Int("workers", cfg.Jobs.Workers),
			zap.Duration("poll_interval", cfg.Jobs.PollInterval),
		)
	}

	// Periodic batch imports
	sched, err := c.NewScheduler(&cfg.Scheduler, log)
	if err != nil {
		log.Fatal("Failed to create batch import scheduler", zap.Error(err))
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start batch import scheduler", zap.Error(err))
	}
	defer stopWithTimeout(log, "batch import scheduler", sched.Stop)

	srv := newServer(cfg, app, log)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exited gracefully")
}

func newServer(cfg *config.Config, app *bootstrap.App, log *zap.Logger) *http.Server {
	c := app.Connector
	jwtService := auth.NewJWTService(cfg.JWT)

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins

	engine := router.NewEngine(router.EngineConfig{
		Logger:         log,
		TokenValidator: jwtService,
		CORS:           cors,
		MaxBodyBytes:   cfg.HTTP.MaxBodySize,
		RateLimiter:    limiter,
		MeterProvider:  app.Meter,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
	}, router.Handlers{
		System:   handler.NewSystemHandler(version, pinger(app.DB)),
		Backends: handler.NewBackendHandler(integration.NewBackendService(c.Services.Backends, log)),
		Sync:     handler.NewSyncHandler(c.Sync),
		Jobs:     handler.NewJobHandler(c.Queue),
	})
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.HTTP.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	if limiter != nil {
		srv.RegisterOnShutdown(limiter.Close)
	}
	return srv
}

// pinger exposes the pool of db for the health probe.
func pinger(db *persistence.Database) handler.Pinger {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil
	}
	return sqlDB
}

func stopWithTimeout(log *zap.Logger, name string, stopFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stopFn(ctx); err != nil {
		log.Error("Error stopping "+name, zap.Error(err))
	}
}
