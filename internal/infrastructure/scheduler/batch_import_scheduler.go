package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// BackendProvider lists the backends to schedule imports for.
type BackendProvider interface {
	FindAll(ctx context.Context, activeOnly bool) ([]*integration.Backend, error)
}

// BatchEnqueuer enqueues a batch import of one model on one backend.
type BatchEnqueuer interface {
	DelayImportBatch(ctx context.Context, backendID uuid.UUID, model string) (*integration.JobHandle, error)
}

// BatchImportSchedulerConfig holds configuration for periodic batch imports
type BatchImportSchedulerConfig struct {
	Enabled bool
	// Schedules maps a binding model to a cron expression. Both the
	// standard five field syntax and descriptors such as "@every 15m" are
	// accepted.
	Schedules map[string]string
	// Location is the time zone the expressions are evaluated in (default: UTC)
	Location *time.Location
	// TriggerTimeout bounds one trigger over all backends
	TriggerTimeout time.Duration
}

// DefaultBatchImportSchedulerConfig returns default configuration
func DefaultBatchImportSchedulerConfig() BatchImportSchedulerConfig {
	return BatchImportSchedulerConfig{
		Enabled: true,
		Schedules: map[string]string{
			"magento.website":               "@daily",
			"magento.storeview":             "@daily",
			"magento.product.attribute.set": "@hourly",
			"magento.product.category":      "@every 30m",
			"magento.product.product":       "@every 15m",
			"magento.sale.order":            "@every 5m",
		},
		Location:       time.UTC,
		TriggerTimeout: 5 * time.Minute,
	}
}

// Validate validates the configuration
func (c *BatchImportSchedulerConfig) Validate() error {
	if c.TriggerTimeout <= 0 {
		return fmt.Errorf("%w: trigger timeout must be positive", ErrInvalidConfig)
	}
	for model, spec := range c.Schedules {
		if model == "" {
			return fmt.Errorf("%w: empty model", ErrInvalidConfig)
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidSchedule, model, spec, err)
		}
	}
	return nil
}

// BatchImportScheduler enqueues import_batch jobs for every active backend
// on a per-model cron schedule.
type BatchImportScheduler struct {
	config   BatchImportSchedulerConfig
	backends BackendProvider
	enqueuer BatchEnqueuer
	logger   *zap.Logger

	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	isRunning bool
}

// NewBatchImportScheduler creates a new scheduler
func NewBatchImportScheduler(
	config BatchImportSchedulerConfig,
	backends BackendProvider,
	enqueuer BatchEnqueuer,
	logger *zap.Logger,
) (*BatchImportScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BatchImportScheduler{
		config:   config,
		backends: backends,
		enqueuer: enqueuer,
		logger:   logger,
	}
	s.cron = cron.New(
		cron.WithLocation(config.Location),
		cron.WithLogger(cronLogger{logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
	)
	for _, model := range s.Models() {
		if _, err := s.cron.AddFunc(config.Schedules[model], func() { s.trigger(model) }); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, model, err)
		}
	}
	return s, nil
}

// Models returns the scheduled models in name order.
func (s *BatchImportScheduler) Models() []string {
	models := make([]string, 0, len(s.config.Schedules))
	for model := range s.config.Schedules {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// Start starts the cron loop. It is a no-op when the scheduler is disabled
// or already running.
func (s *BatchImportScheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Batch import scheduler is disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()

	s.logger.Info("Batch import scheduler started", zap.Strings("models", s.Models()))
	return nil
}

// Stop stops the cron loop and waits for running triggers, or until ctx is
// done.
func (s *BatchImportScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("Batch import scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// IsRunning returns whether the cron loop is running
func (s *BatchImportScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *BatchImportScheduler) trigger(model string) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.config.TriggerTimeout)
	defer cancel()
	if _, err := s.TriggerNow(ctx, model); err != nil {
		s.logger.Error("Scheduled batch import failed", zap.String("model", model), zap.Error(err))
	}
}

// TriggerNow enqueues a batch import of model on every active backend and
// returns the job handles. Backends without an importer for the model are
// skipped; other failures are joined.
func (s *BatchImportScheduler) TriggerNow(ctx context.Context, model string) ([]*integration.JobHandle, error) {
	if _, ok := s.config.Schedules[model]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	backends, err := s.backends.FindAll(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}

	var (
		handles []*integration.JobHandle
		errs    []error
	)
	for _, backend := range backends {
		handle, err := s.enqueuer.DelayImportBatch(ctx, backend.ID, model)
		switch {
		case errors.Is(err, integration.ErrComponentNotFound):
			s.logger.Debug("Backend has no batch importer",
				zap.String("backend_id", backend.ID.String()),
				zap.String("model", model),
			)
		case err != nil:
			errs = append(errs, fmt.Errorf("backend %s: %w", backend.ID, err))
		default:
			handles = append(handles, handle)
			s.logger.Info("Batch import enqueued",
				zap.String("backend_id", backend.ID.String()),
				zap.String("model", model),
				zap.String("job_id", handle.ID.String()),
				zap.Bool("deduplicated", handle.Deduplicated),
			)
		}
	}
	return handles, errors.Join(errs...)
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
