package cache

import (
	"fmt"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.uber.org/zap"
)

// DeduplicatorFactory creates job deduplicators based on configuration
type DeduplicatorFactory struct {
	redisConfig           RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// DeduplicatorFactoryOption is a functional option for configuring the factory
type DeduplicatorFactoryOption func(*DeduplicatorFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) DeduplicatorFactoryOption {
	return func(f *DeduplicatorFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory
// deduplicator when Redis is unavailable. Default is true
func WithInMemoryFallback(allow bool) DeduplicatorFactoryOption {
	return func(f *DeduplicatorFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewDeduplicatorFactory creates a new factory
func NewDeduplicatorFactory(cfg RedisConfig, opts ...DeduplicatorFactoryOption) *DeduplicatorFactory {
	f := &DeduplicatorFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create returns a Redis deduplicator, or an in-memory one when Redis is
// unreachable and fallback is allowed. An empty Redis host selects the
// in-memory deduplicator directly.
func (f *DeduplicatorFactory) Create() (integration.JobDeduplicator, error) {
	if f.redisConfig.Host == "" {
		f.logger.Info("no Redis configured, using in-memory job deduplicator")
		return NewInMemoryJobDeduplicator(), nil
	}

	d, err := NewRedisJobDeduplicator(f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis job deduplicator")
		return d, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for job deduplication but unavailable: %w", err)
	}

	// Jobs enqueued by different instances may then run twice
	f.logger.Warn("Redis unavailable, falling back to in-memory job deduplicator", zap.Error(err))
	return NewInMemoryJobDeduplicator(), nil
}
