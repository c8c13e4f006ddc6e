package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultDedupKeyPrefix = "connector:job:"

// RedisJobDeduplicator implements JobDeduplicator using Redis.
// Multiple workers and API instances share the same claims
type RedisJobDeduplicator struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisJobDeduplicator connects to Redis and checks the connection
func NewRedisJobDeduplicator(cfg RedisConfig) (*RedisJobDeduplicator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisJobDeduplicatorWithClient(client, ""), nil
}

// NewRedisJobDeduplicatorWithClient creates a deduplicator on an existing client
func NewRedisJobDeduplicatorWithClient(client *redis.Client, keyPrefix string) *RedisJobDeduplicator {
	if keyPrefix == "" {
		keyPrefix = defaultDedupKeyPrefix
	}
	return &RedisJobDeduplicator{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Claim stores jobID under key with SETNX. When the key is taken the stored
// owner is returned. A key expiring between the two commands is claimed
// again.
func (d *RedisJobDeduplicator) Claim(ctx context.Context, key string, jobID uuid.UUID, ttl time.Duration) (uuid.UUID, bool, error) {
	redisKey := d.keyPrefix + key
	for attempt := 0; attempt < 2; attempt++ {
		set, err := d.client.SetNX(ctx, redisKey, jobID.String(), ttl).Result()
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to claim job identity: %w", err)
		}
		if set {
			return jobID, true, nil
		}

		raw, err := d.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to read job identity owner: %w", err)
		}
		owner, err := uuid.Parse(raw)
		if err != nil {
			// unreadable owner, take the key over
			if err := d.client.Set(ctx, redisKey, jobID.String(), ttl).Err(); err != nil {
				return uuid.Nil, false, fmt.Errorf("failed to claim job identity: %w", err)
			}
			return jobID, true, nil
		}
		return owner, owner == jobID, nil
	}
	return uuid.Nil, false, errors.New("failed to claim job identity: key kept expiring")
}

// Release deletes the claim of key
func (d *RedisJobDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release job identity: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (d *RedisJobDeduplicator) Close() error {
	return d.client.Close()
}

var _ integration.JobDeduplicator = (*RedisJobDeduplicator)(nil)
