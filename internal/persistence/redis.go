package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/config"
	"github.com/spec-kit/security-ir-jira/internal/repository"
)

const redisDialTimeout = 3 * time.Second

// Redis holds the client behind the processed-event deduplication cache.
type Redis struct {
	Client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis returns nil when REDIS_ADDR is unset. An unreachable server is
// logged but not fatal: the cache falls through to the durable store.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not provided; deduplication cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisDialTimeout,
		ClientName:  applicationName,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis; dedup lookups will fall through", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.Duration("dedup_ttl", cfg.DedupTTL()))
	}

	return &Redis{Client: client, ttl: cfg.DedupTTL(), logger: logger}
}

// DedupProcessed fronts the durable processed-event store with the cache.
func (r *Redis) DedupProcessed(next repository.ProcessedEventRepository) repository.ProcessedEventRepository {
	if r == nil || r.Client == nil {
		return next
	}
	return repository.NewCachedProcessedEvents(next, r.Client, r.ttl, r.logger.Named("dedup"))
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return fmt.Errorf("redis: %w", ErrNotConfigured)
	}
	return r.Client.Ping(ctx).Err()
}
