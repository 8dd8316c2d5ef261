package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCommands is the subset of the go-redis client used by the cache.
type RedisCommands interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type cachedProcessedEvents struct {
	next   ProcessedEventRepository
	redis  RedisCommands
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProcessedEvents fronts next with a Redis key per processed
// event. Redis failures fall through to next; the durable store stays the
// source of truth.
func NewCachedProcessedEvents(next ProcessedEventRepository, client RedisCommands, ttl time.Duration, logger *zap.Logger) ProcessedEventRepository {
	if client == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedProcessedEvents{next: next, redis: client, ttl: ttl, logger: logger}
}

func dedupKey(consumer, eventID string) string {
	return "processed:" + consumer + ":" + eventID
}

func (c *cachedProcessedEvents) IsProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	n, err := c.redis.Exists(ctx, dedupKey(consumer, eventID)).Result()
	if err != nil {
		c.logger.Warn("dedup cache lookup failed", zap.String("consumer", consumer), zap.Error(err))
	} else if n > 0 {
		return true, nil
	}
	return c.next.IsProcessed(ctx, consumer, eventID)
}

func (c *cachedProcessedEvents) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	if err := c.next.MarkProcessed(ctx, consumer, eventID); err != nil {
		return err
	}
	if err := c.redis.Set(ctx, dedupKey(consumer, eventID), 1, c.ttl).Err(); err != nil {
		c.logger.Warn("dedup cache write failed", zap.String("consumer", consumer), zap.Error(err))
	}
	return nil
}
