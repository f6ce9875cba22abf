package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/infra/metrics"
)

var _ adapter.IdempotencyCache = (*IdempotencyCache)(nil)

// IdempotencyCache stores idempotency keys for pay-link requests.
type IdempotencyCache struct {
	client RedisClient
	prefix string
}

func NewIdempotencyCache(client RedisClient) *IdempotencyCache {
	return &IdempotencyCache{client: client, prefix: "idem:"}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key)
	if errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest("idempotency", "miss")
		return "", false, nil
	}
	if err != nil {
		metrics.IncCacheRequest("idempotency", "error")
		return "", false, err
	}
	metrics.IncCacheRequest("idempotency", "hit")
	return v, true, nil
}

func (c *IdempotencyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl)
}
