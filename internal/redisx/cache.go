package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OrderCache is a read-through cache of order snapshots. Writers drop the
// key on every status change; readers fall back to the store on any miss or
// Redis error, so the cache is never load-bearing.
type OrderCache struct {
	rdb *redis.Client
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	return &OrderCache{rdb: rdb}
}

func (c *OrderCache) Get(ctx context.Context, orderID string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderCache, orderID)).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *OrderCache) Set(ctx context.Context, orderID string, raw []byte) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderCache, orderID), raw, TTLOrderCache).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderCache, orderID)).Err()
}
