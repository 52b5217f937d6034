package redisx

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers which event ids a consumer has already applied. Seen is
// checked before handling and Mark is written after, so a crash between the
// two redelivers the event instead of losing it. Handlers stay idempotent
// regardless; dedup only saves them the repeated work.
type Deduper interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Mark(ctx context.Context, consumer, eventID string) error
}

type RedisDeduper struct {
	rdb *redis.Client
}

func NewDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	ok, err := Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, consumer, eventID))
	if err != nil {
		return false, errors.Wrap(err, "dedup lookup")
	}
	return ok, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, consumer, eventID string) error {
	key := fmt.Sprintf(KeyDedup, consumer, eventID)
	if err := d.rdb.Set(ctx, key, 1, TTLDedup).Err(); err != nil {
		return errors.Wrap(err, "dedup mark")
	}
	return nil
}

// MemoryDeduper is the in-process stand-in for tests and the standalone
// binary.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Seen(_ context.Context, consumer, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[consumer+":"+eventID]
	return ok, nil
}

func (d *MemoryDeduper) Mark(_ context.Context, consumer, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[consumer+":"+eventID] = struct{}{}
	return nil
}
