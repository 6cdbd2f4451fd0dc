package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/verdantops/verdant-events/pkg/redis"
)

// Store is the subset of the redis client the consumer framework needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
}

// IdempotencyGuard is the redis fast path in front of the durable
// consumed_events table. The mark is written only after the durable record
// committed, so a present key always means the event is done; a miss, redis
// outage or expired key falls through to the durable check, so correctness
// never depends on redis.
type IdempotencyGuard struct {
	store Store
	ttl   time.Duration
}

func NewIdempotencyGuard(store Store, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// WasProcessed reports whether the processed-mark exists for this consumer.
func (g *IdempotencyGuard) WasProcessed(ctx context.Context, consumerName, eventID string) (bool, error) {
	key, err := redis.IdempotencyKey(consumerName, eventID)
	if err != nil {
		return false, err
	}
	if _, err := g.store.Get(ctx, key); err != nil {
		if errors.Is(err, redis.ErrNil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed writes the processed-mark. Callers must only invoke this
// after the consumed record committed.
func (g *IdempotencyGuard) MarkProcessed(ctx context.Context, consumerName, eventID string) error {
	key, err := redis.IdempotencyKey(consumerName, eventID)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, key, "1", g.ttl)
}

// Release drops the processed-mark. Used by dead letter replay so the
// republished delivery reaches the handler instead of the fast path.
func (g *IdempotencyGuard) Release(ctx context.Context, consumerName, eventID string) error {
	key, err := redis.IdempotencyKey(consumerName, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}
