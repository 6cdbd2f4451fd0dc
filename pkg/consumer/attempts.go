package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/verdantops/verdant-events/pkg/redis"
)

// AttemptCounter tracks delivery attempts per (event, consumer) across
// redeliveries. If redis is unavailable the dispatcher treats the attempt as
// the first one: the event retries longer than configured rather than being
// dead-lettered early.
type AttemptCounter struct {
	store Store
	ttl   time.Duration
}

func NewAttemptCounter(store Store, ttl time.Duration) (*AttemptCounter, error) {
	if store == nil {
		return nil, errors.New("attempt store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &AttemptCounter{store: store, ttl: ttl}, nil
}

// Incr records one more delivery attempt and returns the running total.
func (c *AttemptCounter) Incr(ctx context.Context, consumerName, eventID string) (int64, error) {
	key, err := redis.AttemptsKey(consumerName, eventID)
	if err != nil {
		return 0, err
	}
	return c.store.IncrWithTTL(ctx, key, c.ttl)
}

// Reset clears the counter once the event reaches a terminal state.
func (c *AttemptCounter) Reset(ctx context.Context, consumerName, eventID string) error {
	key, err := redis.AttemptsKey(consumerName, eventID)
	if err != nil {
		return err
	}
	return c.store.Del(ctx, key)
}
