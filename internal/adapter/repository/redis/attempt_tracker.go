package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const attemptPrefix = "wealthflow:automation:attempts:"

// DefaultAttemptTTL keeps counters of abandoned periods from living forever
const DefaultAttemptTTL = 7 * 24 * time.Hour

// AttemptTracker implements domain.AttemptTracker on Redis counters
type AttemptTracker struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewAttemptTracker creates a new attempt tracker
func NewAttemptTracker(client goredis.UniversalClient, ttl time.Duration) *AttemptTracker {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return &AttemptTracker{client: client, ttl: ttl}
}

// Attempts returns the recorded attempts for key
func (t *AttemptTracker) Attempts(ctx context.Context, key string) (int, error) {
	n, err := t.client.Get(ctx, attemptPrefix+key).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return n, nil
}

// Increment records one attempt and refreshes the counter TTL
func (t *AttemptTracker) Increment(ctx context.Context, key string) (int, error) {
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, attemptPrefix+key)
	pipe.Expire(ctx, attemptPrefix+key, t.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return int(incr.Val()), nil
}

// Reset deletes the counter
func (t *AttemptTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, attemptPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}
