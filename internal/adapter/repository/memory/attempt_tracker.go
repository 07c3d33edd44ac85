package memory

import (
	"context"
	"sync"
)

// AttemptTracker implements domain.AttemptTracker in process
type AttemptTracker struct {
	mu       sync.Mutex
	attempts map[string]int
}

// NewAttemptTracker creates an empty tracker
func NewAttemptTracker() *AttemptTracker {
	return &AttemptTracker{attempts: make(map[string]int)}
}

func (t *AttemptTracker) Attempts(ctx context.Context, key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.attempts[key], nil
}

func (t *AttemptTracker) Increment(ctx context.Context, key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[key]++
	return t.attempts[key], nil
}

func (t *AttemptTracker) Reset(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.attempts, key)
	return nil
}
