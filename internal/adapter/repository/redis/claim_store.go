package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/simaogato/wealthflow-automation/internal/domain"
)

const claimPrefix = "wealthflow:automation:claim:"

// releaseScript deletes the claim only if it still carries our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ClaimStore wraps a domain.RuleStore and moves its claims to Redis so
// several engine instances share one in-flight marker per (rule, period).
type ClaimStore struct {
	domain.RuleStore

	client goredis.UniversalClient
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewClaimStore creates a new claim store over rules
func NewClaimStore(rules domain.RuleStore, client goredis.UniversalClient, ttl time.Duration) *ClaimStore {
	return &ClaimStore{
		RuleStore: rules,
		client:    client,
		ttl:       ttl,
		tokens:    make(map[string]string),
	}
}

// Claim sets the claim key with SET NX PX
func (s *ClaimStore) Claim(ctx context.Context, id uuid.UUID, period time.Time) (bool, error) {
	key := claimPrefix + domain.IdempotencyKey(id, period)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	s.tokens[key] = token
	s.mu.Unlock()

	return true, nil
}

// Release deletes the claim key if this instance still owns it
func (s *ClaimStore) Release(ctx context.Context, id uuid.UUID, period time.Time) error {
	key := claimPrefix + domain.IdempotencyKey(id, period)

	s.mu.Lock()
	token, ok := s.tokens[key]
	delete(s.tokens, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}
