package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/wealthflow-automation/internal/domain"
)

// DefaultClaimTTL bounds how long an abandoned claim blocks its period
const DefaultClaimTTL = 2 * time.Minute

// RuleStore implements domain.RuleStore and domain.RuleWriter in process
type RuleStore struct {
	mu     sync.Mutex
	rules  map[uuid.UUID]*domain.AutomationRule
	claims map[string]time.Time // claim key -> expiry

	ttl time.Duration
	now func() time.Time
}

// NewRuleStore creates an empty rule store. A non-positive ttl uses DefaultClaimTTL.
func NewRuleStore(ttl time.Duration) *RuleStore {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RuleStore{
		rules:  make(map[uuid.UUID]*domain.AutomationRule),
		claims: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// CreateRule stores a copy of rule
func (s *RuleStore) CreateRule(ctx context.Context, rule *domain.AutomationRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("failed to create automation rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("automation rule %s already exists", rule.ID)
	}

	stored := *rule
	stored.NextEligible = stored.NextEligible.UTC()
	s.rules[stored.ID] = &stored

	return nil
}

// GetRule retrieves a copy of the rule
func (s *RuleStore) GetRule(ctx context.Context, id uuid.UUID) (*domain.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, domain.NewError(domain.ErrKindNotFound, "get_rule", fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id))
	}

	copied := *rule
	return &copied, nil
}

// GetDueRules returns enabled rules with NextEligible <= now, oldest first
func (s *RuleStore) GetDueRules(ctx context.Context, now time.Time) ([]*domain.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.AutomationRule
	for _, rule := range s.rules {
		if rule.IsDue(now) {
			copied := *rule
			due = append(due, &copied)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextEligible.Equal(due[j].NextEligible) {
			return due[i].ID.String() < due[j].ID.String()
		}
		return due[i].NextEligible.Before(due[j].NextEligible)
	})

	return due, nil
}

// AdvanceRule sets NextEligible to next only if it still equals from
func (s *RuleStore) AdvanceRule(ctx context.Context, id uuid.UUID, from, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return false, domain.NewError(domain.ErrKindNotFound, "advance_rule", fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id))
	}

	if !rule.NextEligible.Equal(from) {
		return false, nil
	}

	rule.NextEligible = next.UTC()
	return true, nil
}

// SetEnabled enables or disables a rule
func (s *RuleStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return domain.NewError(domain.ErrKindNotFound, "set_enabled", fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id))
	}

	rule.Enabled = enabled
	return nil
}

// Claim takes the in-flight marker for (rule, period) until it is released or expires
func (s *RuleStore) Claim(ctx context.Context, id uuid.UUID, period time.Time) (bool, error) {
	key := domain.IdempotencyKey(id, period)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, held := s.claims[key]; held && expiry.After(now) {
		return false, nil
	}

	s.claims[key] = now.Add(s.ttl)
	return true, nil
}

// Release drops the in-flight marker for (rule, period)
func (s *RuleStore) Release(ctx context.Context, id uuid.UUID, period time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, domain.IdempotencyKey(id, period))
	return nil
}
