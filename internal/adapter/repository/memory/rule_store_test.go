package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRule(nextEligible time.Time) *domain.AutomationRule {
	return &domain.AutomationRule{
		ID:                   uuid.New(),
		OwnerID:              uuid.New(),
		Name:                 "Weekly savings",
		SourceAccountID:      uuid.New(),
		DestinationAccountID: uuid.New(),
		Amount:               decimal.NewFromInt(200),
		Currency:             "EUR",
		Recurrence: domain.RecurrencePolicy{
			Kind:     domain.RecurrenceInterval,
			Interval: domain.Interval{Unit: domain.IntervalWeek, Every: 1},
		},
		NextEligible: nextEligible,
		Enabled:      true,
	}
}

func TestRuleStore_GetDueRules(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(time.Minute)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	older := newRule(now.Add(-48 * time.Hour))
	recent := newRule(now.Add(-time.Hour))
	future := newRule(now.Add(time.Hour))
	disabled := newRule(now.Add(-time.Hour))
	disabled.Enabled = false

	for _, rule := range []*domain.AutomationRule{recent, future, older, disabled} {
		require.NoError(t, store.CreateRule(ctx, rule))
	}

	due, err := store.GetDueRules(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, older.ID, due[0].ID)
	assert.Equal(t, recent.ID, due[1].ID)
}

func TestRuleStore_AdvanceRule_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(time.Minute)
	from := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	rule := newRule(from)
	require.NoError(t, store.CreateRule(ctx, rule))

	next := from.AddDate(0, 0, 7)

	advanced, err := store.AdvanceRule(ctx, rule.ID, from, next)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = store.AdvanceRule(ctx, rule.ID, from, next)
	require.NoError(t, err)
	assert.False(t, advanced, "second advance from the stale value loses")

	stored, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, next, stored.NextEligible)

	_, err = store.AdvanceRule(ctx, uuid.New(), from, next)
	assert.Equal(t, domain.ErrKindNotFound, domain.KindOf(err))
}

func TestRuleStore_Claim(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(time.Minute)
	clock := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	ruleID := uuid.New()
	period := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

	ok, err := store.Claim(ctx, ruleID, period)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.Claim(ctx, ruleID, period)
	assert.False(t, ok, "held claim")

	ok, _ = store.Claim(ctx, ruleID, period.AddDate(0, 0, 7))
	assert.True(t, ok, "other period is independent")

	clock = clock.Add(2 * time.Minute)
	ok, _ = store.Claim(ctx, ruleID, period)
	assert.True(t, ok, "expired claim can be taken over")

	require.NoError(t, store.Release(ctx, ruleID, period))
	ok, _ = store.Claim(ctx, ruleID, period)
	assert.True(t, ok, "released claim")
}

func TestRuleStore_SetEnabled(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(0)
	rule := newRule(time.Now())
	require.NoError(t, store.CreateRule(ctx, rule))

	require.NoError(t, store.SetEnabled(ctx, rule.ID, false))
	stored, _ := store.GetRule(ctx, rule.ID)
	assert.False(t, stored.Enabled)

	assert.Error(t, store.SetEnabled(ctx, uuid.New(), true))
}

func TestAttemptTracker(t *testing.T) {
	ctx := context.Background()
	tracker := NewAttemptTracker()

	n, _ := tracker.Increment(ctx, "a")
	assert.Equal(t, 1, n)
	n, _ = tracker.Increment(ctx, "a")
	assert.Equal(t, 2, n)

	n, _ = tracker.Attempts(ctx, "b")
	assert.Equal(t, 0, n)

	require.NoError(t, tracker.Reset(ctx, "a"))
	n, _ = tracker.Attempts(ctx, "a")
	assert.Equal(t, 0, n)
}
