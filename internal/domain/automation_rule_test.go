package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weeklyRule() AutomationRule {
	return AutomationRule{
		ID:                   uuid.New(),
		OwnerID:              uuid.New(),
		Name:                 "Weekly savings",
		SourceAccountID:      uuid.New(),
		DestinationAccountID: uuid.New(),
		Amount:               decimal.NewFromInt(200),
		Currency:             "EUR",
		Recurrence: RecurrencePolicy{
			Kind:     RecurrenceInterval,
			Interval: Interval{Unit: IntervalWeek, Every: 1},
		},
		NextEligible: time.Date(2026, 10, 5, 8, 0, 0, 0, time.UTC),
		Enabled:      true,
	}
}

func TestAutomationRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *AutomationRule)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid weekly rule",
			mutate: func(r *AutomationRule) {},
		},
		{
			name:    "zero amount",
			mutate:  func(r *AutomationRule) { r.Amount = decimal.Zero },
			wantErr: true,
			errMsg:  "automation rule amount must be positive",
		},
		{
			name: "same source and destination",
			mutate: func(r *AutomationRule) {
				r.DestinationAccountID = r.SourceAccountID
			},
			wantErr: true,
			errMsg:  "automation rule source and destination must differ",
		},
		{
			name:    "missing destination",
			mutate:  func(r *AutomationRule) { r.DestinationAccountID = uuid.Nil },
			wantErr: true,
			errMsg:  "automation rule must reference a source and a destination account",
		},
		{
			name:    "missing currency",
			mutate:  func(r *AutomationRule) { r.Currency = "" },
			wantErr: true,
			errMsg:  "automation rule currency cannot be empty",
		},
		{
			name:    "missing next eligible",
			mutate:  func(r *AutomationRule) { r.NextEligible = time.Time{} },
			wantErr: true,
			errMsg:  "automation rule must have a next eligible timestamp",
		},
		{
			name: "interval every zero",
			mutate: func(r *AutomationRule) {
				r.Recurrence.Interval.Every = 0
			},
			wantErr: true,
			errMsg:  "automation rule recurrence: interval must repeat at least every 1 unit",
		},
		{
			name: "threshold without threshold value",
			mutate: func(r *AutomationRule) {
				r.Recurrence.Kind = RecurrenceThreshold
			},
			wantErr: true,
			errMsg:  "automation rule recurrence: threshold must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := weeklyRule()
			tt.mutate(&rule)

			err := rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.errMsg, err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAutomationRule_IsDue(t *testing.T) {
	rule := weeklyRule()

	assert.False(t, rule.IsDue(rule.NextEligible.Add(-time.Second)))
	assert.True(t, rule.IsDue(rule.NextEligible))
	assert.True(t, rule.IsDue(rule.NextEligible.Add(time.Hour)))

	rule.Enabled = false
	assert.False(t, rule.IsDue(rule.NextEligible.Add(time.Hour)))
}

func TestAutomationRule_TransferRequest(t *testing.T) {
	rule := weeklyRule()
	period := rule.NextEligible

	req := rule.TransferRequest(period)

	assert.Equal(t, rule.SourceAccountID, req.SourceAccountID)
	assert.Equal(t, rule.DestinationAccountID, req.DestinationAccountID)
	assert.True(t, rule.Amount.Equal(req.Amount))
	assert.Equal(t, TransferClassAutomated, req.Class)
	assert.Equal(t, IdempotencyKey(rule.ID, period), req.IdempotencyKey)
	require.NoError(t, req.Validate())
}

func TestIdempotencyKey_StablePerPeriod(t *testing.T) {
	ruleID := uuid.MustParse("7a0c8f7e-2b44-4a57-9e4a-0f1b5e0b9d31")
	period := time.Date(2026, 10, 5, 8, 0, 0, 0, time.UTC)
	samePeriodOtherZone := period.In(time.FixedZone("CEST", 2*60*60))

	assert.Equal(t, "automation/7a0c8f7e-2b44-4a57-9e4a-0f1b5e0b9d31/2026-10-05T08:00:00Z", IdempotencyKey(ruleID, period))
	assert.Equal(t, IdempotencyKey(ruleID, period), IdempotencyKey(ruleID, samePeriodOtherZone))
	assert.NotEqual(t, IdempotencyKey(ruleID, period), IdempotencyKey(ruleID, period.AddDate(0, 0, 7)))
}

func TestAutomationRule_CurrentPeriodAndNextAfter(t *testing.T) {
	rule := weeklyRule()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	period, err := rule.CurrentPeriod(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC), period)

	next, err := rule.NextAfter(period)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), next)
	assert.True(t, next.After(now))
}
