package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AutomationRule represents a recurring automated transfer between two accounts.
// NextEligible is advanced only after a committed run; failures and
// retries leave it untouched so the same period can be re-attempted.
type AutomationRule struct {
	ID                   uuid.UUID
	OwnerID              uuid.UUID
	Name                 string
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               decimal.Decimal
	Currency             string
	Recurrence           RecurrencePolicy
	NextEligible         time.Time
	Enabled              bool
}

// Validate ensures the automation rule adheres to domain rules
func (r *AutomationRule) Validate() error {
	if r.SourceAccountID == uuid.Nil || r.DestinationAccountID == uuid.Nil {
		return errors.New("automation rule must reference a source and a destination account")
	}

	if r.SourceAccountID == r.DestinationAccountID {
		return errors.New("automation rule source and destination must differ")
	}

	if !r.Amount.IsPositive() {
		return errors.New("automation rule amount must be positive")
	}

	if r.Currency == "" {
		return errors.New("automation rule currency cannot be empty")
	}

	if r.NextEligible.IsZero() {
		return errors.New("automation rule must have a next eligible timestamp")
	}

	if err := r.Recurrence.Validate(); err != nil {
		return fmt.Errorf("automation rule recurrence: %w", err)
	}

	return nil
}

// IsDue reports whether the rule should be considered for a run at now
func (r *AutomationRule) IsDue(now time.Time) bool {
	return r.Enabled && !r.NextEligible.After(now)
}

// CurrentPeriod returns the start of the recurrence window the rule is in at now
func (r *AutomationRule) CurrentPeriod(now time.Time) (time.Time, error) {
	return r.Recurrence.CurrentPeriod(r.NextEligible, now)
}

// NextAfter returns the next eligible timestamp once period has committed
func (r *AutomationRule) NextAfter(period time.Time) (time.Time, error) {
	return r.Recurrence.Next(period)
}

// TransferRequest builds the executor request for one period
func (r *AutomationRule) TransferRequest(period time.Time) TransferRequest {
	return TransferRequest{
		SourceAccountID:      r.SourceAccountID,
		DestinationAccountID: r.DestinationAccountID,
		Amount:               r.Amount,
		Currency:             r.Currency,
		Description:          r.Name,
		Category:             CategoryAutomation,
		Class:                TransferClassAutomated,
		IdempotencyKey:       IdempotencyKey(r.ID, period),
	}
}

// IdempotencyKey derives the transfer key of a rule period.
// The same (rule, period) always yields the same key.
func IdempotencyKey(ruleID uuid.UUID, period time.Time) string {
	return fmt.Sprintf("automation/%s/%s", ruleID, period.UTC().Format(time.RFC3339))
}
