package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
)

// Fixed UUIDs for the demo data set
var (
	DemoOwnerID    = uuid.MustParse("00000000-0000-0000-0000-00000000a000")
	DemoCheckingID = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	DemoGoalID     = uuid.MustParse("00000000-0000-0000-0000-00000000a002")
	DemoRuleID     = uuid.MustParse("00000000-0000-0000-0000-00000000a101")
)

// AccountRepository is what the seeder needs from an account store
type AccountRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
}

// RuleRepository is what the seeder needs from a rule store
type RuleRepository interface {
	GetRule(ctx context.Context, id uuid.UUID) (*domain.AutomationRule, error)
	CreateRule(ctx context.Context, rule *domain.AutomationRule) error
}

// DemoSeeder creates a small, fixed data set for local runs
type DemoSeeder struct {
	accounts AccountRepository
	rules    RuleRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewDemoSeeder creates a new DemoSeeder instance
func NewDemoSeeder(accounts AccountRepository, rules RuleRepository, logger *zap.Logger) *DemoSeeder {
	return &DemoSeeder{
		accounts: accounts,
		rules:    rules,
		logger:   logging.OrNop(logger).Named("seeder"),
		now:      time.Now,
	}
}

// Seed ensures the demo accounts and rule exist.
// Existing entities are left untouched.
func (s *DemoSeeder) Seed(ctx context.Context) error {
	accounts := []*domain.Account{
		{
			ID:       DemoCheckingID,
			OwnerID:  DemoOwnerID,
			Name:     "Main Checking",
			Kind:     domain.AccountKindChecking,
			Balance:  decimal.NewFromInt(2500),
			Currency: "EUR",
			Active:   true,
		},
		{
			ID:       DemoGoalID,
			OwnerID:  DemoOwnerID,
			Name:     "Emergency Fund",
			Kind:     domain.AccountKindGoal,
			Balance:  decimal.Zero,
			Currency: "EUR",
			Active:   true,
		},
	}

	for _, account := range accounts {
		_, err := s.accounts.GetAccount(ctx, account.ID)
		if err == nil {
			continue
		}
		if domain.KindOf(err) != domain.ErrKindNotFound {
			return fmt.Errorf("failed to look up demo account %s: %w", account.ID, err)
		}

		if err := account.Validate(); err != nil {
			return err
		}
		if err := s.accounts.CreateAccount(ctx, account); err != nil {
			return err
		}
		s.logger.Info("seeded demo account", zap.String("account_id", account.ID.String()), zap.String("name", account.Name))
	}

	_, err := s.rules.GetRule(ctx, DemoRuleID)
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.ErrKindNotFound {
		return fmt.Errorf("failed to look up demo rule: %w", err)
	}

	rule := &domain.AutomationRule{
		ID:                   DemoRuleID,
		OwnerID:              DemoOwnerID,
		Name:                 "Weekly emergency fund",
		SourceAccountID:      DemoCheckingID,
		DestinationAccountID: DemoGoalID,
		Amount:               decimal.NewFromInt(50),
		Currency:             "EUR",
		Recurrence: domain.RecurrencePolicy{
			Kind:     domain.RecurrenceInterval,
			Interval: domain.Interval{Unit: domain.IntervalWeek, Every: 1},
		},
		NextEligible: nextMonday(s.now()),
		Enabled:      true,
	}

	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return err
	}
	s.logger.Info("seeded demo rule", zap.String("rule_id", rule.ID.String()), zap.Time("next_eligible", rule.NextEligible))

	return nil
}

// nextMonday returns the first Monday 08:00 UTC strictly after now
func nextMonday(now time.Time) time.Time {
	now = now.UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, time.UTC)
	for t.Weekday() != time.Monday || !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
