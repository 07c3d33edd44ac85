package seeder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/simaogato/wealthflow-automation/internal/domain"
)

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockAccountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// MockRuleRepository is a mock implementation of RuleRepository
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) GetRule(ctx context.Context, id uuid.UUID) (*domain.AutomationRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutomationRule), args.Error(1)
}

func (m *MockRuleRepository) CreateRule(ctx context.Context, rule *domain.AutomationRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func notFound() error {
	return domain.NewError(domain.ErrKindNotFound, "get", errors.New("not found"))
}

func newTestSeeder(accounts *MockAccountRepository, rules *MockRuleRepository) *DemoSeeder {
	s := NewDemoSeeder(accounts, rules, nil)
	s.now = func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestDemoSeeder_Seed_EverythingMissing(t *testing.T) {
	ctx := context.Background()
	accounts := new(MockAccountRepository)
	rules := new(MockRuleRepository)

	accounts.On("GetAccount", ctx, DemoCheckingID).Return(nil, notFound())
	accounts.On("GetAccount", ctx, DemoGoalID).Return(nil, notFound())
	rules.On("GetRule", ctx, DemoRuleID).Return(nil, notFound())

	accounts.On("CreateAccount", ctx, mock.MatchedBy(func(a *domain.Account) bool {
		return a.ID == DemoCheckingID &&
			a.Kind == domain.AccountKindChecking &&
			a.Balance.Equal(decimal.NewFromInt(2500))
	})).Return(nil)

	accounts.On("CreateAccount", ctx, mock.MatchedBy(func(a *domain.Account) bool {
		return a.ID == DemoGoalID &&
			a.Kind == domain.AccountKindGoal &&
			a.Balance.Equal(decimal.Zero)
	})).Return(nil)

	rules.On("CreateRule", ctx, mock.MatchedBy(func(r *domain.AutomationRule) bool {
		return r.ID == DemoRuleID &&
			r.SourceAccountID == DemoCheckingID &&
			r.DestinationAccountID == DemoGoalID &&
			r.Enabled &&
			r.NextEligible.Equal(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	})).Return(nil)

	err := newTestSeeder(accounts, rules).Seed(ctx)

	assert.NoError(t, err)
	accounts.AssertExpectations(t)
	rules.AssertExpectations(t)
}

func TestDemoSeeder_Seed_AlreadySeeded(t *testing.T) {
	ctx := context.Background()
	accounts := new(MockAccountRepository)
	rules := new(MockRuleRepository)

	accounts.On("GetAccount", ctx, DemoCheckingID).Return(&domain.Account{ID: DemoCheckingID}, nil)
	accounts.On("GetAccount", ctx, DemoGoalID).Return(&domain.Account{ID: DemoGoalID}, nil)
	rules.On("GetRule", ctx, DemoRuleID).Return(&domain.AutomationRule{ID: DemoRuleID}, nil)

	err := newTestSeeder(accounts, rules).Seed(ctx)

	assert.NoError(t, err)
	accounts.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
	rules.AssertNotCalled(t, "CreateRule", mock.Anything, mock.Anything)
}

func TestDemoSeeder_Seed_LookupFailure(t *testing.T) {
	ctx := context.Background()
	accounts := new(MockAccountRepository)
	rules := new(MockRuleRepository)

	accounts.On("GetAccount", ctx, DemoCheckingID).Return(nil, errors.New("connection refused"))

	err := newTestSeeder(accounts, rules).Seed(ctx)

	assert.Error(t, err)
	accounts.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
}

func TestDemoSeeder_Seed_CreateFailure(t *testing.T) {
	ctx := context.Background()
	accounts := new(MockAccountRepository)
	rules := new(MockRuleRepository)

	accounts.On("GetAccount", ctx, DemoCheckingID).Return(nil, notFound())
	accounts.On("CreateAccount", ctx, mock.Anything).Return(errors.New("database error"))

	err := newTestSeeder(accounts, rules).Seed(ctx)

	assert.Error(t, err)
	rules.AssertNotCalled(t, "GetRule", mock.Anything, mock.Anything)
}

func TestNextMonday(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{"wednesday", time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)},
		{"monday before eight", time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)},
		{"monday at eight", time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nextMonday(tt.now))
		})
	}
}
