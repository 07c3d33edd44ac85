package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind represents the kind of account in the system
type AccountKind string

const (
	AccountKindChecking AccountKind = "CHECKING"
	AccountKindSavings  AccountKind = "SAVINGS"
	AccountKindGoal     AccountKind = "GOAL"
	AccountKindCredit   AccountKind = "CREDIT"
)

// Valid reports whether the kind belongs to the closed set of account kinds
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindChecking, AccountKindSavings, AccountKindGoal, AccountKindCredit:
		return true
	default:
		return false
	}
}

// Account represents an account entity in the domain layer.
// Balance is mutated only by the account store's commit primitive.
type Account struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Kind      AccountKind
	Balance   decimal.Decimal
	Currency  string // Opaque tag, never converted
	Active    bool
	Version   int64 // Incremented on every committed leg
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate ensures the account adheres to domain rules
func (a *Account) Validate() error {
	if a.Name == "" {
		return errors.New("account name cannot be empty")
	}

	if !a.Kind.Valid() {
		return errors.New("account kind must be CHECKING, SAVINGS, GOAL, or CREDIT")
	}

	if a.Currency == "" {
		return errors.New("account currency cannot be empty")
	}

	if a.Balance.IsNegative() {
		return errors.New("account balance cannot be negative")
	}

	return nil
}

// HasSufficientFunds checks if the account balance covers the given amount
func (a *Account) HasSufficientFunds(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
