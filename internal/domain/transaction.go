package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction represents the direction of a transaction leg
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// TransactionStatus represents the lifecycle status of a transaction record
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// CategoryAutomation tags records written by automated transfers
const CategoryAutomation = "AUTOMATION"

// TransferClass decides which destination kinds a transfer may credit
type TransferClass string

const (
	TransferClassAutomated TransferClass = "AUTOMATED"
	TransferClassManual    TransferClass = "MANUAL"
)

// AutomationTargets is the set of kinds allowed to receive automated contributions
var AutomationTargets = []AccountKind{AccountKindSavings, AccountKindGoal}

// AllowsDestination reports whether the class may credit an account of the given kind
func (c TransferClass) AllowsDestination(kind AccountKind) bool {
	switch c {
	case TransferClassAutomated:
		for _, allowed := range AutomationTargets {
			if kind == allowed {
				return true
			}
		}
		return false
	case TransferClassManual:
		return kind.Valid()
	default:
		return false
	}
}

// TransferRequest describes a single funds movement attempt.
// It is built per attempt and never persisted on its own.
type TransferRequest struct {
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               decimal.Decimal
	Currency             string
	Description          string
	Category             string
	Class                TransferClass
	IdempotencyKey       string
}

// Validate checks the request shape before any account is loaded
func (r *TransferRequest) Validate() error {
	if r.SourceAccountID == uuid.Nil || r.DestinationAccountID == uuid.Nil {
		return NewError(ErrKindInvalidRequest, "validate_request", errors.New("source and destination account IDs are required"))
	}

	if r.SourceAccountID == r.DestinationAccountID {
		return NewError(ErrKindInvalidRequest, "validate_request", ErrSameAccount)
	}

	if !r.Amount.IsPositive() {
		return NewError(ErrKindInvalidRequest, "validate_request", ErrInvalidAmount)
	}

	if r.Currency == "" {
		return NewError(ErrKindInvalidRequest, "validate_request", errors.New("currency is required"))
	}

	if r.IdempotencyKey == "" {
		return NewError(ErrKindInvalidRequest, "validate_request", errors.New("idempotency key is required"))
	}

	if r.Class != TransferClassAutomated && r.Class != TransferClassManual {
		return NewError(ErrKindInvalidRequest, "validate_request", errors.New("transfer class must be AUTOMATED or MANUAL"))
	}

	return nil
}

// CheckAccounts validates both loaded accounts against the request.
// Balance is not checked here; it belongs to the commit scope.
func (r *TransferRequest) CheckAccounts(source, destination *Account) error {
	if !source.Active || !destination.Active {
		return NewError(ErrKindInvalidRequest, "check_accounts", ErrAccountInactive)
	}

	if source.Currency != r.Currency || destination.Currency != r.Currency {
		return NewError(ErrKindInvalidRequest, "check_accounts", ErrCurrencyMismatch)
	}

	if !r.Class.AllowsDestination(destination.Kind) {
		return NewError(ErrKindInvalidRequest, "check_accounts", ErrKindNotAllowed)
	}

	return nil
}

// CheckCommit is run by account stores inside the commit scope.
// A currency mismatch here means it slipped past the executor's checks, so
// it is reported as an invariant violation rather than a bad request.
func (r *TransferRequest) CheckCommit(source, destination *Account) error {
	if err := r.CheckAccounts(source, destination); err != nil {
		if errors.Is(err, ErrCurrencyMismatch) {
			return NewError(ErrKindInvariantViolation, "commit_transfer", ErrCurrencyMismatch)
		}
		return err
	}

	if !source.HasSufficientFunds(r.Amount) {
		return NewError(ErrKindInsufficientFunds, "commit_transfer", ErrInsufficientFunds)
	}

	return nil
}

// TransactionRecord is an immutable audit entry for one leg of a committed transfer
type TransactionRecord struct {
	ID                   uuid.UUID
	AccountID            uuid.UUID
	CounterpartAccountID uuid.UUID
	Amount               decimal.Decimal // ABSOLUTE VALUE (Always Positive)
	Direction            Direction
	Category             string
	Description          string
	IdempotencyKey       string
	Status               TransactionStatus
	Timestamp            time.Time
}

// Validate ensures the record adheres to domain rules
func (t *TransactionRecord) Validate() error {
	if t.AccountID == uuid.Nil || t.CounterpartAccountID == uuid.Nil {
		return errors.New("record must reference an account and a counterpart")
	}

	if t.Amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("record amount must be positive (absolute value)")
	}

	if t.Direction != DirectionDebit && t.Direction != DirectionCredit {
		return errors.New("record direction must be DEBIT or CREDIT")
	}

	switch t.Status {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
	default:
		return errors.New("record status must be PENDING, COMPLETED, or FAILED")
	}

	return nil
}

// NewTransferLegs builds the debit and credit records of one committed transfer
func NewTransferLegs(req TransferRequest, at time.Time) []TransactionRecord {
	category := req.Category
	if category == "" {
		category = CategoryAutomation
	}

	debit := TransactionRecord{
		ID:                   uuid.New(),
		AccountID:            req.SourceAccountID,
		CounterpartAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Direction:            DirectionDebit,
		Category:             category,
		Description:          req.Description,
		IdempotencyKey:       req.IdempotencyKey,
		Status:               TransactionStatusCompleted,
		Timestamp:            at,
	}

	credit := debit
	credit.ID = uuid.New()
	credit.AccountID = req.DestinationAccountID
	credit.CounterpartAccountID = req.SourceAccountID
	credit.Direction = DirectionCredit

	return []TransactionRecord{debit, credit}
}

// CommitResult is what the account store returns for a commit.
// Replayed is set when the idempotency key had already committed and no
// balance was touched.
type CommitResult struct {
	Records  []TransactionRecord
	Replayed bool
}
