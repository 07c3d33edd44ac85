package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry decisions
type ErrorKind string

const (
	ErrKindNotFound           ErrorKind = "NOT_FOUND"
	ErrKindInvalidRequest     ErrorKind = "INVALID_REQUEST"
	ErrKindInsufficientFunds  ErrorKind = "INSUFFICIENT_FUNDS"
	ErrKindTimeout            ErrorKind = "TIMEOUT"
	ErrKindStoreUnavailable   ErrorKind = "STORE_UNAVAILABLE"
	ErrKindAlreadyProcessed   ErrorKind = "ALREADY_PROCESSED"
	ErrKindCancelled          ErrorKind = "CANCELLED"
	ErrKindInvariantViolation ErrorKind = "INVARIANT_VIOLATION"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindInsufficientFunds, ErrKindTimeout, ErrKindStoreUnavailable, ErrKindCancelled:
		return true
	default:
		return false
	}
}

// Error is a business error carrying its classification.
// Op names the operation that failed (e.g. "commit_transfer").
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

var (
	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrRuleNotFound is returned when an automation rule doesn't exist
	ErrRuleNotFound = errors.New("automation rule not found")

	// ErrInsufficientFunds is returned when the source balance is below the amount
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned when the transfer amount is not positive
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSameAccount is returned when source and destination are the same account
	ErrSameAccount = errors.New("source and destination must be different accounts")

	// ErrCurrencyMismatch is returned when accounts and request currencies differ
	ErrCurrencyMismatch = errors.New("currency mismatch between accounts and transfer")

	// ErrKindNotAllowed is returned when the destination kind cannot receive this transfer class
	ErrKindNotAllowed = errors.New("destination account kind not allowed for transfer class")

	// ErrAccountInactive is returned when either account is not active
	ErrAccountInactive = errors.New("account is not active")

	// ErrRuleDisabled is returned when a run is requested for a disabled rule
	ErrRuleDisabled = errors.New("automation rule is disabled")

	// ErrAttemptsExhausted is returned when a period used up its retry budget
	ErrAttemptsExhausted = errors.New("retry attempts exhausted for period")
)

// KindOf classifies any error.
// Unclassified errors are treated as store unavailability so they are retried
// a bounded number of times.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrRuleNotFound):
		return ErrKindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return ErrKindInsufficientFunds
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrKindNotAllowed),
		errors.Is(err, ErrAccountInactive):
		return ErrKindInvalidRequest
	}

	return ErrKindStoreUnavailable
}
