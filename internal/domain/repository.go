package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore is the ledger's source of truth
type AccountStore interface {
	// GetAccount retrieves an account by its ID.
	// Returns ErrAccountNotFound if it doesn't exist.
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	// CommitTransfer debits the source, credits the destination and writes one
	// record per leg as a single atomic unit. The balance check happens inside
	// the same per-account commit scope. A key that already committed returns
	// the prior records with Replayed set and touches nothing.
	CommitTransfer(ctx context.Context, req TransferRequest) (*CommitResult, error)

	// RecordsByKey returns the records committed under an idempotency key,
	// empty when the key never committed
	RecordsByKey(ctx context.Context, key string) ([]TransactionRecord, error)
}

// AccountWriter creates accounts. Used by account management and seeding,
// never by the transfer path.
type AccountWriter interface {
	CreateAccount(ctx context.Context, account *Account) error
}

// RuleStore defines the persistence operations the automation engine needs
type RuleStore interface {
	// GetRule retrieves a rule by its ID. Returns ErrRuleNotFound if missing.
	GetRule(ctx context.Context, id uuid.UUID) (*AutomationRule, error)

	// GetDueRules returns enabled rules whose next eligible timestamp is <= now
	GetDueRules(ctx context.Context, now time.Time) ([]*AutomationRule, error)

	// AdvanceRule moves NextEligible from `from` to `next` as a compare-and-set.
	// Returns false when the stored value is no longer `from`.
	AdvanceRule(ctx context.Context, id uuid.UUID, from, next time.Time) (bool, error)

	// SetEnabled enables or disables a rule
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	// Claim takes the in-flight marker for (rule, period).
	// Returns false if another run already holds it.
	Claim(ctx context.Context, id uuid.UUID, period time.Time) (bool, error)

	// Release drops the in-flight marker for (rule, period)
	Release(ctx context.Context, id uuid.UUID, period time.Time) error
}

// RuleWriter creates automation rules
type RuleWriter interface {
	CreateRule(ctx context.Context, rule *AutomationRule) error
}

// AttemptTracker counts attempts per key (one key per rule period)
type AttemptTracker interface {
	// Attempts returns the number of recorded attempts for key
	Attempts(ctx context.Context, key string) (int, error)

	// Increment records one more attempt and returns the new count
	Increment(ctx context.Context, key string) (int, error)

	// Reset forgets all attempts for key
	Reset(ctx context.Context, key string) error
}

// NotificationEmitter records user-visible events. Best-effort: a failure
// never affects the transfer outcome.
type NotificationEmitter interface {
	Emit(ctx context.Context, notification Notification) error
}
