package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/wealthflow-automation/internal/domain"
)

const ruleColumns = `id, owner_id, name, source_account_id, destination_account_id, amount, currency,
	recurrence_kind, interval_unit, interval_every, threshold, cron, next_eligible, enabled`

// DefaultClaimTTL bounds how long a crashed run can hold a claim
const DefaultClaimTTL = 2 * time.Minute

// RuleStore implements domain.RuleStore and domain.RuleWriter.
// Claims are rows in automation_claims that expire after ttl.
type RuleStore struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

// NewRuleStore creates a new rule store
func NewRuleStore(db *DB, ttl time.Duration) *RuleStore {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RuleStore{db: db, ttl: ttl, now: time.Now}
}

// CreateRule creates a new automation rule
func (s *RuleStore) CreateRule(ctx context.Context, rule *domain.AutomationRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("failed to create automation rule: %w", err)
	}

	query := `
		INSERT INTO automation_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var threshold interface{}
	if rule.Recurrence.Kind == domain.RecurrenceThreshold {
		threshold = rule.Recurrence.Threshold.String()
	}

	_, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.OwnerID,
		rule.Name,
		rule.SourceAccountID,
		rule.DestinationAccountID,
		rule.Amount.String(),
		rule.Currency,
		string(rule.Recurrence.Kind),
		string(rule.Recurrence.Interval.Unit),
		rule.Recurrence.Interval.Every,
		threshold,
		rule.Recurrence.Cron,
		rule.NextEligible.UTC(),
		rule.Enabled,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("automation rule %s already exists", rule.ID)
		}
		return fmt.Errorf("failed to create automation rule: %w", err)
	}

	return nil
}

// GetRule retrieves a rule by its ID
func (s *RuleStore) GetRule(ctx context.Context, id uuid.UUID) (*domain.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = $1`

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.ErrKindNotFound, "get_rule", fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id))
		}
		return nil, fmt.Errorf("failed to get automation rule: %w", err)
	}

	return rule, nil
}

// GetDueRules returns enabled rules with next_eligible <= now, oldest first
func (s *RuleStore) GetDueRules(ctx context.Context, now time.Time) ([]*domain.AutomationRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM automation_rules
		WHERE enabled AND next_eligible <= $1
		ORDER BY next_eligible ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due rules: %w", err)
	}

	return rules, nil
}

// AdvanceRule sets next_eligible to next only if it still equals from
func (s *RuleStore) AdvanceRule(ctx context.Context, id uuid.UUID, from, next time.Time) (bool, error) {
	query := `
		UPDATE automation_rules
		SET next_eligible = $1
		WHERE id = $2 AND next_eligible = $3
	`

	res, err := s.db.ExecContext(ctx, query, next.UTC(), id, from.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to advance automation rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.GetRule(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetEnabled enables or disables a rule
func (s *RuleStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE automation_rules SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update automation rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewError(domain.ErrKindNotFound, "set_enabled", fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id))
	}

	return nil
}

// Claim inserts the claim row, or takes over an expired one
func (s *RuleStore) Claim(ctx context.Context, id uuid.UUID, period time.Time) (bool, error) {
	now := s.now().UTC()

	query := `
		INSERT INTO automation_claims (claim_key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (claim_key) DO UPDATE
		SET expires_at = EXCLUDED.expires_at
		WHERE automation_claims.expires_at <= $3
	`

	res, err := s.db.ExecContext(ctx, query, domain.IdempotencyKey(id, period), now.Add(s.ttl), now)
	if err != nil {
		return false, fmt.Errorf("failed to claim automation run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return n == 1, nil
}

// Release deletes the claim row
func (s *RuleStore) Release(ctx context.Context, id uuid.UUID, period time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automation_claims WHERE claim_key = $1`, domain.IdempotencyKey(id, period))
	if err != nil {
		return fmt.Errorf("failed to release automation claim: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*domain.AutomationRule, error) {
	var rule domain.AutomationRule
	var amountStr string
	var threshold sql.NullString

	err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.Name,
		&rule.SourceAccountID,
		&rule.DestinationAccountID,
		&amountStr,
		&rule.Currency,
		&rule.Recurrence.Kind,
		&rule.Recurrence.Interval.Unit,
		&rule.Recurrence.Interval.Every,
		&threshold,
		&rule.Recurrence.Cron,
		&rule.NextEligible,
		&rule.Enabled,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule amount: %w", err)
	}
	rule.Amount = amount

	if threshold.Valid {
		value, err := decimal.NewFromString(threshold.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rule threshold: %w", err)
		}
		rule.Recurrence.Threshold = value
	}

	rule.NextEligible = rule.NextEligible.UTC()

	return &rule, nil
}
