package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/wealthflow-automation/internal/domain"
)

const accountColumns = `id, owner_id, name, kind, balance, currency, active, version, created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// AccountStore implements domain.AccountStore and domain.AccountWriter.
// A commit runs in one database transaction holding row locks on both
// accounts, taken in sorted id order.
type AccountStore struct {
	db  *DB
	now func() time.Time
}

// NewAccountStore creates a new account store
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

// CreateAccount creates a new account
func (s *AccountStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	query := `
		INSERT INTO accounts (id, owner_id, name, kind, balance, currency, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`

	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.OwnerID,
		account.Name,
		string(account.Kind),
		account.Balance.String(),
		account.Currency,
		account.Active,
		account.Version,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s already exists", account.ID)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by its ID
func (s *AccountStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return getAccount(ctx, s.db, id, "")
}

// CommitTransfer debits the source and credits the destination in one transaction
func (s *AccountStore) CommitTransfer(ctx context.Context, req domain.TransferRequest) (*domain.CommitResult, error) {
	result, err := s.commit(ctx, req)
	if err != nil && isUniqueViolation(err) {
		// A concurrent commit with the same key and other accounts won the insert
		prior, replayErr := loadRecords(ctx, s.db, req.IdempotencyKey)
		if replayErr != nil {
			return nil, fmt.Errorf("failed to load replayed records: %w", replayErr)
		}
		if len(prior) > 0 {
			return &domain.CommitResult{Records: prior, Replayed: true}, nil
		}
	}
	return result, err
}

func (s *AccountStore) commit(ctx context.Context, req domain.TransferRequest) (*domain.CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	locked := make(map[uuid.UUID]*domain.Account, 2)
	for _, id := range lockOrder(req.SourceAccountID, req.DestinationAccountID) {
		account, err := getAccount(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}

	prior, err := loadRecords(ctx, tx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if len(prior) > 0 {
		return &domain.CommitResult{Records: prior, Replayed: true}, nil
	}

	source := locked[req.SourceAccountID]
	destination := locked[req.DestinationAccountID]
	if err := req.CheckCommit(source, destination); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	legs := domain.NewTransferLegs(req, at)

	updateQuery := `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE id = $3
	`

	if _, err := tx.ExecContext(ctx, updateQuery, req.Amount.Neg().String(), at, source.ID); err != nil {
		if isCheckViolation(err) {
			return nil, domain.NewError(domain.ErrKindInvariantViolation, "commit_transfer",
				fmt.Errorf("source balance would become negative: %w", err))
		}
		return nil, fmt.Errorf("failed to debit source account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, updateQuery, req.Amount.String(), at, destination.ID); err != nil {
		return nil, fmt.Errorf("failed to credit destination account: %w", err)
	}

	insertQuery := `
		INSERT INTO transaction_records (id, account_id, counterpart_account_id, amount, direction, category, description, idempotency_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, leg := range legs {
		_, err := tx.ExecContext(ctx, insertQuery,
			leg.ID,
			leg.AccountID,
			leg.CounterpartAccountID,
			leg.Amount.String(),
			string(leg.Direction),
			leg.Category,
			leg.Description,
			leg.IdempotencyKey,
			string(leg.Status),
			leg.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transaction record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &domain.CommitResult{Records: legs}, nil
}

// RecordsByKey returns the committed records of an idempotency key
func (s *AccountStore) RecordsByKey(ctx context.Context, key string) ([]domain.TransactionRecord, error) {
	return loadRecords(ctx, s.db, key)
}

func getAccount(ctx context.Context, q queryer, id uuid.UUID, lock string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 ` + lock

	var account domain.Account
	var balanceStr string

	err := q.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.OwnerID,
		&account.Name,
		&account.Kind,
		&balanceStr,
		&account.Currency,
		&account.Active,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.ErrKindNotFound, "get_account", fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id))
		}
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	account.Balance = balance

	return &account, nil
}

func loadRecords(ctx context.Context, q queryer, key string) ([]domain.TransactionRecord, error) {
	query := `
		SELECT id, account_id, counterpart_account_id, amount, direction, category, description, idempotency_key, status, created_at
		FROM transaction_records
		WHERE idempotency_key = $1
		ORDER BY direction DESC
	`

	rows, err := q.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction records: %w", err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var record domain.TransactionRecord
		var amountStr string

		err := rows.Scan(
			&record.ID,
			&record.AccountID,
			&record.CounterpartAccountID,
			&amountStr,
			&record.Direction,
			&record.Category,
			&record.Description,
			&record.IdempotencyKey,
			&record.Status,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction record: %w", err)
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse record amount: %w", err)
		}
		record.Amount = amount
		record.Timestamp = record.Timestamp.UTC()

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction records: %w", err)
	}

	return records, nil
}

// lockOrder returns ids in the order their row locks are taken
func lockOrder(ids ...uuid.UUID) []uuid.UUID {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return sorted
}
