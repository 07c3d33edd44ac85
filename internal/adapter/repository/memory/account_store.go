package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/wealthflow-automation/internal/domain"
)

// AccountStore implements domain.AccountStore and domain.AccountWriter in process.
// Each commit holds the exclusive lock of both accounts, taken in sorted id order.
type AccountStore struct {
	locks *keyedMutex

	mu        sync.RWMutex
	accounts  map[uuid.UUID]*domain.Account
	committed map[string][]domain.TransactionRecord
	records   []domain.TransactionRecord

	now func() time.Time
}

// NewAccountStore creates an empty account store
func NewAccountStore() *AccountStore {
	return &AccountStore{
		locks:     newKeyedMutex(),
		accounts:  make(map[uuid.UUID]*domain.Account),
		committed: make(map[string][]domain.TransactionRecord),
		now:       time.Now,
	}
}

// CreateAccount stores a copy of account
func (s *AccountStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}

	stored := *account
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.accounts[stored.ID] = &stored

	return nil
}

// GetAccount retrieves a copy of the account
func (s *AccountStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.NewError(domain.ErrKindNotFound, "get_account", fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id))
	}

	copied := *account
	return &copied, nil
}

// CommitTransfer debits the source and credits the destination atomically
func (s *AccountStore) CommitTransfer(ctx context.Context, req domain.TransferRequest) (*domain.CommitResult, error) {
	unlock := s.locks.lock(req.SourceAccountID, req.DestinationAccountID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("commit aborted: %w", err)
	}

	if prior, ok := s.replay(req.IdempotencyKey); ok {
		return prior, nil
	}

	source, err := s.GetAccount(ctx, req.SourceAccountID)
	if err != nil {
		return nil, err
	}
	destination, err := s.GetAccount(ctx, req.DestinationAccountID)
	if err != nil {
		return nil, err
	}

	if err := req.CheckCommit(source, destination); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	legs := domain.NewTransferLegs(req, at)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A request reusing a key with other accounts is not serialized by the
	// account locks, so the key is checked again under the write lock.
	if prior, ok := s.committed[req.IdempotencyKey]; ok {
		return &domain.CommitResult{Records: copyRecords(prior), Replayed: true}, nil
	}

	src := s.accounts[req.SourceAccountID]
	dst := s.accounts[req.DestinationAccountID]

	newBalance := src.Balance.Sub(req.Amount)
	if newBalance.IsNegative() {
		return nil, domain.NewError(domain.ErrKindInvariantViolation, "commit_transfer",
			fmt.Errorf("source balance would become %s", newBalance))
	}

	src.Balance = newBalance
	src.Version++
	src.UpdatedAt = at

	dst.Balance = dst.Balance.Add(req.Amount)
	dst.Version++
	dst.UpdatedAt = at

	s.committed[req.IdempotencyKey] = legs
	s.records = append(s.records, legs...)

	return &domain.CommitResult{Records: copyRecords(legs)}, nil
}

// Records returns every committed record in commit order
func (s *AccountStore) Records() []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyRecords(s.records)
}

// RecordsByKey returns the records committed under an idempotency key
func (s *AccountStore) RecordsByKey(ctx context.Context, key string) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyRecords(s.committed[key]), nil
}

func (s *AccountStore) replay(key string) (*domain.CommitResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prior, ok := s.committed[key]
	if !ok {
		return nil, false
	}
	return &domain.CommitResult{Records: copyRecords(prior), Replayed: true}, true
}

func copyRecords(records []domain.TransactionRecord) []domain.TransactionRecord {
	if records == nil {
		return nil
	}
	out := make([]domain.TransactionRecord, len(records))
	copy(out, records)
	return out
}

// keyedMutex hands out one mutex per account id
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// lock acquires the mutexes of ids in sorted order and returns the release func
func (k *keyedMutex) lock(ids ...uuid.UUID) func() {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := k.get(id)
		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (k *keyedMutex) get(id uuid.UUID) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	return m
}
