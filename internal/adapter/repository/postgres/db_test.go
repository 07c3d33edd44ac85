package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestViolationCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		unique bool
		check  bool
	}{
		{"unique violation", &pq.Error{Code: "23505"}, true, false},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true, false},
		{"check violation", &pq.Error{Code: "23514"}, false, true},
		{"other pq error", &pq.Error{Code: "40001"}, false, false},
		{"plain error", errors.New("connection refused"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, isUniqueViolation(tt.err))
			assert.Equal(t, tt.check, isCheckViolation(tt.err))
		})
	}
}

func TestLockOrder(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{low, high}, lockOrder(high, low))
	assert.Equal(t, []uuid.UUID{low, high}, lockOrder(low, high))
}

func TestSchemaIsEmbedded(t *testing.T) {
	for _, table := range []string{"accounts", "transaction_records", "automation_rules", "automation_claims"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schema, "UNIQUE (idempotency_key, direction)")
}
