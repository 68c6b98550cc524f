package sqlstore

import (
	"context"
	"testing"

	"github.com/budgetwatch/budgetwatch/internal/test_utils"
	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/budgetwatch/budgetwatch/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return New(test_utils.SetupTestDB(t))
}

func TestSQLStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestStore(t)
	})
}

func TestSQLStore_ExplicitIdAdvancesSequence(t *testing.T) {
	// given
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.InsertTransaction(ctx, ledger.Transaction{ID: 500, Kind: ledger.Expense, Amount: 1, Timestamp: 1})
	require.NoError(t, err)

	// when
	id, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: 2})

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(501), id)
}

func TestSQLStore_UnknownKindInDatabase(t *testing.T) {
	// given
	ctx := context.Background()
	db := test_utils.SetupTestDB(t)
	s := New(db)
	_, err := db.Exec(`PRAGMA ignore_check_constraints = ON`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO transactions (id, kind, amount, date_ms) VALUES (1, 'GIFT', 1, 1)`)
	require.NoError(t, err)

	// when
	_, err = s.GetTransaction(ctx, 1)

	// then
	assert.ErrorIs(t, err, ledger.ErrUnknownKind)
}
