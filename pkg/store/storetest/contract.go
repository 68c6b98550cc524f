// Package storetest holds behaviour checks shared by every store.Store implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, ready to use store. It is called once per sub-test.
type Factory func(t *testing.T) store.Store

func Collect(t *testing.T, r store.Reader, filter store.TransactionFilter) []ledger.Transaction {
	t.Helper()
	var items []ledger.Transaction
	for tr, err := range r.QueryTransactions(context.Background(), filter) {
		require.NoError(t, err)
		items = append(items, tr)
	}
	return items
}

// Run checks ordering, filtering, conflict detection and transaction semantics.
// Reads outside a transaction are only made after it ends, since a single-connection
// store would block on them.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("budgets are listed by name", func(t *testing.T) {
		// given
		s := newStore(t)
		for _, name := range []string{"rent", "food", "car"} {
			require.NoError(t, s.InsertBudget(ctx, ledger.Budget{Name: name, Limit: 100}))
		}

		// when
		names, err := s.QueryBudgetNames(ctx)
		require.NoError(t, err)
		budgets, err := s.ListBudgets(ctx)
		require.NoError(t, err)

		// then
		assert.Equal(t, []string{"car", "food", "rent"}, names)
		require.Len(t, budgets, 3)
		assert.Equal(t, ledger.Budget{Name: "car", Limit: 100}, budgets[0])
	})

	t.Run("duplicate budget conflicts", func(t *testing.T) {
		// given
		s := newStore(t)
		require.NoError(t, s.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))

		// when
		err := s.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 5})

		// then
		assert.ErrorIs(t, err, store.ErrConflict)
		b, err := s.GetBudget(ctx, "rent")
		require.NoError(t, err)
		assert.Equal(t, 1000, b.Limit)
	})

	t.Run("budget update and delete", func(t *testing.T) {
		// given
		s := newStore(t)
		require.NoError(t, s.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))

		// when
		updated, err := s.UpdateBudget(ctx, ledger.Budget{Name: "rent", Limit: 1200})
		require.NoError(t, err)
		missing, err := s.UpdateBudget(ctx, ledger.Budget{Name: "nope", Limit: 1})
		require.NoError(t, err)
		b, err := s.GetBudget(ctx, "rent")
		require.NoError(t, err)
		deleted, err := s.DeleteBudget(ctx, "rent")
		require.NoError(t, err)

		// then
		assert.True(t, updated)
		assert.False(t, missing)
		assert.Equal(t, 1200, b.Limit)
		assert.True(t, deleted)
		_, err = s.GetBudget(ctx, "rent")
		assert.ErrorIs(t, err, store.ErrBudgetNotFound)
	})

	t.Run("transactions keep explicit ids and sort newest first", func(t *testing.T) {
		// given
		s := newStore(t)
		first, err := s.InsertTransaction(ctx, ledger.Transaction{ID: 10, Kind: ledger.Expense, Amount: 1, Timestamp: 1000})
		require.NoError(t, err)
		second, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 2, Timestamp: 3000})
		require.NoError(t, err)
		third, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Revenue, Amount: 3, Timestamp: 3000})
		require.NoError(t, err)

		// when
		items := Collect(t, s, store.TransactionFilter{})

		// then
		assert.Equal(t, int64(10), first)
		assert.Greater(t, second, first)
		assert.Greater(t, third, second)
		require.Len(t, items, 3)
		assert.Equal(t, []int64{third, second, first}, []int64{items[0].ID, items[1].ID, items[2].ID})
	})

	t.Run("ids are never reused after an explicit insert", func(t *testing.T) {
		// given
		s := newStore(t)
		var issued []int64
		for i := 0; i < 10; i++ {
			id, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: int64(i)})
			require.NoError(t, err)
			issued = append(issued, id)
		}
		highest := issued[len(issued)-1]
		for _, id := range issued[5:] {
			deleted, err := s.DeleteTransaction(ctx, id)
			require.NoError(t, err)
			require.True(t, deleted)
		}
		_, err := s.InsertTransaction(ctx, ledger.Transaction{ID: issued[5], Kind: ledger.Revenue, Amount: 2, Timestamp: 20})
		require.NoError(t, err)

		// when
		next, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 3, Timestamp: 30})

		// then
		require.NoError(t, err)
		assert.Greater(t, next, highest)
	})

	t.Run("duplicate transaction id conflicts", func(t *testing.T) {
		// given
		s := newStore(t)
		_, err := s.InsertTransaction(ctx, ledger.Transaction{ID: 7, Kind: ledger.Expense, Amount: 1, Timestamp: 1})
		require.NoError(t, err)

		// when
		_, err = s.InsertTransaction(ctx, ledger.Transaction{ID: 7, Kind: ledger.Revenue, Amount: 2, Timestamp: 2})

		// then
		assert.ErrorIs(t, err, store.ErrConflict)
		tr, err := s.GetTransaction(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, ledger.Expense, tr.Kind)
	})

	t.Run("transaction round trip", func(t *testing.T) {
		// given
		s := newStore(t)
		in := ledger.Transaction{
			Kind:        ledger.Revenue,
			Description: "Refund",
			Account:     "Checking",
			BudgetName:  "food",
			Amount:      12.5,
			Note:        "shop returned the kettle",
			Timestamp:   1709251200000,
			ReceiptPath: "/var/receipts/kettle.jpg",
		}

		// when
		id, err := s.InsertTransaction(ctx, in)
		require.NoError(t, err)
		out, err := s.GetTransaction(ctx, id)
		require.NoError(t, err)

		// then
		in.ID = id
		assert.Equal(t, in, out)
		_, err = s.GetTransaction(ctx, id+100)
		assert.ErrorIs(t, err, store.ErrTransactionNotFound)
	})

	t.Run("transaction update and delete", func(t *testing.T) {
		// given
		s := newStore(t)
		id, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: 1})
		require.NoError(t, err)

		// when
		updated, err := s.UpdateTransaction(ctx, ledger.Transaction{ID: id, Kind: ledger.Expense, Amount: 99, Timestamp: 1})
		require.NoError(t, err)
		tr, err := s.GetTransaction(ctx, id)
		require.NoError(t, err)
		deleted, err := s.DeleteTransaction(ctx, id)
		require.NoError(t, err)
		deletedAgain, err := s.DeleteTransaction(ctx, id)
		require.NoError(t, err)

		// then
		assert.True(t, updated)
		assert.Equal(t, 99.0, tr.Amount)
		assert.True(t, deleted)
		assert.False(t, deletedAgain)
	})

	t.Run("filters", func(t *testing.T) {
		// given
		s := newStore(t)
		seed := []ledger.Transaction{
			{Kind: ledger.Expense, BudgetName: "rent", Amount: 1, Timestamp: 100},
			{Kind: ledger.Expense, BudgetName: "food", Amount: 1, Timestamp: 200, ReceiptPath: "/r/a.jpg"},
			{Kind: ledger.Revenue, BudgetName: "rent", Amount: 1, Timestamp: 300},
			{Kind: ledger.Expense, BudgetName: "rent", Amount: 1, Timestamp: 400},
		}
		for _, tr := range seed {
			_, err := s.InsertTransaction(ctx, tr)
			require.NoError(t, err)
		}
		start, end := int64(150), int64(400)

		// when
		expenses := Collect(t, s, store.TransactionFilter{Kind: ledger.Expense})
		rent := Collect(t, s, store.TransactionFilter{BudgetName: store.BudgetNameFilter("rent")})
		window := Collect(t, s, store.TransactionFilter{Start: &start, End: &end})
		receipts := Collect(t, s, store.TransactionFilter{ReceiptsOnly: true})
		count, err := s.CountTransactions(ctx, store.TransactionFilter{Kind: ledger.Expense, Start: &start})
		require.NoError(t, err)

		// then
		assert.Len(t, expenses, 3)
		assert.Len(t, rent, 3)
		assert.Len(t, window, 3)
		require.Len(t, receipts, 1)
		assert.Equal(t, "/r/a.jpg", receipts[0].ReceiptPath)
		assert.Equal(t, 2, count)
	})

	t.Run("budget totals", func(t *testing.T) {
		// given
		s := newStore(t)
		require.NoError(t, s.InsertBudget(ctx, ledger.Budget{Name: "food", Limit: 300}))
		require.NoError(t, s.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))
		seed := []ledger.Transaction{
			{Kind: ledger.Expense, BudgetName: "food", Amount: 50.7, Timestamp: 100},
			{Kind: ledger.Revenue, BudgetName: "food", Amount: 10, Timestamp: 200},
			{Kind: ledger.Expense, BudgetName: "food", Amount: 500, Timestamp: 9000},
		}
		for _, tr := range seed {
			_, err := s.InsertTransaction(ctx, tr)
			require.NoError(t, err)
		}

		// when
		budgets, err := s.BudgetTotals(ctx, 0, 1000)

		// then
		require.NoError(t, err)
		assert.Equal(t, []ledger.Budget{
			{Name: "food", Limit: 300, CurrentValue: 40},
			{Name: "rent", Limit: 1000, CurrentValue: 0},
		}, budgets)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		// given
		s := newStore(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)

		// when
		require.NoError(t, tx.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))
		_, err = tx.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, BudgetName: "rent", Amount: 5, Timestamp: 1})
		require.NoError(t, err)
		inside, err := tx.QueryBudgetNames(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))

		// then
		assert.Equal(t, []string{"rent"}, inside)
		names, err := s.QueryBudgetNames(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
		assert.Empty(t, Collect(t, s, store.TransactionFilter{}))
	})

	t.Run("commit publishes writes", func(t *testing.T) {
		// given
		s := newStore(t)
		tx, err := s.Begin(ctx)
		require.NoError(t, err)

		// when
		require.NoError(t, tx.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))
		require.NoError(t, tx.Commit(ctx))

		// then
		names, err := s.QueryBudgetNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"rent"}, names)
		assert.ErrorIs(t, tx.Commit(ctx), store.ErrTxDone)
		assert.NoError(t, tx.Rollback(ctx))
	})

	t.Run("breaking out of a query releases it", func(t *testing.T) {
		// given
		s := newStore(t)
		for i := range 3 {
			_, err := s.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: int64(i)})
			require.NoError(t, err)
		}

		// when
		seen := 0
		for _, err := range s.QueryTransactions(ctx, store.TransactionFilter{}) {
			require.NoError(t, err)
			seen++
			break
		}
		count, err := s.CountTransactions(ctx, store.TransactionFilter{})

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, seen)
		assert.Equal(t, 3, count)
	})
}
