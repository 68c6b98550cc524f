package transaction

import (
	"context"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fs       afero.Fs
	store    *store.StubStore
	receipts *receipt.Dir
	service  *ServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	receipts, err := receipt.NewDir(fs, "/data/receipts")
	require.NoError(t, err)
	st := store.NewStubStore()
	return &fixture{fs: fs, store: st, receipts: receipts, service: NewService(st, receipts)}
}

func TestService_CreateAssignsIds(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()

	// when
	first, err := f.service.Create(ctx, ledger.Transaction{ID: 99, Kind: ledger.Expense, Amount: 3, Timestamp: 10})
	require.NoError(t, err)
	second, err := f.service.Create(ctx, ledger.Transaction{Kind: ledger.Revenue, Amount: 4, Timestamp: 20})
	require.NoError(t, err)

	// then
	assert.Equal(t, int64(1), first.ID, "ids in the request are ignored")
	assert.Equal(t, int64(2), second.ID)
	got, err := f.service.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestService_RejectsInvalidTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tr   ledger.Transaction
		err  error
	}{
		{"no kind", ledger.Transaction{Amount: 1}, ledger.ErrUnknownKind},
		{"negative", ledger.Transaction{Kind: ledger.Expense, Amount: -1}, ErrInvalidAmount},
		{"not a number", ledger.Transaction{Kind: ledger.Expense, Amount: math.NaN()}, ErrInvalidAmount},
		{"infinite", ledger.Transaction{Kind: ledger.Revenue, Amount: math.Inf(1)}, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(ctx, tt.tr)
			assert.ErrorIs(t, err, tt.err)
			tt.tr.ID = 1
			_, err = f.service.Update(ctx, tt.tr)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	count, err := f.store.CountTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_ListNewestFirstWithLimit(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	for _, ts := range []int64{300, 100, 200} {
		_, err := f.service.Create(ctx, ledger.Transaction{Kind: ledger.Expense, BudgetName: "food", Amount: 1, Timestamp: ts})
		require.NoError(t, err)
	}
	_, err := f.service.Create(ctx, ledger.Transaction{Kind: ledger.Expense, BudgetName: "rent", Amount: 1, Timestamp: 400})
	require.NoError(t, err)
	food := "food"

	// when
	all, err := f.service.List(ctx, store.TransactionFilter{BudgetName: &food}, 0)
	require.NoError(t, err)
	limited, err := f.service.List(ctx, store.TransactionFilter{}, 2)
	require.NoError(t, err)
	none, err := f.service.List(ctx, store.TransactionFilter{Kind: ledger.Revenue}, 0)
	require.NoError(t, err)

	// then
	timestamps := func(ts []ledger.Transaction) []int64 {
		var out []int64
		for _, t := range ts {
			out = append(out, t.Timestamp)
		}
		return out
	}
	assert.Equal(t, []int64{300, 200, 100}, timestamps(all))
	assert.Equal(t, []int64{400, 300}, timestamps(limited))
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestService_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.service.Create(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: 1})
	require.NoError(t, err)

	created.Amount = 2
	ok, err := f.service.Update(ctx, created)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.service.Update(ctx, ledger.Transaction{ID: 42, Kind: ledger.Expense})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.service.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.service.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.service.Get(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrTransactionNotFound)
}

func TestService_Receipts(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.service.Create(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: 1})
	require.NoError(t, err)

	_, err = f.service.OpenReceipt(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNoReceipt)

	// when
	updated, err := f.service.AttachReceipt(ctx, created.ID, `C:\scans\kettle.jpg`, strings.NewReader("jpeg bytes"))

	// then
	require.NoError(t, err)
	assert.Equal(t, "/data/receipts/kettle.jpg", updated.ReceiptPath)
	file, err := f.service.OpenReceipt(ctx, created.ID)
	require.NoError(t, err)
	defer file.Close()
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(content))

	_, err = f.service.AttachReceipt(ctx, 42, "other.jpg", strings.NewReader("x"))
	assert.ErrorIs(t, err, store.ErrTransactionNotFound)
	exists, err := afero.Exists(f.fs, "/data/receipts/other.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_AttachReceiptRejectsInvalidName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.service.Create(ctx, ledger.Transaction{Kind: ledger.Expense, Amount: 1, Timestamp: 1})
	require.NoError(t, err)

	_, err = f.service.AttachReceipt(ctx, created.ID, "..", strings.NewReader("x"))
	assert.ErrorIs(t, err, receipt.ErrInvalidName)
}
