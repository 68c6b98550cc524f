package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/budgetwatch/budgetwatch/pkg/store/storetest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const kettleReceipt = "/data/receipts/kettle.jpg"

var kettleBytes = []byte("\xff\xd8\xff\xe0 not really a jpeg \x00\x01\x02")

type fixture struct {
	fs       afero.Fs
	receipts *receipt.Dir
	store    *store.StubStore
	service  *ServiceImpl
	clock    *utils.MockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	return newFixtureOn(t, fs, "/data/receipts", store.NewStubStore())
}

func newFixtureOn(t *testing.T, fs afero.Fs, receiptsDir string, st *store.StubStore) *fixture {
	t.Helper()
	receipts, err := receipt.NewDir(fs, receiptsDir)
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll("/data/spool", 0o755))
	clock := utils.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	service := NewTransferService(st, receipts, Options{SpoolFs: fs, SpoolDir: "/data/spool", Clock: clock})
	return &fixture{fs: fs, receipts: receipts, store: st, service: service, clock: clock}
}

// seed stores two budgets, two expenses and a revenue; the second expense has a receipt.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.receipts.Write("kettle.jpg", bytes.NewReader(kettleBytes))
	require.NoError(t, err)

	require.NoError(t, f.store.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))
	require.NoError(t, f.store.InsertBudget(ctx, ledger.Budget{Name: "food", Limit: 300}))
	seed := []ledger.Transaction{
		{ID: 1, Kind: ledger.Expense, Description: "January rent", Account: "Checking", BudgetName: "rent", Amount: 100, Timestamp: 1000},
		{ID: 2, Kind: ledger.Expense, BudgetName: "food", Amount: 12.5, Note: `with "quotes", commas`, Timestamp: 2000, ReceiptPath: kettleReceipt},
		{ID: 3, Kind: ledger.Revenue, Description: "Refund", BudgetName: "food", Amount: 2.5, Timestamp: 3000},
	}
	for _, tr := range seed {
		_, err := f.store.InsertTransaction(ctx, tr)
		require.NoError(t, err)
	}
}

type dataset struct {
	Budgets      []ledger.Budget
	Transactions []ledger.Transaction
}

func dump(t *testing.T, r store.Reader) dataset {
	t.Helper()
	budgets, err := r.ListBudgets(context.Background())
	require.NoError(t, err)
	return dataset{Budgets: budgets, Transactions: storetest.Collect(t, r, store.TransactionFilter{})}
}

func (f *fixture) export(t *testing.T, format DataFormat) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.service.Export(context.Background(), format, &buf, Range{}, nil))
	return buf.Bytes()
}

func (f *fixture) importBytes(format DataFormat, data []byte) error {
	return f.service.Import(context.Background(), format, bytes.NewReader(data), nil)
}

func (f *fixture) requireEmpty(t *testing.T) {
	t.Helper()
	d := dump(t, f.store)
	require.Empty(t, d.Budgets)
	require.Empty(t, d.Transactions)
}

func ptr[T any](v T) *T {
	return &v
}
