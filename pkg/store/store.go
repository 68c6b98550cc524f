package store

import (
	"context"
	"errors"
	"iter"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
)

var (
	// ErrConflict is returned by inserts when the budget name or the transaction id is taken.
	ErrConflict            = errors.New("record already exists")
	ErrBudgetNotFound      = errors.New("budget not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTxDone              = errors.New("transaction already committed or rolled back")
)

// TransactionFilter narrows QueryTransactions and CountTransactions. Zero values mean
// "no constraint"; Start and End are inclusive epoch milliseconds.
type TransactionFilter struct {
	Kind         ledger.Kind
	BudgetName   *string
	Start        *int64
	End          *int64
	ReceiptsOnly bool
}

func (f TransactionFilter) Matches(t ledger.Transaction) bool {
	if f.Kind != 0 && t.Kind != f.Kind {
		return false
	}
	if f.BudgetName != nil && t.BudgetName != *f.BudgetName {
		return false
	}
	if f.Start != nil && t.Timestamp < *f.Start {
		return false
	}
	if f.End != nil && t.Timestamp > *f.End {
		return false
	}
	if f.ReceiptsOnly && !t.HasReceipt() {
		return false
	}
	return true
}

type Reader interface {
	// QueryTransactions yields matching transactions newest first (timestamp, then id,
	// descending). The sequence is single pass; re-issue the query to read again.
	QueryTransactions(ctx context.Context, filter TransactionFilter) iter.Seq2[ledger.Transaction, error]
	CountTransactions(ctx context.Context, filter TransactionFilter) (int, error)
	GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error)
	// QueryBudgetNames returns every budget name in lexicographic order.
	QueryBudgetNames(ctx context.Context) ([]string, error)
	// ListBudgets returns every budget ordered by name, without current values.
	ListBudgets(ctx context.Context) ([]ledger.Budget, error)
	GetBudget(ctx context.Context, name string) (ledger.Budget, error)
	// BudgetTotals returns every budget ordered by name with CurrentValue computed from
	// the transactions booked between start and end inclusive.
	BudgetTotals(ctx context.Context, start, end int64) ([]ledger.Budget, error)
}

type Writer interface {
	InsertBudget(ctx context.Context, budget ledger.Budget) error
	UpdateBudget(ctx context.Context, budget ledger.Budget) (bool, error)
	DeleteBudget(ctx context.Context, name string) (bool, error)
	// InsertTransaction stores t and returns its id. A non-zero t.ID is used as the
	// identity of the new row, otherwise the store assigns the next one.
	InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, t ledger.Transaction) (bool, error)
	DeleteTransaction(ctx context.Context, id int64) (bool, error)
}

type ReadWriter interface {
	Reader
	Writer
}

// Tx is an open store transaction. Writes made through it become visible to other
// readers only after Commit. Rollback after Commit is a no-op.
type Tx interface {
	ReadWriter
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	ReadWriter
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
