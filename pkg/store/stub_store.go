package store

import (
	"context"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
)

// StubStore keeps everything in memory. A Tx works on a copy that replaces the
// committed data on Commit.
type StubStore struct {
	mu   sync.Mutex
	data *stubData

	// BeforeInsert, when set, is called before every insert and may fail it.
	BeforeInsert func(record any) error
}

type stubData struct {
	nextId       int64
	budgets      map[string]ledger.Budget
	transactions map[int64]ledger.Transaction
}

func newStubData() *stubData {
	return &stubData{
		budgets:      map[string]ledger.Budget{},
		transactions: map[int64]ledger.Transaction{},
	}
}

func (d *stubData) clone() *stubData {
	c := newStubData()
	c.nextId = d.nextId
	for k, v := range d.budgets {
		c.budgets[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	return c
}

func NewStubStore() *StubStore {
	return &StubStore{data: newStubData()}
}

func (s *StubStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &stubTx{parent: s, view: stubView{data: s.data.clone(), hook: s.BeforeInsert}}, nil
}

func (s *StubStore) Close() error { return nil }

func (s *StubStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = newStubData()
}

func (s *StubStore) view() stubView {
	return stubView{data: s.data, hook: s.BeforeInsert}
}

func (s *StubStore) QueryTransactions(ctx context.Context, filter TransactionFilter) iter.Seq2[ledger.Transaction, error] {
	s.mu.Lock()
	items := s.view().matching(filter)
	s.mu.Unlock()
	return yieldAll(items)
}

func (s *StubStore) CountTransactions(ctx context.Context, filter TransactionFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.view().matching(filter)), nil
}

func (s *StubStore) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().getTransaction(id)
}

func (s *StubStore) QueryBudgetNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().budgetNames(), nil
}

func (s *StubStore) ListBudgets(ctx context.Context) ([]ledger.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().listBudgets(), nil
}

func (s *StubStore) GetBudget(ctx context.Context, name string) (ledger.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().getBudget(name)
}

func (s *StubStore) BudgetTotals(ctx context.Context, start, end int64) ([]ledger.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().budgetTotals(start, end), nil
}

func (s *StubStore) InsertBudget(ctx context.Context, budget ledger.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().insertBudget(budget)
}

func (s *StubStore) UpdateBudget(ctx context.Context, budget ledger.Budget) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().updateBudget(budget), nil
}

func (s *StubStore) DeleteBudget(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().deleteBudget(name), nil
}

func (s *StubStore) InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().insertTransaction(t)
}

func (s *StubStore) UpdateTransaction(ctx context.Context, t ledger.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().updateTransaction(t), nil
}

func (s *StubStore) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().deleteTransaction(id), nil
}

type stubTx struct {
	parent *StubStore
	view   stubView
	done   bool
}

func (t *stubTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.data = t.view.data
	return nil
}

func (t *stubTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

func (t *stubTx) QueryTransactions(ctx context.Context, filter TransactionFilter) iter.Seq2[ledger.Transaction, error] {
	return yieldAll(t.view.matching(filter))
}

func (t *stubTx) CountTransactions(ctx context.Context, filter TransactionFilter) (int, error) {
	return len(t.view.matching(filter)), nil
}

func (t *stubTx) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	return t.view.getTransaction(id)
}

func (t *stubTx) QueryBudgetNames(ctx context.Context) ([]string, error) {
	return t.view.budgetNames(), nil
}

func (t *stubTx) ListBudgets(ctx context.Context) ([]ledger.Budget, error) {
	return t.view.listBudgets(), nil
}

func (t *stubTx) GetBudget(ctx context.Context, name string) (ledger.Budget, error) {
	return t.view.getBudget(name)
}

func (t *stubTx) BudgetTotals(ctx context.Context, start, end int64) ([]ledger.Budget, error) {
	return t.view.budgetTotals(start, end), nil
}

func (t *stubTx) InsertBudget(ctx context.Context, budget ledger.Budget) error {
	if t.done {
		return ErrTxDone
	}
	return t.view.insertBudget(budget)
}

func (t *stubTx) UpdateBudget(ctx context.Context, budget ledger.Budget) (bool, error) {
	return t.view.updateBudget(budget), nil
}

func (t *stubTx) DeleteBudget(ctx context.Context, name string) (bool, error) {
	return t.view.deleteBudget(name), nil
}

func (t *stubTx) InsertTransaction(ctx context.Context, tr ledger.Transaction) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	return t.view.insertTransaction(tr)
}

func (t *stubTx) UpdateTransaction(ctx context.Context, tr ledger.Transaction) (bool, error) {
	return t.view.updateTransaction(tr), nil
}

func (t *stubTx) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	return t.view.deleteTransaction(id), nil
}

type stubView struct {
	data *stubData
	hook func(record any) error
}

func (v stubView) matching(filter TransactionFilter) []ledger.Transaction {
	items := make([]ledger.Transaction, 0, len(v.data.transactions))
	for _, t := range v.data.transactions {
		if filter.Matches(t) {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp > items[j].Timestamp
		}
		return items[i].ID > items[j].ID
	})
	return items
}

func (v stubView) getTransaction(id int64) (ledger.Transaction, error) {
	t, ok := v.data.transactions[id]
	if !ok {
		return ledger.Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (v stubView) budgetNames() []string {
	names := make([]string, 0, len(v.data.budgets))
	for name := range v.data.budgets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (v stubView) listBudgets() []ledger.Budget {
	budgets := make([]ledger.Budget, 0, len(v.data.budgets))
	for _, name := range v.budgetNames() {
		b := v.data.budgets[name]
		b.CurrentValue = 0
		budgets = append(budgets, b)
	}
	return budgets
}

func (v stubView) getBudget(name string) (ledger.Budget, error) {
	b, ok := v.data.budgets[name]
	if !ok {
		return ledger.Budget{}, ErrBudgetNotFound
	}
	return b, nil
}

func (v stubView) budgetTotals(start, end int64) []ledger.Budget {
	budgets := v.listBudgets()
	for i := range budgets {
		var sum float64
		for _, t := range v.data.transactions {
			if t.BudgetName == budgets[i].Name && t.Timestamp >= start && t.Timestamp <= end {
				sum += t.Signed()
			}
		}
		budgets[i].CurrentValue = int(sum)
	}
	return budgets
}

func (v stubView) insertBudget(budget ledger.Budget) error {
	if v.hook != nil {
		if err := v.hook(budget); err != nil {
			return err
		}
	}
	if _, ok := v.data.budgets[budget.Name]; ok {
		return ErrConflict
	}
	budget.CurrentValue = 0
	v.data.budgets[budget.Name] = budget
	return nil
}

func (v stubView) updateBudget(budget ledger.Budget) bool {
	if _, ok := v.data.budgets[budget.Name]; !ok {
		return false
	}
	budget.CurrentValue = 0
	v.data.budgets[budget.Name] = budget
	return true
}

func (v stubView) deleteBudget(name string) bool {
	if _, ok := v.data.budgets[name]; !ok {
		return false
	}
	delete(v.data.budgets, name)
	return true
}

func (v stubView) insertTransaction(t ledger.Transaction) (int64, error) {
	if v.hook != nil {
		if err := v.hook(t); err != nil {
			return 0, err
		}
	}
	if t.ID == 0 {
		v.data.nextId++
		t.ID = v.data.nextId
	} else {
		if _, ok := v.data.transactions[t.ID]; ok {
			return 0, ErrConflict
		}
		v.data.nextId = max(v.data.nextId, t.ID)
	}
	v.data.transactions[t.ID] = t
	return t.ID, nil
}

func (v stubView) updateTransaction(t ledger.Transaction) bool {
	if _, ok := v.data.transactions[t.ID]; !ok {
		return false
	}
	v.data.transactions[t.ID] = t
	return true
}

func (v stubView) deleteTransaction(id int64) bool {
	if _, ok := v.data.transactions[id]; !ok {
		return false
	}
	delete(v.data.transactions, id)
	return true
}

func yieldAll(items []ledger.Transaction) iter.Seq2[ledger.Transaction, error] {
	return func(yield func(ledger.Transaction, error) bool) {
		for _, t := range items {
			if !yield(t, nil) {
				return
			}
		}
	}
}

// BudgetNameFilter is a small helper for building filters from optional query values.
func BudgetNameFilter(name string) *string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return &name
}
