// Package sqlstore implements store.Store on top of database/sql and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	log "github.com/sirupsen/logrus"
)

// querier is the subset of *sql.DB and *sql.Tx used by the repository.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repository struct {
	q querier
}

// Store is backed by a *sql.DB opened with the "sqlite" driver. The pool is expected
// to hold a single connection, so a transaction sequence must be drained (or the loop
// broken) before the next query is issued.
type Store struct {
	repository
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{repository: repository{q: db}, db: db}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		err := fmt.Errorf("could not begin transaction: %w", err)
		log.Error(err)
		return nil, err
	}
	return &Tx{repository: repository{q: tx}, tx: tx}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type Tx struct {
	repository
	tx *sql.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return store.ErrTxDone
		}
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("could not rollback transaction: %w", err)
	}
	return nil
}

func whereClause(filter store.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Kind != 0 {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind.String())
	}
	if filter.BudgetName != nil {
		conds = append(conds, "budget = ?")
		args = append(args, *filter.BudgetName)
	}
	if filter.Start != nil {
		conds = append(conds, "date_ms >= ?")
		args = append(args, *filter.Start)
	}
	if filter.End != nil {
		conds = append(conds, "date_ms <= ?")
		args = append(args, *filter.End)
	}
	if filter.ReceiptsOnly {
		conds = append(conds, "receipt <> ''")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const transactionColumns = `id, kind, description, account, budget, amount, note, date_ms, receipt`

func scanTransaction(scan func(dest ...any) error) (ledger.Transaction, error) {
	var t ledger.Transaction
	var kind string
	if err := scan(&t.ID, &kind, &t.Description, &t.Account, &t.BudgetName, &t.Amount, &t.Note, &t.Timestamp, &t.ReceiptPath); err != nil {
		return ledger.Transaction{}, err
	}
	k, err := ledger.ParseKind(kind)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	t.Kind = k
	return t, nil
}

func (r repository) QueryTransactions(ctx context.Context, filter store.TransactionFilter) iter.Seq2[ledger.Transaction, error] {
	return func(yield func(ledger.Transaction, error) bool) {
		where, args := whereClause(filter)
		query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY date_ms DESC, id DESC`
		rows, err := r.q.QueryContext(ctx, query, args...)
		if err != nil {
			err := fmt.Errorf("could not query transactions: %w", err)
			log.Error(err)
			yield(ledger.Transaction{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTransaction(rows.Scan)
			if err != nil {
				yield(ledger.Transaction{}, fmt.Errorf("could not scan transaction: %w", err))
				return
			}
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ledger.Transaction{}, fmt.Errorf("could not iterate transactions: %w", err))
		}
	}
}

func (r repository) CountTransactions(ctx context.Context, filter store.TransactionFilter) (int, error) {
	where, args := whereClause(filter)
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&count)
	if err != nil {
		err := fmt.Errorf("could not count transactions: %w", err)
		log.Error(err)
		return 0, err
	}
	return count, nil
}

func (r repository) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Transaction{}, store.ErrTransactionNotFound
		}
		err := fmt.Errorf("could not get transaction %d: %w", id, err)
		log.Error(err)
		return ledger.Transaction{}, err
	}
	return t, nil
}

func (r repository) QueryBudgetNames(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT name FROM budgets ORDER BY name`)
	if err != nil {
		err := fmt.Errorf("could not query budget names: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("could not scan budget name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r repository) ListBudgets(ctx context.Context) ([]ledger.Budget, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT name, budget_limit FROM budgets ORDER BY name`)
	if err != nil {
		err := fmt.Errorf("could not query budgets: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	budgets := []ledger.Budget{}
	for rows.Next() {
		var b ledger.Budget
		if err := rows.Scan(&b.Name, &b.Limit); err != nil {
			return nil, fmt.Errorf("could not scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (r repository) GetBudget(ctx context.Context, name string) (ledger.Budget, error) {
	var b ledger.Budget
	err := r.q.QueryRowContext(ctx, `SELECT name, budget_limit FROM budgets WHERE name = ?`, name).Scan(&b.Name, &b.Limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Budget{}, store.ErrBudgetNotFound
		}
		err := fmt.Errorf("could not get budget %q: %w", name, err)
		log.Error(err)
		return ledger.Budget{}, err
	}
	return b, nil
}

func (r repository) BudgetTotals(ctx context.Context, start, end int64) ([]ledger.Budget, error) {
	query := `SELECT b.name, b.budget_limit,
                     COALESCE(SUM(CASE WHEN t.kind = 'REVENUE' THEN -t.amount ELSE t.amount END), 0)
              FROM budgets b
              LEFT JOIN transactions t ON t.budget = b.name AND t.date_ms >= ? AND t.date_ms <= ?
              GROUP BY b.name, b.budget_limit
              ORDER BY b.name`
	rows, err := r.q.QueryContext(ctx, query, start, end)
	if err != nil {
		err := fmt.Errorf("could not query budget totals: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	budgets := []ledger.Budget{}
	for rows.Next() {
		var b ledger.Budget
		var sum float64
		if err := rows.Scan(&b.Name, &b.Limit, &sum); err != nil {
			return nil, fmt.Errorf("could not scan budget total: %w", err)
		}
		b.CurrentValue = int(sum)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (r repository) InsertBudget(ctx context.Context, budget ledger.Budget) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO budgets (name, budget_limit) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		budget.Name, budget.Limit)
	if err != nil {
		err := fmt.Errorf("could not insert budget %q: %w", budget.Name, err)
		log.Error(err)
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("could not insert budget %q: %w", budget.Name, err)
	} else if n == 0 {
		return fmt.Errorf("budget %q: %w", budget.Name, store.ErrConflict)
	}
	return nil
}

func (r repository) UpdateBudget(ctx context.Context, budget ledger.Budget) (bool, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE budgets SET budget_limit = ? WHERE name = ?`, budget.Limit, budget.Name)
	if err != nil {
		err := fmt.Errorf("could not update budget %q: %w", budget.Name, err)
		log.Error(err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r repository) DeleteBudget(ctx context.Context, name string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM budgets WHERE name = ?`, name)
	if err != nil {
		err := fmt.Errorf("could not delete budget %q: %w", name, err)
		log.Error(err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r repository) InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error) {
	var row *sql.Row
	if t.ID == 0 {
		row = r.q.QueryRowContext(ctx,
			`INSERT INTO transactions (kind, description, account, budget, amount, note, date_ms, receipt)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			t.Kind.String(), t.Description, t.Account, t.BudgetName, t.Amount, t.Note, t.Timestamp, t.ReceiptPath)
	} else {
		row = r.q.QueryRowContext(ctx,
			`INSERT INTO transactions (id, kind, description, account, budget, amount, note, date_ms, receipt)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING RETURNING id`,
			t.ID, t.Kind.String(), t.Description, t.Account, t.BudgetName, t.Amount, t.Note, t.Timestamp, t.ReceiptPath)
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("transaction %d: %w", t.ID, store.ErrConflict)
		}
		err := fmt.Errorf("could not insert transaction: %w", err)
		log.Error(err)
		return 0, err
	}
	return id, nil
}

func (r repository) UpdateTransaction(ctx context.Context, t ledger.Transaction) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE transactions SET kind = ?, description = ?, account = ?, budget = ?, amount = ?, note = ?, date_ms = ?, receipt = ?
         WHERE id = ?`,
		t.Kind.String(), t.Description, t.Account, t.BudgetName, t.Amount, t.Note, t.Timestamp, t.ReceiptPath, t.ID)
	if err != nil {
		err := fmt.Errorf("could not update transaction %d: %w", t.ID, err)
		log.Error(err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r repository) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		err := fmt.Errorf("could not delete transaction %d: %w", id, err)
		log.Error(err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
