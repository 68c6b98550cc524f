// Package pgstore implements store.Store on top of a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	q querier
}

type Store struct {
	repository
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{repository: repository{q: pool}, pool: pool}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		err := fmt.Errorf("could not begin transaction: %w", err)
		log.Error(err)
		return nil, err
	}
	return &Tx{repository: repository{q: tx}, tx: tx}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type Tx struct {
	repository
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return store.ErrTxDone
		}
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("could not rollback transaction: %w", err)
	}
	return nil
}

func whereClause(filter store.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if filter.Kind != 0 {
		add("kind =", filter.Kind.String())
	}
	if filter.BudgetName != nil {
		add("budget =", *filter.BudgetName)
	}
	if filter.Start != nil {
		add("date_ms >=", *filter.Start)
	}
	if filter.End != nil {
		add("date_ms <=", *filter.End)
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

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var t ledger.Transaction
	var kind string
	if err := row.Scan(&t.ID, &kind, &t.Description, &t.Account, &t.BudgetName, &t.Amount, &t.Note, &t.Timestamp, &t.ReceiptPath); err != nil {
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
		rows, err := r.q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions`+where+` ORDER BY date_ms DESC, id DESC`, args...)
		if err != nil {
			err := fmt.Errorf("could not query transactions: %w", err)
			log.Error(err)
			yield(ledger.Transaction{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTransaction(rows)
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
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&count); err != nil {
		err := fmt.Errorf("could not count transactions: %w", err)
		log.Error(err)
		return 0, err
	}
	return count, nil
}

func (r repository) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Transaction{}, store.ErrTransactionNotFound
		}
		err := fmt.Errorf("could not get transaction %d: %w", id, err)
		log.Error(err)
		return ledger.Transaction{}, err
	}
	return t, nil
}

func (r repository) QueryBudgetNames(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT name FROM budgets ORDER BY name COLLATE "C"`)
	if err != nil {
		err := fmt.Errorf("could not query budget names: %w", err)
		log.Error(err)
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("could not scan budget names: %w", err)
	}
	return names, nil
}

func (r repository) ListBudgets(ctx context.Context) ([]ledger.Budget, error) {
	rows, err := r.q.Query(ctx, `SELECT name, budget_limit FROM budgets ORDER BY name COLLATE "C"`)
	if err != nil {
		err := fmt.Errorf("could not query budgets: %w", err)
		log.Error(err)
		return nil, err
	}
	budgets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Budget, error) {
		var b ledger.Budget
		err := row.Scan(&b.Name, &b.Limit)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not scan budgets: %w", err)
	}
	return budgets, nil
}

func (r repository) GetBudget(ctx context.Context, name string) (ledger.Budget, error) {
	var b ledger.Budget
	err := r.q.QueryRow(ctx, `SELECT name, budget_limit FROM budgets WHERE name = $1`, name).Scan(&b.Name, &b.Limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
                     COALESCE(SUM(CASE WHEN t.kind = 'REVENUE' THEN -t.amount ELSE t.amount END), 0)::DOUBLE PRECISION
              FROM budgets b
              LEFT JOIN transactions t ON t.budget = b.name AND t.date_ms >= $1 AND t.date_ms <= $2
              GROUP BY b.name, b.budget_limit
              ORDER BY b.name COLLATE "C"`
	rows, err := r.q.Query(ctx, query, start, end)
	if err != nil {
		err := fmt.Errorf("could not query budget totals: %w", err)
		log.Error(err)
		return nil, err
	}
	budgets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Budget, error) {
		var b ledger.Budget
		var sum float64
		err := row.Scan(&b.Name, &b.Limit, &sum)
		b.CurrentValue = int(sum)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not scan budget totals: %w", err)
	}
	return budgets, nil
}

func (r repository) InsertBudget(ctx context.Context, budget ledger.Budget) error {
	tag, err := r.q.Exec(ctx,
		`INSERT INTO budgets (name, budget_limit) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		budget.Name, budget.Limit)
	if err != nil {
		err := fmt.Errorf("could not insert budget %q: %w", budget.Name, err)
		log.Error(err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("budget %q: %w", budget.Name, store.ErrConflict)
	}
	return nil
}

func (r repository) UpdateBudget(ctx context.Context, budget ledger.Budget) (bool, error) {
	tag, err := r.q.Exec(ctx, `UPDATE budgets SET budget_limit = $1 WHERE name = $2`, budget.Limit, budget.Name)
	if err != nil {
		err := fmt.Errorf("could not update budget %q: %w", budget.Name, err)
		log.Error(err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r repository) DeleteBudget(ctx context.Context, name string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM budgets WHERE name = $1`, name)
	if err != nil {
		err := fmt.Errorf("could not delete budget %q: %w", name, err)
		log.Error(err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r repository) InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error) {
	var row pgx.Row
	if t.ID == 0 {
		row = r.q.QueryRow(ctx,
			`INSERT INTO transactions (kind, description, account, budget, amount, note, date_ms, receipt)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			t.Kind.String(), t.Description, t.Account, t.BudgetName, t.Amount, t.Note, t.Timestamp, t.ReceiptPath)
	} else {
		row = r.q.QueryRow(ctx,
			`INSERT INTO transactions (id, kind, description, account, budget, amount, note, date_ms, receipt)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING RETURNING id`,
			t.ID, t.Kind.String(), t.Description, t.Account, t.BudgetName, t.Amount, t.Note, t.Timestamp, t.ReceiptPath)
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("transaction %d: %w", t.ID, store.ErrConflict)
		}
		err := fmt.Errorf("could not insert transaction: %w", err)
		log.Error(err)
		return 0, err
	}

	if t.ID != 0 {
		// Rows inserted with an explicit id do not advance the serial sequence. It only
		// ever moves forward so deleted ids are never handed out again.
		_, err := r.q.Exec(ctx,
			`SELECT setval('transactions_id_seq', GREATEST($1, last_value), true) FROM transactions_id_seq`, id)
		if err != nil {
			err := fmt.Errorf("could not advance transaction id sequence: %w", err)
			log.Error(err)
			return 0, err
		}
	}
	return id, nil
}

func (r repository) UpdateTransaction(ctx context.Context, t ledger.Transaction) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE transactions SET kind = $1, description = $2, account = $3, budget = $4, amount = $5, note = $6, date_ms = $7, receipt = $8
         WHERE id = $9`,
		t.Kind.String(), t.Description, t.Account, t.BudgetName, t.Amount, t.Note, t.Timestamp, t.ReceiptPath, t.ID)
	if err != nil {
		err := fmt.Errorf("could not update transaction %d: %w", t.ID, err)
		log.Error(err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r repository) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		err := fmt.Errorf("could not delete transaction %d: %w", id, err)
		log.Error(err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
