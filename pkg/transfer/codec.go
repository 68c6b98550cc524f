package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
)

// Codec serializes the dataset in one DataFormat.
//
// Export writes every budget and the transactions inside rng to w, ticking tr once per
// record and checking ctx between records. On error w holds partial output that the
// caller must discard.
//
// Import reads src and inserts every record through tx, ticking tr once per record. It
// returns a *FormatError, an *IOError or ErrInterrupted on failure; the caller rolls back.
type Codec interface {
	Export(ctx context.Context, r store.Reader, w io.Writer, rng Range, tr *Tracker) error
	Import(ctx context.Context, tx *ImportTx, src io.Reader, tr *Tracker) error
}

const budgetTag = "BUDGET"

// exportPlan is everything an export writes, gathered up front so the total is known
// and no store query is left open while another runs.
type exportPlan struct {
	budgets []ledger.Budget
	counts  map[ledger.Kind]int
}

func (p exportPlan) total() int {
	n := len(p.budgets)
	for _, c := range p.counts {
		n += c
	}
	return n
}

func planExport(ctx context.Context, r store.Reader, rng Range) (exportPlan, error) {
	budgets, err := r.ListBudgets(ctx)
	if err != nil {
		return exportPlan{}, ioError(ctx, "list budgets", err)
	}
	p := exportPlan{budgets: budgets, counts: map[ledger.Kind]int{}}
	for _, kind := range ledger.Kinds {
		n, err := r.CountTransactions(ctx, rangeFilter(kind, rng))
		if err != nil {
			return exportPlan{}, ioError(ctx, "count transactions", err)
		}
		p.counts[kind] = n
	}
	return p, nil
}

func rangeFilter(kind ledger.Kind, rng Range) store.TransactionFilter {
	return store.TransactionFilter{Kind: kind, Start: rng.Start, End: rng.End}
}

// eachTransaction streams the transactions of one kind inside rng, newest first.
func eachTransaction(ctx context.Context, r store.Reader, kind ledger.Kind, rng Range, fn func(ledger.Transaction) error) error {
	for t, err := range r.QueryTransactions(ctx, rangeFilter(kind, rng)) {
		if err != nil {
			return ioError(ctx, "query transactions", err)
		}
		if err := checkpoint(ctx); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// importer validates decoded records and inserts them, shared by the CSV and JSON codecs.
type importer struct {
	tx       *ImportTx
	receipts *receipt.Dir
	tr       *Tracker
}

func (im importer) budget(ctx context.Context, record int, b ledger.Budget) error {
	if b.Name == "" {
		return &FormatError{Record: record, Field: "name", Msg: "budget name is empty"}
	}
	if err := im.tx.InsertBudget(ctx, b); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return &FormatError{Record: record, Msg: fmt.Sprintf("budget %q already exists", b.Name), Err: err}
		}
		return ioError(ctx, "insert budget", err)
	}
	im.tr.Record()
	return nil
}

// transaction inserts t, keeping its id. receiptName is resolved against the receipt
// directory; a receipt that is not there is dropped.
func (im importer) transaction(ctx context.Context, record int, t ledger.Transaction, receiptName string) error {
	if t.ID <= 0 {
		return &FormatError{Record: record, Field: "id", Msg: fmt.Sprintf("id must be positive, got %d", t.ID)}
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount < 0 {
		return &FormatError{Record: record, Field: "value", Msg: fmt.Sprintf("amount must be a non-negative number, got %v", t.Amount)}
	}
	if receiptName != "" && im.receipts != nil {
		t.ReceiptPath = im.receipts.Resolve(receiptName)
	}
	if _, err := im.tx.InsertTransaction(ctx, t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return &FormatError{Record: record, Msg: fmt.Sprintf("transaction %d already exists", t.ID), Err: err}
		}
		return ioError(ctx, "insert transaction", err)
	}
	im.tr.Record()
	return nil
}
