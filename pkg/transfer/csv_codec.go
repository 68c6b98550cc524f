package transfer

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
)

const (
	colID          = "_id"
	colType        = "type"
	colDescription = "description"
	colAccount     = "account"
	colBudget      = "budget"
	colValue       = "value"
	colNote        = "note"
	colDate        = "date"
	colReceipt     = "receipt"
)

var csvHeader = []string{colID, colType, colDescription, colAccount, colBudget, colValue, colNote, colDate, colReceipt}

var csvRequired = []string{colID, colType, colValue, colDate}

// csvCodec writes one row per transaction (type EXPENSE or REVENUE) followed by one row
// per budget (type BUDGET, _id holding the name and value the limit).
type csvCodec struct {
	receipts *receipt.Dir
}

func (c csvCodec) Export(ctx context.Context, r store.Reader, w io.Writer, rng Range, tr *Tracker) error {
	plan, err := planExport(ctx, r, rng)
	if err != nil {
		return err
	}
	tr.SetTotal(plan.total())
	return c.write(ctx, r, w, rng, plan, tr)
}

func (c csvCodec) write(ctx context.Context, r store.Reader, w io.Writer, rng Range, plan exportPlan, tr *Tracker) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return ioError(ctx, "write csv header", err)
	}

	for _, kind := range ledger.Kinds {
		err := eachTransaction(ctx, r, kind, rng, func(t ledger.Transaction) error {
			row := []string{
				strconv.FormatInt(t.ID, 10),
				t.Kind.String(),
				t.Description,
				t.Account,
				t.BudgetName,
				formatAmount(t.Amount),
				t.Note,
				strconv.FormatInt(t.Timestamp, 10),
				receipt.BaseName(t.ReceiptPath),
			}
			if err := cw.Write(row); err != nil {
				return ioError(ctx, "write csv row", err)
			}
			tr.Record()
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, b := range plan.budgets {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		if err := cw.Write([]string{b.Name, budgetTag, "", "", "", strconv.Itoa(b.Limit), "", "", ""}); err != nil {
			return ioError(ctx, "write csv row", err)
		}
		tr.Record()
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return ioError(ctx, "flush csv", err)
	}
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c csvCodec) Import(ctx context.Context, tx *ImportTx, src io.Reader, tr *Tracker) error {
	im := importer{tx: tx, receipts: c.receipts, tr: tr}
	cr := newRecordReader(src)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &FormatError{Msg: "missing csv header"}
		}
		return csvReadError(ctx, 0, err)
	}
	cols, err := parseCSVHeader(header)
	if err != nil {
		return err
	}
	cr.FieldsPerRecord = len(header)

	for record := 1; ; record++ {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return csvReadError(ctx, record, err)
		}
		if err := c.importRow(ctx, im, record, csvRow{cols: cols, row: row}); err != nil {
			return err
		}
	}
}

func csvReadError(ctx context.Context, record int, err error) error {
	var syntaxErr *csvSyntaxError
	if errors.As(err, &syntaxErr) {
		return &FormatError{Record: record, Msg: "malformed csv", Err: err}
	}
	return ioError(ctx, "read csv", err)
}

func parseCSVHeader(header []string) (map[string]int, error) {
	known := map[string]bool{}
	for _, col := range csvHeader {
		known[col] = true
	}
	cols := map[string]int{}
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if !known[name] {
			return nil, &FormatError{Field: name, Msg: "unknown csv column"}
		}
		if _, dup := cols[name]; dup {
			return nil, &FormatError{Field: name, Msg: "duplicate csv column"}
		}
		cols[name] = i
	}
	for _, name := range csvRequired {
		if _, ok := cols[name]; !ok {
			return nil, &FormatError{Field: name, Msg: "missing required csv column"}
		}
	}
	return cols, nil
}

type csvRow struct {
	cols map[string]int
	row  []string
}

func (r csvRow) get(col string) string {
	if i, ok := r.cols[col]; ok {
		return r.row[i]
	}
	return ""
}

func (c csvCodec) importRow(ctx context.Context, im importer, record int, row csvRow) error {
	typ := row.get(colType)
	if typ == budgetTag {
		limit, err := strconv.Atoi(row.get(colValue))
		if err != nil {
			return &FormatError{Record: record, Field: colValue, Msg: "budget limit is not an integer", Err: err}
		}
		return im.budget(ctx, record, ledger.Budget{Name: row.get(colID), Limit: limit})
	}

	kind, err := ledger.ParseKind(typ)
	if err != nil {
		return &FormatError{Record: record, Field: colType, Msg: "unrecognized record type", Err: err}
	}
	id, err := strconv.ParseInt(row.get(colID), 10, 64)
	if err != nil {
		return &FormatError{Record: record, Field: colID, Msg: "transaction id is not an integer", Err: err}
	}
	amount, err := strconv.ParseFloat(row.get(colValue), 64)
	if err != nil {
		return &FormatError{Record: record, Field: colValue, Msg: "amount is not a number", Err: err}
	}
	timestamp, err := strconv.ParseInt(row.get(colDate), 10, 64)
	if err != nil {
		return &FormatError{Record: record, Field: colDate, Msg: "date is not an epoch millisecond timestamp", Err: err}
	}

	t := ledger.Transaction{
		ID:          id,
		Kind:        kind,
		Description: row.get(colDescription),
		Account:     row.get(colAccount),
		BudgetName:  row.get(colBudget),
		Amount:      amount,
		Note:        row.get(colNote),
		Timestamp:   timestamp,
	}
	return im.transaction(ctx, record, t, row.get(colReceipt))
}
