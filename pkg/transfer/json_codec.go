package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
)

const (
	keyID          = "ID"
	keyType        = "TYPE"
	keyDescription = "DESCRIPTION"
	keyAccount     = "ACCOUNT"
	keyBudget      = "BUDGET"
	keyValue       = "VALUE"
	keyNote        = "NOTE"
	keyDate        = "DATE"
	keyReceipt     = "RECEIPT"
	keyName        = "NAME"
)

var (
	transactionKeys = map[string]bool{
		keyID: true, keyType: true, keyDescription: true, keyAccount: true, keyBudget: true,
		keyValue: true, keyNote: true, keyDate: true, keyReceipt: true,
	}
	budgetKeys = map[string]bool{keyName: true, keyType: true, keyValue: true}
)

type jsonTransaction struct {
	ID          int64   `json:"ID"`
	Type        string  `json:"TYPE"`
	Description string  `json:"DESCRIPTION,omitempty"`
	Account     string  `json:"ACCOUNT,omitempty"`
	Budget      string  `json:"BUDGET,omitempty"`
	Value       float64 `json:"VALUE"`
	Note        string  `json:"NOTE,omitempty"`
	Date        int64   `json:"DATE"`
	Receipt     string  `json:"RECEIPT,omitempty"`
}

type jsonBudget struct {
	Name  string `json:"NAME"`
	Type  string `json:"TYPE"`
	Value int    `json:"VALUE"`
}

// jsonCodec writes a single top-level array holding transactions (expenses, then
// revenues) followed by budgets, one flat object per line.
type jsonCodec struct {
	receipts *receipt.Dir
}

type jsonArrayWriter struct {
	w     io.Writer
	buf   bytes.Buffer
	enc   *json.Encoder
	count int
}

func newJSONArrayWriter(w io.Writer) *jsonArrayWriter {
	aw := &jsonArrayWriter{w: w}
	aw.enc = json.NewEncoder(&aw.buf)
	aw.enc.SetEscapeHTML(false)
	return aw
}

func (aw *jsonArrayWriter) write(v any) error {
	aw.buf.Reset()
	if aw.count == 0 {
		aw.buf.WriteString("[\n")
	} else {
		aw.buf.WriteString(",\n")
	}
	if err := aw.enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates the value with a newline; the separator goes there instead.
	aw.buf.Truncate(aw.buf.Len() - 1)
	aw.count++
	_, err := aw.w.Write(aw.buf.Bytes())
	return err
}

func (aw *jsonArrayWriter) close() error {
	end := "\n]\n"
	if aw.count == 0 {
		end = "[]\n"
	}
	_, err := io.WriteString(aw.w, end)
	return err
}

func (c jsonCodec) Export(ctx context.Context, r store.Reader, w io.Writer, rng Range, tr *Tracker) error {
	plan, err := planExport(ctx, r, rng)
	if err != nil {
		return err
	}
	tr.SetTotal(plan.total())

	aw := newJSONArrayWriter(w)
	for _, kind := range ledger.Kinds {
		err := eachTransaction(ctx, r, kind, rng, func(t ledger.Transaction) error {
			err := aw.write(jsonTransaction{
				ID:          t.ID,
				Type:        t.Kind.String(),
				Description: t.Description,
				Account:     t.Account,
				Budget:      t.BudgetName,
				Value:       t.Amount,
				Note:        t.Note,
				Date:        t.Timestamp,
				Receipt:     receipt.BaseName(t.ReceiptPath),
			})
			if err != nil {
				return ioError(ctx, "write json", err)
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
		if err := aw.write(jsonBudget{Name: b.Name, Type: budgetTag, Value: b.Limit}); err != nil {
			return ioError(ctx, "write json", err)
		}
		tr.Record()
	}

	if err := aw.close(); err != nil {
		return ioError(ctx, "write json", err)
	}
	return nil
}

func (c jsonCodec) Import(ctx context.Context, tx *ImportTx, src io.Reader, tr *Tracker) error {
	im := importer{tx: tx, receipts: c.receipts, tr: tr}
	dec := json.NewDecoder(src)

	if err := expectDelim(ctx, dec, 0, '['); err != nil {
		return err
	}
	record := 0
	for dec.More() {
		record++
		if err := checkpoint(ctx); err != nil {
			return err
		}
		obj, err := readJSONObject(ctx, dec, record)
		if err != nil {
			return err
		}
		if err := c.importObject(ctx, im, obj); err != nil {
			return err
		}
	}
	if err := expectDelim(ctx, dec, 0, ']'); err != nil {
		return err
	}

	_, err := dec.Token()
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil && KindOf(jsonReadError(ctx, 0, err)) != KindFormat:
		return jsonReadError(ctx, 0, err)
	}
	return &FormatError{Msg: "unexpected content after the top-level array", Err: err}
}

func jsonReadError(ctx context.Context, record int, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &FormatError{Record: record, Msg: "malformed json", Err: err}
	}
	return ioError(ctx, "read json", err)
}

func expectDelim(ctx context.Context, dec *json.Decoder, record int, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return jsonReadError(ctx, record, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return &FormatError{Record: record, Msg: fmt.Sprintf("expected %q, got %v", want, tok)}
	}
	return nil
}

type jsonObject struct {
	record int
	fields map[string]json.RawMessage
}

func readJSONObject(ctx context.Context, dec *json.Decoder, record int) (jsonObject, error) {
	if err := expectDelim(ctx, dec, record, '{'); err != nil {
		return jsonObject{}, err
	}
	obj := jsonObject{record: record, fields: map[string]json.RawMessage{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return jsonObject{}, jsonReadError(ctx, record, err)
		}
		key, ok := tok.(string)
		if !ok {
			return jsonObject{}, &FormatError{Record: record, Msg: fmt.Sprintf("expected object key, got %v", tok)}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return jsonObject{}, jsonReadError(ctx, record, err)
		}
		if _, dup := obj.fields[key]; dup {
			return jsonObject{}, &FormatError{Record: record, Field: key, Msg: "duplicate key"}
		}
		if bytes.Equal(raw, []byte("null")) {
			return jsonObject{}, &FormatError{Record: record, Field: key, Msg: "null is not allowed"}
		}
		obj.fields[key] = raw
	}
	if err := expectDelim(ctx, dec, record, '}'); err != nil {
		return jsonObject{}, err
	}
	return obj, nil
}

func (o jsonObject) checkKeys(allowed map[string]bool) error {
	for key := range o.fields {
		if !allowed[key] {
			return &FormatError{Record: o.record, Field: key, Msg: "unknown key"}
		}
	}
	return nil
}

func (o jsonObject) decode(key string, required bool, v any) error {
	raw, ok := o.fields[key]
	if !ok {
		if required {
			return &FormatError{Record: o.record, Field: key, Msg: "missing required key"}
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &FormatError{Record: o.record, Field: key, Msg: fmt.Sprintf("unexpected value %s", raw), Err: err}
	}
	return nil
}

func (c jsonCodec) importObject(ctx context.Context, im importer, o jsonObject) error {
	var typ string
	if err := o.decode(keyType, true, &typ); err != nil {
		return err
	}

	if typ == budgetTag {
		if err := o.checkKeys(budgetKeys); err != nil {
			return err
		}
		var b ledger.Budget
		if err := o.decode(keyName, true, &b.Name); err != nil {
			return err
		}
		if err := o.decode(keyValue, true, &b.Limit); err != nil {
			return err
		}
		return im.budget(ctx, o.record, b)
	}

	kind, err := ledger.ParseKind(typ)
	if err != nil {
		return &FormatError{Record: o.record, Field: keyType, Msg: "unrecognized record type", Err: err}
	}
	if err := o.checkKeys(transactionKeys); err != nil {
		return err
	}
	t := ledger.Transaction{Kind: kind}
	var receiptName string
	fields := []struct {
		key      string
		required bool
		dest     any
	}{
		{keyID, true, &t.ID},
		{keyValue, true, &t.Amount},
		{keyDate, true, &t.Timestamp},
		{keyDescription, false, &t.Description},
		{keyAccount, false, &t.Account},
		{keyBudget, false, &t.BudgetName},
		{keyNote, false, &t.Note},
		{keyReceipt, false, &receiptName},
	}
	for _, f := range fields {
		if err := o.decode(f.key, f.required, f.dest); err != nil {
			return err
		}
	}
	return im.transaction(ctx, o.record, t, receiptName)
}
