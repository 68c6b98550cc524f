package transfer

import (
	"context"

	"github.com/budgetwatch/budgetwatch/pkg/store"
	log "github.com/sirupsen/logrus"
)

// ImportTx is the write side handed to an importer. Every write goes through the open
// store transaction; side effects outside the store register an undo with OnRollback.
type ImportTx struct {
	store.ReadWriter
	undo []func() error
}

// OnRollback registers fn to run if the import does not commit. Hooks run in reverse
// registration order.
func (t *ImportTx) OnRollback(fn func() error) {
	t.undo = append(t.undo, fn)
}

func (t *ImportTx) runUndo() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](); err != nil {
			log.Warnf("could not undo import side effect: %v", err)
		}
	}
	t.undo = nil
}

// Apply runs fn inside a single store transaction. The transaction commits only if fn
// succeeds and ctx is still live; otherwise it rolls back, the undo hooks run and the
// error is returned. A panic in fn also rolls back before it propagates. Readers never
// observe a partial import.
func Apply(ctx context.Context, st store.Store, fn func(tx *ImportTx) error) error {
	tx, err := st.Begin(ctx)
	if err != nil {
		return ioError(ctx, "begin import", err)
	}
	itx := &ImportTx{ReadWriter: tx}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			log.Errorf("import rollback failed: %v", err)
		}
		itx.runUndo()
	}()

	if err := fn(itx); err != nil {
		return err
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return ioError(ctx, "commit import", err)
	}
	committed = true
	return nil
}
