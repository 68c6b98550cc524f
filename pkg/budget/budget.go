package budget

import (
	"time"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
)

type Budget = ledger.Budget

// Window is the inclusive range of epoch milliseconds whose transactions count towards
// the current value of a budget.
type Window struct {
	Start int64
	End   int64
}

// MonthOf is the calendar month containing t, in t's location.
func MonthOf(t time.Time) Window {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	next := first.AddDate(0, 1, 0)
	return Window{Start: first.UnixMilli(), End: next.UnixMilli() - 1}
}

func (w Window) Contains(ms int64) bool {
	return ms >= w.Start && ms <= w.End
}
