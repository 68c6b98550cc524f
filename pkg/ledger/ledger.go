package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownKind = errors.New("unknown transaction kind")

// Kind tells whether a Transaction takes money out of a budget or puts it back.
// The amount of a transaction is always a magnitude, the direction lives here.
type Kind int

const (
	Expense Kind = iota + 1
	Revenue
)

// Kinds lists every kind in the order transactions are exported.
var Kinds = []Kind{Expense, Revenue}

func (k Kind) String() string {
	switch k {
	case Expense:
		return "EXPENSE"
	case Revenue:
		return "REVENUE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Valid() bool {
	return k == Expense || k == Revenue
}

// ParseKind accepts exactly the wire tags produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "EXPENSE":
		return Expense, nil
	case "REVENUE":
		return Revenue, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ParseKindFold is the lenient variant used by query parameters.
func ParseKindFold(s string) (Kind, error) {
	return ParseKind(strings.ToUpper(strings.TrimSpace(s)))
}

type Budget struct {
	Name  string
	Limit int
	// CurrentValue is expenses minus revenues booked on this budget inside a queried
	// window. It is computed on read and never stored.
	CurrentValue int
}

type Transaction struct {
	ID          int64
	Kind        Kind
	Description string
	Account     string
	BudgetName  string
	Amount      float64
	Note        string
	// Timestamp is in milliseconds since the Unix epoch.
	Timestamp int64
	// ReceiptPath is an absolute path on this machine, empty when there is no receipt.
	ReceiptPath string
}

func (t Transaction) HasReceipt() bool {
	return t.ReceiptPath != ""
}

// Signed returns the amount with the direction of the kind applied.
func (t Transaction) Signed() float64 {
	if t.Kind == Revenue {
		return -t.Amount
	}
	return t.Amount
}
