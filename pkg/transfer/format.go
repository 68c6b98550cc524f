package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/utils"
)

// DataFormat names one of the interchangeable dataset representations.
type DataFormat string

const (
	CSV  DataFormat = "csv"
	JSON DataFormat = "json"
	ZIP  DataFormat = "zip"
)

var Formats = []DataFormat{CSV, JSON, ZIP}

func ParseFormat(s string) (DataFormat, error) {
	f := DataFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case CSV, JSON, ZIP:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f DataFormat) Extension() string {
	return string(f)
}

func (f DataFormat) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case JSON:
		return "application/json"
	case ZIP:
		return "application/zip"
	}
	return "application/octet-stream"
}

// FileName is the default name of an export made at t, e.g. budgetwatch-20240301-142500.csv.
func (f DataFormat) FileName(t time.Time) string {
	return "budgetwatch-" + t.Format("20060102-150405") + "." + f.Extension()
}

// Range limits exported transactions to timestamps between Start and End inclusive.
// A nil bound is open. Budgets are always exported in full.
type Range struct {
	Start *int64
	End   *int64
}

func (r Range) String() string {
	bound := func(b *int64) string {
		if b == nil {
			return "*"
		}
		return utils.UnixMilli(*b).Format(time.RFC3339)
	}
	return "[" + bound(r.Start) + ", " + bound(r.End) + "]"
}
