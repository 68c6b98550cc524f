package transfer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned when the caller cancelled the operation. It wraps the
	// context's cancellation cause.
	ErrInterrupted   = errors.New("transfer interrupted")
	ErrUnknownFormat = errors.New("unknown data format")
)

// FormatError reports malformed or invalid input. Record is the 1-based position of the
// offending record, or 0 when the problem is not tied to a record (e.g. a bad header).
type FormatError struct {
	Record int
	Field  string
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	msg := e.Msg
	if e.Field != "" {
		msg = fmt.Sprintf("field %s: %s", e.Field, msg)
	}
	if e.Record > 0 {
		msg = fmt.Sprintf("record %d: %s", e.Record, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "invalid input: " + msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IOError reports a failure of the byte stream, the receipt directory or the store.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindFormat
	KindIO
	KindInterrupted
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFormat:
		return "format"
	case KindIO:
		return "io"
	case KindInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// KindOf classifies err. Interruption wins over the other kinds since a cancelled
// operation often surfaces as a failed read as well.
func KindOf(err error) ErrorKind {
	var formatErr *FormatError
	var ioErr *IOError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInterrupted):
		return KindInterrupted
	case errors.As(err, &formatErr):
		return KindFormat
	case errors.As(err, &ioErr):
		return KindIO
	}
	return KindUnknown
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
}

// ioError wraps err as an IOError, unless ctx was cancelled meanwhile, in which case the
// failure is most likely a consequence of the cancellation.
func ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}
	return &IOError{Op: op, Err: err}
}
