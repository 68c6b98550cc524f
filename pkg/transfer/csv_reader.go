package transfer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	errBareQuote  = errors.New(`bare " in non-quoted field`)
	errQuote      = errors.New(`extraneous or missing " in quoted field`)
	errFieldCount = errors.New("wrong number of fields")
)

type csvSyntaxError struct {
	Line int
	Err  error
}

func (e *csvSyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *csvSyntaxError) Unwrap() error {
	return e.Err
}

// recordReader reads RFC 4180 records the way encoding/csv.Writer produces them, except
// that quoted fields are kept byte for byte: encoding/csv.Reader rewrites a quoted "\r\n"
// to "\n". Empty lines are skipped. The returned record is reused by the next Read.
type recordReader struct {
	br *bufio.Reader
	// FieldsPerRecord, when positive, is the number of fields every record must have.
	FieldsPerRecord int

	line   int
	record []string
	field  bytes.Buffer
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{br: bufio.NewReader(r), line: 1}
}

func (r *recordReader) Read() ([]string, error) {
	start := r.line
	record, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	if r.FieldsPerRecord > 0 && len(record) != r.FieldsPerRecord {
		return nil, &csvSyntaxError{Line: start, Err: errFieldCount}
	}
	return record, nil
}

func (r *recordReader) readRecord() ([]string, error) {
	r.record = r.record[:0]
	r.field.Reset()
	start := r.line
	fieldStart, quoted, inQuotes := true, false, false

	endField := func() {
		r.record = append(r.record, r.field.String())
		r.field.Reset()
		fieldStart, quoted = true, false
	}

	for {
		b, err := r.br.ReadByte()
		if errors.Is(err, io.EOF) {
			if inQuotes {
				return nil, &csvSyntaxError{Line: start, Err: errQuote}
			}
			if fieldStart && !quoted && len(r.record) == 0 {
				return nil, io.EOF
			}
			endField()
			return r.record, nil
		}
		if err != nil {
			return nil, err
		}

		if inQuotes {
			if b != '"' {
				if b == '\n' {
					r.line++
				}
				r.field.WriteByte(b)
				continue
			}
			next, err := r.br.ReadByte()
			switch {
			case err == nil && next == '"':
				r.field.WriteByte('"')
				continue
			case err == nil:
				_ = r.br.UnreadByte()
			case !errors.Is(err, io.EOF):
				return nil, err
			}
			inQuotes = false
			continue
		}

		eol := b == '\n'
		if b == '\r' {
			next, err := r.br.ReadByte()
			switch {
			case err == nil && next == '\n':
				eol = true
			case err == nil:
				_ = r.br.UnreadByte()
			case !errors.Is(err, io.EOF):
				return nil, err
			}
		}
		if eol {
			r.line++
			if fieldStart && !quoted && len(r.record) == 0 {
				start = r.line
				continue
			}
			endField()
			return r.record, nil
		}

		switch {
		case b == ',':
			endField()
		case b == '"' && fieldStart:
			fieldStart, quoted, inQuotes = false, true, true
		case quoted:
			return nil, &csvSyntaxError{Line: r.line, Err: errQuote}
		case b == '"':
			return nil, &csvSyntaxError{Line: r.line, Err: errBareQuote}
		default:
			fieldStart = false
			r.field.WriteByte(b)
		}
	}
}
