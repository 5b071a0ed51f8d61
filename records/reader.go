package records

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Reader streams records from JSON-lines input. Blank lines are skipped.
type Reader struct {
	br   *bufio.Reader
	line int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 1<<20)}
}

// Line returns the 1-based line number of the last line read.
func (r *Reader) Line() int { return r.line }

// Next returns the next record, or io.EOF once the input is exhausted.
func (r *Reader) Next() (*Record, error) {
	for {
		b, err := r.br.ReadBytes('\n')
		if len(b) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		r.line++
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}
		rec, perr := Parse(b)
		if perr != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, perr)
		}
		return rec, nil
	}
}
