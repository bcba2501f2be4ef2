// Package table loads delimiter-separated tables, extends them with merged
// weather columns, and writes the result.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyTable is returned for an input without a header line.
	ErrEmptyTable = errors.New("table has no header")
	// ErrRowTooWide is returned for a data row with more fields than the header.
	ErrRowTooWide = errors.New("row has more fields than header")
)

// Cell is one table field. An invalid cell is written as null.
type Cell struct {
	Text  string
	Valid bool
}

// Text returns a valid cell.
func Text(s string) Cell {
	return Cell{Text: s, Valid: true}
}

// NullCell returns an empty placeholder cell.
func NullCell() Cell {
	return Cell{}
}

func (c Cell) String() string {
	if !c.Valid {
		return ""
	}
	return c.Text
}

// Row is an ordered sequence of cells matching the header.
type Row []Cell

// Table is a header plus data rows.
type Table struct {
	Name   string
	Header []string
	Rows   []Row
}

// Index returns the header position of name, or -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Width returns the number of header fields.
func (t *Table) Width() int {
	return len(t.Header)
}

// ReadFile reads a delimiter-separated table from path. The first record is the header.
func ReadFile(path string, comma rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	t, err := Read(f, comma)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t.Name = filepath.Base(path)
	return t, nil
}

// Read parses a table. Rows shorter than the header are padded with null cells.
func Read(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyTable
		}
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Header: header}
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields, header has %d", ErrRowTooWide, n, len(rec), len(header))
		}

		row := make(Row, len(header))
		for i, v := range rec {
			row[i] = Text(v)
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}
