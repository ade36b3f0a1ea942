// Package table reads and writes the delimited tables exchanged between
// pipeline steps: Graphab TXT outputs, reclassification CSVs and stats.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	Tab   = '\t'
	Comma = ','
)

const utf8BOM = "\ufeff"

type Table struct {
	Columns []string
	Rows    [][]string
}

func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Read parses a delimited file with a header row. A leading UTF-8 byte
// order mark is dropped.
func Read(path string, sep rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Parse(f, sep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func Parse(r io.Reader, sep rune) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty table")
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &Table{Columns: header, Rows: records[1:]}, nil
}

func (t *Table) Write(path string, sep rune) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = t.Encode(f, sep); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func (t *Table) Encode(w io.Writer, sep rune) error {
	writer := csv.NewWriter(w)
	writer.Comma = sep
	if err := writer.Write(t.Columns); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}

// Index returns the position of a column or -1.
func (t *Table) Index(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Value returns the cell of a row under a named column, empty when either
// is missing.
func (t *Table) Value(row int, name string) string {
	idx := t.Index(name)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][idx]
}

// SetColumn sets every row of a column to value, adding the column when
// it does not exist yet.
func (t *Table) SetColumn(name, value string) {
	idx := t.Index(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		idx = len(t.Columns) - 1
	}
	for i, row := range t.Rows {
		for len(row) <= idx {
			row = append(row, "")
		}
		row[idx] = value
		t.Rows[i] = row
	}
}

func (t *Table) Append(row ...string) {
	t.Rows = append(t.Rows, row)
}

// Concat stacks tables on the union of their columns, in first-seen
// order. Missing cells are left empty.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	for _, t := range tables {
		for _, col := range t.Columns {
			if out.Index(col) < 0 {
				out.Columns = append(out.Columns, col)
			}
		}
	}

	for _, t := range tables {
		mapping := make([]int, len(t.Columns))
		for i, col := range t.Columns {
			mapping[i] = out.Index(col)
		}
		for _, row := range t.Rows {
			merged := make([]string, len(out.Columns))
			for i, cell := range row {
				if i < len(mapping) {
					merged[mapping[i]] = cell
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// AppendFile appends rows to path, writing the header first when the file
// does not exist yet or is empty.
func AppendFile(path string, sep rune, columns []string, rows ...[]string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	writer := csv.NewWriter(f)
	writer.Comma = sep
	if info.Size() == 0 {
		writer.Write(columns)
	}
	writer.WriteAll(rows)
	if err = writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
