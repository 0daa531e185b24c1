package sidecar

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// NotAvailable is the tab-separated placeholder for an unknown cell.
const NotAvailable = "n/a"

// Table is a tab-separated table with a header row.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Header: append([]string(nil), columns...)}
}

// DecodeTable parses tab-separated content.
func DecodeTable(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = false

	t := &Table{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if t.Header == nil {
			t.Header = record
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make([]string, len(t.Header))
		for i := range row {
			if i < len(record) {
				row[i] = record[i]
			} else {
				row[i] = NotAvailable
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// LoadTable reads a table file. A missing file yields (nil, false, nil).
func LoadTable(path string) (*Table, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	t, err := DecodeTable(data)
	if err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", path, err)
	}
	return t, true, nil
}

// Encode renders the table with a trailing newline.
func (t *Table) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(t.Header, "\t"))
	buf.WriteByte('\n')
	for _, row := range t.Rows {
		buf.WriteString(strings.Join(row, "\t"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Column returns the index of a header column or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// EnsureColumn adds a column filled with n/a when absent and returns its index.
func (t *Table) EnsureColumn(name string) int {
	if i := t.Column(name); i >= 0 {
		return i
	}
	t.Header = append(t.Header, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], NotAvailable)
	}
	return len(t.Header) - 1
}

// Lookup finds the first row whose column equals value.
func (t *Table) Lookup(column, value string) int {
	c := t.Column(column)
	if c < 0 {
		return -1
	}
	for i, row := range t.Rows {
		if row[c] == value {
			return i
		}
	}
	return -1
}

// Cell returns a cell by column name, or "".
func (t *Table) Cell(row int, column string) string {
	c := t.Column(column)
	if c < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][c]
}

// AppendRow adds a row keyed by column name. Missing columns get n/a.
func (t *Table) AppendRow(values map[string]string) {
	row := make([]string, len(t.Header))
	for i, h := range t.Header {
		if v, ok := values[h]; ok {
			row[i] = v
		} else {
			row[i] = NotAvailable
		}
	}
	t.Rows = append(t.Rows, row)
}
