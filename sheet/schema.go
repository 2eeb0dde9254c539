package sheet

import (
	"context"
	"strings"
)

// =============================================================================
// SCHEMA - Expected header of a table
// =============================================================================

// Schema is the fixed header row a table must carry.
type Schema struct {
	Name    string
	Columns []string

	// Numeric columns are written as Number cells.
	Numeric []string
}

func (s Schema) numeric(column string) bool {
	for _, c := range s.Numeric {
		if c == column {
			return true
		}
	}
	return false
}

// Report describes what EnsureSchema changed.
type Report struct {
	Created     []string // tables that did not exist
	Initialized []string // empty tables that got a header
	Repaired    []string // tables whose header row was wrong
}

// Changed reports whether any table was touched.
func (r Report) Changed() bool {
	return len(r.Created)+len(r.Initialized)+len(r.Repaired) > 0
}

// EnsureSchema makes every table in schemas exist with the expected header.
//
// Missing tables are created. An empty table gets its header written. A
// table whose first row differs from the expected header gets the correct
// header inserted above it; existing rows are never removed or rewritten.
// Running it twice in a row changes nothing the second time.
func EnsureSchema(ctx context.Context, doc Document, schemas ...Schema) (Report, error) {
	var report Report

	existing, err := doc.Tables(ctx)
	if err != nil {
		return report, err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, s := range schemas {
		if !have[s.Name] {
			if err := doc.AddTable(ctx, s.Name, s.Columns); err != nil {
				return report, err
			}
			report.Created = append(report.Created, s.Name)
			continue
		}

		values, err := doc.Values(ctx, s.Name)
		if err != nil {
			return report, err
		}
		switch {
		case len(values) == 0:
			if err := doc.UpdateRow(ctx, s.Name, 1, Text(s.Columns)); err != nil {
				return report, err
			}
			report.Initialized = append(report.Initialized, s.Name)
		case !HeaderMatches(values[0], s.Columns):
			if err := doc.InsertRow(ctx, s.Name, 1, Text(s.Columns)); err != nil {
				return report, err
			}
			report.Repaired = append(report.Repaired, s.Name)
		}
	}
	return report, nil
}

// HeaderMatches compares a header row against the expected columns,
// ignoring surrounding whitespace and trailing empty cells.
func HeaderMatches(got, want []string) bool {
	got = trimTrailing(got)
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

func trimTrailing(cells []string) []string {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}

// =============================================================================
// TABLE - One read of a table with its header mapping
// =============================================================================

// Table is a snapshot of a table. The header-to-column mapping is built
// once per load and shared by every row.
type Table struct {
	Schema Schema
	Rows   []Row

	cols  map[string]int
	width int
}

// Row is one non-blank data row.
type Row struct {
	Number int // 1-based sheet row
	cells  []string
	cols   map[string]int
}

// Get returns the trimmed cell under column, or "" when absent.
func (r Row) Get(column string) string {
	i, ok := r.cols[column]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Load reads a table and maps its actual header row onto column names.
// Blank rows are skipped but row numbers stay those of the sheet.
func Load(ctx context.Context, doc Document, schema Schema) (*Table, error) {
	values, err := doc.Values(ctx, schema.Name)
	if err != nil {
		return nil, err
	}

	t := &Table{Schema: schema, cols: make(map[string]int)}
	var header []string
	if len(values) > 0 {
		header = values[0]
	}
	for i, h := range header {
		name := strings.TrimSpace(h)
		if _, dup := t.cols[name]; name != "" && !dup {
			t.cols[name] = i
		}
	}
	// Columns the header lacks are appended after it so writes still land.
	t.width = len(header)
	for _, c := range schema.Columns {
		if _, ok := t.cols[c]; !ok {
			t.cols[c] = t.width
			t.width++
		}
	}

	for i := 1; i < len(values); i++ {
		if blank(values[i]) {
			continue
		}
		t.Rows = append(t.Rows, Row{Number: i + 1, cells: values[i], cols: t.cols})
	}
	return t, nil
}

// Encode lays fields out in the table's column order.
func (t *Table) Encode(fields map[string]string) []any {
	out := make([]any, t.width)
	for i := range out {
		out[i] = ""
	}
	for name, v := range fields {
		if i, ok := t.cols[name]; ok {
			out[i] = t.cell(name, v)
		}
	}
	return out
}

// Merge returns an update for row that overwrites fields only. Every
// other cell is nil, so the backend leaves it as it is.
func (t *Table) Merge(row Row, fields map[string]string) []any {
	width := t.width
	if len(row.cells) > width {
		width = len(row.cells)
	}
	out := make([]any, width)
	for name, v := range fields {
		if i, ok := t.cols[name]; ok {
			out[i] = t.cell(name, v)
		}
	}
	return out
}

func (t *Table) cell(column, v string) any {
	if v != "" && t.Schema.numeric(column) {
		return Number(v)
	}
	return v
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
