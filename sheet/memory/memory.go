// Package memory provides an in-process sheet.Backend.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/warp/voicestock/sheet"
)

// =============================================================================
// MEMORY BACKEND - In-memory implementation (for testing/dev)
// =============================================================================

const refPrefix = "mem://"

type Backend struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	denied   map[string]bool
	readOnly map[string]bool
}

func New() *Backend {
	return &Backend{
		docs:     make(map[string]*Document),
		denied:   make(map[string]bool),
		readOnly: make(map[string]bool),
	}
}

func (b *Backend) Name() string { return "memory" }

// ParseRef accepts "mem://<key>".
func (b *Backend) ParseRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	key := strings.TrimPrefix(ref, refPrefix)
	if key == ref || key == "" || strings.ContainsAny(key, "/ ") {
		return "", fmt.Errorf("%w: expected %s<name>", sheet.ErrMalformedRef, refPrefix)
	}
	return key, nil
}

// Create adds an empty document, replacing any existing one with that key.
func (b *Backend) Create(key string) *Document {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := &Document{
		key:     key,
		backend: b,
		tables:  make(map[string][][]string),
	}
	b.docs[key] = d
	return d
}

// Provision creates an empty document unless key already exists.
func (b *Backend) Provision(_ context.Context, key string) error {
	if b.Document(key) == nil {
		b.Create(key)
	}
	return nil
}

// Remove deletes a document; later calls on existing handles fail with NotFound.
func (b *Backend) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, key)
}

// Deny revokes access to a document until Allow is called.
func (b *Backend) Deny(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.denied[key] = true
}

// ReadOnly lets reads through but refuses writes, like a document shared
// as Viewer.
func (b *Backend) ReadOnly(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly[key] = true
}

func (b *Backend) Allow(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.denied, key)
	delete(b.readOnly, key)
}

func (b *Backend) Open(_ context.Context, key string) (sheet.Document, error) {
	d, err := b.lookup("open", key)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Document returns the stored document for direct inspection in tests.
func (b *Backend) Document(key string) *Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.docs[key]
}

func (b *Backend) lookup(op, key string) (*Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.denied[key] {
		return nil, &sheet.Error{Kind: sheet.ErrPermissionDenied, Op: op}
	}
	d, ok := b.docs[key]
	if !ok {
		return nil, &sheet.Error{Kind: sheet.ErrNotFound, Op: op}
	}
	return d, nil
}

// =============================================================================
// DOCUMENT
// =============================================================================

type Document struct {
	mu      sync.RWMutex
	key     string
	backend *Backend
	order   []string
	tables  map[string][][]string

	failNext error
	writes   int
}

func (d *Document) Key() string { return d.key }

// FailNext makes the next mutating call return err without writing.
func (d *Document) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Writes counts successful mutating calls.
func (d *Document) Writes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}

// SetValues replaces a table's content, creating the table if needed.
func (d *Document) SetValues(table string, rows [][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[table]; !ok {
		d.order = append(d.order, table)
	}
	d.tables[table] = copyRows(rows)
}

// Rows returns a copy of a table's content.
func (d *Document) Rows(table string) [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyRows(d.tables[table])
}

func (d *Document) Tables(_ context.Context) ([]string, error) {
	if err := d.check("tables"); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...), nil
}

func (d *Document) AddTable(_ context.Context, name string, header []string) error {
	return d.write("add_table", func() error {
		if _, ok := d.tables[name]; ok {
			return fmt.Errorf("table %q already exists", name)
		}
		d.order = append(d.order, name)
		d.tables[name] = [][]string{append([]string(nil), header...)}
		return nil
	})
}

func (d *Document) Values(_ context.Context, table string) ([][]string, error) {
	if err := d.check("values"); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, ok := d.tables[table]
	if !ok {
		return nil, &sheet.Error{Kind: sheet.ErrNotFound, Op: "values", Err: fmt.Errorf("table %q", table)}
	}
	return copyRows(rows), nil
}

func (d *Document) UpdateRow(_ context.Context, table string, row int, values []any) error {
	return d.write("update_row", func() error {
		rows, ok := d.tables[table]
		if !ok {
			return &sheet.Error{Kind: sheet.ErrNotFound, Op: "update_row", Err: fmt.Errorf("table %q", table)}
		}
		if row < 1 {
			return fmt.Errorf("row %d out of range", row)
		}
		for len(rows) < row {
			rows = append(rows, nil)
		}
		rows[row-1] = fill(rows[row-1], values)
		d.tables[table] = rows
		return nil
	})
}

func (d *Document) AppendRow(_ context.Context, table string, values []any) error {
	return d.write("append_row", func() error {
		rows, ok := d.tables[table]
		if !ok {
			return &sheet.Error{Kind: sheet.ErrNotFound, Op: "append_row", Err: fmt.Errorf("table %q", table)}
		}
		d.tables[table] = append(rows, fill(nil, values))
		return nil
	})
}

func (d *Document) InsertRow(_ context.Context, table string, row int, values []any) error {
	return d.write("insert_row", func() error {
		rows, ok := d.tables[table]
		if !ok {
			return &sheet.Error{Kind: sheet.ErrNotFound, Op: "insert_row", Err: fmt.Errorf("table %q", table)}
		}
		if row < 1 || row > len(rows)+1 {
			return fmt.Errorf("row %d out of range", row)
		}
		rows = append(rows, nil)
		copy(rows[row:], rows[row-1:])
		rows[row-1] = fill(nil, values)
		d.tables[table] = rows
		return nil
	})
}

func (d *Document) DeleteRow(_ context.Context, table string, row int) error {
	return d.write("delete_row", func() error {
		rows, ok := d.tables[table]
		if !ok {
			return &sheet.Error{Kind: sheet.ErrNotFound, Op: "delete_row", Err: fmt.Errorf("table %q", table)}
		}
		if row < 1 || row > len(rows) {
			return fmt.Errorf("row %d out of range", row)
		}
		d.tables[table] = append(rows[:row-1], rows[row:]...)
		return nil
	})
}

// check fails when the document was removed or access was revoked.
func (d *Document) check(op string) error {
	_, err := d.backend.lookup(op, d.key)
	return err
}

func (d *Document) write(op string, fn func() error) error {
	if err := d.check(op); err != nil {
		return err
	}
	d.backend.mu.RLock()
	readOnly := d.backend.readOnly[d.key]
	d.backend.mu.RUnlock()
	if readOnly {
		return &sheet.Error{Kind: sheet.ErrPermissionDenied, Op: op}
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	d.writes++
	return nil
}

// fill builds a row from values, keeping old cells where a value is nil.
func fill(old []string, values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			if i < len(old) {
				out[i] = old[i]
			}
			continue
		}
		out[i] = sheet.CellText(v)
	}
	return out
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
