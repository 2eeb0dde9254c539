/*
Package xlsx stores tenant books as local Excel workbooks.

PURPOSE:
  Offline and self-hosted mode: each tenant document is one .xlsx file in a
  directory. The operator can open the file in any spreadsheet program.
  Every mutation is saved immediately, so the file on disk is always the
  source of truth.

REFERENCES:
  "xlsx://<name>" or any path ending in ".xlsx". Only the base name is used.
  Documents never escape the configured directory.

ERRORS:
  missing file or tab   sheet.ErrNotFound
  os.ErrPermission      sheet.ErrPermissionDenied
  anything else         sheet.ErrTransient
*/
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/warp/voicestock/sheet"
	"github.com/xuri/excelize/v2"
)

const refPrefix = "xlsx://"

var namePattern = regexp.MustCompile(`^[\p{L}\p{N}_. -]+\.xlsx$`)

// Backend opens workbooks inside one directory. Open handles are shared per
// file so concurrent callers never hold diverging copies of a workbook.
type Backend struct {
	dir string

	mu   sync.Mutex
	open map[string]*Document
}

func New(dir string) *Backend {
	return &Backend{dir: dir, open: make(map[string]*Document)}
}

func (b *Backend) Name() string { return "xlsx" }

func (b *Backend) ParseRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	name := ref
	if strings.HasPrefix(ref, refPrefix) {
		name = strings.TrimPrefix(ref, refPrefix)
		if !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
			name += ".xlsx"
		}
	}
	name = filepath.Base(name)
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: expected %s<name> or a path ending in .xlsx", sheet.ErrMalformedRef, refPrefix)
	}
	return name, nil
}

// Create writes an empty workbook for key if none exists yet.
func (b *Backend) Create(key string) error {
	path := filepath.Join(b.dir, key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return classify("create", err)
	}
	f := excelize.NewFile()
	defer f.Close()
	return classify("create", f.SaveAs(path))
}

// Provision creates the workbook on first registration.
func (b *Backend) Provision(_ context.Context, key string) error {
	return b.Create(key)
}

func (b *Backend) Open(_ context.Context, key string) (sheet.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.open[key]; ok {
		return d, nil
	}
	f, err := excelize.OpenFile(filepath.Join(b.dir, key))
	if err != nil {
		return nil, classify("open", err)
	}
	d := &Document{key: key, f: f}
	b.open[key] = d
	return d, nil
}

// Close releases every open workbook.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for key, d := range b.open {
		errs = append(errs, d.f.Close())
		delete(b.open, key)
	}
	return errors.Join(errs...)
}

// =============================================================================
// DOCUMENT
// =============================================================================

type Document struct {
	key string

	mu sync.Mutex
	f  *excelize.File
}

func (d *Document) Key() string { return d.key }

func (d *Document) Tables(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.GetSheetList(), nil
}

func (d *Document) AddTable(_ context.Context, name string, header []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.f.NewSheet(name); err != nil {
		return classify("add_table", err)
	}
	if err := d.setRow(name, 1, sheet.Text(header)); err != nil {
		return err
	}
	return d.save("add_table")
}

func (d *Document) Values(_ context.Context, table string) ([][]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.f.GetRows(table)
	if err != nil {
		return nil, classify("values", err)
	}
	return rows, nil
}

func (d *Document) UpdateRow(_ context.Context, table string, row int, values []any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setRow(table, row, values); err != nil {
		return err
	}
	return d.save("update_row")
}

func (d *Document) AppendRow(_ context.Context, table string, values []any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.f.GetRows(table)
	if err != nil {
		return classify("append_row", err)
	}
	if err := d.setRow(table, len(rows)+1, values); err != nil {
		return err
	}
	return d.save("append_row")
}

func (d *Document) InsertRow(_ context.Context, table string, row int, values []any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.f.InsertRows(table, row, 1); err != nil {
		return classify("insert_row", err)
	}
	if err := d.setRow(table, row, values); err != nil {
		return err
	}
	return d.save("insert_row")
}

func (d *Document) DeleteRow(_ context.Context, table string, row int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.f.RemoveRow(table, row); err != nil {
		return classify("delete_row", err)
	}
	return d.save("delete_row")
}

// setRow overwrites a row, clearing cells beyond values that held data.
// Numbers become numeric cells; nil values leave their cell alone.
func (d *Document) setRow(table string, row int, values []any) error {
	width := len(values)
	if rows, err := d.f.GetRows(table); err == nil && row-1 < len(rows) && len(rows[row-1]) > width {
		width = len(rows[row-1])
	}
	for i := 0; i < width; i++ {
		var v any = ""
		if i < len(values) {
			v = values[i]
		}
		if v == nil {
			continue
		}
		if n, ok := v.(sheet.Number); ok {
			if num, ok := n.Value(); ok {
				v = num
			} else {
				v = string(n)
			}
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return classify("set_row", err)
		}
		if err := d.f.SetCellValue(table, cell, v); err != nil {
			return classify("set_row", err)
		}
	}
	return nil
}

func (d *Document) save(op string) error {
	return classify(op, d.f.Save())
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var missingTab excelize.ErrSheetNotExist
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.As(err, &missingTab):
		return sheet.Wrap(sheet.ErrNotFound, op, err)
	case errors.Is(err, fs.ErrPermission):
		return sheet.Wrap(sheet.ErrPermissionDenied, op, err)
	default:
		return sheet.Wrap(sheet.ErrTransient, op, err)
	}
}
