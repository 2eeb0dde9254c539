/*
Package sheet defines the tabular backend a tenant's books live in.

PURPOSE:
  Each tenant owns one remote document made of named tables (worksheets).
  The document is schema-less and has no transactions: the only operations
  are read a whole table, rewrite a row, append a row, insert a row and
  delete a row. Everything above this package treats the document as a
  small key-value store behind this narrow interface.

KEY INTERFACES:
  Backend:   resolves a document key to a live Document handle
  Document:  row-level operations on the named tables of one document

ROW NUMBERS:
  Rows are addressed by 1-based sheet row number. Row 1 is the header row
  once EnsureSchema has run; data starts at row 2.

ERROR KINDS:
  Implementations classify every failure under exactly one of
  ErrPermissionDenied, ErrNotFound or ErrTransient (wrapped in *Error),
  so callers can decide on retry without knowing the backend.

IMPLEMENTATIONS:
  - sheet/gsheets: Google Sheets (sheets/v4)
  - sheet/xlsx:    local .xlsx workbooks (excelize)
  - sheet/memory:  in-process, for tests and development

SEE ALSO:
  - schema.go: header reconciliation and typed row access
*/
package sheet

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Backend opens tenant documents.
type Backend interface {
	// Name identifies the backend in logs ("gsheets", "xlsx", "memory").
	Name() string

	// ParseRef turns a user-supplied document locator into a document key.
	// Locators that do not match the backend's URL shape fail with ErrMalformedRef.
	ParseRef(ref string) (string, error)

	// Open returns a handle on the document.
	Open(ctx context.Context, key string) (Document, error)
}

// Document is a live handle on one tenant document.
type Document interface {
	Key() string

	// Tables lists table names in document order.
	Tables(ctx context.Context) ([]string, error)

	// AddTable creates a table and writes header into row 1.
	AddTable(ctx context.Context, name string, header []string) error

	// Values returns every row of the table, header included.
	Values(ctx context.Context, table string) ([][]string, error)

	// UpdateRow writes values from column 1; see Number for cell types.
	UpdateRow(ctx context.Context, table string, row int, values []any) error
	AppendRow(ctx context.Context, table string, values []any) error

	// InsertRow shifts row and everything below it down by one.
	InsertRow(ctx context.Context, table string, row int, values []any) error

	// DeleteRow shifts everything below row up by one.
	DeleteRow(ctx context.Context, table string, row int) error
}

// Provisioner is implemented by backends that can create a missing
// document at registration time.
type Provisioner interface {
	Provision(ctx context.Context, key string) error
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrPermissionDenied means the backend refused access to the document.
	// Not retryable: the operator has to share the document again.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound means the document (or one of its tables) no longer exists.
	ErrNotFound = errors.New("not found")

	// ErrTransient covers network failures, rate limits and server errors.
	// Safe for the caller to retry.
	ErrTransient = errors.New("transient backend error")

	// ErrMalformedRef is returned by ParseRef for unknown locator shapes.
	ErrMalformedRef = errors.New("malformed document reference")
)

// Error is a classified backend failure.
type Error struct {
	Kind error  // one of the sentinels above
	Op   string // backend operation, e.g. "values.get"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Classified reports whether err already carries one of the backend kinds.
func Classified(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransient)
}
