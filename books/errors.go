/*
errors.go - Error taxonomy for tenant books

PURPOSE:
  Every failure an operation can surface is one of a small set of kinds.
  Callers branch on kinds with errors.Is; structured errors carry the
  detail a human needs to fix the request (available stock, suggestions,
  missing fields).

ERROR KINDS:
  ErrPermissionDenied   backend refused access to the tenant document
  ErrNotFound           tenant document, client or booking missing
  ErrTransientBackend   network or rate limit, caller may retry
  ErrInsufficientStock  sale exceeds stock
  ErrProductNotFound    sale names a product that does not exist
  ErrMalformedIntent    required fields missing or unparseable
  ErrNothingToUndo      the ledger holds nothing of the requested kind

  The three backend kinds are the sheet package's sentinels, so a
  *sheet.Error from any backend already matches them.

SEE ALSO:
  - sheet/backend.go: backend error classification
  - service/service.go: boundary conversion of unknown errors
*/
package books

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/warp/voicestock/sheet"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPermissionDenied = sheet.ErrPermissionDenied
	ErrNotFound         = sheet.ErrNotFound
	ErrTransientBackend = sheet.ErrTransient

	// ErrInsufficientStock is returned when a sale asks for more units than
	// the product row holds. Nothing is written.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrProductNotFound is returned when a sale item matches no product.
	ErrProductNotFound = errors.New("product not found")

	// ErrMalformedIntent is returned before any backend call when an intent
	// misses required fields.
	ErrMalformedIntent = errors.New("malformed intent")

	ErrNothingToUndo = errors.New("nothing to undo")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports the first sale item that cannot be covered.
// Requested is cumulative over every item of the call matching the product.
type InsufficientStockError struct {
	Item      string
	Size      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		label(e.Item, e.Size), e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ProductNotFoundError lists up to five known products as suggestions.
type ProductNotFoundError struct {
	Item        string
	Size        string
	Suggestions []string
}

func (e *ProductNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("product not found: %s", label(e.Item, e.Size))
	}
	return fmt.Sprintf("product not found: %s (known: %s)",
		label(e.Item, e.Size), strings.Join(e.Suggestions, ", "))
}

func (e *ProductNotFoundError) Unwrap() error {
	return ErrProductNotFound
}

// MalformedIntentError maps each offending field to what is wrong with it.
type MalformedIntentError struct {
	Fields map[string]string
}

func (e *MalformedIntentError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "malformed intent: " + strings.Join(parts, "; ")
}

func (e *MalformedIntentError) Unwrap() error {
	return ErrMalformedIntent
}

// Malformed builds a MalformedIntentError for a single field.
func Malformed(field, problem string) error {
	return &MalformedIntentError{Fields: map[string]string{field: problem}}
}

// EntityNotFoundError names a missing client or booking.
type EntityNotFoundError struct {
	Entity string // "client", "booking"
	Name   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Name)
}

func (e *EntityNotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientBackend)
}

// IsClientError returns true if the request itself must change before a
// retry can succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrMalformedIntent) ||
		errors.Is(err, ErrNothingToUndo)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func label(name, size string) string {
	if size == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, size)
}
