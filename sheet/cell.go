package sheet

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// CELLS - Typed values for row writes
// =============================================================================

// Row values passed to UpdateRow, AppendRow and InsertRow are string,
// Number or nil. Strings are stored verbatim as text. A nil value leaves
// the existing cell untouched.

// Number is a numeric cell in plain decimal notation ("3", "-12.5").
// Backends store it as a number so spreadsheet formulas can use it.
type Number string

// Value returns the number as int when integral, else as float64. ok is
// false when n is not a number; backends then store it as text.
func (n Number) Value() (v any, ok bool) {
	s := strings.TrimSpace(string(n))
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return nil, false
}

// Text turns plain strings (a header, a test row) into row values.
func Text(cells []string) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}

// CellText is the text form of a row value; nil reads as "".
func CellText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case Number:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
