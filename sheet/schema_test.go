package sheet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voicestock/sheet"
	"github.com/warp/voicestock/sheet/memory"
)

var fruits = sheet.Schema{Name: "Fruits", Columns: []string{"Name", "Qty"}, Numeric: []string{"Qty"}}
var crates = sheet.Schema{Name: "Crates", Columns: []string{"Label"}}

func newDoc(t *testing.T) (*memory.Backend, *memory.Document) {
	t.Helper()
	b := memory.New()
	return b, b.Create("doc")
}

// =============================================================================
// ENSURE SCHEMA
// =============================================================================

func TestEnsureSchema_CreatesMissingTables(t *testing.T) {
	_, doc := newDoc(t)

	report, err := sheet.EnsureSchema(context.Background(), doc, fruits, crates)
	require.NoError(t, err)

	assert.Equal(t, []string{"Fruits", "Crates"}, report.Created)
	assert.Equal(t, [][]string{{"Name", "Qty"}}, doc.Rows("Fruits"))
	assert.Equal(t, [][]string{{"Label"}}, doc.Rows("Crates"))
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	_, doc := newDoc(t)
	ctx := context.Background()

	_, err := sheet.EnsureSchema(ctx, doc, fruits)
	require.NoError(t, err)
	writes := doc.Writes()

	report, err := sheet.EnsureSchema(ctx, doc, fruits)
	require.NoError(t, err)

	assert.False(t, report.Changed())
	assert.Equal(t, writes, doc.Writes(), "second run must not write")
}

func TestEnsureSchema_EmptyTableGetsHeader(t *testing.T) {
	_, doc := newDoc(t)
	doc.SetValues("Fruits", nil)

	report, err := sheet.EnsureSchema(context.Background(), doc, fruits)
	require.NoError(t, err)

	assert.Equal(t, []string{"Fruits"}, report.Initialized)
	assert.Equal(t, [][]string{{"Name", "Qty"}}, doc.Rows("Fruits"))
}

func TestEnsureSchema_MismatchedHeaderIsInsertedAboveData(t *testing.T) {
	// GIVEN: a table whose first row is data, not the header
	// WHEN: the schema is ensured
	// THEN: the header is inserted above and no data row is lost
	_, doc := newDoc(t)
	doc.SetValues("Fruits", [][]string{{"apple", "3"}, {"pear", "1"}})

	report, err := sheet.EnsureSchema(context.Background(), doc, fruits)
	require.NoError(t, err)

	assert.Equal(t, []string{"Fruits"}, report.Repaired)
	assert.Equal(t, [][]string{{"Name", "Qty"}, {"apple", "3"}, {"pear", "1"}}, doc.Rows("Fruits"))
}

func TestEnsureSchema_TrailingEmptyHeaderCellsIgnored(t *testing.T) {
	_, doc := newDoc(t)
	doc.SetValues("Fruits", [][]string{{" Name", "Qty ", "", ""}})

	report, err := sheet.EnsureSchema(context.Background(), doc, fruits)
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

func TestEnsureSchema_PropagatesPermissionDenied(t *testing.T) {
	b, doc := newDoc(t)
	b.Deny("doc")

	_, err := sheet.EnsureSchema(context.Background(), doc, fruits)
	assert.ErrorIs(t, err, sheet.ErrPermissionDenied)
	assert.False(t, sheet.IsRetryable(err))
}

// =============================================================================
// TABLE
// =============================================================================

func TestLoad_MapsHeaderByName(t *testing.T) {
	_, doc := newDoc(t)
	// Columns in a different order than the schema, plus an operator column.
	doc.SetValues("Fruits", [][]string{
		{"Qty", "Comment", "Name"},
		{"3", "fresh", "apple"},
		{"", "", ""},
		{"1", "", "pear"},
	})

	table, err := sheet.Load(context.Background(), doc, fruits)
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "apple", table.Rows[0].Get("Name"))
	assert.Equal(t, "3", table.Rows[0].Get("Qty"))
	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, 4, table.Rows[1].Number, "blank rows keep sheet numbering")

	merged := table.Merge(table.Rows[0], map[string]string{"Qty": "5"})
	assert.Equal(t, []any{sheet.Number("5"), nil, nil}, merged, "untouched cells stay nil")

	assert.Equal(t, []any{sheet.Number("0"), "", "kiwi"}, table.Encode(map[string]string{"Name": "kiwi", "Qty": "0"}))
}

func TestMerge_LeavesOtherCellsInPlace(t *testing.T) {
	// GIVEN: a row with an operator column next to known ones
	_, doc := newDoc(t)
	doc.SetValues("Fruits", [][]string{
		{"Qty", "Comment", "Name"},
		{"3", "fresh", "apple"},
	})
	table, err := sheet.Load(context.Background(), doc, fruits)
	require.NoError(t, err)

	// WHEN: only Qty is rewritten
	require.NoError(t, doc.UpdateRow(context.Background(), "Fruits", 2,
		table.Merge(table.Rows[0], map[string]string{"Qty": "5"})))

	// THEN: every other cell keeps its content
	assert.Equal(t, []string{"5", "fresh", "apple"}, doc.Rows("Fruits")[1])
}

func TestNumber_Value(t *testing.T) {
	tests := []struct {
		in   sheet.Number
		want any
		ok   bool
	}{
		{"3", 3, true},
		{"-12.5", -12.5, true},
		{" 7 ", 7, true},
		{"n/a", nil, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, ok := tt.in.Value()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_MissingTable(t *testing.T) {
	_, doc := newDoc(t)

	_, err := sheet.Load(context.Background(), doc, fruits)
	assert.ErrorIs(t, err, sheet.ErrNotFound)
}

func TestError_UnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := sheet.Wrap(sheet.ErrTransient, "values.get", cause)

	assert.ErrorIs(t, err, sheet.ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.True(t, sheet.IsRetryable(err))
	assert.True(t, sheet.Classified(err))
	assert.Nil(t, sheet.Wrap(sheet.ErrTransient, "noop", nil))
}
