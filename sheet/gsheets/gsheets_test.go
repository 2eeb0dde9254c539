package gsheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voicestock/sheet"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const docID = "1AbCdEfGhIjKlMnOp"

func newStubBackend(t *testing.T, h http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	b, err := New(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return b
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestParseRef(t *testing.T) {
	b := &Backend{}

	key, err := b.ParseRef("https://docs.google.com/spreadsheets/d/" + docID + "/edit#gid=0")
	require.NoError(t, err)
	assert.Equal(t, docID, key)

	for _, bad := range []string{"", "hello", "https://example.com/spreadsheets/d/" + docID, "https://docs.google.com/document/d/" + docID} {
		_, err := b.ParseRef(bad)
		assert.ErrorIs(t, err, sheet.ErrMalformedRef, bad)
	}
}

func TestOpenAndValues(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/values/"):
			writeJSON(w, http.StatusOK, map[string]any{
				"range":          "Products!A1:E3",
				"majorDimension": "ROWS",
				"values": [][]any{
					{"Name", "Size", "Quantity"},
					{"Silk robe", "M", "4"},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/v4/spreadsheets/"+docID):
			writeJSON(w, http.StatusOK, map[string]any{
				"spreadsheetId": docID,
				"sheets": []any{
					map[string]any{"properties": map[string]any{"sheetId": 0, "title": "Products"}},
					map[string]any{"properties": map[string]any{"sheetId": 77, "title": "Clients"}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	doc, err := b.Open(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, docID, doc.Key())

	tables, err := doc.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Products", "Clients"}, tables)

	values, err := doc.Values(ctx, "Products")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name", "Size", "Quantity"}, {"Silk robe", "M", "4"}}, values)
}

func TestOpen_PermissionDenied(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": map[string]any{
				"code":    403,
				"message": "The caller does not have permission",
				"status":  "PERMISSION_DENIED",
			},
		})
	})

	_, err := b.Open(context.Background(), docID)
	assert.ErrorIs(t, err, sheet.ErrPermissionDenied)
}

func TestOpen_NotFound(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": 404, "message": "Requested entity was not found."},
		})
	})

	_, err := b.Open(context.Background(), docID)
	assert.ErrorIs(t, err, sheet.ErrNotFound)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"forbidden", &googleapi.Error{Code: 403}, sheet.ErrPermissionDenied},
		{"unauthorized", &googleapi.Error{Code: 401}, sheet.ErrPermissionDenied},
		{"not found", &googleapi.Error{Code: 404}, sheet.ErrNotFound},
		{"rate limited", &googleapi.Error{Code: 429}, sheet.ErrTransient},
		{"quota as 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, sheet.ErrTransient},
		{"server", &googleapi.Error{Code: 503}, sheet.ErrTransient},
		{"network", errors.New("connection reset"), sheet.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tc.err), tc.want)
		})
	}
	assert.NoError(t, classify("op", nil))
}

func TestRanges(t *testing.T) {
	assert.Equal(t, "'Products'!A1", rowRange("Products", 1))
	assert.Equal(t, "'Owner''s list'", quote("Owner's list"))
	assert.Equal(t, [][]string{{"a", "", "3"}}, toStrings([][]interface{}{{"a", nil, 3}}))
}

func TestUpdateRow_SendsNumbersAsNumbers(t *testing.T) {
	// GIVEN: a stub that records the values.update body
	var body []byte
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/values/") {
			body, _ = io.ReadAll(r.Body)
			assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
			writeJSON(w, http.StatusOK, map[string]any{"spreadsheetId": docID})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"spreadsheetId": docID, "sheets": []any{}})
	})
	ctx := context.Background()
	doc, err := b.Open(ctx, docID)
	require.NoError(t, err)

	// WHEN: a row mixing text, numbers and an untouched cell is written
	err = doc.UpdateRow(ctx, "Products", 2, []any{"007", sheet.Number("4"), sheet.Number("12.5"), nil, ""})
	require.NoError(t, err)

	// THEN: numbers are JSON numbers, numeric-looking text stays a string
	var got struct {
		Values [][]json.RawMessage `json:"values"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Values, 1)
	row := got.Values[0]
	require.Len(t, row, 5)
	assert.JSONEq(t, `"007"`, string(row[0]))
	assert.JSONEq(t, `4`, string(row[1]))
	assert.JSONEq(t, `12.5`, string(row[2]))
	assert.Equal(t, "null", string(row[3]))
	assert.JSONEq(t, `""`, string(row[4]))
}

func TestToInterfaces(t *testing.T) {
	got := toInterfaces([]any{"3", sheet.Number("3"), sheet.Number("n/a"), nil})
	assert.Equal(t, []interface{}{"3", 3, "n/a", nil}, got)
}
