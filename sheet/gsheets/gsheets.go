/*
Package gsheets stores tenant books in Google Sheets.

PURPOSE:
  The operator's own spreadsheet is the database. The operator shares the
  spreadsheet with the service account as Editor. This package maps the
  sheet.Document operations onto the Sheets v4 API.

MAPPING:
  Tables     worksheets (tabs), addressed by title in A1 notation
  Values     spreadsheets.values.get over the whole tab
  UpdateRow  spreadsheets.values.update on "<tab>!A<row>", RAW input;
             sheet.Number goes out as a JSON number, nil as null (skipped)
  AppendRow  spreadsheets.values.append, INSERT_ROWS
  InsertRow  batchUpdate insertDimension + values.update
  DeleteRow  batchUpdate deleteDimension
  AddTable   batchUpdate addSheet + header write

ERROR CLASSIFICATION:
  401/403  sheet.ErrPermissionDenied (unless the reason is a rate limit)
  404      sheet.ErrNotFound
  other    sheet.ErrTransient

SEE ALSO:
  - sheet/backend.go: the interface implemented here
*/
package gsheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/warp/voicestock/sheet"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

var refPattern = regexp.MustCompile(`^https://docs\.google\.com/spreadsheets/d/([a-zA-Z0-9_-]{10,})`)

// Backend opens spreadsheets through one authorized Sheets client.
type Backend struct {
	svc *sheets.Service
}

// New builds a backend from client options (credentials, endpoint, HTTP client).
func New(ctx context.Context, opts ...option.ClientOption) (*Backend, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &Backend{svc: svc}, nil
}

// NewFromCredentials authorizes with a service-account JSON key.
func NewFromCredentials(ctx context.Context, credentialsJSON []byte) (*Backend, error) {
	return New(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
}

func (b *Backend) Name() string { return "gsheets" }

// ParseRef extracts the spreadsheet ID from a docs.google.com URL.
func (b *Backend) ParseRef(ref string) (string, error) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return "", fmt.Errorf("%w: expected https://docs.google.com/spreadsheets/d/<id>/...", sheet.ErrMalformedRef)
	}
	return m[1], nil
}

func (b *Backend) Open(ctx context.Context, key string) (sheet.Document, error) {
	d := &Document{svc: b.svc, key: key}
	if _, err := d.refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// =============================================================================
// DOCUMENT
// =============================================================================

type Document struct {
	svc *sheets.Service
	key string

	mu  sync.Mutex
	ids map[string]int64 // tab title -> sheetId
}

func (d *Document) Key() string { return d.key }

func (d *Document) refresh(ctx context.Context) ([]string, error) {
	ss, err := d.svc.Spreadsheets.Get(d.key).
		Fields("spreadsheetId", "sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return nil, classify("spreadsheets.get", err)
	}

	ids := make(map[string]int64, len(ss.Sheets))
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		ids[s.Properties.Title] = s.Properties.SheetId
		titles = append(titles, s.Properties.Title)
	}

	d.mu.Lock()
	d.ids = ids
	d.mu.Unlock()
	return titles, nil
}

func (d *Document) Tables(ctx context.Context) ([]string, error) {
	return d.refresh(ctx)
}

func (d *Document) AddTable(ctx context.Context, name string, header []string) error {
	resp, err := d.batch(ctx, "add_sheet", &sheets.Request{
		AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{Title: name},
		},
	})
	if err != nil {
		return err
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		d.mu.Lock()
		if d.ids == nil {
			d.ids = make(map[string]int64)
		}
		d.ids[name] = resp.Replies[0].AddSheet.Properties.SheetId
		d.mu.Unlock()
	}
	return d.UpdateRow(ctx, name, 1, sheet.Text(header))
}

func (d *Document) Values(ctx context.Context, table string) ([][]string, error) {
	resp, err := d.svc.Spreadsheets.Values.Get(d.key, quote(table)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, classify("values.get", err)
	}
	return toStrings(resp.Values), nil
}

func (d *Document) UpdateRow(ctx context.Context, table string, row int, values []any) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(values)}}
	_, err := d.svc.Spreadsheets.Values.Update(d.key, rowRange(table, row), vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	return classify("values.update", err)
}

func (d *Document) AppendRow(ctx context.Context, table string, values []any) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(values)}}
	_, err := d.svc.Spreadsheets.Values.Append(d.key, rowRange(table, 1), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return classify("values.append", err)
}

func (d *Document) InsertRow(ctx context.Context, table string, row int, values []any) error {
	rng, err := d.rowDimension(ctx, table, row)
	if err != nil {
		return err
	}
	if _, err := d.batch(ctx, "insert_dimension", &sheets.Request{
		InsertDimension: &sheets.InsertDimensionRequest{Range: rng},
	}); err != nil {
		return err
	}
	return d.UpdateRow(ctx, table, row, values)
}

func (d *Document) DeleteRow(ctx context.Context, table string, row int) error {
	rng, err := d.rowDimension(ctx, table, row)
	if err != nil {
		return err
	}
	_, err = d.batch(ctx, "delete_dimension", &sheets.Request{
		DeleteDimension: &sheets.DeleteDimensionRequest{Range: rng},
	})
	return err
}

func (d *Document) batch(ctx context.Context, op string, reqs ...*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	resp, err := d.svc.Spreadsheets.BatchUpdate(d.key, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(op, err)
	}
	return resp, nil
}

// rowDimension addresses a single sheet row. The first tab has sheetId 0
// and the first row has index 0, so both must be sent explicitly.
func (d *Document) rowDimension(ctx context.Context, table string, row int) (*sheets.DimensionRange, error) {
	id, err := d.sheetID(ctx, table)
	if err != nil {
		return nil, err
	}
	return &sheets.DimensionRange{
		SheetId:         id,
		Dimension:       "ROWS",
		StartIndex:      int64(row - 1),
		EndIndex:        int64(row),
		ForceSendFields: []string{"SheetId", "StartIndex"},
	}, nil
}

func (d *Document) sheetID(ctx context.Context, table string) (int64, error) {
	d.mu.Lock()
	id, ok := d.ids[table]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := d.refresh(ctx); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[table]; ok {
		return id, nil
	}
	return 0, &sheet.Error{Kind: sheet.ErrNotFound, Op: "sheet_id", Err: fmt.Errorf("tab %q", table)}
}

// =============================================================================
// HELPERS
// =============================================================================

func quote(table string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'"
}

func rowRange(table string, row int) string {
	return fmt.Sprintf("%s!A%d", quote(table), row)
}

// toInterfaces keeps text as strings so RAW input never reinterprets it,
// and turns numbers into JSON numbers.
func toInterfaces(values []any) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		switch v := v.(type) {
		case nil:
		case sheet.Number:
			if n, ok := v.Value(); ok {
				out[i] = n
			} else {
				out[i] = string(v)
			}
		default:
			out[i] = sheet.CellText(v)
		}
	}
	return out
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return sheet.Wrap(sheet.ErrTransient, op, err)
	}

	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return sheet.Wrap(sheet.ErrTransient, op, err)
		}
	}
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return sheet.Wrap(sheet.ErrPermissionDenied, op, err)
	case http.StatusNotFound:
		return sheet.Wrap(sheet.ErrNotFound, op, err)
	default:
		return sheet.Wrap(sheet.ErrTransient, op, err)
	}
}
