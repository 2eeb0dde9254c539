/*
Package books keeps one tenant's inventory, clients and schedule in a
tabular document.

PURPOSE:
  The tenant document has no transactions, so every compound write here
  follows the same protocol: read the tables it needs, validate the whole
  request, then write. Nothing is written when validation fails.

COMPONENTS:
  Ledger        ledger.go    supply, sale, stock queries, the Transactions log
  RecordMerger  clients.go   append-only client notes, lookup with ambiguity
  ScheduleStore schedule.go  bookings and daily schedule, session log
  UndoEngine    undo.go      reverses the last action found in the ledger

CONCURRENCY:
  Books does no locking. Callers serialize mutations per tenant (see
  tenant.Locker); reads may run concurrently and can observe the middle of
  another caller's multi-row write.

LEDGER:
  Every mutation appends Transactions rows stamped with one timestamp per
  call. The ledger is the only history: undo re-derives "the last action"
  from it at call time and keeps no in-memory stack.

SEE ALSO:
  - sheet/schema.go: typed table reads and header repair
  - normalize: name and size matching keys
*/
package books

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/sheet"
)

// DefaultHistoryLimit is how many sessions a client view carries.
const DefaultHistoryLimit = 5

// Options configures a Books instance. Zero values pick defaults.
type Options struct {
	// Now is the tenant's clock. Defaults to time.Now.
	Now func() time.Time

	Logger logrus.FieldLogger

	// PhoneRegion is the region used to read phone numbers written without
	// a country code, e.g. "RU".
	PhoneRegion string

	HistoryLimit int
}

// Books operates on one open tenant document.
type Books struct {
	doc          sheet.Document
	now          func() time.Time
	log          logrus.FieldLogger
	phoneRegion  string
	historyLimit int
}

// New binds Books to doc. The document is expected to have passed
// sheet.EnsureSchema with Schemas().
func New(doc sheet.Document, opts Options) *Books {
	b := &Books{
		doc:          doc,
		now:          opts.Now,
		log:          opts.Logger,
		phoneRegion:  opts.PhoneRegion,
		historyLimit: opts.HistoryLimit,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.log == nil {
		b.log = logrus.StandardLogger()
	}
	if b.historyLimit <= 0 {
		b.historyLimit = DefaultHistoryLimit
	}
	b.log = b.log.WithField("doc", doc.Key())
	return b
}

// Document returns the underlying document handle.
func (b *Books) Document() sheet.Document { return b.doc }

// Today is the tenant-local date.
func (b *Books) Today() string {
	return b.now().Format(DateLayout)
}

// DaysFromToday is the tenant-local date n days from now.
func (b *Books) DaysFromToday(n int) string {
	return b.now().AddDate(0, 0, n).Format(DateLayout)
}

// =============================================================================
// TABLE ACCESS
// =============================================================================

func (b *Books) loadProducts(ctx context.Context) (*sheet.Table, []Product, error) {
	t, err := sheet.Load(ctx, b.doc, ProductsSchema)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Product, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = decodeProduct(r)
	}
	return t, out, nil
}

func (b *Books) loadClients(ctx context.Context) (*sheet.Table, []Client, error) {
	t, err := sheet.Load(ctx, b.doc, ClientsSchema)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Client, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = decodeClient(r)
	}
	return t, out, nil
}

func (b *Books) loadLedger(ctx context.Context) ([]Transaction, error) {
	t, err := sheet.Load(ctx, b.doc, TransactionsSchema)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = decodeTransaction(r)
	}
	return out, nil
}

func (b *Books) loadSchedule(ctx context.Context) (*sheet.Table, []Booking, error) {
	t, err := sheet.Load(ctx, b.doc, ScheduleSchema)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Booking, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = decodeBooking(r)
	}
	return t, out, nil
}

func (b *Books) loadSessions(ctx context.Context) ([]Session, error) {
	t, err := sheet.Load(ctx, b.doc, SessionsSchema)
	if err != nil {
		return nil, err
	}
	out := make([]Session, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = decodeSession(r)
	}
	return out, nil
}

// rowOf finds the loaded row with the given sheet number.
func rowOf(t *sheet.Table, number int) (sheet.Row, bool) {
	for _, r := range t.Rows {
		if r.Number == number {
			return r, true
		}
	}
	return sheet.Row{}, false
}

// put writes fields over an existing row (number > 0) or appends a new one.
func (b *Books) put(ctx context.Context, t *sheet.Table, number int, fields map[string]string) error {
	if number > 0 {
		if r, ok := rowOf(t, number); ok {
			return b.doc.UpdateRow(ctx, t.Schema.Name, number, t.Merge(r, fields))
		}
		return b.doc.UpdateRow(ctx, t.Schema.Name, number, t.Encode(fields))
	}
	return b.doc.AppendRow(ctx, t.Schema.Name, t.Encode(fields))
}

// record appends ledger entries, stamping any that lack a timestamp.
func (b *Books) record(ctx context.Context, ts string, entries ...Transaction) error {
	if len(entries) == 0 {
		return nil
	}
	t, err := sheet.Load(ctx, b.doc, TransactionsSchema)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Timestamp == "" {
			e.Timestamp = ts
		}
		if err := b.doc.AppendRow(ctx, t.Schema.Name, t.Encode(e.fields())); err != nil {
			return err
		}
	}
	return nil
}
