package books

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/voicestock/sheet"
)

// =============================================================================
// LAYOUT - Persisted tables and their header rows
// =============================================================================

const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04"
	TimestampLayout = "2006-01-02T15:04:05.000000"
	noteStampLayout = "02.01"
)

const (
	colName        = "Name"
	colSize        = "Size"
	colQuantity    = "Quantity"
	colUnitPrice   = "Unit_Price"
	colLastUpdated = "Last_Updated"

	colContact      = "Contact"
	colAnamnesis    = "Anamnesis"
	colNotes        = "Notes"
	colLTV          = "LTV"
	colLastVisit    = "Last_Visit_Date"
	colNextReminder = "Next_Reminder_Date"

	colTimestamp  = "Timestamp"
	colType       = "Type"
	colClientName = "Client_Name"
	colItemName   = "Item_Name"
	colTotal      = "Total_Amount"

	colDate         = "Date"
	colTime         = "Time"
	colService      = "Service"
	colDuration     = "Duration"
	colStatus       = "Status"
	colPrice        = "Price"
	colSessionNotes = "Session_Notes"
)

var (
	ProductsSchema = sheet.Schema{Name: "Products", Columns: []string{
		colName, colSize, colQuantity, colUnitPrice, colLastUpdated,
	}, Numeric: []string{colQuantity, colUnitPrice}}
	ClientsSchema = sheet.Schema{Name: "Clients", Columns: []string{
		colName, colContact, colAnamnesis, colNotes, colLTV, colLastVisit, colNextReminder,
	}, Numeric: []string{colLTV}}
	TransactionsSchema = sheet.Schema{Name: "Transactions", Columns: []string{
		colTimestamp, colType, colClientName, colItemName, colSize, colUnitPrice, colQuantity, colTotal,
	}, Numeric: []string{colUnitPrice, colQuantity, colTotal}}
	ScheduleSchema = sheet.Schema{Name: "Schedule", Columns: []string{
		colDate, colTime, colClientName, colService, colDuration, colStatus, colNotes, colContact,
	}, Numeric: []string{colDuration}}
	SessionsSchema = sheet.Schema{Name: "Sessions", Columns: []string{
		colDate, colClientName, colService, colDuration, colPrice, colSessionNotes,
	}, Numeric: []string{colDuration, colPrice}}
)

// Schemas lists every table a tenant document must carry.
func Schemas() []sheet.Schema {
	return []sheet.Schema{ProductsSchema, ClientsSchema, TransactionsSchema, ScheduleSchema, SessionsSchema}
}

// =============================================================================
// ROW CODECS
// =============================================================================

func decodeProduct(r sheet.Row) Product {
	return Product{
		Row:         r.Number,
		Name:        r.Get(colName),
		Size:        r.Get(colSize),
		Quantity:    parseInt(r.Get(colQuantity)),
		UnitPrice:   parseDecimal(r.Get(colUnitPrice)),
		LastUpdated: r.Get(colLastUpdated),
	}
}

func (p Product) fields() map[string]string {
	return map[string]string{
		colName:        p.Name,
		colSize:        p.Size,
		colQuantity:    strconv.Itoa(p.Quantity),
		colUnitPrice:   formatDecimal(p.UnitPrice),
		colLastUpdated: p.LastUpdated,
	}
}

func decodeClient(r sheet.Row) Client {
	return Client{
		Row:              r.Number,
		Name:             r.Get(colName),
		Contact:          r.Get(colContact),
		Anamnesis:        r.Get(colAnamnesis),
		Notes:            r.Get(colNotes),
		LTV:              parseDecimal(r.Get(colLTV)),
		LastVisitDate:    r.Get(colLastVisit),
		NextReminderDate: r.Get(colNextReminder),
	}
}

func (c Client) fields() map[string]string {
	return map[string]string{
		colName:         c.Name,
		colContact:      c.Contact,
		colAnamnesis:    c.Anamnesis,
		colNotes:        c.Notes,
		colLTV:          formatDecimal(c.LTV),
		colLastVisit:    c.LastVisitDate,
		colNextReminder: c.NextReminderDate,
	}
}

func decodeTransaction(r sheet.Row) Transaction {
	return Transaction{
		Row:         r.Number,
		Timestamp:   r.Get(colTimestamp),
		Type:        TxType(r.Get(colType)),
		ClientName:  r.Get(colClientName),
		ItemName:    r.Get(colItemName),
		Size:        r.Get(colSize),
		UnitPrice:   parseDecimal(r.Get(colUnitPrice)),
		Quantity:    parseInt(r.Get(colQuantity)),
		TotalAmount: parseDecimal(r.Get(colTotal)),
	}
}

func (t Transaction) fields() map[string]string {
	return map[string]string{
		colTimestamp:  t.Timestamp,
		colType:       string(t.Type),
		colClientName: t.ClientName,
		colItemName:   t.ItemName,
		colSize:       t.Size,
		colUnitPrice:  formatDecimal(t.UnitPrice),
		colQuantity:   formatInt(t.Quantity),
		colTotal:      formatDecimal(t.TotalAmount),
	}
}

func decodeBooking(r sheet.Row) Booking {
	return Booking{
		Row:        r.Number,
		Date:       r.Get(colDate),
		Time:       r.Get(colTime),
		ClientName: r.Get(colClientName),
		Service:    r.Get(colService),
		Duration:   parseInt(r.Get(colDuration)),
		Status:     BookingStatus(r.Get(colStatus)),
		Notes:      r.Get(colNotes),
		Contact:    r.Get(colContact),
	}
}

func (b Booking) fields() map[string]string {
	return map[string]string{
		colDate:       b.Date,
		colTime:       b.Time,
		colClientName: b.ClientName,
		colService:    b.Service,
		colDuration:   formatInt(b.Duration),
		colStatus:     string(b.Status),
		colNotes:      b.Notes,
		colContact:    b.Contact,
	}
}

func decodeSession(r sheet.Row) Session {
	return Session{
		Row:        r.Number,
		Date:       r.Get(colDate),
		ClientName: r.Get(colClientName),
		Service:    r.Get(colService),
		Duration:   parseInt(r.Get(colDuration)),
		Price:      parseDecimal(r.Get(colPrice)),
		Notes:      r.Get(colSessionNotes),
	}
}

func (s Session) fields() map[string]string {
	return map[string]string{
		colDate:         s.Date,
		colClientName:   s.ClientName,
		colService:      s.Service,
		colDuration:     formatInt(s.Duration),
		colPrice:        formatDecimal(s.Price),
		colSessionNotes: s.Notes,
	}
}

// =============================================================================
// CELL HELPERS
// =============================================================================

// parseInt reads a quantity cell. Spreadsheets hand back "3", "3.0" or
// "1,000"; anything unreadable counts as zero.
func parseInt(s string) int {
	s = strings.ReplaceAll(stripGrouping(s), ",", "")
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return int(d.IntPart())
	}
	return 0
}

func formatInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// parseDecimal accepts a decimal comma, as a Russian-locale sheet renders it.
func parseDecimal(s string) decimal.Decimal {
	s = stripGrouping(s)
	if s == "" {
		return decimal.Zero
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// stripGrouping drops the digit-group spaces a formatted number cell may carry.
func stripGrouping(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)
}

func formatDecimal(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	return t, err == nil
}

// minutesOf returns the minute of day for "HH:MM", or -1.
func minutesOf(s string) int {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return t.Hour()*60 + t.Minute()
}

// appendNote adds one date-stamped line to a free-text field. Line breaks
// inside entry are flattened so that undo removes exactly this entry.
func appendNote(existing, entry string, now time.Time) string {
	entry = strings.Join(strings.Fields(entry), " ")
	if entry == "" {
		return existing
	}
	line := "[" + now.Format(noteStampLayout) + "] " + entry
	if strings.TrimSpace(existing) == "" {
		return line
	}
	return existing + "\n" + line
}

// lineRef fingerprints a note line so a ClientEdit entry can name the line
// it wrote without copying client text into the ledger.
func lineRef(line string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(line)))
	return hex.EncodeToString(sum[:4])
}

// dropLastLine removes the last non-empty line of a free-text field.
func dropLastLine(s string) (rest, removed string) {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	removed = lines[len(lines)-1]
	return strings.Join(lines[:len(lines)-1], "\n"), removed
}
