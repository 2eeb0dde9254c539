package books

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// TxType classifies a ledger entry.
type TxType string

const (
	TxSupply     TxType = "Supply"
	TxSale       TxType = "Sale"
	TxSession    TxType = "Session"
	TxBooking    TxType = "Booking"
	TxClientEdit TxType = "ClientEdit"
)

// Transaction is one row of the Transactions table. Entries written by a
// single call share Timestamp; undo relies on that to find a whole sale.
type Transaction struct {
	Row         int // sheet row, 0 until written
	Timestamp   string
	Type        TxType
	ClientName  string
	ItemName    string // product, service, or edited field for ClientEdit
	Size        string // for ClientEdit, the lineRef of the appended note
	UnitPrice   decimal.Decimal
	Quantity    int
	TotalAmount decimal.Decimal
}

// =============================================================================
// ENTITIES
// =============================================================================

// Product is keyed by normalized (Name, Size). Rows are never deleted.
type Product struct {
	Row         int
	Name        string
	Size        string
	Quantity    int
	UnitPrice   decimal.Decimal
	LastUpdated string
}

// StockLevel is the quantity of one product after an operation.
type StockLevel struct {
	Name     string
	Size     string
	Quantity int
}

// ClientField names a client attribute that can be edited directly.
type ClientField string

const (
	FieldAnamnesis ClientField = "anamnesis"
	FieldNotes     ClientField = "notes"
	FieldContact   ClientField = "contact"
)

// Valid reports whether f is one of the editable fields.
func (f ClientField) Valid() bool {
	switch f {
	case FieldAnamnesis, FieldNotes, FieldContact:
		return true
	}
	return false
}

// Client holds append-only notes (Anamnesis, Notes) and replace-only Contact.
type Client struct {
	Row              int
	Name             string
	Contact          string
	Anamnesis        string
	Notes            string
	LTV              decimal.Decimal
	LastVisitDate    string
	NextReminderDate string
}

// BookingStatus is Confirmed until cancelled. Bookings are never deleted.
type BookingStatus string

const (
	StatusConfirmed BookingStatus = "Confirmed"
	StatusCancelled BookingStatus = "Cancelled"
)

type Booking struct {
	Row        int
	Date       string
	Time       string
	ClientName string
	Service    string
	Duration   int // minutes, 0 when unknown
	Status     BookingStatus
	Notes      string
	Contact    string
}

// Session is one logged visit.
type Session struct {
	Row        int
	Date       string
	ClientName string
	Service    string
	Duration   int
	Price      decimal.Decimal
	Notes      string
}

// ClientView is what a lookup returns: the selected client joined with its
// recent sessions and upcoming bookings.
type ClientView struct {
	Client       Client
	Selected     string // name of Client, as matched
	Ambiguous    bool
	Alternatives []string // other matches, never Selected
	Sessions     []Session // most recent first
	Upcoming     []Booking // by (date, time) ascending
}

// =============================================================================
// INPUTS
// =============================================================================

type SupplyItem struct {
	Name      string
	Size      string
	Quantity  int
	UnitPrice decimal.Decimal // zero keeps the stored price
}

type SaleItem struct {
	Name       string
	Size       string
	Quantity   int
	UnitPrice  decimal.Decimal
	ClientName string
}

// SessionUpdate is the client-side effect of a logged session.
type SessionUpdate struct {
	Name            string
	MedicalNotes    string
	PreferenceNotes string
	Price           decimal.Decimal
	NextAppointment string // YYYY-MM-DD, empty keeps the stored reminder
}

// SessionEntry is a full session log: the Sessions row plus its client update.
type SessionEntry struct {
	SessionUpdate
	Service  string
	Duration int
	Notes    string
}

type BookingRequest struct {
	ClientName string
	Date       string
	Time       string
	Service    string
	Duration   int
	Notes      string
	Contact    string
}

// ClientEditUndo describes what UndoLastClientFieldEdit removed.
type ClientEditUndo struct {
	Client  Client
	Field   ClientField
	Removed string
}

// UndoResult lists the reverted ledger entries and the resulting stock.
type UndoResult struct {
	Entries []Transaction
	Levels  []StockLevel
}
