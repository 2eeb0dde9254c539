/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  Defines the JSON structures returned to callers. Request bodies are the
  service intents themselves (service/intents.go), so only responses live
  here. Decimals are serialized as strings to keep prices exact.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Wrappers (errors, health)

SEE ALSO:
  - handlers.go: Uses these types
  - service/intents.go: request bodies
*/
package api

import (
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/service"
)

// =============================================================================
// INVENTORY
// =============================================================================

type StockLevelDTO struct {
	Name     string `json:"name"`
	Size     string `json:"size,omitempty"`
	Quantity int    `json:"quantity"`
}

type ProductDTO struct {
	Name        string `json:"name"`
	Size        string `json:"size,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LastUpdated string `json:"last_updated,omitempty"`
}

type SaleDTO struct {
	Levels        []StockLevelDTO `json:"levels"`
	ReminderDate  string          `json:"reminder_date,omitempty"`
	ReminderError string          `json:"reminder_error,omitempty"`
}

type UndoDTO struct {
	Undone int             `json:"undone"`
	Levels []StockLevelDTO `json:"levels"`
}

// =============================================================================
// CLIENTS AND SCHEDULE
// =============================================================================

type ClientDTO struct {
	Name             string `json:"name"`
	Contact          string `json:"contact,omitempty"`
	Anamnesis        string `json:"anamnesis,omitempty"`
	Notes            string `json:"notes,omitempty"`
	LTV              string `json:"ltv"`
	LastVisitDate    string `json:"last_visit_date,omitempty"`
	NextReminderDate string `json:"next_reminder_date,omitempty"`
}

type SessionDTO struct {
	Date     string `json:"date"`
	Service  string `json:"service,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Price    string `json:"price"`
	Notes    string `json:"notes,omitempty"`
}

type BookingDTO struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Client   string `json:"client"`
	Service  string `json:"service,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Status   string `json:"status"`
	Notes    string `json:"notes,omitempty"`
	Contact  string `json:"contact,omitempty"`
}

// ClientViewDTO is a client lookup. When Ambiguous is set the caller should
// confirm Selected against Alternatives, which lists the other matches.
type ClientViewDTO struct {
	Client       ClientDTO    `json:"client"`
	Selected     string       `json:"selected"`
	Ambiguous    bool         `json:"ambiguous"`
	Alternatives []string     `json:"alternatives,omitempty"`
	Sessions     []SessionDTO `json:"sessions"`
	Upcoming     []BookingDTO `json:"upcoming"`
}

type ClientEditUndoDTO struct {
	Client  ClientDTO `json:"client"`
	Field   string    `json:"field"`
	Removed string    `json:"removed"`
}

type RegistrationDTO struct {
	Tenant   string `json:"tenant"`
	Document string `json:"document"`
}

// =============================================================================
// WRAPPERS
// =============================================================================

// ErrorResponse is the standard error response. Code is the error kind.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	ActiveTenants *int   `json:"active_tenants,omitempty"`
	Error         string `json:"error,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toLevelDTOs(levels []books.StockLevel) []StockLevelDTO {
	out := make([]StockLevelDTO, len(levels))
	for i, l := range levels {
		out[i] = StockLevelDTO{Name: l.Name, Size: l.Size, Quantity: l.Quantity}
	}
	return out
}

func toProductDTOs(products []books.Product) []ProductDTO {
	out := make([]ProductDTO, len(products))
	for i, p := range products {
		out[i] = ProductDTO{
			Name:        p.Name,
			Size:        p.Size,
			Quantity:    p.Quantity,
			UnitPrice:   p.UnitPrice.String(),
			LastUpdated: p.LastUpdated,
		}
	}
	return out
}

func toSaleDTO(res service.SaleResult) SaleDTO {
	return SaleDTO{
		Levels:        toLevelDTOs(res.Levels),
		ReminderDate:  res.ReminderDate,
		ReminderError: res.ReminderError,
	}
}

func toClientDTO(c books.Client) ClientDTO {
	return ClientDTO{
		Name:             c.Name,
		Contact:          c.Contact,
		Anamnesis:        c.Anamnesis,
		Notes:            c.Notes,
		LTV:              c.LTV.String(),
		LastVisitDate:    c.LastVisitDate,
		NextReminderDate: c.NextReminderDate,
	}
}

func toClientDTOs(clients []books.Client) []ClientDTO {
	out := make([]ClientDTO, len(clients))
	for i, c := range clients {
		out[i] = toClientDTO(c)
	}
	return out
}

func toBookingDTO(b books.Booking) BookingDTO {
	return BookingDTO{
		Date:     b.Date,
		Time:     b.Time,
		Client:   b.ClientName,
		Service:  b.Service,
		Duration: b.Duration,
		Status:   string(b.Status),
		Notes:    b.Notes,
		Contact:  b.Contact,
	}
}

func toBookingDTOs(bookings []books.Booking) []BookingDTO {
	out := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		out[i] = toBookingDTO(b)
	}
	return out
}

func toClientViewDTO(v *books.ClientView) ClientViewDTO {
	sessions := make([]SessionDTO, len(v.Sessions))
	for i, s := range v.Sessions {
		sessions[i] = SessionDTO{
			Date:     s.Date,
			Service:  s.Service,
			Duration: s.Duration,
			Price:    s.Price.String(),
			Notes:    s.Notes,
		}
	}
	return ClientViewDTO{
		Client:       toClientDTO(v.Client),
		Selected:     v.Selected,
		Ambiguous:    v.Ambiguous,
		Alternatives: v.Alternatives,
		Sessions:     sessions,
		Upcoming:     toBookingDTOs(v.Upcoming),
	}
}
