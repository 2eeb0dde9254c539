package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/voicestock/books"
)

// =============================================================================
// INTENTS - Structured requests from the extraction layer
// =============================================================================

type RegistrationIntent struct {
	DocumentRef string `json:"document_ref" validate:"required"`
}

type SupplyIntent struct {
	Items []SupplyItemIntent `json:"items" validate:"required,min=1,dive"`
}

type SupplyItemIntent struct {
	Name      string          `json:"name" validate:"required"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleIntent struct {
	Client   string           `json:"client"`
	Items    []SaleItemIntent `json:"items" validate:"required,min=1,dive"`
	Reminder *ReminderIntent  `json:"reminder,omitempty"`
}

type SaleItemIntent struct {
	Name      string          `json:"name" validate:"required"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ReminderIntent schedules a follow-up for the sale's client.
type ReminderIntent struct {
	DaysFromNow int    `json:"days_from_now" validate:"gte=0"`
	Text        string `json:"text"`
}

type SessionIntent struct {
	Client          string          `json:"client" validate:"required"`
	Service         string          `json:"service"`
	Duration        int             `json:"duration" validate:"gte=0"`
	Price           decimal.Decimal `json:"price"`
	MedicalNotes    string          `json:"medical_notes"`
	PreferenceNotes string          `json:"preference_notes"`
	SessionNotes    string          `json:"session_notes"`
	NextAppointment string          `json:"next_appointment" validate:"omitempty,datetime=2006-01-02"`
}

type BookingIntent struct {
	Client   string `json:"client" validate:"required"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Time     string `json:"time" validate:"required"`
	Service  string `json:"service"`
	Duration int    `json:"duration" validate:"gte=0"`
	Notes    string `json:"notes"`
	Contact  string `json:"contact"`
}

type CancelBookingIntent struct {
	Client string `json:"client" validate:"required"`
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Time   string `json:"time" validate:"required"`
}

type ClientEditIntent struct {
	Client  string `json:"client" validate:"required"`
	Field   string `json:"field" validate:"required,oneof=anamnesis notes contact"`
	Content string `json:"content" validate:"required"`
}

type ClientQueryIntent struct {
	Client string `json:"client" validate:"required"`
}

type UndoClientEditIntent struct {
	Client string `json:"client" validate:"required"`
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates an intent and reports every failing field at once.
func (s *Service) check(intent any) error {
	err := s.validate.Struct(intent)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return books.Malformed("intent", err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = problem(fe)
	}
	return &books.MalformedIntentError{Fields: fields}
}

// fieldPath drops the struct name: "SaleIntent.items[0].name" -> "items[0].name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func problem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "needs at least " + fe.Param() + " entries"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must match " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
