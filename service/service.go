/*
Package service is the operation boundary between intents and tenant books.

PURPOSE:
  Every call names a tenant and carries one structured intent. The service
  validates the intent, resolves the tenant's books, serializes mutations
  per tenant and converts every failure into one of the books error kinds
  before it leaves.

DATA FLOW:
  intent -> validate -> lock(tenant) -> resolve books -> books operation
         -> classify error -> result

CANCELLATION:
  Mutations run on context.WithoutCancel: a caller that goes away does not
  abort a half-written change. Reads use the caller's context.

ERROR KINDS:
  books.ErrPermissionDenied, books.ErrNotFound, books.ErrInsufficientStock,
  books.ErrProductNotFound, books.ErrMalformedIntent, books.ErrNothingToUndo,
  books.ErrTransientBackend. Anything unrecognized is reported as transient.

SEE ALSO:
  - tenant/resolver.go: tenant -> books
  - tenant/lock.go: per-tenant serialization
  - api/handlers.go: HTTP mapping of the error kinds
*/
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/tenant"
)

type Service struct {
	resolver *tenant.Resolver
	locks    tenant.Locker
	validate *validator.Validate
	log      logrus.FieldLogger
}

func New(resolver *tenant.Resolver, locks tenant.Locker, log logrus.FieldLogger) *Service {
	return &Service{
		resolver: resolver,
		locks:    locks,
		validate: newValidator(),
		log:      log,
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register maps tenantKey to the document named by the intent.
func (s *Service) Register(ctx context.Context, tenantKey string, in RegistrationIntent) (string, error) {
	if err := s.check(in); err != nil {
		return "", s.finish(tenantKey, "register", err)
	}
	var docKey string
	err := s.locks.WithLock(context.WithoutCancel(ctx), tenantKey, func(ctx context.Context) error {
		var err error
		docKey, err = s.resolver.Register(ctx, tenantKey, in.DocumentRef)
		return err
	})
	return docKey, s.finish(tenantKey, "register", err)
}

// Unregister deactivates tenantKey's mapping. The document is kept.
func (s *Service) Unregister(ctx context.Context, tenantKey string) error {
	err := s.locks.WithLock(context.WithoutCancel(ctx), tenantKey, func(ctx context.Context) error {
		return s.resolver.Unregister(ctx, tenantKey)
	})
	return s.finish(tenantKey, "unregister", err)
}

// =============================================================================
// INVENTORY
// =============================================================================

func (s *Service) Supply(ctx context.Context, tenantKey string, in SupplyIntent) ([]books.StockLevel, error) {
	if err := s.check(in); err != nil {
		return nil, s.finish(tenantKey, "supply", err)
	}
	items := make([]books.SupplyItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = books.SupplyItem{Name: it.Name, Size: it.Size, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	var levels []books.StockLevel
	err := s.mutate(ctx, tenantKey, "supply", func(ctx context.Context, b *books.Books) error {
		var err error
		levels, err = b.Supply(ctx, items)
		return err
	})
	return levels, err
}

// SaleResult is the outcome of a sale. ReminderError is set when the sale
// went through but the follow-up reminder could not be saved.
type SaleResult struct {
	Levels        []books.StockLevel
	ReminderDate  string
	ReminderError string
}

func (s *Service) Sell(ctx context.Context, tenantKey string, in SaleIntent) (SaleResult, error) {
	if err := s.check(in); err != nil {
		return SaleResult{}, s.finish(tenantKey, "sale", err)
	}
	if in.Reminder != nil && strings.TrimSpace(in.Client) == "" {
		return SaleResult{}, s.finish(tenantKey, "sale", books.Malformed("client", "is required for a reminder"))
	}
	items := make([]books.SaleItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = books.SaleItem{
			Name:       it.Name,
			Size:       it.Size,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			ClientName: in.Client,
		}
	}

	var res SaleResult
	err := s.mutate(ctx, tenantKey, "sale", func(ctx context.Context, b *books.Books) error {
		levels, err := b.Sell(ctx, items)
		if err != nil {
			return err
		}
		res.Levels = levels
		if in.Reminder == nil {
			return nil
		}
		date := b.DaysFromToday(in.Reminder.DaysFromNow)
		if _, err := b.SetReminder(ctx, in.Client, date, in.Reminder.Text); err != nil {
			s.log.WithError(err).WithField("tenant", tenantKey).Warn("sale recorded but reminder not saved")
			res.ReminderError = classify(err).Error()
			return nil
		}
		res.ReminderDate = date
		return nil
	})
	return res, err
}

// Stock lists matching products, or the whole catalogue for an empty name.
func (s *Service) Stock(ctx context.Context, tenantKey, name string) ([]books.Product, error) {
	var out []books.Product
	err := s.read(ctx, tenantKey, "stock", func(ctx context.Context, b *books.Books) error {
		var err error
		if strings.TrimSpace(name) == "" {
			out, err = b.Products(ctx)
		} else {
			out, err = b.Stock(ctx, name)
		}
		return err
	})
	return out, err
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Service) LogSession(ctx context.Context, tenantKey string, in SessionIntent) (books.Client, error) {
	if err := s.check(in); err != nil {
		return books.Client{}, s.finish(tenantKey, "session", err)
	}
	entry := books.SessionEntry{
		SessionUpdate: books.SessionUpdate{
			Name:            in.Client,
			MedicalNotes:    in.MedicalNotes,
			PreferenceNotes: in.PreferenceNotes,
			Price:           in.Price,
			NextAppointment: in.NextAppointment,
		},
		Service:  in.Service,
		Duration: in.Duration,
		Notes:    in.SessionNotes,
	}

	var c books.Client
	err := s.mutate(ctx, tenantKey, "session", func(ctx context.Context, b *books.Books) error {
		var err error
		c, err = b.LogSession(ctx, entry)
		return err
	})
	return c, err
}

func (s *Service) EditClient(ctx context.Context, tenantKey string, in ClientEditIntent) (books.Client, error) {
	if err := s.check(in); err != nil {
		return books.Client{}, s.finish(tenantKey, "client_edit", err)
	}
	var c books.Client
	err := s.mutate(ctx, tenantKey, "client_edit", func(ctx context.Context, b *books.Books) error {
		var err error
		c, err = b.UpdateField(ctx, in.Client, books.ClientField(in.Field), in.Content)
		return err
	})
	return c, err
}

func (s *Service) QueryClient(ctx context.Context, tenantKey string, in ClientQueryIntent) (*books.ClientView, error) {
	if err := s.check(in); err != nil {
		return nil, s.finish(tenantKey, "client_query", err)
	}
	var view *books.ClientView
	err := s.read(ctx, tenantKey, "client_query", func(ctx context.Context, b *books.Books) error {
		var err error
		view, err = b.Lookup(ctx, in.Client)
		return err
	})
	return view, err
}

// ClearReminder empties the client's next reminder date, e.g. once the
// operator has followed up.
func (s *Service) ClearReminder(ctx context.Context, tenantKey string, in ClientQueryIntent) (books.Client, error) {
	if err := s.check(in); err != nil {
		return books.Client{}, s.finish(tenantKey, "clear_reminder", err)
	}
	var c books.Client
	err := s.mutate(ctx, tenantKey, "clear_reminder", func(ctx context.Context, b *books.Books) error {
		var err error
		c, err = b.ClearReminder(ctx, in.Client)
		return err
	})
	return c, err
}

// DueReminders lists clients to remind on date, today when empty.
func (s *Service) DueReminders(ctx context.Context, tenantKey, date string) ([]books.Client, error) {
	var out []books.Client
	err := s.read(ctx, tenantKey, "reminders", func(ctx context.Context, b *books.Books) error {
		if date == "" {
			date = b.Today()
		}
		var err error
		out, err = b.DueReminders(ctx, date)
		return err
	})
	return out, err
}

// =============================================================================
// SCHEDULE
// =============================================================================

func (s *Service) Book(ctx context.Context, tenantKey string, in BookingIntent) (books.Booking, error) {
	if err := s.check(in); err != nil {
		return books.Booking{}, s.finish(tenantKey, "book", err)
	}
	req := books.BookingRequest{
		ClientName: in.Client,
		Date:       in.Date,
		Time:       in.Time,
		Service:    in.Service,
		Duration:   in.Duration,
		Notes:      in.Notes,
		Contact:    in.Contact,
	}
	var bk books.Booking
	err := s.mutate(ctx, tenantKey, "book", func(ctx context.Context, b *books.Books) error {
		var err error
		bk, err = b.Book(ctx, req)
		return err
	})
	return bk, err
}

func (s *Service) CancelBooking(ctx context.Context, tenantKey string, in CancelBookingIntent) (books.Booking, error) {
	if err := s.check(in); err != nil {
		return books.Booking{}, s.finish(tenantKey, "cancel_booking", err)
	}
	var bk books.Booking
	err := s.mutate(ctx, tenantKey, "cancel_booking", func(ctx context.Context, b *books.Books) error {
		var err error
		bk, err = b.CancelBooking(ctx, in.Client, in.Date, in.Time)
		return err
	})
	return bk, err
}

// DailySchedule lists the day's bookings, today when date is empty.
func (s *Service) DailySchedule(ctx context.Context, tenantKey, date string) ([]books.Booking, error) {
	var out []books.Booking
	err := s.read(ctx, tenantKey, "schedule", func(ctx context.Context, b *books.Books) error {
		if date == "" {
			date = b.Today()
		}
		var err error
		out, err = b.DailySchedule(ctx, date)
		return err
	})
	return out, err
}

// =============================================================================
// UNDO
// =============================================================================

func (s *Service) UndoLastSale(ctx context.Context, tenantKey string) (books.UndoResult, error) {
	var res books.UndoResult
	err := s.mutate(ctx, tenantKey, "undo_sale", func(ctx context.Context, b *books.Books) error {
		var err error
		res, err = b.UndoLastSale(ctx)
		return err
	})
	return res, err
}

func (s *Service) UndoLastSupply(ctx context.Context, tenantKey string) (books.UndoResult, error) {
	var res books.UndoResult
	err := s.mutate(ctx, tenantKey, "undo_supply", func(ctx context.Context, b *books.Books) error {
		var err error
		res, err = b.UndoLastSupply(ctx)
		return err
	})
	return res, err
}

func (s *Service) UndoLastClientEdit(ctx context.Context, tenantKey string, in UndoClientEditIntent) (books.ClientEditUndo, error) {
	if err := s.check(in); err != nil {
		return books.ClientEditUndo{}, s.finish(tenantKey, "undo_client_edit", err)
	}
	var res books.ClientEditUndo
	err := s.mutate(ctx, tenantKey, "undo_client_edit", func(ctx context.Context, b *books.Books) error {
		var err error
		res, err = b.UndoLastClientFieldEdit(ctx, in.Client)
		return err
	})
	return res, err
}

// =============================================================================
// BOUNDARY
// =============================================================================

func (s *Service) mutate(ctx context.Context, tenantKey, op string, fn func(context.Context, *books.Books) error) error {
	err := s.locks.WithLock(context.WithoutCancel(ctx), tenantKey, func(ctx context.Context) error {
		b, err := s.resolver.Open(ctx, tenantKey)
		if err != nil {
			return err
		}
		return fn(ctx, b)
	})
	return s.finish(tenantKey, op, err)
}

func (s *Service) read(ctx context.Context, tenantKey, op string, fn func(context.Context, *books.Books) error) error {
	b, err := s.resolver.Open(ctx, tenantKey)
	if err == nil {
		err = fn(ctx, b)
	}
	return s.finish(tenantKey, op, err)
}

// finish evicts stale handles, classifies err and logs it by kind.
func (s *Service) finish(tenantKey, op string, err error) error {
	if err == nil {
		return nil
	}
	s.resolver.Observe(tenantKey, err)
	err = classify(err)

	// Rejections carry client and product names, so only their kind is logged.
	log := s.log.WithFields(logrus.Fields{"tenant": tenantKey, "op": op, "kind": Kind(err)})
	switch {
	case books.IsClientError(err), books.IsNotFound(err):
		log.Info("operation rejected")
	case errors.Is(err, books.ErrPermissionDenied):
		log.Warn("operation denied")
	default:
		log.WithError(err).Error("operation failed")
	}
	return err
}

// classify passes known kinds through and reports anything else as a
// transient backend failure.
func classify(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind.err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", books.ErrTransientBackend, err)
}

var kinds = []struct {
	err  error
	name string
}{
	{books.ErrMalformedIntent, "malformed_intent"},
	{books.ErrInsufficientStock, "insufficient_stock"},
	{books.ErrProductNotFound, "product_not_found"},
	{books.ErrNothingToUndo, "nothing_to_undo"},
	{books.ErrPermissionDenied, "permission_denied"},
	{books.ErrNotFound, "not_found"},
	{books.ErrTransientBackend, "transient_backend"},
}

// Kind names the error kind of a classified error.
func Kind(err error) string {
	for _, kind := range kinds {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}
	return "transient_backend"
}
