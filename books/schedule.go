package books

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/normalize"
	"github.com/warp/voicestock/sheet"
)

// =============================================================================
// SCHEDULE STORE - Bookings
// =============================================================================

// Book appends a Confirmed booking. Double bookings are allowed. When the
// client is unknown a stub client is created with the booking date as its
// next reminder.
func (b *Books) Book(ctx context.Context, req BookingRequest) (Booking, error) {
	bk, err := b.validateBooking(req)
	if err != nil {
		return Booking{}, err
	}

	t, err := sheet.Load(ctx, b.doc, ScheduleSchema)
	if err != nil {
		return Booking{}, err
	}
	if err := b.put(ctx, t, 0, bk.fields()); err != nil {
		return Booking{}, err
	}

	created, err := b.ensureClient(ctx, Client{
		Name:             bk.ClientName,
		Contact:          bk.Contact,
		NextReminderDate: bk.Date,
	})
	if err != nil {
		// The booking row is already written; the stub client is a convenience.
		b.log.WithError(err).Warn("booking: stub client not created")
	}

	ts := b.now().Format(TimestampLayout)
	if err := b.record(ctx, ts, Transaction{Type: TxBooking, ClientName: bk.ClientName, ItemName: bk.Service}); err != nil {
		return Booking{}, err
	}
	b.log.WithFields(logrus.Fields{"op": "book", "new_client": created}).Info("booking recorded")
	return bk, nil
}

func (b *Books) validateBooking(req BookingRequest) (Booking, error) {
	fields := make(map[string]string)
	name := strings.TrimSpace(req.ClientName)
	if name == "" {
		fields["client"] = "is required"
	}
	if _, ok := parseDate(req.Date); !ok {
		fields["date"] = "must be YYYY-MM-DD"
	}
	hhmm, ok := canonicalTime(req.Time)
	if !ok {
		fields["time"] = "must be HH:MM"
	}
	if req.Duration < 0 {
		fields["duration"] = "must not be negative"
	}
	if len(fields) > 0 {
		return Booking{}, &MalformedIntentError{Fields: fields}
	}
	return Booking{
		Date:       strings.TrimSpace(req.Date),
		Time:       hhmm,
		ClientName: name,
		Service:    strings.TrimSpace(req.Service),
		Duration:   req.Duration,
		Status:     StatusConfirmed,
		Notes:      strings.TrimSpace(req.Notes),
		Contact:    b.normalizeContact(req.Contact),
	}, nil
}

// CancelBooking flips the first confirmed booking at date and time for the
// client to Cancelled. The row stays in the table.
func (b *Books) CancelBooking(ctx context.Context, clientName, date, clock string) (Booking, error) {
	hhmm, ok := canonicalTime(clock)
	if !ok {
		return Booking{}, Malformed("time", "must be HH:MM")
	}
	if _, ok := parseDate(date); !ok {
		return Booking{}, Malformed("date", "must be YYYY-MM-DD")
	}

	t, bookings, err := b.loadSchedule(ctx)
	if err != nil {
		return Booking{}, err
	}
	want := normalize.Fold(clientName)
	for _, bk := range bookings {
		if bk.Status == StatusCancelled || bk.Date != date || normalize.Fold(bk.ClientName) != want {
			continue
		}
		if got, ok := canonicalTime(bk.Time); !ok || got != hhmm {
			continue
		}
		bk.Status = StatusCancelled
		if err := b.put(ctx, t, bk.Row, map[string]string{colStatus: string(StatusCancelled)}); err != nil {
			return Booking{}, err
		}
		b.log.WithField("op", "cancel_booking").Info("booking cancelled")
		return bk, nil
	}
	return Booking{}, &EntityNotFoundError{Entity: "booking", Name: clientName + " " + date + " " + hhmm}
}

// DailySchedule returns the non-cancelled bookings of date by time.
func (b *Books) DailySchedule(ctx context.Context, date string) ([]Booking, error) {
	if _, ok := parseDate(date); !ok {
		return nil, Malformed("date", "must be YYYY-MM-DD")
	}
	_, bookings, err := b.loadSchedule(ctx)
	if err != nil {
		return nil, err
	}
	var out []Booking
	for _, bk := range bookings {
		if bk.Date == date && bk.Status != StatusCancelled {
			out = append(out, bk)
		}
	}
	sortBookings(out)
	return out, nil
}

// sortBookings orders by date then time. Unreadable times go last within
// their day; ties keep sheet order.
func sortBookings(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		if bookings[i].Date != bookings[j].Date {
			return bookings[i].Date < bookings[j].Date
		}
		mi, mj := minutesOf(bookings[i].Time), minutesOf(bookings[j].Time)
		if mi < 0 {
			return false
		}
		return mj < 0 || mi < mj
	})
}

func canonicalTime(s string) (string, bool) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format(TimeLayout), true
}

// =============================================================================
// SESSIONS
// =============================================================================

// LogSession appends the Sessions row, merges the visit into the client
// record and logs a Session ledger entry priced at the session price.
func (b *Books) LogSession(ctx context.Context, e SessionEntry) (Client, error) {
	if err := validateSessionUpdate(e.SessionUpdate); err != nil {
		return Client{}, err
	}
	if e.Duration < 0 {
		return Client{}, Malformed("duration", "must not be negative")
	}

	t, err := sheet.Load(ctx, b.doc, SessionsSchema)
	if err != nil {
		return Client{}, err
	}
	s := Session{
		Date:       b.Today(),
		ClientName: strings.TrimSpace(e.Name),
		Service:    strings.TrimSpace(e.Service),
		Duration:   e.Duration,
		Price:      e.Price,
		Notes:      strings.TrimSpace(e.Notes),
	}
	if err := b.put(ctx, t, 0, s.fields()); err != nil {
		return Client{}, err
	}

	c, err := b.UpsertFromSession(ctx, e.SessionUpdate)
	if err != nil {
		return Client{}, err
	}

	ts := b.now().Format(TimestampLayout)
	entry := Transaction{
		Type:        TxSession,
		ClientName:  c.Name,
		ItemName:    s.Service,
		UnitPrice:   e.Price,
		Quantity:    1,
		TotalAmount: e.Price,
	}
	if err := b.record(ctx, ts, entry); err != nil {
		return Client{}, err
	}
	b.log.WithField("op", "session").Info("session logged")
	return c, nil
}
