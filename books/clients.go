/*
clients.go - RecordMerger: client records that only ever grow

PURPOSE:
  Client rows are edited by many intents (sessions, sales with reminders,
  direct edits, bookings). Free-text fields are never overwritten: every
  write appends one date-stamped line. Contact is the only replace field.

MATCHING:
  Writes match a client by exact folded name and create the client when
  none matches. Lookups match by substring and resolve ambiguity with a
  fixed policy (see Lookup).

CONTACT:
  Phone numbers are stored in E.164 when libphonenumber can read them in
  the tenant's region. Anything else (a handle, an e-mail) is stored as
  given.

SEE ALSO:
  - undo.go: UndoLastClientFieldEdit
  - schedule.go: bookings create stub clients
*/
package books

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"
	"github.com/warp/voicestock/normalize"
)

// =============================================================================
// WRITES
// =============================================================================

// UpsertFromSession applies a session to its client: notes are appended,
// Price adds to LTV, the visit date becomes today. The reminder date is
// replaced only when a new one is given.
func (b *Books) UpsertFromSession(ctx context.Context, u SessionUpdate) (Client, error) {
	if err := validateSessionUpdate(u); err != nil {
		return Client{}, err
	}
	t, clients, err := b.loadClients(ctx)
	if err != nil {
		return Client{}, err
	}
	c := b.upsertFromSession(clients, u)
	if err := b.put(ctx, t, c.Row, c.fields()); err != nil {
		return Client{}, err
	}
	return c, nil
}

func (b *Books) upsertFromSession(clients []Client, u SessionUpdate) Client {
	now := b.now()
	c, ok := findExact(clients, u.Name)
	if !ok {
		c = Client{Name: strings.TrimSpace(u.Name)}
	}
	c.Anamnesis = appendNote(c.Anamnesis, u.MedicalNotes, now)
	c.Notes = appendNote(c.Notes, u.PreferenceNotes, now)
	c.LTV = c.LTV.Add(u.Price)
	c.LastVisitDate = now.Format(DateLayout)
	if u.NextAppointment != "" {
		c.NextReminderDate = u.NextAppointment
	}
	return c
}

// UpdateField edits one client field and logs a ClientEdit ledger entry
// naming the field. A missing client is created with only that field.
func (b *Books) UpdateField(ctx context.Context, name string, field ClientField, content string) (Client, error) {
	if strings.TrimSpace(name) == "" {
		return Client{}, Malformed("client", "is required")
	}
	if !field.Valid() {
		return Client{}, Malformed("field", "must be anamnesis, notes or contact")
	}
	if strings.TrimSpace(content) == "" {
		return Client{}, Malformed("content", "is required")
	}

	t, clients, err := b.loadClients(ctx)
	if err != nil {
		return Client{}, err
	}
	c, ok := findExact(clients, name)
	if !ok {
		c = Client{Name: strings.TrimSpace(name)}
	}

	now := b.now()
	var ref string
	switch field {
	case FieldContact:
		c.Contact = b.normalizeContact(content)
	case FieldAnamnesis:
		c.Anamnesis = appendNote(c.Anamnesis, content, now)
		_, line := dropLastLine(c.Anamnesis)
		ref = lineRef(line)
	case FieldNotes:
		c.Notes = appendNote(c.Notes, content, now)
		_, line := dropLastLine(c.Notes)
		ref = lineRef(line)
	}

	if err := b.put(ctx, t, c.Row, c.fields()); err != nil {
		return Client{}, err
	}
	ts := now.Format(TimestampLayout)
	if err := b.record(ctx, ts, Transaction{Type: TxClientEdit, ClientName: c.Name, ItemName: string(field), Size: ref}); err != nil {
		return Client{}, err
	}
	b.log.WithFields(logrus.Fields{"op": "client_edit", "field": field, "created": !ok}).Info("client updated")
	return c, nil
}

// SetReminder replaces the next reminder date and appends text, when given,
// to the client's notes. A missing client is created.
func (b *Books) SetReminder(ctx context.Context, name, date, text string) (Client, error) {
	if strings.TrimSpace(name) == "" {
		return Client{}, Malformed("client", "is required")
	}
	if _, ok := parseDate(date); !ok {
		return Client{}, Malformed("date", "must be YYYY-MM-DD")
	}
	t, clients, err := b.loadClients(ctx)
	if err != nil {
		return Client{}, err
	}
	c, ok := findExact(clients, name)
	if !ok {
		c = Client{Name: strings.TrimSpace(name)}
	}
	c.NextReminderDate = date
	if strings.TrimSpace(text) != "" {
		c.Notes = appendNote(c.Notes, "Reminder "+date+": "+text, b.now())
	}
	if err := b.put(ctx, t, c.Row, c.fields()); err != nil {
		return Client{}, err
	}
	return c, nil
}

// ClearReminder empties the client's next reminder date. Clearing a client
// with no reminder writes nothing.
func (b *Books) ClearReminder(ctx context.Context, name string) (Client, error) {
	if strings.TrimSpace(name) == "" {
		return Client{}, Malformed("client", "is required")
	}
	t, clients, err := b.loadClients(ctx)
	if err != nil {
		return Client{}, err
	}
	c, ok := findExact(clients, name)
	if !ok {
		return Client{}, &EntityNotFoundError{Entity: "client", Name: strings.TrimSpace(name)}
	}
	if c.NextReminderDate == "" {
		return c, nil
	}
	c.NextReminderDate = ""
	if err := b.put(ctx, t, c.Row, c.fields()); err != nil {
		return Client{}, err
	}
	b.log.WithField("op", "clear_reminder").Info("reminder cleared")
	return c, nil
}

// =============================================================================
// READS
// =============================================================================

// Lookup finds a client by case-insensitive substring. Resolution:
//  1. no match: EntityNotFoundError
//  2. one match: that client
//  3. several, one equal to the query: that client, others as alternatives
//  4. several, none equal: the most recent Last_Visit_Date wins (unreadable
//     dates last), Ambiguous is set and the other candidates are listed
//
// Alternatives never contains the selected client.
func (b *Books) Lookup(ctx context.Context, query string) (*ClientView, error) {
	q := normalize.Fold(query)
	if q == "" {
		return nil, Malformed("client", "is required")
	}
	_, clients, err := b.loadClients(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Client
	for _, c := range clients {
		if strings.Contains(normalize.Fold(c.Name), q) {
			matches = append(matches, c)
		}
	}

	view := &ClientView{}
	switch {
	case len(matches) == 0:
		return nil, &EntityNotFoundError{Entity: "client", Name: strings.TrimSpace(query)}
	case len(matches) == 1:
		view.Client = matches[0]
	default:
		if c, ok := findExact(matches, query); ok {
			view.Client = c
			for _, m := range matches {
				if m.Row != c.Row {
					view.Alternatives = append(view.Alternatives, m.Name)
				}
			}
			break
		}
		ranked := append([]Client(nil), matches...)
		sort.SliceStable(ranked, func(i, j int) bool {
			return visitedAfter(ranked[i], ranked[j])
		})
		view.Client = ranked[0]
		view.Ambiguous = true
		for _, m := range ranked[1:] {
			view.Alternatives = append(view.Alternatives, m.Name)
		}
	}
	view.Selected = view.Client.Name

	if err := b.joinHistory(ctx, view); err != nil {
		return nil, err
	}
	return view, nil
}

// visitedAfter orders valid dates newest first, then unreadable ones.
func visitedAfter(a, b Client) bool {
	ta, oka := parseDate(a.LastVisitDate)
	tb, okb := parseDate(b.LastVisitDate)
	switch {
	case oka && okb:
		return ta.After(tb)
	default:
		return oka && !okb
	}
}

func (b *Books) joinHistory(ctx context.Context, view *ClientView) error {
	name := normalize.Fold(view.Client.Name)

	sessions, err := b.loadSessions(ctx)
	if err != nil {
		return err
	}
	var mine []Session
	for i := len(sessions) - 1; i >= 0; i-- {
		if normalize.Fold(sessions[i].ClientName) == name {
			mine = append(mine, sessions[i])
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].Date > mine[j].Date })
	if len(mine) > b.historyLimit {
		mine = mine[:b.historyLimit]
	}
	view.Sessions = mine

	_, bookings, err := b.loadSchedule(ctx)
	if err != nil {
		return err
	}
	today, _ := parseDate(b.Today())
	for _, bk := range bookings {
		d, ok := parseDate(bk.Date)
		if !ok || d.Before(today) || bk.Status == StatusCancelled {
			continue
		}
		if normalize.Fold(bk.ClientName) == name {
			view.Upcoming = append(view.Upcoming, bk)
		}
	}
	sortBookings(view.Upcoming)
	return nil
}

// DueReminders lists clients whose next reminder falls on date.
func (b *Books) DueReminders(ctx context.Context, date string) ([]Client, error) {
	if _, ok := parseDate(date); !ok {
		return nil, Malformed("date", "must be YYYY-MM-DD")
	}
	_, clients, err := b.loadClients(ctx)
	if err != nil {
		return nil, err
	}
	var out []Client
	for _, c := range clients {
		if c.NextReminderDate == date {
			out = append(out, c)
		}
	}
	return out, nil
}

// Clients returns every client in sheet order.
func (b *Books) Clients(ctx context.Context) ([]Client, error) {
	_, clients, err := b.loadClients(ctx)
	return clients, err
}

// =============================================================================
// HELPERS
// =============================================================================

func findExact(clients []Client, name string) (Client, bool) {
	want := normalize.Fold(name)
	for _, c := range clients {
		if normalize.Fold(c.Name) == want {
			return c, true
		}
	}
	return Client{}, false
}

// ensureClient appends a stub client unless one with that name exists.
func (b *Books) ensureClient(ctx context.Context, stub Client) (bool, error) {
	t, clients, err := b.loadClients(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := findExact(clients, stub.Name); ok {
		return false, nil
	}
	return true, b.put(ctx, t, 0, stub.fields())
}

func (b *Books) normalizeContact(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || b.phoneRegion == "" {
		return raw
	}
	num, err := libphonenumber.Parse(raw, b.phoneRegion)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

func validateSessionUpdate(u SessionUpdate) error {
	fields := make(map[string]string)
	if strings.TrimSpace(u.Name) == "" {
		fields["client"] = "is required"
	}
	if u.Price.IsNegative() {
		fields["price"] = "must not be negative"
	}
	if u.NextAppointment != "" {
		if _, ok := parseDate(u.NextAppointment); !ok {
			fields["next_appointment"] = "must be YYYY-MM-DD"
		}
	}
	if len(fields) > 0 {
		return &MalformedIntentError{Fields: fields}
	}
	return nil
}
