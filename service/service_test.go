package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/service"
	"github.com/warp/voicestock/sheet/memory"
	"github.com/warp/voicestock/store/sqlite"
	"github.com/warp/voicestock/tenant"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const owner = "owner-1"

type fixture struct {
	svc      *service.Service
	resolver *tenant.Resolver
	backend  *memory.Backend
}

// clock advances one second per reading and is safe for concurrent use.
func clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start.Add(-time.Second)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, _ := test.NewNullLogger()
	backend := memory.New()
	resolver := tenant.NewResolver(backend, store, books.Options{
		Now:         clock(time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)),
		PhoneRegion: "RU",
	}, logger)

	return &fixture{
		svc:      service.New(resolver, tenant.NewLocalLocks(), logger),
		resolver: resolver,
		backend:  backend,
	}
}

func newRegistered(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), owner, service.RegistrationIntent{DocumentRef: "mem://shop"})
	require.NoError(t, err)
	return f
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func supply(name, size string, qty int) service.SupplyIntent {
	return service.SupplyIntent{Items: []service.SupplyItemIntent{{Name: name, Size: size, Quantity: qty}}}
}

func sale(client, name, size string, qty int) service.SaleIntent {
	return service.SaleIntent{
		Client: client,
		Items:  []service.SaleItemIntent{{Name: name, Size: size, Quantity: qty, UnitPrice: dec(10)}},
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestSupplySellUndo_ThroughService(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()

	levels, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))
	require.NoError(t, err)
	assert.Equal(t, 5, levels[0].Quantity)

	res, err := f.svc.Sell(ctx, owner, sale("Client1", "ProductA", "M", 3))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Levels[0].Quantity)

	undone, err := f.svc.UndoLastSale(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 5, undone.Levels[0].Quantity)

	products, err := f.svc.Stock(ctx, owner, "")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 5, products[0].Quantity)

	_, err = f.svc.UndoLastSale(ctx, owner)
	assert.ErrorIs(t, err, books.ErrNothingToUndo)
	assert.Equal(t, "nothing_to_undo", service.Kind(err))
}

func TestSell_WithReminder(t *testing.T) {
	// GIVEN: a sale for Client1 with a reminder in 7 days
	// THEN: the client's next reminder is 2026-03-17 and it shows up that day

	f := newRegistered(t)
	ctx := context.Background()
	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))
	require.NoError(t, err)

	in := sale("Client1", "ProductA", "M", 1)
	in.Reminder = &service.ReminderIntent{DaysFromNow: 7, Text: "ask about the cream"}
	res, err := f.svc.Sell(ctx, owner, in)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-17", res.ReminderDate)
	assert.Empty(t, res.ReminderError)

	due, err := f.svc.DueReminders(ctx, owner, "2026-03-17")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Client1", due[0].Name)
	assert.Contains(t, due[0].Notes, "ask about the cream")
}

func TestClearReminder(t *testing.T) {
	// GIVEN: Client1 has a reminder due on 2026-03-17
	f := newRegistered(t)
	ctx := context.Background()
	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))
	require.NoError(t, err)
	in := sale("Client1", "ProductA", "M", 1)
	in.Reminder = &service.ReminderIntent{DaysFromNow: 7}
	_, err = f.svc.Sell(ctx, owner, in)
	require.NoError(t, err)

	// WHEN: the reminder is cleared
	c, err := f.svc.ClearReminder(ctx, owner, service.ClientQueryIntent{Client: "client1"})
	require.NoError(t, err)

	// THEN: nothing is due any more
	assert.Empty(t, c.NextReminderDate)
	due, err := f.svc.DueReminders(ctx, owner, "2026-03-17")
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = f.svc.ClearReminder(ctx, owner, service.ClientQueryIntent{Client: "Nobody"})
	assert.Equal(t, "not_found", service.Kind(err))
	_, err = f.svc.ClearReminder(ctx, owner, service.ClientQueryIntent{})
	assert.Equal(t, "malformed_intent", service.Kind(err))
}

func TestSell_ReminderNeedsClient(t *testing.T) {
	f := newRegistered(t)

	in := sale("", "ProductA", "M", 1)
	in.Reminder = &service.ReminderIntent{DaysFromNow: 3}
	_, err := f.svc.Sell(context.Background(), owner, in)

	var malformed *books.MalformedIntentError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Fields, "client")
}

func TestSessionBookingAndQuery(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, owner, service.BookingIntent{
		Client: "Anna Ivanova", Date: "2026-03-12", Time: "14:00", Service: "massage", Duration: 60,
	})
	require.NoError(t, err)

	c, err := f.svc.LogSession(ctx, owner, service.SessionIntent{
		Client: "Anna Ivanova", Service: "massage", Duration: 60, Price: dec(3000),
		MedicalNotes: "lower back pain",
	})
	require.NoError(t, err)
	assert.True(t, c.LTV.Equal(dec(3000)))

	view, err := f.svc.QueryClient(ctx, owner, service.ClientQueryIntent{Client: "anna"})
	require.NoError(t, err)
	assert.Equal(t, "Anna Ivanova", view.Client.Name)
	assert.Len(t, view.Sessions, 1)
	assert.Len(t, view.Upcoming, 1)

	day, err := f.svc.DailySchedule(ctx, owner, "2026-03-12")
	require.NoError(t, err)
	require.Len(t, day, 1)

	_, err = f.svc.CancelBooking(ctx, owner, service.CancelBookingIntent{
		Client: "Anna Ivanova", Date: "2026-03-12", Time: "14:00",
	})
	require.NoError(t, err)

	day, err = f.svc.DailySchedule(ctx, owner, "2026-03-12")
	require.NoError(t, err)
	assert.Empty(t, day)
}

func TestEditAndUndoClientNotes(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()

	_, err := f.svc.EditClient(ctx, owner, service.ClientEditIntent{Client: "Anna", Field: "notes", Content: "likes mint"})
	require.NoError(t, err)
	_, err = f.svc.EditClient(ctx, owner, service.ClientEditIntent{Client: "Anna", Field: "notes", Content: "prefers mornings"})
	require.NoError(t, err)

	undone, err := f.svc.UndoLastClientEdit(ctx, owner, service.UndoClientEditIntent{Client: "Anna"})
	require.NoError(t, err)
	assert.Contains(t, undone.Removed, "prefers mornings")
	assert.Contains(t, undone.Client.Notes, "likes mint")
	assert.NotContains(t, undone.Client.Notes, "prefers mornings")
}

// =============================================================================
// ERROR BOUNDARY
// =============================================================================

func TestMalformedIntent_ReportsEveryField(t *testing.T) {
	// GIVEN: an unregistered tenant and a sale with two bad items
	// THEN: validation fails first, naming each field

	f := newFixture(t)

	_, err := f.svc.Sell(context.Background(), "nobody", service.SaleIntent{
		Items: []service.SaleItemIntent{{Quantity: 1}, {Name: "B", Quantity: 0}},
	})

	var malformed *books.MalformedIntentError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "is required", malformed.Fields["items[0].name"])
	assert.Equal(t, "must be greater than 0", malformed.Fields["items[1].quantity"])
	assert.Equal(t, "malformed_intent", service.Kind(err))
}

func TestMalformedIntent_UnknownField(t *testing.T) {
	f := newRegistered(t)

	_, err := f.svc.EditClient(context.Background(), owner, service.ClientEditIntent{
		Client: "Anna", Field: "birthday", Content: "x",
	})

	assert.ErrorIs(t, err, books.ErrMalformedIntent)
}

func TestUnregisteredTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Stock(context.Background(), "nobody", "")

	assert.ErrorIs(t, err, tenant.ErrNotRegistered)
	assert.Equal(t, "not_found", service.Kind(err))
}

func TestUnregister(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Unregister(ctx, owner))

	_, err := f.svc.Stock(ctx, owner, "")
	assert.Equal(t, "not_found", service.Kind(err))
	assert.Equal(t, "not_found", service.Kind(f.svc.Unregister(ctx, owner)))

	_, err = f.svc.Register(ctx, owner, service.RegistrationIntent{DocumentRef: "mem://shop"})
	require.NoError(t, err, "re-registration reactivates the tenant")
}

func TestUnknownBackendError_IsTransient(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()

	f.backend.Document("shop").FailNext(errors.New("connection reset"))
	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))

	assert.ErrorIs(t, err, books.ErrTransientBackend)
	assert.True(t, books.IsRetryable(err))
	assert.Equal(t, "transient_backend", service.Kind(err))
}

func TestPermissionDenied_EvictsHandle(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()
	require.True(t, f.resolver.Cached(owner))

	f.backend.Deny("shop")
	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))

	assert.ErrorIs(t, err, books.ErrPermissionDenied)
	assert.False(t, f.resolver.Cached(owner))

	f.backend.Allow("shop")
	_, err = f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))
	assert.NoError(t, err)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSales_NeverOversell(t *testing.T) {
	// GIVEN: 10 units in stock
	// WHEN: 20 callers each sell 1 at the same time
	// THEN: exactly 10 succeed and stock ends at 0

	f := newRegistered(t)
	ctx := context.Background()
	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 10))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Sell(ctx, owner, sale("", "ProductA", "M", 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, books.ErrInsufficientStock):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, rejected)
	products, err := f.svc.Stock(ctx, owner, "ProductA")
	require.NoError(t, err)
	assert.Equal(t, 0, products[0].Quantity)
}

func TestMutation_SurvivesCallerCancellation(t *testing.T) {
	f := newRegistered(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))
	require.NoError(t, err)

	products, err := f.svc.Stock(context.Background(), owner, "ProductA")
	require.NoError(t, err)
	assert.Equal(t, 5, products[0].Quantity)
}

func TestUndoLastSupply_ThroughService(t *testing.T) {
	f := newRegistered(t)
	ctx := context.Background()
	_, err := f.svc.Supply(ctx, owner, supply("ProductA", "M", 5))
	require.NoError(t, err)
	_, err = f.svc.Supply(ctx, owner, supply("ProductA", "M", 2))
	require.NoError(t, err)

	res, err := f.svc.UndoLastSupply(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Levels[0].Quantity)
}
