package tenant_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/sheet"
	"github.com/warp/voicestock/sheet/memory"
	"github.com/warp/voicestock/tenant"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeRegistry struct {
	mu      sync.Mutex
	tenants map[string]tenant.Record
	touched int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tenants: make(map[string]tenant.Record)}
}

func (f *fakeRegistry) GetTenant(_ context.Context, key string) (tenant.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[key]
	if !ok || !rec.Active {
		return tenant.Record{}, fmt.Errorf("%w: %s", tenant.ErrNotRegistered, key)
	}
	return rec, nil
}

func (f *fakeRegistry) SaveTenant(_ context.Context, key, docKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[key] = tenant.Record{Key: key, DocKey: docKey, Active: true, CreatedAt: time.Now()}
	return nil
}

func (f *fakeRegistry) TouchTenant(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func (f *fakeRegistry) DeactivateTenant(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[key]
	if !ok || !rec.Active {
		return fmt.Errorf("%w: %s", tenant.ErrNotRegistered, key)
	}
	rec.Active = false
	f.tenants[key] = rec
	return nil
}

func newTestResolver(t *testing.T) (*tenant.Resolver, *memory.Backend, *fakeRegistry) {
	t.Helper()
	backend := memory.New()
	registry := newFakeRegistry()
	logger, _ := test.NewNullLogger()
	r := tenant.NewResolver(backend, registry, books.Options{Logger: logger}, logger)
	return r, backend, registry
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegister_ProvisionsAndEnsuresSchema(t *testing.T) {
	r, backend, registry := newTestResolver(t)
	ctx := context.Background()

	docKey, err := r.Register(ctx, "owner-1", "mem://shop")
	require.NoError(t, err)

	assert.Equal(t, "shop", docKey)
	assert.Equal(t, "shop", registry.tenants["owner-1"].DocKey)
	assert.True(t, r.Cached("owner-1"))

	tables, err := backend.Document("shop").Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Products", "Clients", "Transactions", "Schedule", "Sessions"}, tables)
}

func TestRegister_RejectsUnknownRefShape(t *testing.T) {
	r, _, registry := newTestResolver(t)

	_, err := r.Register(context.Background(), "owner-1", "https://example.com/sheet")

	assert.ErrorIs(t, err, books.ErrMalformedIntent)
	assert.Empty(t, registry.tenants)
}

func TestRegister_ReadOnlyDocumentIsRejected(t *testing.T) {
	// GIVEN: a document shared without write access
	// THEN: registration fails with PermissionDenied and nothing is saved

	r, backend, registry := newTestResolver(t)
	doc := backend.Create("shop")
	_, err := sheet.EnsureSchema(context.Background(), doc, books.Schemas()...)
	require.NoError(t, err)
	backend.ReadOnly("shop")

	_, err = r.Register(context.Background(), "owner-1", "mem://shop")

	assert.ErrorIs(t, err, books.ErrPermissionDenied)
	assert.Empty(t, registry.tenants)
	assert.False(t, r.Cached("owner-1"))
}

func TestRegister_ReplacesCachedHandle(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "owner-1", "mem://first")
	require.NoError(t, err)
	_, err = r.Register(ctx, "owner-1", "mem://second")
	require.NoError(t, err)

	b, err := r.Open(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "second", b.Document().Key())
}

// =============================================================================
// OPEN AND EVICTION
// =============================================================================

func TestOpen_Unregistered(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, err := r.Open(context.Background(), "stranger")

	assert.ErrorIs(t, err, tenant.ErrNotRegistered)
	assert.True(t, books.IsNotFound(err))
}

func TestOpen_CachesAndRepairsOnce(t *testing.T) {
	r, backend, registry := newTestResolver(t)
	ctx := context.Background()
	doc := backend.Create("shop")
	doc.SetValues("Products", [][]string{{"Silk robe", "M", "3"}})
	require.NoError(t, registry.SaveTenant(ctx, "owner-1", "shop"))

	first, err := r.Open(ctx, "owner-1")
	require.NoError(t, err)
	writes := doc.Writes()
	second, err := r.Open(ctx, "owner-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, writes, doc.Writes(), "schema runs once per open")
	assert.Equal(t, books.ProductsSchema.Columns, doc.Rows("Products")[0], "header inserted above data")

	products, err := first.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 3, products[0].Quantity)
}

// slowBackend stretches every read so concurrent opens overlap.
type slowBackend struct {
	*memory.Backend
	delay time.Duration
}

func (b slowBackend) Open(ctx context.Context, key string) (sheet.Document, error) {
	doc, err := b.Backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return slowDoc{Document: doc, delay: b.delay}, nil
}

type slowDoc struct {
	sheet.Document
	delay time.Duration
}

func (d slowDoc) Values(ctx context.Context, table string) ([][]string, error) {
	time.Sleep(d.delay)
	return d.Document.Values(ctx, table)
}

func TestOpen_ConcurrentFirstUseRepairsOnce(t *testing.T) {
	// GIVEN: a registered document whose Products header is misspelled
	// WHEN: 8 callers open the uncached tenant at the same time
	// THEN: they share one handle and the correct header is inserted once

	ctx := context.Background()
	backend := memory.New()
	doc := backend.Create("shop")
	_, err := sheet.EnsureSchema(ctx, doc, books.Schemas()...)
	require.NoError(t, err)
	doc.SetValues("Products", [][]string{{"Name", "Size", "Qty"}})
	registry := newFakeRegistry()
	require.NoError(t, registry.SaveTenant(ctx, "owner-1", "shop"))

	logger, _ := test.NewNullLogger()
	r := tenant.NewResolver(slowBackend{Backend: backend, delay: 2 * time.Millisecond}, registry, books.Options{Logger: logger}, logger)

	handles := make([]*books.Books, 8)
	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = r.Open(ctx, "owner-1")
		}(i)
	}
	wg.Wait()

	for i := range handles {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	rows := doc.Rows("Products")
	require.Len(t, rows, 2, "exactly one header inserted")
	assert.Equal(t, books.ProductsSchema.Columns, rows[0])
	assert.Equal(t, []string{"Name", "Size", "Qty"}, rows[1])

	tables, err := doc.Tables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, len(books.Schemas()))
}

func TestUnregister_DropsMappingAndHandle(t *testing.T) {
	r, backend, _ := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "owner-1", "mem://shop")
	require.NoError(t, err)

	require.NoError(t, r.Unregister(ctx, "owner-1"))

	assert.False(t, r.Cached("owner-1"))
	_, err = r.Open(ctx, "owner-1")
	assert.ErrorIs(t, err, tenant.ErrNotRegistered)
	assert.NotNil(t, backend.Document("shop"), "document is kept")

	err = r.Unregister(ctx, "owner-1")
	assert.ErrorIs(t, err, tenant.ErrNotRegistered)
}

func TestObserve_EvictsOnRevokedAccess(t *testing.T) {
	r, backend, _ := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "owner-1", "mem://shop")
	require.NoError(t, err)
	b, err := r.Open(ctx, "owner-1")
	require.NoError(t, err)

	// WHEN: the operator unshares the document
	backend.Deny("shop")
	_, err = b.Products(ctx)
	require.ErrorIs(t, err, books.ErrPermissionDenied)
	r.Observe("owner-1", err)

	// THEN: the handle is dropped and reopening reports the same failure
	assert.False(t, r.Cached("owner-1"))
	_, err = r.Open(ctx, "owner-1")
	assert.ErrorIs(t, err, books.ErrPermissionDenied)

	// Validation failures do not evict.
	backend.Allow("shop")
	b, err = r.Open(ctx, "owner-1")
	require.NoError(t, err)
	_, err = b.Lookup(ctx, "nobody")
	r.Observe("owner-1", err)
	assert.True(t, r.Cached("owner-1"))
}
