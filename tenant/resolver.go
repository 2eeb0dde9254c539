/*
Package tenant maps owner keys to open tenant books.

PURPOSE:
  A tenant is one operator, addressed by an opaque key (e.g. a chat user
  id), mapped 1:1 to a backend document. This package owns that mapping at
  runtime: it registers documents, opens them on demand, repairs their
  schema once per open, and serializes mutations per tenant.

KEY TYPES:
  Resolver:   tenant key -> *books.Books, cached per tenant
  Registry:   durable tenant -> document mapping (store/sqlite)
  Locker:     per-tenant mutual exclusion (LocalLocks, RedisLocks)

CACHE LIFECYCLE:
  - Open:      first use opens the document and runs EnsureSchema
  - Register:  replaces the cached handle with the new document
  - Unregister: deactivates the mapping and drops the handle
  - Observe:   a PermissionDenied or NotFound from the backend evicts the
               handle so the next call reopens (and fails loudly if the
               document is still gone)

SEE ALSO:
  - store/sqlite/sqlite.go: Registry implementation
  - service/service.go: the only caller
*/
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/sheet"
)

// =============================================================================
// REGISTRY
// =============================================================================

// ErrNotRegistered is returned for tenant keys with no active document.
var ErrNotRegistered = fmt.Errorf("tenant not registered: %w", books.ErrNotFound)

// Record is one tenant mapping.
type Record struct {
	Key          string
	DocKey       string
	Active       bool
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Registry persists tenant mappings.
type Registry interface {
	// GetTenant returns the active mapping or an error wrapping ErrNotRegistered.
	GetTenant(ctx context.Context, key string) (Record, error)

	// SaveTenant creates or replaces the mapping and marks it active.
	SaveTenant(ctx context.Context, key, docKey string) error

	// TouchTenant records activity.
	TouchTenant(ctx context.Context, key string) error

	// DeactivateTenant drops the active mapping or returns an error
	// wrapping ErrNotRegistered.
	DeactivateTenant(ctx context.Context, key string) error
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	backend  sheet.Backend
	registry Registry
	opts     books.Options
	log      logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]*books.Books

	// opening admits one uncached open per tenant, so EnsureSchema never
	// runs twice against the same document at once.
	opening *LocalLocks
}

// NewResolver opens documents from backend. opts is the template for every
// tenant's books; its Logger is replaced by a tenant-scoped one.
func NewResolver(backend sheet.Backend, registry Registry, opts books.Options, log logrus.FieldLogger) *Resolver {
	return &Resolver{
		backend:  backend,
		registry: registry,
		opts:     opts,
		log:      log.WithField("backend", backend.Name()),
		cache:    make(map[string]*books.Books),
		opening:  NewLocalLocks(),
	}
}

// Open returns the tenant's books, opening the document on first use.
// Concurrent first uses of one tenant wait for a single open.
func (r *Resolver) Open(ctx context.Context, key string) (*books.Books, error) {
	if b, ok := r.cached(key); ok {
		return b, nil
	}

	var b *books.Books
	err := r.opening.WithLock(ctx, key, func(ctx context.Context) error {
		if cached, ok := r.cached(key); ok {
			b = cached
			return nil
		}
		rec, err := r.registry.GetTenant(ctx, key)
		if err != nil {
			return err
		}
		opened, err := r.open(ctx, key, rec.DocKey)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.cache[key] = opened
		r.mu.Unlock()
		b = opened

		if err := r.registry.TouchTenant(ctx, key); err != nil {
			r.log.WithError(err).WithField("tenant", key).Warn("failed to record tenant activity")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Register validates ref and maps the tenant to it. The document must open,
// carry the schema (repaired if needed) and accept a write before the
// mapping is saved. Any previously cached handle is replaced.
func (r *Resolver) Register(ctx context.Context, key, ref string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", books.Malformed("tenant", "is required")
	}
	docKey, err := r.backend.ParseRef(ref)
	if err != nil {
		return "", books.Malformed("document", err.Error())
	}
	if p, ok := r.backend.(sheet.Provisioner); ok {
		if err := p.Provision(ctx, docKey); err != nil {
			return "", err
		}
	}

	err = r.opening.WithLock(ctx, key, func(ctx context.Context) error {
		b, err := r.open(ctx, key, docKey)
		if err != nil {
			return err
		}
		if err := checkWritable(ctx, b.Document()); err != nil {
			return err
		}
		if err := r.registry.SaveTenant(ctx, key, docKey); err != nil {
			return fmt.Errorf("failed to save tenant: %w", err)
		}
		r.mu.Lock()
		r.cache[key] = b
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return "", err
	}

	r.log.WithField("tenant", key).Info("tenant registered")
	return docKey, nil
}

// Unregister deactivates the tenant's mapping and drops its handle. The
// document itself is left untouched.
func (r *Resolver) Unregister(ctx context.Context, key string) error {
	return r.opening.WithLock(ctx, key, func(ctx context.Context) error {
		if err := r.registry.DeactivateTenant(ctx, key); err != nil {
			return err
		}
		r.Evict(key)
		r.log.WithField("tenant", key).Info("tenant unregistered")
		return nil
	})
}

// Observe evicts the tenant's cached handle when err says the document is
// gone or no longer shared.
func (r *Resolver) Observe(key string, err error) {
	var serr *sheet.Error
	if !errors.As(err, &serr) {
		return
	}
	if errors.Is(err, sheet.ErrPermissionDenied) || errors.Is(err, sheet.ErrNotFound) {
		r.Evict(key)
		r.log.WithFields(logrus.Fields{"tenant": key, "kind": serr.Kind}).Warn("tenant document handle evicted")
	}
}

func (r *Resolver) Evict(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, key)
}

func (r *Resolver) cached(key string) (*books.Books, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.cache[key]
	return b, ok
}

// Cached reports whether a handle for key is cached.
func (r *Resolver) Cached(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[key]
	return ok
}

func (r *Resolver) open(ctx context.Context, key, docKey string) (*books.Books, error) {
	doc, err := r.backend.Open(ctx, docKey)
	if err != nil {
		return nil, err
	}
	report, err := sheet.EnsureSchema(ctx, doc, books.Schemas()...)
	if err != nil {
		return nil, err
	}
	log := r.log.WithField("tenant", key)
	if report.Changed() {
		log.WithFields(logrus.Fields{
			"created":     report.Created,
			"initialized": report.Initialized,
			"repaired":    report.Repaired,
		}).Info("tenant document schema updated")
	}

	opts := r.opts
	opts.Logger = log
	return books.New(doc, opts), nil
}

// checkWritable rewrites the Products header in place: a no-op for the data
// that fails when the document is shared read-only.
func checkWritable(ctx context.Context, doc sheet.Document) error {
	return doc.UpdateRow(ctx, books.ProductsSchema.Name, 1, sheet.Text(books.ProductsSchema.Columns))
}
