/*
Package sqlite provides the SQLite-backed tenant registry.

PURPOSE:
  Maps each tenant key to the document that holds its books. This is the
  only state the service owns; everything else lives in tenant documents.

INTERFACES IMPLEMENTED:
  tenant.Registry: GetTenant, SaveTenant, TouchTenant

KEY TABLES:
  tenants: tenant_key -> doc_key, soft-deleted through is_active

INVARIANTS:
  - One active document per tenant; re-registration replaces the mapping
    and re-activates a deactivated tenant.
  - A document is active for at most one tenant
    (idx_tenants_active_doc), since tenant locks are keyed by tenant.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is shared by every call.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./users.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  resolver := tenant.NewResolver(backend, store, opts, logger)

SEE ALSO:
  - tenant/resolver.go: Registry interface and its caller
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/tenant"
)

// ErrDocumentInUse is returned when a document is already registered to
// another active tenant.
var ErrDocumentInUse = fmt.Errorf("document already registered to another tenant: %w", books.ErrMalformedIntent)

// Store implements tenant.Registry using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		tenant_key TEXT PRIMARY KEY,
		doc_key TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		last_active_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tenants_active
		ON tenants(is_active, last_active_at);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_active_doc
		ON tenants(doc_key) WHERE is_active = 1;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// tenant.Registry
// =============================================================================

// SaveTenant creates or replaces the tenant's mapping and re-activates it.
func (s *Store) SaveTenant(ctx context.Context, key, docKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_key, doc_key, is_active, created_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(tenant_key) DO UPDATE SET
			doc_key = excluded.doc_key,
			is_active = 1
	`, key, docKey, s.now().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDocumentInUse
		}
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

// GetTenant returns the active mapping for key.
func (s *Store) GetTenant(ctx context.Context, key string) (tenant.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec          tenant.Record
		active       int
		createdAt    string
		lastActiveAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_key, doc_key, is_active, created_at, last_active_at
		FROM tenants
		WHERE tenant_key = ? AND is_active = 1
	`, key).Scan(&rec.Key, &rec.DocKey, &active, &createdAt, &lastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Record{}, fmt.Errorf("%w: %s", tenant.ErrNotRegistered, key)
	}
	if err != nil {
		return tenant.Record{}, fmt.Errorf("failed to get tenant: %w", err)
	}

	rec.Active = active == 1
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastActiveAt.Valid {
		rec.LastActiveAt, _ = time.Parse(time.RFC3339, lastActiveAt.String)
	}
	return rec, nil
}

// TouchTenant records activity for key.
func (s *Store) TouchTenant(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET last_active_at = ? WHERE tenant_key = ?`,
		s.now().Format(time.RFC3339), key)
	if err != nil {
		return fmt.Errorf("failed to touch tenant: %w", err)
	}
	return nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

// DeactivateTenant soft-deletes the mapping; the row is kept for audit.
func (s *Store) DeactivateTenant(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET is_active = 0 WHERE tenant_key = ? AND is_active = 1`, key)
	if err != nil {
		return fmt.Errorf("failed to deactivate tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", tenant.ErrNotRegistered, key)
	}
	return nil
}

// CountActiveTenants returns how many tenants have an active mapping.
func (s *Store) CountActiveTenants(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenants WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}
