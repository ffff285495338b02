// Package superstore implements a Postgres-backed bound-provider cache: a
// providercache.Store for deployments that run many SDK client instances
// against one shared cache, the multi-writer analogue of
// internal/providercache's in-process MemoryStore and Redis-backed
// RedisStore.
//
// Grounded on the teacher's pkg/registry/postgres_registry.go (schema
// bootstrap in an Init step, `ON CONFLICT ... DO UPDATE` upsert style,
// `database/sql` usage throughout — `lib/pq` is the driver the teacher
// registers for it).
package superstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/providercache"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// Store is a Postgres-backed providercache.Store.
type Store struct {
	db *sql.DB
}

// Open connects to a Postgres database at dsn and registers Store's
// schema. Callers own closing the returned *Store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, sdkerrors.NewUnexpectedError("opening superstore database: %s", err)
	}
	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already-open *sql.DB, e.g. one shared with other
// components or opened against a sqlmock driver under test.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS provider_cache_entries (
	cache_key TEXT PRIMARY KEY,
	provider_json JSONB NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return sdkerrors.NewUnexpectedError("initializing superstore schema: %s", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ providercache.Store = (*Store)(nil)

// Get implements providercache.Store.
func (s *Store) Get(ctx context.Context, key string) (providercache.Entry, bool, error) {
	var providerJSON []byte
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT provider_json, expires_at FROM provider_cache_entries WHERE cache_key = $1`,
		key,
	).Scan(&providerJSON, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return providercache.Entry{}, false, nil
	}
	if err != nil {
		return providercache.Entry{}, false, sdkerrors.NewUnexpectedError("reading superstore entry: %s", err)
	}

	var provider binding.BoundProvider
	if err := json.Unmarshal(providerJSON, &provider); err != nil {
		return providercache.Entry{}, false, sdkerrors.NewUnexpectedError("decoding superstore entry: %s", err)
	}
	return providercache.Entry{Provider: &provider, ExpiresAt: expiresAt}, true, nil
}

// Set implements providercache.Store.
func (s *Store) Set(ctx context.Context, key string, entry providercache.Entry) error {
	providerJSON, err := json.Marshal(entry.Provider)
	if err != nil {
		return sdkerrors.NewUnexpectedError("encoding superstore entry: %s", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_cache_entries (cache_key, provider_json, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE
		SET provider_json = $2, expires_at = $3
	`, key, providerJSON, entry.ExpiresAt)
	if err != nil {
		return sdkerrors.NewUnexpectedError("writing superstore entry: %s", err)
	}
	return nil
}

// Delete implements providercache.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_cache_entries WHERE cache_key = $1`, key); err != nil {
		return sdkerrors.NewUnexpectedError("deleting superstore entry: %s", err)
	}
	return nil
}
