// Package providercache implements the bound-provider cache of spec.md
// §4.14: entries are keyed by the caller's combined
// `profileConfig.cacheKey + providerConfig.cacheKey` (see
// internal/binding.CacheKey) and carry an expiry a lookup rebinds past.
//
// Grounded on the teacher's pkg/registry/registry.go (InMemoryRegistry's
// mutex-guarded map) for the in-process store, and
// pkg/kernel/limiter_redis.go's go-redis/v9 wiring for the optional
// shared-process Redis store.
package providercache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onesdk/onesdk-go/internal/auth"
	"github.com/onesdk/onesdk-go/internal/binding"
	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// bearerRefreshSkew is how far ahead of a JWT-shaped bearer token's "exp"
// claim Get forces a rebind rather than serving the cached entry.
const bearerRefreshSkew = 60 * time.Second

// Entry is one cached bind result: the bound provider plus the time at
// which it must be rebound.
type Entry struct {
	Provider  *binding.BoundProvider
	ExpiresAt time.Time
}

// Store is the key-value backing a Cache reads/writes entries through.
// Security values are never part of what a Store holds: spec.md §4.14
// notes provider configs "are not re-cached on security-value changes"
// because security is resolved as an overlay at perform time, not baked
// into the bound provider a Store persists.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store, the default backing for one client
// instance.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// RedisStore is a shared, cross-process Store for deployments that run
// more than one SDK client instance behind the same registry account.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces keys within a
// shared Redis instance (e.g. "onesdk:providercache:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

type redisEntry struct {
	Provider  *binding.BoundProvider `json:"provider"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, sdkerrors.NewUnexpectedError("reading provider cache entry from redis: %s", err)
	}
	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entry{}, false, sdkerrors.NewUnexpectedError("decoding provider cache entry: %s", err)
	}
	return Entry{Provider: re.Provider, ExpiresAt: re.ExpiresAt}, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(redisEntry{Provider: entry.Provider, ExpiresAt: entry.ExpiresAt})
	if err != nil {
		return sdkerrors.NewUnexpectedError("encoding provider cache entry: %s", err)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return sdkerrors.NewUnexpectedError("writing provider cache entry to redis: %s", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return sdkerrors.NewUnexpectedError("deleting provider cache entry from redis: %s", err)
	}
	return nil
}

// RebindFunc performs a fresh bind for key when Get finds no entry or an
// expired one, returning the new provider and the time it expires at.
type RebindFunc func(ctx context.Context, key string) (*binding.BoundProvider, time.Time, error)

// Cache is the bound-provider cache of spec.md §4.14.
type Cache struct {
	store  Store
	rebind RebindFunc
	now    func() time.Time
}

// New creates a Cache. now defaults to time.Now when nil.
func New(store Store, rebind RebindFunc, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, rebind: rebind, now: now}
}

// Get returns the bound provider cached under key, rebinding when absent,
// when `now >= expiresAt`, or when a bearer security scheme on the cached
// entry carries a JWT whose "exp" claim falls within bearerRefreshSkew.
func (c *Cache) Get(ctx context.Context, key string) (*binding.BoundProvider, error) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok && c.now().Before(entry.ExpiresAt) && !bearerNeedsRefresh(entry) {
		return entry.Provider, nil
	}

	provider, expiresAt, err := c.rebind(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, Entry{Provider: provider, ExpiresAt: expiresAt}); err != nil {
		return nil, err
	}
	return provider, nil
}

// Invalidate drops key's cached entry, forcing the next Get to rebind.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// bearerNeedsRefresh reports whether entry's bound provider holds a bearer
// scheme whose token is a JWT about to expire, per auth.BearerNeedsRefresh.
// A non-JWT or unparseable bearer token never forces a refresh here.
func bearerNeedsRefresh(entry Entry) bool {
	if entry.Provider == nil {
		return false
	}
	for _, scheme := range entry.Provider.Security {
		if scheme.Kind != auth.KindBearer {
			continue
		}
		if auth.BearerNeedsRefresh(scheme.Token, bearerRefreshSkew) {
			return true
		}
	}
	return false
}
