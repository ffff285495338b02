// Package astcache implements the process-wide parsed-AST file cache of
// spec.md §4.13: entries are content-addressed by a source checksum, so a
// stale cache hit is detected rather than trusted on mtime alone.
//
// Grounded on the teacher's pkg/artifacts/store.go (content-addressed
// FileStore, atomic write-then-rename) and cmd/helm/lite_mode.go's
// `sql.Open("sqlite", path)` wiring for the index.
package astcache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// Key identifies one cache entry: a profile, optionally scoped, optionally
// narrowed to one provider's bound map.
type Key struct {
	Scope    string
	Name     string
	Provider string // "" caches the profile itself; set, the provider's map
}

// path renders the `<cachePath>/[scope/]name[/provider].supr[.ast.json]`
// layout of spec.md §4.13.
func (k Key) path(cachePath string) string {
	segs := []string{cachePath}
	if k.Scope != "" {
		segs = append(segs, k.Scope)
	}
	if k.Provider != "" {
		segs = append(segs, k.Name, k.Provider+".supr.ast.json")
	} else {
		segs = append(segs, k.Name+".supr.ast.json")
	}
	return filepath.Join(segs...)
}

// prefixDir is the directory that holds every entry sharing k's profile
// name — both the flat profile-AST file and the per-provider subdirectory
// — the unit spec.md §4.13 invalidates as a whole before a fresh write.
func (k Key) prefixDir(cachePath string) string {
	if k.Scope != "" {
		return filepath.Join(cachePath, k.Scope)
	}
	return cachePath
}

// Metadata is the bookkeeping an entry carries alongside its AST body.
type Metadata struct {
	SourceChecksum string `json:"sourceChecksum"`
}

// document is the on-disk envelope: metadata plus the opaque AST payload
// astcache never interprets itself (internal/binding's Decode* callbacks
// do, via TypeCheck).
type document struct {
	AstMetadata Metadata        `json:"astMetadata"`
	Body        json.RawMessage `json:"body"`
}

// checksumHexLen is spec.md §3's fingerprint length: "cryptographic digest
// truncated to 20 hex characters".
const checksumHexLen = 20

// Checksum computes the source fingerprint Load compares an entry's
// astMetadata.sourceChecksum against. SHA-256 matches the teacher's own
// FileStore content-addressing, rather than the BLAKE2b internal/binding
// uses for cache keys: this is a plain integrity digest, not a value
// internal/binding's cache-key arithmetic ever combines with another hash.
func Checksum(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])[:checksumHexLen]
}

// TypeCheck validates a cached AST body before it is trusted; Load treats
// a TypeCheck failure the same as a checksum mismatch — a cache miss, not
// an error.
type TypeCheck func(body json.RawMessage) error

// Cache is the process-wide AST file cache. One Cache is safe for
// concurrent use by every client instance in the process (spec.md §3:
// "the parsed-AST file cache is process-wide").
type Cache struct {
	cachePath string
	mu        sync.Mutex
	db        *sql.DB
}

// Open creates (or reopens) a Cache rooted at cachePath, backed by a
// sqlite index at <cachePath>/index.sqlite.
func Open(cachePath string) (*Cache, error) {
	if err := os.MkdirAll(cachePath, 0o755); err != nil {
		return nil, sdkerrors.NewUnexpectedError("creating ast cache dir %q: %s", cachePath, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(cachePath, "index.sqlite"))
	if err != nil {
		return nil, sdkerrors.NewUnexpectedError("opening ast cache index: %s", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		cache_key TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		source_checksum TEXT NOT NULL,
		stored_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, sdkerrors.NewUnexpectedError("initializing ast cache index schema: %s", err)
	}
	return &Cache{cachePath: cachePath, db: db}, nil
}

// Close releases the index database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func indexKey(k Key) string {
	return k.Scope + "\x00" + k.Name + "\x00" + k.Provider
}

// Load returns the cached AST body for key, or (nil, false, nil) on a
// clean miss: no file, a parse failure, a TypeCheck failure, or a checksum
// mismatch against currentChecksum all invalidate the entry silently
// rather than surfacing an error, per spec.md §4.13.
func (c *Cache) Load(key Key, currentChecksum string, check TypeCheck) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(key.path(c.cachePath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sdkerrors.NewUnexpectedError("reading ast cache entry: %s", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, nil
	}
	if check != nil {
		if err := check(doc.Body); err != nil {
			return nil, false, nil
		}
	}
	if doc.AstMetadata.SourceChecksum != currentChecksum {
		return nil, false, nil
	}
	return doc.Body, true, nil
}

// Store writes body under key with the given source checksum, first
// removing every stale entry sharing key's profile-name prefix (spec.md
// §4.13: "stale files matching the same key prefix removed before writing
// the new one").
func (c *Cache) Store(key Key, checksum string, body json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.invalidatePrefixLocked(key); err != nil {
		return err
	}

	path := key.path(c.cachePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sdkerrors.NewUnexpectedError("creating ast cache entry dir: %s", err)
	}

	doc := document{AstMetadata: Metadata{SourceChecksum: checksum}, Body: body}
	data, err := json.Marshal(doc)
	if err != nil {
		return sdkerrors.NewUnexpectedError("marshaling ast cache entry: %s", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return sdkerrors.NewUnexpectedError("writing ast cache entry: %s", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return sdkerrors.NewUnexpectedError("committing ast cache entry: %s", err)
	}

	if _, err := c.db.Exec(
		`INSERT INTO entries (cache_key, path, source_checksum, stored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET path = excluded.path, source_checksum = excluded.source_checksum, stored_at = excluded.stored_at`,
		indexKey(key), path, checksum, time.Now().UTC(),
	); err != nil {
		return sdkerrors.NewUnexpectedError("updating ast cache index: %s", err)
	}
	return nil
}

// invalidatePrefixLocked removes the entries that become stale when key is
// (re)written. A profile-level key (Provider == "") is a fresh source for
// every map bound against it, so it invalidates its own flat file AND the
// whole per-provider subdirectory beneath it; a provider-level key only
// invalidates its own prior entry — sibling providers' cached maps are
// unaffected. Called with c.mu held.
func (c *Cache) invalidatePrefixLocked(key Key) error {
	dir := key.prefixDir(c.cachePath)

	if key.Provider == "" {
		flatPath := filepath.Join(dir, key.Name+".supr.ast.json")
		providerDir := filepath.Join(dir, key.Name)
		if err := os.Remove(flatPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return sdkerrors.NewUnexpectedError("invalidating stale ast cache file: %s", err)
		}
		if err := os.RemoveAll(providerDir); err != nil {
			return sdkerrors.NewUnexpectedError("invalidating stale ast cache directory: %s", err)
		}
		prefix := key.Scope + "\x00" + key.Name + "\x00"
		if _, err := c.db.Exec(`DELETE FROM entries WHERE cache_key = ? OR cache_key LIKE ? || '%'`, indexKey(key), prefix); err != nil {
			return sdkerrors.NewUnexpectedError("invalidating stale ast cache index rows: %s", err)
		}
		return nil
	}

	if err := os.Remove(key.path(c.cachePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return sdkerrors.NewUnexpectedError("invalidating stale ast cache file: %s", err)
	}
	if _, err := c.db.Exec(`DELETE FROM entries WHERE cache_key = ?`, indexKey(key)); err != nil {
		return sdkerrors.NewUnexpectedError("invalidating stale ast cache index rows: %s", err)
	}
	return nil
}
