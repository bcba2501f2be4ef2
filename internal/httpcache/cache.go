// Package httpcache stores HTTP GET responses in a SQLite database so that
// repeated archive queries are answered from disk.
package httpcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"
)

// ExpiryPolicy decides when a stored response stops being served.
type ExpiryPolicy struct {
	maxAge time.Duration
}

// NeverExpire keeps every stored response forever. Entries are never evicted.
var NeverExpire = ExpiryPolicy{}

// ExpireAfter serves stored responses for at most d.
func ExpireAfter(d time.Duration) ExpiryPolicy {
	return ExpiryPolicy{maxAge: d}
}

// ParseExpiry accepts "never" or a Go duration such as "72h".
func ParseExpiry(s string) (ExpiryPolicy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "never" {
		return NeverExpire, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ExpiryPolicy{}, fmt.Errorf("invalid cache expiry %q: %w", s, err)
	}
	if d <= 0 {
		return ExpiryPolicy{}, fmt.Errorf("cache expiry must be positive or \"never\", got %s", d)
	}
	return ExpireAfter(d), nil
}

// Never reports whether entries are kept indefinitely.
func (p ExpiryPolicy) Never() bool {
	return p.maxAge <= 0
}

// Expired reports whether an entry stored at storedAt is stale at now.
func (p ExpiryPolicy) Expired(storedAt, now time.Time) bool {
	if p.Never() {
		return false
	}
	return now.Sub(storedAt) > p.maxAge
}

func (p ExpiryPolicy) String() string {
	if p.Never() {
		return "never"
	}
	return p.maxAge.String()
}

// Entry is one stored response.
type Entry struct {
	URL      string
	Status   int
	Header   []byte
	Body     []byte
	StoredAt time.Time
}

// Cache is a SQLite-backed response store.
type Cache struct {
	db     *sql.DB
	policy ExpiryPolicy
	now    func() time.Time
}

// Open opens (creating if needed) the cache database at path.
func Open(path string, policy ExpiryPolicy) (*Cache, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("error creating cache directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening cache database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging cache database: %w", err)
	}

	c := &Cache{
		db:     db,
		policy: policy,
		now:    time.Now,
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating cache database: %w", err)
	}

	return c, nil
}

func (c *Cache) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS responses (
			key TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			status INTEGER NOT NULL,
			header BLOB,
			body BLOB NOT NULL,
			stored_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_responses_stored_at ON responses(stored_at);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Policy returns the cache's expiry policy.
func (c *Cache) Policy() ExpiryPolicy {
	return c.policy
}

// Key derives the storage key for a request.
func Key(method, url string) string {
	return strconv.FormatUint(xxhash.Sum64String(method+" "+url), 16)
}

// Get returns the entry for key. Expired entries are deleted and reported as misses.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e        Entry
		storedAt int64
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT url, status, header, body, stored_at FROM responses WHERE key = ?`, key)
	if err := row.Scan(&e.URL, &e.Status, &e.Header, &e.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("error reading cache entry: %w", err)
	}
	e.StoredAt = time.Unix(0, storedAt)

	if c.policy.Expired(e.StoredAt, c.now()) {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key); err != nil {
			return Entry{}, false, fmt.Errorf("error evicting cache entry: %w", err)
		}
		return Entry{}, false, nil
	}

	return e, true, nil
}

// Put stores e under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, e Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = c.now()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses (key, url, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		key, e.URL, e.Status, e.Header, e.Body, e.StoredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("error writing cache entry: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
// It is a no-op under NeverExpire.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	if c.policy.Never() {
		return 0, nil
	}
	cutoff := c.now().Add(-c.policy.maxAge).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM responses WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error pruning cache: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting cache entries: %w", err)
	}
	return n, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
