package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-press/internal/config"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const defaultTTL = 10 * time.Minute

// Cache provides a SQLite-based caching mechanism in a file of its own,
// separate from the content storage. The same file holds the sessions
// table used by scs sqlite3store.
type Cache struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value BLOB,
	expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_expires_at ON cache (expires_at);
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expiry REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expiry);
`

// New creates a new Cache instance.
// It opens the SQLite database at cfg.FilePath and ensures the cache and
// sessions tables exist.
func New(cfg config.CacheConfig) (*Cache, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("cache: file path is required")
	}
	db, err := sqlx.Connect("sqlite", cfg.FilePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite cache: %w", err)
	}
	// One connection keeps ":memory:" caches coherent and avoids
	// SQLITE_BUSY between cache writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// TTL is the default time-to-live for Set.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// DB exposes the underlying handle for the session store.
func (c *Cache) DB() *sql.DB {
	return c.db.DB
}

// Get retrieves an item from the cache. It returns nil if the item is not found or is expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var item struct {
		Value     []byte `db:"value"`
		ExpiresAt int64  `db:"expires_at"`
	}
	query := `SELECT value, expires_at FROM cache WHERE key = ?`
	err := c.db.GetContext(ctx, &item, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found is not an error for a cache miss.
		}
		return nil, fmt.Errorf("failed to get item from cache: %w", err)
	}

	if c.now().UnixNano() >= item.ExpiresAt {
		// Expired: delete it (best effort) and report a miss.
		_ = c.Delete(ctx, key)
		return nil, nil
	}

	return item.Value, nil
}

// Set adds an item to the cache. A non-positive ttl uses the default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	expiresAt := c.now().Add(ttl).UnixNano()
	query := `INSERT OR REPLACE INTO cache (key, value, expires_at) VALUES (?, ?, ?)`
	if _, err := c.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set item in cache: %w", err)
	}
	return nil
}

// Delete removes an item from the cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM cache WHERE key = ?`
	if _, err := c.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete item from cache: %w", err)
	}
	return nil
}

// Purge removes every expired item and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at <= ?`, c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
