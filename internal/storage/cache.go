package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Cache backends accepted by NewResultCache.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// ResultCache stores serialized attribution responses by fingerprint. Every
// entry has its own expiry; expired entries are never returned.
type ResultCache interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	// Set stores value under key, replacing any previous entry.
	Set(ctx context.Context, key, value []byte, ttl time.Duration) error
	// Expire moves the expiry of an existing entry to now+ttl.
	Expire(ctx context.Context, key []byte, ttl time.Duration) error
	// Purge removes every entry and returns how many were removed.
	Purge(ctx context.Context) (int64, error)
	Close() error
}

// NewResultCache opens the configured backend. path is only used by sqlite.
func NewResultCache(backend, path string, logger *slog.Logger) (ResultCache, error) {
	switch backend {
	case BackendSQLite:
		db, err := Open(path, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLiteCache(db), nil
	case BackendMemory:
		return NewMemoryCache(), nil
	case BackendNone, "":
		return NoCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// SQLiteCache is a ResultCache backed by the attribution_cache table.
type SQLiteCache struct {
	db  *DB
	now func() time.Time
}

// NewSQLiteCache creates a cache over an open database.
func NewSQLiteCache(db *DB) *SQLiteCache {
	return &SQLiteCache{db: db, now: time.Now}
}

// Get implements ResultCache. Expired rows are deleted on read.
func (c *SQLiteCache) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := c.db.conn.QueryRowContext(ctx, `
		SELECT value, expires_at
		FROM attribution_cache
		WHERE key = ?
	`, key).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("attribution cache lookup failed: %w", err)
	}

	if c.now().UnixMilli() >= expiresAt {
		// Entry is expired, delete it
		if _, err := c.db.conn.ExecContext(ctx, "DELETE FROM attribution_cache WHERE key = ? AND expires_at = ?", key, expiresAt); err != nil {
			c.db.logger.Warn("Failed to delete expired cache entry", "error", err.Error())
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Set implements ResultCache.
func (c *SQLiteCache) Set(ctx context.Context, key, value []byte, ttl time.Duration) error {
	now := c.now()
	_, err := c.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO attribution_cache (key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, key, value, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set attribution cache: %w", err)
	}
	return nil
}

// Expire implements ResultCache. Missing or already expired entries are left alone.
func (c *SQLiteCache) Expire(ctx context.Context, key []byte, ttl time.Duration) error {
	now := c.now()
	_, err := c.db.conn.ExecContext(ctx, `
		UPDATE attribution_cache SET expires_at = ?
		WHERE key = ? AND expires_at > ?
	`, now.Add(ttl).UnixMilli(), key, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to refresh attribution cache entry: %w", err)
	}
	return nil
}

// Purge implements ResultCache.
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.conn.ExecContext(ctx, "DELETE FROM attribution_cache")
	if err != nil {
		return 0, fmt.Errorf("failed to purge attribution cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process ResultCache. It never evicts unexpired
// entries, so it suits tests and small deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements ResultCache.
func (c *MemoryCache) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[string(key)]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, string(key))
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements ResultCache. The value is copied.
func (c *MemoryCache) Set(_ context.Context, key, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[string(key)] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Expire implements ResultCache.
func (c *MemoryCache) Expire(_ context.Context, key []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.entries[string(key)]; ok && now.Before(e.expiresAt) {
		e.expiresAt = now.Add(ttl)
		c.entries[string(key)] = e
	}
	return nil
}

// Purge implements ResultCache.
func (c *MemoryCache) Purge(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.entries))
	c.entries = make(map[string]memoryEntry)
	return n, nil
}

// Close implements ResultCache.
func (c *MemoryCache) Close() error {
	return nil
}

// NoCache disables caching: every lookup misses and writes are dropped.
type NoCache struct{}

func (NoCache) Get(context.Context, []byte) ([]byte, bool, error)         { return nil, false, nil }
func (NoCache) Set(context.Context, []byte, []byte, time.Duration) error { return nil }
func (NoCache) Expire(context.Context, []byte, time.Duration) error      { return nil }
func (NoCache) Purge(context.Context) (int64, error)                     { return 0, nil }
func (NoCache) Close() error                                             { return nil }
