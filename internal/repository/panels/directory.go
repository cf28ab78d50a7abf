package panels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache defaults.
const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 5 * time.Minute
)

const selectOwnerQuery = `SELECT client_id FROM alarm_panels WHERE account_number = $1`

// Directory maps an account number to its owning client ID. An unknown
// account resolves to an empty ID without error.
type Directory interface {
	Lookup(ctx context.Context, account string) (string, error)
}

// Static is a fixed account to client map.
type Static map[string]string

// Lookup implements Directory.
func (s Static) Lookup(_ context.Context, account string) (string, error) {
	return s[account], nil
}

// PostgresDirectory reads owners from the alarm_panels table.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory wraps an open database handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Lookup implements Directory.
func (d *PostgresDirectory) Lookup(ctx context.Context, account string) (string, error) {
	var clientID sql.NullString

	err := d.db.QueryRowContext(ctx, selectOwnerQuery, account).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("lookup panel %s: %w", account, err)
	}

	return clientID.String, nil
}

// Chain asks each directory in turn and returns the first non-empty owner.
type Chain []Directory

// Lookup implements Directory.
func (c Chain) Lookup(ctx context.Context, account string) (string, error) {
	for _, d := range c {
		owner, err := d.Lookup(ctx, account)
		if err != nil {
			return "", err
		}

		if owner != "" {
			return owner, nil
		}
	}

	return "", nil
}

// Cached memoizes lookups, unknown accounts included, for a fixed TTL.
type Cached struct {
	next  Directory
	cache *expirable.LRU[string, string]
}

// NewCached wraps next with an LRU cache. Non-positive arguments select the defaults.
func NewCached(next Directory, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Lookup implements Directory. Errors are not cached.
func (c *Cached) Lookup(ctx context.Context, account string) (string, error) {
	if owner, ok := c.cache.Get(account); ok {
		return owner, nil
	}

	owner, err := c.next.Lookup(ctx, account)
	if err != nil {
		return "", err
	}

	c.cache.Add(account, owner)

	return owner, nil
}
