package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const defaultCacheTable = "audit_cache"

// CacheStore keeps cache entries in a Postgres table keyed by (domain, mode). It lets several
// service instances share one cache.
type CacheStore struct {
	pool  pool
	table string
}

// NewCacheStoreWithPool constructs a CacheStore over an existing pool.
func NewCacheStoreWithPool(p pool, table string) (*CacheStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, defaultCacheTable)
	if err != nil {
		return nil, err
	}
	return &CacheStore{pool: p, table: table}, nil
}

// Get loads the entry for (domain, mode).
func (s *CacheStore) Get(ctx context.Context, domain string, mode audit.Mode) (audit.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT result, created_at, expires_at FROM %s WHERE domain = $1 AND mode = $2`, s.table)
	var (
		raw   []byte
		entry = audit.CacheEntry{Domain: domain, Mode: mode}
	)
	err := s.pool.QueryRow(ctx, query, domain, string(mode)).Scan(&raw, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.CacheEntry{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.CacheEntry{}, fmt.Errorf("select cache entry: %w", err)
	}
	if err := json.Unmarshal(raw, &entry.Result); err != nil {
		return audit.CacheEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}

// Put upserts the entry.
func (s *CacheStore) Put(ctx context.Context, entry audit.CacheEntry) error {
	raw, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (domain, mode, result, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (domain, mode) DO UPDATE
SET result = EXCLUDED.result,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, entry.Domain, string(entry.Mode), raw, entry.CreatedAt, entry.ExpiresAt); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes the entries of domain for the given modes.
func (s *CacheStore) Delete(ctx context.Context, domain string, modes ...audit.Mode) (int, error) {
	names := make([]string, 0, len(modes))
	for _, m := range modes {
		names = append(names, string(m))
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE domain = $1 AND mode = ANY($2)`, s.table)
	tag, err := s.pool.Exec(ctx, query, domain, names)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes entries whose expiry is at or before now.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats counts entries per mode and freshness.
func (s *CacheStore) Stats(ctx context.Context, now time.Time) (audit.CacheStats, error) {
	query := fmt.Sprintf(`
SELECT mode, COUNT(*), COUNT(*) FILTER (WHERE expires_at > $1)
FROM %s
GROUP BY mode`, s.table)
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return audit.CacheStats{}, fmt.Errorf("query cache stats: %w", err)
	}
	defer rows.Close()

	stats := audit.CacheStats{ByMode: make(map[audit.Mode]int)}
	for rows.Next() {
		var (
			mode          string
			total, active int
		)
		if err := rows.Scan(&mode, &total, &active); err != nil {
			return audit.CacheStats{}, fmt.Errorf("scan cache stats: %w", err)
		}
		stats.ByMode[audit.Mode(mode)] = total
		stats.Total += total
		stats.Active += active
	}
	if err := rows.Err(); err != nil {
		return audit.CacheStats{}, fmt.Errorf("iterate cache stats: %w", err)
	}
	stats.Expired = stats.Total - stats.Active
	return stats, nil
}

// Clear deletes every entry.
func (s *CacheStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TopDomains returns the domains with the most entries.
func (s *CacheStore) TopDomains(ctx context.Context, limit int) ([]audit.DomainCount, error) {
	query := fmt.Sprintf(`
SELECT domain, COUNT(*) AS entries
FROM %s
GROUP BY domain
ORDER BY entries DESC, domain
LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query cached domains: %w", err)
	}
	defer rows.Close()

	out := []audit.DomainCount{}
	for rows.Next() {
		var dc audit.DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan cached domain: %w", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached domains: %w", err)
	}
	return out, nil
}
