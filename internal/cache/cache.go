// Package cache applies the TTL policy for audit results on top of a storage backend.
package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// DefaultTTL is how long an audit result stays fresh.
const DefaultTTL = 24 * time.Hour

// Config tunes the cache policy.
type Config struct {
	TTL time.Duration
}

// Cache is a TTL cache keyed by (domain, mode). Backend failures are logged and reported as
// misses so a broken cache never fails an audit.
type Cache struct {
	backend audit.CacheBackend
	ttl     time.Duration
	clock   audit.Clock
	logger  *zap.Logger
}

// New builds a Cache over backend.
func New(cfg Config, backend audit.CacheBackend, clock audit.Clock, logger *zap.Logger) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, ttl: cfg.TTL, clock: clock, logger: logger}, nil
}

// Get returns the fresh result for (domain, mode). Expired entries are purged before the
// lookup, so a stale entry is never served.
func (c *Cache) Get(ctx context.Context, domain string, mode audit.Mode) (audit.Result, bool) {
	domain = audit.NormalizeDomain(domain)
	now := c.clock.Now()
	c.purge(ctx, now)

	entry, err := c.backend.Get(ctx, domain, mode)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		metrics.ObserveCacheLookup("miss")
		return audit.Result{}, false
	case err != nil:
		c.fail("get", domain, err)
		metrics.ObserveCacheLookup("error")
		return audit.Result{}, false
	}
	if entry.Expired(now) {
		if _, err := c.backend.Delete(ctx, domain, mode); err != nil {
			c.fail("delete", domain, err)
		}
		metrics.ObserveCacheLookup("miss")
		return audit.Result{}, false
	}
	metrics.ObserveCacheLookup("hit")
	c.logger.Debug("cache hit", zap.String("domain", domain), zap.String("mode", string(mode)))
	return entry.Result.Clone(), true
}

// Set stores result for (domain, mode) under the configured TTL, replacing any previous
// entry and resetting its expiry.
func (c *Cache) Set(ctx context.Context, domain string, mode audit.Mode, result audit.Result) {
	c.SetWithTTL(ctx, domain, mode, result, c.ttl)
}

// SetWithTTL is Set with an explicit lifetime. A non-positive ttl falls back to the
// configured one.
func (c *Cache) SetWithTTL(ctx context.Context, domain string, mode audit.Mode, result audit.Result, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	domain = audit.NormalizeDomain(domain)
	now := c.clock.Now()
	entry := audit.CacheEntry{
		Domain:    domain,
		Mode:      mode,
		Result:    result.Clone(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.backend.Put(ctx, entry); err != nil {
		c.fail("put", domain, err)
	}
}

// Invalidate removes the entries of domain for the given modes, or for every mode when none
// is given. It returns the number of removed entries.
func (c *Cache) Invalidate(ctx context.Context, domain string, modes ...audit.Mode) int {
	domain = audit.NormalizeDomain(domain)
	if len(modes) == 0 {
		modes = audit.Modes
	}
	n, err := c.backend.Delete(ctx, domain, modes...)
	if err != nil {
		c.fail("delete", domain, err)
		return 0
	}
	return n
}

// CleanExpired removes every expired entry and returns how many were removed.
func (c *Cache) CleanExpired(ctx context.Context) int {
	return c.purge(ctx, c.clock.Now())
}

// Stats reports total, active and expired entries.
func (c *Cache) Stats(ctx context.Context) (audit.CacheStats, error) {
	stats, err := c.backend.Stats(ctx, c.clock.Now())
	if err != nil {
		return audit.CacheStats{}, err //nolint:wrapcheck // backends wrap their own errors
	}
	if stats.ByMode == nil {
		stats.ByMode = map[audit.Mode]int{}
	}
	return stats, nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.backend.Clear(ctx)
	if err != nil {
		return 0, err //nolint:wrapcheck // backends wrap their own errors
	}
	c.logger.Info("cache cleared", zap.Int("count", n))
	return n, nil
}

// TopDomains lists the domains with the most cached entries.
func (c *Cache) TopDomains(ctx context.Context, limit int) ([]audit.DomainCount, error) {
	top, err := c.backend.TopDomains(ctx, limit)
	if err != nil {
		return nil, err //nolint:wrapcheck // backends wrap their own errors
	}
	if top == nil {
		top = []audit.DomainCount{}
	}
	return top, nil
}

func (c *Cache) purge(ctx context.Context, now time.Time) int {
	n, err := c.backend.DeleteExpired(ctx, now)
	if err != nil {
		c.fail("delete expired", "", err)
		return 0
	}
	metrics.ObserveCacheEvictions(n)
	if n > 0 {
		c.logger.Debug("expired cache entries removed", zap.Int("count", n))
	}
	return n
}

func (c *Cache) fail(op, domain string, err error) {
	metrics.ObserveDependencyError("cache")
	c.logger.Warn("cache backend failure",
		zap.String("op", op),
		zap.String("domain", domain),
		zap.Error(err),
	)
}
