package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

type cacheKey struct {
	domain string
	mode   audit.Mode
}

// CacheStore keeps cache entries in a map. It is the default backend for single-instance
// deployments and tests.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[cacheKey]audit.CacheEntry
}

// NewCacheStore constructs an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{entries: make(map[cacheKey]audit.CacheEntry)}
}

// Get returns a copy of the entry for (domain, mode).
func (s *CacheStore) Get(_ context.Context, domain string, mode audit.Mode) (audit.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[cacheKey{domain, mode}]
	if !ok {
		return audit.CacheEntry{}, audit.ErrNotFound
	}
	entry.Result = entry.Result.Clone()
	return entry, nil
}

// Put inserts or replaces the entry for its (domain, mode).
func (s *CacheStore) Put(_ context.Context, entry audit.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Result = entry.Result.Clone()
	s.entries[cacheKey{entry.Domain, entry.Mode}] = entry
	return nil
}

// Delete removes the entries of domain for the given modes.
func (s *CacheStore) Delete(_ context.Context, domain string, modes ...audit.Mode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, mode := range modes {
		key := cacheKey{domain, mode}
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteExpired removes every entry expired at now.
func (s *CacheStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Stats counts entries by freshness and mode.
func (s *CacheStore) Stats(_ context.Context, now time.Time) (audit.CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := audit.CacheStats{Total: len(s.entries), ByMode: make(map[audit.Mode]int)}
	for key, entry := range s.entries {
		if entry.Expired(now) {
			stats.Expired++
		} else {
			stats.Active++
		}
		stats.ByMode[key.mode]++
	}
	return stats, nil
}

// Clear drops every entry.
func (s *CacheStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[cacheKey]audit.CacheEntry)
	return n, nil
}

// TopDomains returns domains ordered by entry count, then name.
func (s *CacheStore) TopDomains(_ context.Context, limit int) ([]audit.DomainCount, error) {
	s.mu.RLock()
	counts := make(map[string]int)
	for key := range s.entries {
		counts[key.domain]++
	}
	s.mu.RUnlock()

	out := make([]audit.DomainCount, 0, len(counts))
	for domain, n := range counts {
		out = append(out, audit.DomainCount{Domain: domain, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
