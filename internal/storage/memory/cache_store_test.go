package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func entry(domain string, mode audit.Mode, expires time.Time) audit.CacheEntry {
	return audit.CacheEntry{
		Domain:    domain,
		Mode:      mode,
		Result:    audit.Result{Mode: mode, Recommendations: []string{"a"}},
		CreatedAt: expires.Add(-time.Hour),
		ExpiresAt: expires,
	}
}

func TestCacheStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewCacheStore()

	_, err := store.Get(ctx, "example.com", audit.ModeFast)
	require.True(t, errors.Is(err, audit.ErrNotFound))

	require.NoError(t, store.Put(ctx, entry("example.com", audit.ModeFast, now.Add(time.Hour))))
	require.NoError(t, store.Put(ctx, entry("example.com", audit.ModeComplete, now.Add(-time.Minute))))
	require.NoError(t, store.Put(ctx, entry("other.org", audit.ModeFast, now.Add(time.Hour))))

	got, err := store.Get(ctx, "example.com", audit.ModeFast)
	require.NoError(t, err)
	got.Result.Recommendations[0] = "mutated"
	again, err := store.Get(ctx, "example.com", audit.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Result.Recommendations[0])

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 2, stats.ByMode[audit.ModeFast])

	top, err := store.TopDomains(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []audit.DomainCount{{Domain: "example.com", Count: 2}}, top)

	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Delete(ctx, "example.com", audit.ModeFast, audit.ModeComplete)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheStorePutReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	store := NewCacheStore()
	first := entry("example.com", audit.ModeFast, now.Add(time.Hour))
	second := entry("example.com", audit.ModeFast, now.Add(2*time.Hour))
	second.Result.ExecutionTimeMs = 42

	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "example.com", audit.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Result.ExecutionTimeMs)
	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}
