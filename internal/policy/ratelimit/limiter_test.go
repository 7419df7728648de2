package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{PerHostRPS: 10, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "example.com"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "EXAMPLE.com"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 1, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.example"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.example"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.01, PerHostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "slow.example"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), ""))
	}
}
