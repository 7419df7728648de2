package browser

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesAndDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	pool, err := New(Config{MaxParallel: 2, NoSandbox: true, ExecPath: "/usr/bin/chromium"}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.Equal(t, 2, cap(pool.limiter))
	require.Equal(t, defaultNavigationTimeout, pool.cfg.NavigationTimeout)
}

func TestClosedPoolRejectsTabs(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{}, nil)
	require.NoError(t, err)
	pool.Close()

	_, err = pool.Load(context.Background(), "https://example.com", Options{})
	require.ErrorIs(t, err, ErrClosed)
	_, err = pool.PrintPDF(context.Background(), "<p>x</p>", nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestAcquireHonorsContextWhenFull(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.acquire(ctx), context.DeadlineExceeded)

	pool.release()
	require.NoError(t, pool.acquire(context.Background()))
	pool.release()
	pool.release()
}

func TestResponseMetaKeepsLastDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 301, URL: "http://example.com/"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://example.com/app.js"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://example.com/",
			Headers: network.Headers{"Strict-Transport-Security": "max-age=63072000", "Set-Cookie": []interface{}{"a=1", "b=2"}},
		},
	})

	status, headers, url := meta.snapshotWithFallbacks("http://example.com", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.com/", url)
	require.Equal(t, "max-age=63072000", headers.Get("Strict-Transport-Security"))
	require.Len(t, headers.Values("Set-Cookie"), 2)
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestToCookies(t *testing.T) {
	t.Parallel()

	require.Nil(t, toCookies(nil))
	got := toCookies([]*network.Cookie{
		{Name: "sid", Domain: ".example.com", Secure: true, HTTPOnly: true, SameSite: network.CookieSameSiteLax},
		nil,
	})
	require.Equal(t, []Cookie{{Name: "sid", Domain: ".example.com", Secure: true, HTTPOnly: true, SameSite: "Lax"}}, got)
}
