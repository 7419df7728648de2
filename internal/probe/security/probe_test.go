package security

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
	collyfetcher "github.com/JakeFAU/site-audit/internal/fetcher/colly"
)

type fakeHeader struct {
	page collyfetcher.Page
	err  error
}

func (f fakeHeader) Head(context.Context, string) (collyfetcher.Page, error) {
	return f.page, f.err
}

func TestAnalyzeScores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		headers   http.Header
		wantScore int
		wantRecs  int
	}{
		{name: "none", headers: http.Header{}, wantScore: 0, wantRecs: 4},
		{
			name: "hsts and frame options",
			headers: http.Header{
				"Strict-Transport-Security": {"max-age=31536000"},
				"X-Frame-Options":           {"DENY"},
			},
			wantScore: 33,
			wantRecs:  2,
		},
		{
			name: "referrer only",
			headers: http.Header{
				"Referrer-Policy": {"no-referrer"},
			},
			wantScore: 17,
			wantRecs:  4,
		},
		{
			name: "all",
			headers: http.Header{
				"Content-Security-Policy":   {"default-src 'self'"},
				"Strict-Transport-Security": {"max-age=31536000"},
				"X-Frame-Options":           {"DENY"},
				"X-Content-Type-Options":    {"nosniff"},
				"Referrer-Policy":           {"no-referrer"},
				"Permissions-Policy":        {"camera=()"},
			},
			wantScore: 100,
			wantRecs:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Analyze("https://example.com/", tt.headers)
			require.Equal(t, tt.wantScore, got.HeaderScore)
			require.Len(t, got.Recommendations, tt.wantRecs)
			require.Len(t, got.Headers, 6)
			require.True(t, got.HTTPS)
		})
	}
}

func TestSecurityUsesFinalURL(t *testing.T) {
	t.Parallel()

	probe := New(fakeHeader{page: collyfetcher.Page{
		RequestedURL: "https://example.com",
		URL:          "http://example.com/",
		StatusCode:   200,
		Headers:      http.Header{"X-Content-Type-Options": {"nosniff"}},
	}})
	got, err := probe.Security(context.Background(), "example.com")
	require.NoError(t, err)
	require.False(t, got.HTTPS)
	require.True(t, got.Headers[audit.HeaderContentTypeOpts])
	require.Equal(t, "Add a Content-Security-Policy header", got.Recommendations[0])
}

func TestSecurityError(t *testing.T) {
	t.Parallel()

	_, err := New(fakeHeader{err: errors.New("timeout")}).Security(context.Background(), "example.com")
	require.Error(t, err)
}
