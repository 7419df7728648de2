package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(Config{
		APIKey:      "xkeysib-test",
		APIURL:      server.URL,
		SenderEmail: "reports@audit.example",
		SenderName:  "Site Audit",
		SiteURL:     "https://audit.example",
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SenderEmail: "a@b.c"}, nil)
	require.Error(t, err)
	_, err = New(Config{APIKey: "k"}, nil)
	require.Error(t, err)
	c, err := New(Config{APIKey: "k", SenderEmail: "a@b.c"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultAPIURL, c.cfg.APIURL)
}

func TestSendAuditReportWithAttachment(t *testing.T) {
	t.Parallel()

	var got sendPayload
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "xkeysib-test", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"messageId":"<202506101200.123@smtp-relay.mailin.fr>"}`)
	})

	result := audit.Result{
		Mode:            audit.ModeFast,
		Lighthouse:      audit.Scores{Performance: 85, SEO: 65, Accessibility: 40, BestPractices: 100},
		Recommendations: []string{"one", "two", "three", "four"},
	}
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	id, err := c.SendAuditReport(context.Background(), "owner@example.com", "example.com", result, []byte("%PDF-1.7"), at)
	require.NoError(t, err)
	require.Equal(t, "<202506101200.123@smtp-relay.mailin.fr>", id)

	require.Equal(t, "reports@audit.example", got.Sender.Email)
	require.Equal(t, []party{{Email: "owner@example.com"}}, got.To)
	require.Equal(t, "Your SEO audit for example.com is ready", got.Subject)
	require.Contains(t, got.HTMLContent, "#10B981")
	require.Contains(t, got.HTMLContent, "<li>three</li>")
	require.NotContains(t, got.HTMLContent, "<li>four</li>")
	require.Contains(t, got.HTMLContent, "attached as a PDF")
	require.Len(t, got.Attachment, 1)
	require.Equal(t, "audit-example.com-2025-06-10.pdf", got.Attachment[0].Name)
	decoded, err := base64.StdEncoding.DecodeString(got.Attachment[0].Content)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(decoded))
}

func TestSendAuditReportWithoutPDF(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		fmt.Fprint(w, `{}`)
	})
	id, err := c.SendAuditReport(context.Background(), "owner@example.com", "example.com", audit.Result{}, nil, time.Now())
	require.NoError(t, err)
	require.Equal(t, "unknown", id)
	require.NotContains(t, raw, "attachment")
	require.Contains(t, raw["htmlContent"], "could not be generated")
}

func TestSendReportsAPIErrors(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":"unauthorized","message":"Key not found"}`)
	})
	_, err := c.Send(context.Background(), Message{To: "a@b.c", Subject: "s", HTML: "<p>x</p>"})
	require.ErrorContains(t, err, "Key not found")

	c = newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = c.Send(context.Background(), Message{To: "a@b.c"})
	require.ErrorContains(t, err, "502")
}
