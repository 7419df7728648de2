package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/report"
)

func (h *harness) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sendAuditBody(ts time.Time, extra string) string {
	return fmt.Sprintf(`{"domain":"Example.com","email":"Owner@Example.com","mode":"complete","timestamp":%d%s}`,
		ts.UnixMilli(), extra)
}

var xhr = map[string]string{"X-Requested-With": "XMLHttpRequest", "X-Forwarded-For": "203.0.113.7, 10.0.0.1"}

func TestNewServerRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Options{}, Deps{})
	require.Error(t, err)
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "", map[string]string{"X-Forwarded-Proto": "https"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
	require.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=31536000")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	const id = "0190a1b2-3c4d-7e5f-8a9b-0c1d2e3f4a5b"
	rec := h.do(t, http.MethodPost, "/audit", `{"domain":"example.com"}`, map[string]string{"X-Request-ID": id})
	require.Equal(t, id, rec.Header().Get("X-Request-ID"))
	require.Equal(t, id, h.audits.requests[0].RequestID)

	rec = h.do(t, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "<script>"})
	require.NotEqual(t, "<script>", rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	rec := newHarness(t).do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = newHarness(t, withReady("postgres", errBoom)).do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, map[string]any{"postgres": "boom"}, decode(t, rec)["checks"])
}

func TestAuditSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.audits.cached = true
	rec := h.do(t, http.MethodPost, "/audit", `{"domain":"https://Example.com/","mode":"fast"}`, xhr)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["cached"])
	require.Equal(t, "audit-1", body["auditId"])
	require.Equal(t, "fast", body["mode"])
	require.EqualValues(t, 4200, body["executionTime"])
	require.EqualValues(t, 91, body["lighthouse"].(map[string]any)["performance"])

	req := h.audits.requests[0]
	require.Equal(t, "example.com", req.Domain)
	require.Equal(t, "203.0.113.7", req.ClientIP)
	require.Contains(t, h.seclog.String(), `"type":"audit"`)
}

func TestAuditValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{"domain":`, "invalid JSON body"},
		{"missing domain", `{}`, "invalid domain"},
		{"private host", `{"domain":"192.168.1.10.nip.io"}`, "invalid domain"},
		{"injection", `{"domain":"example.com<script>"}`, "invalid domain"},
		{"bad mode", `{"domain":"example.com","mode":"turbo"}`, "invalid mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			rec := h.do(t, http.MethodPost, "/audit", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tt.want, decode(t, rec)["error"])
			require.Empty(t, h.audits.requests)
		})
	}
}

func TestAuditRateLimited(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withLimits(2, 1))
	for range 2 {
		rec := h.do(t, http.MethodPost, "/audit", `{"domain":"example.com"}`, xhr)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/audit", `{"domain":"example.com"}`, xhr)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.Equal(t, 300, retry)
	require.Contains(t, h.seclog.String(), `"type":"rate_limit"`)

	other := map[string]string{"X-Forwarded-For": "198.51.100.2"}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/audit", `{"domain":"example.com"}`, other).Code)
}

func TestAuditFailureIsSanitized(t *testing.T) {
	t.Parallel()

	failure := &audit.FailedError{Probe: audit.ProbePerformance, Err: errBoom}

	h := newHarness(t)
	h.audits.err = failure
	rec := h.do(t, http.MethodPost, "/audit", `{"domain":"example.com"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal server error", decode(t, rec)["error"])
	require.Contains(t, h.seclog.String(), `"type":"error"`)

	h = newHarness(t, withDevelopment())
	h.audits.err = failure
	rec = h.do(t, http.MethodPost, "/audit", `{"domain":"example.com"}`, nil)
	require.Equal(t, "audit failed: audit failed: performance: boom", decode(t, rec)["error"])
}

func TestSendAuditRequiresXHR(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow, ""), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, h.mailer.sent)
}

func TestSendAuditValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"stale timestamp", sendAuditBody(testNow.Add(-6*time.Minute), ""), "request timestamp out of range"},
		{"future timestamp", sendAuditBody(testNow.Add(6*time.Minute), ""), "request timestamp out of range"},
		{"missing timestamp", `{"domain":"example.com","email":"a@example.com"}`, "request timestamp out of range"},
		{
			"script email",
			fmt.Sprintf(`{"domain":"example.com","email":"script@example.com","timestamp":%d}`, testNow.UnixMilli()),
			"invalid email",
		},
		{
			"bad domain",
			fmt.Sprintf(`{"domain":"localhost","email":"a@example.com","timestamp":%d}`, testNow.UnixMilli()),
			"invalid domain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			rec := h.do(t, http.MethodPost, "/send-audit", tt.body, xhr)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tt.want, decode(t, rec)["error"])
		})
	}
}

func TestSendAuditDeliversReport(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow.Add(-time.Minute), ""), xhr)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, true, body["emailSent"])
	require.Equal(t, true, body["pdfGenerated"])
	require.Equal(t, "<msg-1@brevo>", body["messageId"])
	require.Contains(t, body, "auditResults")

	require.Len(t, h.mailer.sent, 1)
	require.Equal(t, "owner@example.com", h.mailer.sent[0].to)
	require.Equal(t, []byte("%PDF-1.7 test"), h.mailer.sent[0].pdf)

	require.Len(t, h.audits.records, 1)
	require.Equal(t, audit.Delivery{PDFGenerated: true, EmailSent: true, EmailMessageID: "<msg-1@brevo>"},
		h.audits.records[0].delivery)
	require.Equal(t, "owner@example.com", h.audits.records[0].req.Email)

	require.True(t, h.reports.opts[0].IncludeDetails, "complete mode includes details")
	stored, err := h.archive.Object(ArchiveKey("example.com", []byte("%PDF-1.7 test"), testNow))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 test", string(stored))
}

func TestSendAuditContinuesWithoutPDF(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reports.err = report.ErrTooLarge
	rec := h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow, ""), xhr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["pdfGenerated"])
	require.Nil(t, h.mailer.sent[0].pdf)
	require.False(t, h.audits.records[0].delivery.PDFGenerated)
}

func TestSendAuditEmailFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mailer.err = errBoom
	rec := h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow, ""), xhr)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, h.audits.records, 1)
	require.False(t, h.audits.records[0].delivery.EmailSent)
}

func TestSendAuditEmailRateLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withLimits(100, 3))
	for range 3 {
		require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow, ""), xhr).Code)
	}
	rec := h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow, ""), xhr)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Len(t, h.mailer.sent, 3)
}

func TestSendAuditWithoutMailer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withoutMailer())
	rec := h.do(t, http.MethodPost, "/send-audit", sendAuditBody(testNow, ""), xhr)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Empty(t, h.audits.requests)
}

func TestPDFDownload(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	body := `{"domain":"example.com","mode":"fast","options":{"format":"Letter","margin":{"top":"1in"}}}`
	rec := h.do(t, http.MethodPost, "/pdf", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, fmt.Sprintf(`attachment; filename="audit-example.com-%d.pdf"`, testNow.UnixMilli()),
		rec.Header().Get("Content-Disposition"))
	require.Equal(t, strconv.Itoa(len("%PDF-1.7 test")), rec.Header().Get("Content-Length"))
	require.Equal(t, "audit-1", rec.Header().Get("X-Audit-ID"))
	require.Equal(t, "%PDF-1.7 test", rec.Body.String())

	opts := h.reports.opts[0]
	require.Equal(t, report.FormatLetter, opts.Format)
	require.Equal(t, "1in", opts.Margin.Top)
	require.Equal(t, "15mm", opts.Margin.Right, "unspecified margins keep defaults")
	require.False(t, opts.IncludeDetails)
	require.True(t, opts.IncludeRecommendations)
	require.True(t, h.audits.records[0].delivery.PDFGenerated)
}

func TestPDFFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withDevelopment())
	h.reports.err = report.ErrTooLarge
	rec := h.do(t, http.MethodPost, "/pdf", `{"domain":"example.com"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "pdf exceeds size limit")
	require.False(t, h.audits.records[0].delivery.PDFGenerated)
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	validJWT, err := MintAdminToken([]byte("jwt-secret"), "ops@example.com", time.Hour, testNow)
	require.NoError(t, err)
	expiredJWT, err := MintAdminToken([]byte("jwt-secret"), "ops@example.com", time.Hour, testNow.Add(-2*time.Hour))
	require.NoError(t, err)
	otherKeyJWT, err := MintAdminToken([]byte("other"), "ops@example.com", time.Hour, testNow)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong static", "Bearer admin-demo-token", http.StatusUnauthorized},
		{"static", "Bearer static-admin", http.StatusOK},
		{"jwt", "Bearer " + validJWT, http.StatusOK},
		{"expired jwt", "Bearer " + expiredJWT, http.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKeyJWT, http.StatusUnauthorized},
		{"no bearer prefix", "static-admin", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := h.do(t, http.MethodPost, "/admin/stats", "", map[string]string{"Authorization": tt.header})
		require.Equal(t, tt.want, rec.Code, tt.name)
	}
	require.Contains(t, h.seclog.String(), `"severity":"high"`)
}

func TestAdminAuthRejectsWrongScope(t *testing.T) {
	t.Parallel()

	auth := AdminAuth{JWTSecret: []byte("s"), Now: func() time.Time { return testNow }}
	tok, err := MintAdminToken([]byte("s"), "x", time.Hour, testNow)
	require.NoError(t, err)
	require.NoError(t, auth.Check("Bearer "+tok))

	claims := adminClaims{
		Scope: "reader",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}
	reader, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	require.NoError(t, err)
	require.ErrorIs(t, auth.Check("Bearer "+reader), errUnauthorized)

	require.False(t, AdminAuth{}.Enabled())
	require.ErrorIs(t, AdminAuth{}.Check("Bearer "+tok), errUnauthorized)
}

func TestAdminStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.audits.stats = audit.AdminStats{
		Statistics:     audit.GlobalStats{TotalAudits: 12},
		PopularDomains: []audit.PopularDomain{{Domain: "example.com", AuditCount: 7}},
	}
	rec := h.do(t, http.MethodGet, "/admin/stats", "", map[string]string{"Authorization": "Bearer static-admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Contains(t, body, "statistics")
	require.Contains(t, body, "popularDomains")
	require.Contains(t, body, "cachedDomains")
	require.Equal(t, testNow.Format(time.RFC3339), body["timestamp"])

	h.audits.statsErr = errBoom
	rec = h.do(t, http.MethodGet, "/admin/stats", "", map[string]string{"Authorization": "Bearer static-admin"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminCleanup(t *testing.T) {
	t.Parallel()

	auth := map[string]string{"Authorization": "Bearer static-admin"}
	h := newHarness(t)
	h.audits.cleanup = audit.CleanupResult{DeletedAudits: 4, DeletedCacheEntries: 2}

	rec := h.do(t, http.MethodPost, "/admin/cleanup", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, audit.CleanupRequest{OldAudits: true, ExpiredCache: true, DaysOld: 30}, h.audits.cleanups[0])
	results := decode(t, rec)["results"].(map[string]any)
	require.EqualValues(t, 4, results["deletedAudits"])
	require.EqualValues(t, 2, results["deletedCacheEntries"])

	rec = h.do(t, http.MethodPost, "/admin/cleanup", `{"cleanExpiredCache":false,"daysOld":7}`, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, audit.CleanupRequest{OldAudits: true, DaysOld: 7}, h.audits.cleanups[1])

	rec = h.do(t, http.MethodPost, "/admin/cleanup", `{"daysOld":0}`, auth)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.1"}, "10.0.0.2:1234", true, "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", true, "198.51.100.4"},
		{"remote addr", nil, "192.0.2.1:5555", true, "192.0.2.1"},
		{"untrusted headers", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "192.0.2.1:5555", false, "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", true, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			require.Equal(t, tt.want, ClientIP(r, tt.trust))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do(t, http.MethodGet, "/healthz", "", nil)
	rec := h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
