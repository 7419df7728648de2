package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/policy/ratelimit"
	"github.com/JakeFAU/site-audit/internal/report"
	"github.com/JakeFAU/site-audit/internal/seclog"
	"github.com/JakeFAU/site-audit/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type recorded struct {
	req      audit.Request
	out      audit.Outcome
	delivery audit.Delivery
}

type fakeAudits struct {
	mu        sync.Mutex
	result    audit.Result
	cached    bool
	err       error
	requests  []audit.Request
	records   []recorded
	stats     audit.AdminStats
	cleanups  []audit.CleanupRequest
	cleanup   audit.CleanupResult
	statsErr  error
	recordIDs int
}

func (f *fakeAudits) Audit(ctx context.Context, req audit.Request) (audit.Outcome, error) {
	out, err := f.Execute(ctx, req)
	if err != nil {
		return out, err
	}
	out.ID = f.Record(ctx, req, out, audit.Delivery{})
	return out, nil
}

func (f *fakeAudits) Execute(_ context.Context, req audit.Request) (audit.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return audit.Outcome{}, f.err
	}
	return audit.Outcome{Result: f.result, Cached: f.cached}, nil
}

func (f *fakeAudits) Record(_ context.Context, req audit.Request, out audit.Outcome, d audit.Delivery) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recorded{req: req, out: out, delivery: d})
	f.recordIDs++
	return fmt.Sprintf("audit-%d", f.recordIDs)
}

func (f *fakeAudits) Stats(context.Context) (audit.AdminStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeAudits) Cleanup(_ context.Context, req audit.CleanupRequest) (audit.CleanupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, req)
	return f.cleanup, nil
}

type fakeReports struct {
	mu   sync.Mutex
	pdf  []byte
	err  error
	opts []report.Options
}

func (f *fakeReports) PDF(_ context.Context, _ string, _ audit.Result, opts report.Options, _ time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	return f.pdf, f.err
}

type sentMail struct {
	to, domain string
	pdf        []byte
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendAuditReport(_ context.Context, to, domain string, _ audit.Result, pdf []byte, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, domain: domain, pdf: pdf})
	if f.err != nil {
		return "", f.err
	}
	return "<msg-1@brevo>", nil
}

type harness struct {
	server  *Server
	clock   *fakeClock
	audits  *fakeAudits
	reports *fakeReports
	mailer  *fakeMailer
	archive *memory.BlobStore
	seclog  *bytes.Buffer
}

type harnessOption func(*Options, *Deps)

func withLimits(audits, emails int) harnessOption {
	return func(_ *Options, d *Deps) {
		clock := d.Clock.(*fakeClock)
		d.AuditLimiter = mustWindow(clock, "audit", audits)
		d.EmailLimiter = mustWindow(clock, "email", emails)
	}
}

func withoutMailer() harnessOption {
	return func(_ *Options, d *Deps) { d.Mailer = nil }
}

func withDevelopment() harnessOption {
	return func(o *Options, _ *Deps) { o.Development = true }
}

func withReady(name string, err error) harnessOption {
	return func(_ *Options, d *Deps) {
		d.Ready = map[string]ReadinessCheck{name: func(context.Context) error { return err }}
	}
}

func mustWindow(clock *fakeClock, name string, limit int) *ratelimit.FixedWindow {
	w, err := ratelimit.NewFixedWindow(ratelimit.WindowConfig{Name: name, Window: 5 * time.Minute, Max: limit}, clock)
	if err != nil {
		panic(err)
	}
	return w
}

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{now: testNow},
		audits: &fakeAudits{result: audit.Result{
			Mode:            audit.ModeFast,
			Lighthouse:      audit.Scores{Performance: 91, SEO: 80, Accessibility: 75, BestPractices: 100},
			Recommendations: []string{"Add a meta description"},
			Probes:          map[string]audit.ProbeStatus{audit.ProbePerformance: audit.ProbeOK},
			ExecutionTimeMs: 4200,
		}},
		reports: &fakeReports{pdf: []byte("%PDF-1.7 test")},
		mailer:  &fakeMailer{},
		archive: memory.NewBlobStore(),
		seclog:  &bytes.Buffer{},
	}
	o := Options{
		TrustProxyHeaders: true,
		Admin:             AdminAuth{Token: "static-admin", JWTSecret: []byte("jwt-secret"), Now: h.clock.Now},
	}
	d := Deps{
		Audits:      h.audits,
		Reports:     h.reports,
		Mailer:      h.mailer,
		Archive:     h.archive,
		SecurityLog: seclog.New(zapcore.AddSync(h.seclog), nil),
		Clock:       h.clock,
	}
	d.AuditLimiter = mustWindow(h.clock, "audit", 100)
	d.EmailLimiter = mustWindow(h.clock, "email", 100)
	for _, opt := range opts {
		opt(&o, &d)
	}
	srv, err := NewServer(o, d)
	require.NoError(t, err)
	h.server = srv
	return h
}

var errBoom = errors.New("boom")
