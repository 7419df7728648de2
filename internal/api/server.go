package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/id/uuid"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/report"
	"github.com/JakeFAU/site-audit/internal/seclog"
)

// AuditService runs and records audits.
type AuditService interface {
	Audit(ctx context.Context, req audit.Request) (audit.Outcome, error)
	Execute(ctx context.Context, req audit.Request) (audit.Outcome, error)
	Record(ctx context.Context, req audit.Request, out audit.Outcome, delivery audit.Delivery) string
	Stats(ctx context.Context) (audit.AdminStats, error)
	Cleanup(ctx context.Context, req audit.CleanupRequest) (audit.CleanupResult, error)
}

// Limiter is a keyed admission check.
type Limiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// ReportRenderer prints audit reports.
type ReportRenderer interface {
	PDF(ctx context.Context, domain string, result audit.Result, opts report.Options, at time.Time) ([]byte, error)
}

// Mailer delivers audit reports by email.
type Mailer interface {
	SendAuditReport(ctx context.Context, to, domain string, result audit.Result, pdf []byte, at time.Time) (string, error)
}

// BlobStore archives generated reports.
type BlobStore interface {
	PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error)
}

// SecurityLogger records security relevant events.
type SecurityLogger interface {
	Log(e seclog.Event)
	SuspiciousActivity(ip, userAgent, reason string)
	RateLimitExceeded(ip, userAgent, endpoint string)
	AuditRequest(ip, userAgent, domain, email, mode string)
	Error(ip, userAgent, message string)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options tune the HTTP surface.
type Options struct {
	RequestTimeout    time.Duration
	PDFTimeout        time.Duration
	PDFFormat         string
	TrustProxyHeaders bool
	// Development exposes internal error messages to clients.
	Development bool
	Admin       AdminAuth
}

// Deps collects the collaborators of a Server. Mailer, Archive and Ready are optional.
type Deps struct {
	Audits       AuditService
	Reports      ReportRenderer
	Mailer       Mailer
	Archive      BlobStore
	SecurityLog  SecurityLogger
	AuditLimiter Limiter
	EmailLimiter Limiter
	Clock        audit.Clock
	Ready        map[string]ReadinessCheck
	Logger       *zap.Logger
}

// Server wires HTTP handlers to the audit service.
type Server struct {
	router       chi.Router
	opts         Options
	audits       AuditService
	reports      ReportRenderer
	mailer       Mailer
	archive      BlobStore
	seclog       SecurityLogger
	auditLimiter Limiter
	emailLimiter Limiter
	clock        audit.Clock
	ready        map[string]ReadinessCheck
	admin        AdminAuth
	logger       *zap.Logger
}

const (
	defaultRequestTimeout = 240 * time.Second
	defaultPDFTimeout     = 60 * time.Second
)

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options, deps Deps) (*Server, error) {
	switch {
	case deps.Audits == nil:
		return nil, errors.New("audit service is required")
	case deps.Reports == nil:
		return nil, errors.New("report renderer is required")
	case deps.AuditLimiter == nil || deps.EmailLimiter == nil:
		return nil, errors.New("audit and email limiters are required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PDFTimeout <= 0 {
		opts.PDFTimeout = defaultPDFTimeout
	}
	if opts.PDFFormat == "" {
		opts.PDFFormat = report.FormatA4
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	secLog := deps.SecurityLog
	if secLog == nil {
		secLog = seclog.New(zapcore.AddSync(io.Discard), nil)
	}
	s := &Server{
		opts:         opts,
		audits:       deps.Audits,
		reports:      deps.Reports,
		mailer:       deps.Mailer,
		archive:      deps.Archive,
		seclog:       secLog,
		auditLimiter: deps.AuditLimiter,
		emailLimiter: deps.EmailLimiter,
		clock:        deps.Clock,
		ready:        deps.Ready,
		admin:        opts.Admin,
		logger:       logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(uuid.New()))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(securityHeadersMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Post("/audit", s.handleAudit)
		r.Post("/pdf", s.handlePDF)
		r.With(requireXHR).Post("/send-audit", s.handleSendAudit)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/stats", s.handleAdminStats)
			r.Post("/stats", s.handleAdminStats)
			r.Post("/cleanup", s.handleAdminCleanup)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) clientIP(r *http.Request) string {
	return ClientIP(r, s.opts.TrustProxyHeaders)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("checks", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
