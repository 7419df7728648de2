package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/report"
	"github.com/JakeFAU/site-audit/internal/seclog"
)

const defaultCleanupDays = 30

type auditRequest struct {
	Domain string `json:"domain"`
	Mode   string `json:"mode"`
}

type auditResponse struct {
	Success bool   `json:"success"`
	AuditID string `json:"auditId,omitempty"`
	Cached  bool   `json:"cached"`
	audit.Result
}

type sendAuditRequest struct {
	Domain    string          `json:"domain"`
	Email     string          `json:"email"`
	Mode      string          `json:"mode"`
	Timestamp int64           `json:"timestamp"`
	Options   json.RawMessage `json:"options"`
}

type sendAuditResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	AuditID      string       `json:"auditId,omitempty"`
	AuditResults audit.Result `json:"auditResults"`
	EmailSent    bool         `json:"emailSent"`
	MessageID    string       `json:"messageId"`
	PDFGenerated bool         `json:"pdfGenerated"`
}

type pdfRequest struct {
	Domain  string          `json:"domain"`
	Mode    string          `json:"mode"`
	Options json.RawMessage `json:"options"`
}

type cleanupRequest struct {
	CleanOldAudits    *bool `json:"cleanOldAudits"`
	CleanExpiredCache *bool `json:"cleanExpiredCache"`
	DaysOld           *int  `json:"daysOld"`
}

// newRequest validates the domain and mode and stamps the caller metadata.
func (s *Server) newRequest(r *http.Request, rawDomain, rawMode string) (audit.Request, error) {
	domain, err := audit.ValidateDomain(rawDomain)
	if err != nil {
		return audit.Request{}, err
	}
	mode, err := audit.ParseMode(rawMode)
	if err != nil {
		return audit.Request{}, err
	}
	return audit.Request{
		Domain:    domain,
		Mode:      mode,
		ClientIP:  s.clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: RequestID(r.Context()),
		Timestamp: s.clock.Now(),
	}, nil
}

// reportOptions layers the client options over the mode defaults.
func (s *Server) reportOptions(mode audit.Mode, raw json.RawMessage) (report.Options, error) {
	opts := report.DefaultOptions()
	opts.Format = s.opts.PDFFormat
	opts.IncludeDetails = mode == audit.ModeComplete
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return report.Options{}, fmt.Errorf("%w: options: %w", errBadJSON, err)
		}
	}
	return opts, nil
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if !s.auditLimiter.Allow(ip) {
		s.rateLimited(w, r, s.auditLimiter, ip)
		return
	}
	var body auditRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		s.badRequest(w, r, err)
		return
	}
	req, err := s.newRequest(r, body.Domain, body.Mode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.seclog.AuditRequest(ip, req.UserAgent, req.Domain, "", string(req.Mode))

	out, err := s.audits.Audit(r.Context(), req)
	if err != nil {
		s.fail(w, r, "audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Success: true, AuditID: out.ID, Cached: out.Cached, Result: out.Result})
}

func (s *Server) handleSendAudit(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if !s.emailLimiter.Allow(ip) {
		s.rateLimited(w, r, s.emailLimiter, ip)
		return
	}
	if s.mailer == nil {
		writeError(w, http.StatusServiceUnavailable, "email delivery is not configured")
		return
	}
	var body sendAuditRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		s.badRequest(w, r, err)
		return
	}
	now := s.clock.Now()
	if err := audit.ValidateTimestamp(body.Timestamp, now, audit.MaxTimestampSkew); err != nil {
		s.badRequest(w, r, err)
		return
	}
	email, err := audit.ValidateEmail(body.Email)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req, err := s.newRequest(r, body.Domain, body.Mode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	req.Email = email
	opts, err := s.reportOptions(req.Mode, body.Options)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.seclog.AuditRequest(ip, req.UserAgent, req.Domain, email, string(req.Mode))

	ctx := r.Context()
	out, err := s.audits.Execute(ctx, req)
	if err != nil {
		s.fail(w, r, "audit failed", err)
		return
	}

	pdf := s.tryPDF(ctx, req.Domain, out.Result, opts, now)
	messageID, sendErr := s.mailer.SendAuditReport(ctx, email, req.Domain, out.Result, pdf, now)
	auditID := s.audits.Record(ctx, req, out, audit.Delivery{
		PDFGenerated:   pdf != nil,
		EmailSent:      sendErr == nil,
		EmailMessageID: messageID,
	})
	if sendErr != nil {
		s.fail(w, r, "email send failed", sendErr)
		return
	}
	if pdf != nil {
		s.archivePDF(ctx, req.Domain, pdf, now)
	}
	writeJSON(w, http.StatusOK, sendAuditResponse{
		Success:      true,
		Message:      "Audit completed and report sent by email",
		AuditID:      auditID,
		AuditResults: out.Result,
		EmailSent:    true,
		MessageID:    messageID,
		PDFGenerated: pdf != nil,
	})
}

// tryPDF prints the report under the PDF timeout. Failures are logged and yield nil.
func (s *Server) tryPDF(ctx context.Context, domain string, result audit.Result, opts report.Options, at time.Time) []byte {
	pdfCtx, cancel := context.WithTimeout(ctx, s.opts.PDFTimeout)
	defer cancel()
	pdf, err := s.reports.PDF(pdfCtx, domain, result, opts, at)
	if err != nil {
		s.logger.Warn("pdf generation failed, continuing without attachment",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return nil
	}
	return pdf
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if !s.auditLimiter.Allow(ip) {
		s.rateLimited(w, r, s.auditLimiter, ip)
		return
	}
	var body pdfRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		s.badRequest(w, r, err)
		return
	}
	req, err := s.newRequest(r, body.Domain, body.Mode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	opts, err := s.reportOptions(req.Mode, body.Options)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.seclog.AuditRequest(ip, req.UserAgent, req.Domain, "", string(req.Mode))

	ctx := r.Context()
	out, err := s.audits.Execute(ctx, req)
	if err != nil {
		s.fail(w, r, "audit failed", err)
		return
	}
	now := s.clock.Now()
	pdfCtx, cancel := context.WithTimeout(ctx, s.opts.PDFTimeout)
	defer cancel()
	pdf, err := s.reports.PDF(pdfCtx, req.Domain, out.Result, opts, now)
	if err != nil {
		s.audits.Record(ctx, req, out, audit.Delivery{})
		public := "pdf generation failed"
		if errors.Is(err, report.ErrTooLarge) {
			public = "pdf exceeds size limit"
		}
		s.fail(w, r, public, err)
		return
	}
	auditID := s.audits.Record(ctx, req, out, audit.Delivery{PDFGenerated: true})
	s.archivePDF(ctx, req.Domain, pdf, now)

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(req.Domain, now)))
	h.Set("Content-Length", strconv.Itoa(len(pdf)))
	if auditID != "" {
		h.Set("X-Audit-ID", auditID)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		s.logger.Warn("write pdf response failed", zap.Error(err))
	}
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	s.seclog.Log(seclog.Event{
		Type:      seclog.TypeAudit,
		IP:        ip,
		UserAgent: r.UserAgent(),
		Message:   "admin statistics accessed",
		Severity:  seclog.SeverityLow,
	})
	stats, err := s.audits.Stats(r.Context())
	if err != nil {
		s.fail(w, r, "statistics unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		audit.AdminStats
		Timestamp time.Time `json:"timestamp"`
	}{Success: true, AdminStats: stats, Timestamp: s.clock.Now()})
}

func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupRequest
	if err := decodeJSON(w, r, &body, true); err != nil {
		s.badRequest(w, r, err)
		return
	}
	req := audit.CleanupRequest{OldAudits: true, ExpiredCache: true, DaysOld: defaultCleanupDays}
	if body.CleanOldAudits != nil {
		req.OldAudits = *body.CleanOldAudits
	}
	if body.CleanExpiredCache != nil {
		req.ExpiredCache = *body.CleanExpiredCache
	}
	if body.DaysOld != nil {
		if *body.DaysOld <= 0 {
			writeError(w, http.StatusBadRequest, "daysOld must be > 0")
			return
		}
		req.DaysOld = *body.DaysOld
	}
	s.seclog.Log(seclog.Event{
		Type:      seclog.TypeAudit,
		IP:        s.clientIP(r),
		UserAgent: r.UserAgent(),
		Message:   fmt.Sprintf("admin cleanup started (audits=%t cache=%t days=%d)", req.OldAudits, req.ExpiredCache, req.DaysOld),
		Severity:  seclog.SeverityLow,
	})
	result, err := s.audits.Cleanup(r.Context(), req)
	if err != nil {
		s.fail(w, r, "cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Cleanup completed",
		"results":   result,
		"timestamp": s.clock.Now(),
	})
}
