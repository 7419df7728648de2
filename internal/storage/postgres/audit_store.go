package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const recordColumns = `id, domain, COALESCE(email, ''), mode, status, COALESCE(error_message, ''),
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''), result,
	execution_time, pdf_generated, email_sent, COALESCE(email_message_id, ''), created_at`

// AuditStore persists audit records, daily statistics and popular domains.
type AuditStore struct {
	pool pool
}

// NewAuditStoreWithPool constructs an AuditStore over an existing pool.
func NewAuditStoreWithPool(p pool) (*AuditStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &AuditStore{pool: p}, nil
}

// SaveAudit inserts the record and updates the daily and per-domain aggregates in one
// transaction.
func (s *AuditStore) SaveAudit(ctx context.Context, record audit.Record) error {
	if record.ID == "" {
		return errors.New("audit id is required")
	}
	var result []byte
	if record.Result != nil {
		raw, err := json.Marshal(record.Result)
		if err != nil {
			return fmt.Errorf("encode audit result: %w", err)
		}
		result = raw
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	if err := saveAuditTx(ctx, tx, record, result); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // the original error is more useful
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func saveAuditTx(ctx context.Context, tx pgx.Tx, record audit.Record, result []byte) error {
	_, err := tx.Exec(ctx, `
INSERT INTO audits (
	id, domain, email, mode, status, error_message, ip_address, user_agent, request_id,
	result, execution_time, pdf_generated, email_sent, email_message_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		record.ID,
		record.Domain,
		nullable(record.Email),
		string(record.Mode),
		string(record.Status),
		nullable(record.ErrorMessage),
		nullable(record.ClientIP),
		nullable(record.UserAgent),
		nullable(record.RequestID),
		result,
		record.ExecutionTime,
		record.PDFGenerated,
		record.EmailSent,
		nullable(record.EmailMessageID),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	fast, complete, sent, failed := 0, 0, 0, 0
	if record.Mode == audit.ModeComplete {
		complete = 1
	} else {
		fast = 1
	}
	if record.Email != "" {
		if record.EmailSent {
			sent = 1
		} else {
			failed = 1
		}
	}
	_, err = tx.Exec(ctx, `
INSERT INTO daily_stats (date, total_audits, fast_audits, complete_audits, emails_sent, emails_failed)
VALUES ($1, 1, $2, $3, $4, $5)
ON CONFLICT (date) DO UPDATE
SET total_audits = daily_stats.total_audits + 1,
	fast_audits = daily_stats.fast_audits + EXCLUDED.fast_audits,
	complete_audits = daily_stats.complete_audits + EXCLUDED.complete_audits,
	emails_sent = daily_stats.emails_sent + EXCLUDED.emails_sent,
	emails_failed = daily_stats.emails_failed + EXCLUDED.emails_failed`,
		day(record.CreatedAt), fast, complete, sent, failed,
	)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}

	if record.Status != audit.StatusCompleted || record.Result == nil {
		return nil
	}
	_, err = tx.Exec(ctx, `
INSERT INTO popular_domains (domain, audit_count, last_audit_at, avg_performance, avg_seo)
VALUES ($1, 1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE
SET avg_performance = (popular_domains.avg_performance * popular_domains.audit_count + EXCLUDED.avg_performance)
		/ (popular_domains.audit_count + 1),
	avg_seo = (popular_domains.avg_seo * popular_domains.audit_count + EXCLUDED.avg_seo)
		/ (popular_domains.audit_count + 1),
	audit_count = popular_domains.audit_count + 1,
	last_audit_at = EXCLUDED.last_audit_at`,
		record.Domain,
		record.CreatedAt,
		float64(record.Result.Lighthouse.Performance),
		float64(record.Result.Lighthouse.SEO),
	)
	if err != nil {
		return fmt.Errorf("upsert popular domain: %w", err)
	}
	return nil
}

// History returns the newest audits of domain first.
func (s *AuditStore) History(ctx context.Context, domain string, limit int) ([]audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audits WHERE domain = $1 ORDER BY created_at DESC LIMIT $2`
	return s.queryRecords(ctx, query, domain, limit)
}

// ByEmail returns the newest audits sent to email first.
func (s *AuditStore) ByEmail(ctx context.Context, email string, limit int) ([]audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audits WHERE email = $1 ORDER BY created_at DESC LIMIT $2`
	return s.queryRecords(ctx, query, email, limit)
}

func (s *AuditStore) queryRecords(ctx context.Context, query string, args ...any) ([]audit.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	out := []audit.Record{}
	for rows.Next() {
		var (
			rec          audit.Record
			mode, status string
			raw          []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.Domain, &rec.Email, &mode, &status, &rec.ErrorMessage,
			&rec.ClientIP, &rec.UserAgent, &rec.RequestID, &raw,
			&rec.ExecutionTime, &rec.PDFGenerated, &rec.EmailSent, &rec.EmailMessageID, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.Mode = audit.Mode(mode)
		rec.Status = audit.Status(status)
		if len(raw) > 0 {
			var result audit.Result
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, fmt.Errorf("decode audit %s result: %w", rec.ID, err)
			}
			rec.Result = &result
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return out, nil
}

// PopularDomains returns domains ordered by audit count.
func (s *AuditStore) PopularDomains(ctx context.Context, limit int) ([]audit.PopularDomain, error) {
	rows, err := s.pool.Query(ctx, `
SELECT domain, audit_count, last_audit_at, avg_performance, avg_seo
FROM popular_domains
ORDER BY audit_count DESC, domain
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query popular domains: %w", err)
	}
	defer rows.Close()

	out := []audit.PopularDomain{}
	for rows.Next() {
		var p audit.PopularDomain
		if err := rows.Scan(&p.Domain, &p.AuditCount, &p.LastAuditAt, &p.AvgPerformance, &p.AvgSEO); err != nil {
			return nil, fmt.Errorf("scan popular domain: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate popular domains: %w", err)
	}
	return out, nil
}

// GlobalStats summarizes every audit and the daily statistics of the last seven days.
func (s *AuditStore) GlobalStats(ctx context.Context, now time.Time) (audit.GlobalStats, error) {
	stats := audit.GlobalStats{LastWeek: []audit.DailyStats{}}
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*),
	COUNT(*) FILTER (WHERE status = 'completed'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COUNT(DISTINCT domain),
	COUNT(*) FILTER (WHERE email_sent)
FROM audits`).Scan(
		&stats.TotalAudits,
		&stats.CompletedAudits,
		&stats.FailedAudits,
		&stats.UniqueDomains,
		&stats.EmailsSent,
	)
	if err != nil {
		return audit.GlobalStats{}, fmt.Errorf("query audit totals: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT date, total_audits, fast_audits, complete_audits, emails_sent, emails_failed
FROM daily_stats
WHERE date >= $1
ORDER BY date DESC`, day(now).AddDate(0, 0, -7))
	if err != nil {
		return audit.GlobalStats{}, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d audit.DailyStats
		if err := rows.Scan(&d.Date, &d.TotalAudits, &d.FastAudits, &d.CompleteAudits, &d.EmailsSent, &d.EmailsFailed); err != nil {
			return audit.GlobalStats{}, fmt.Errorf("scan daily stats: %w", err)
		}
		stats.LastWeek = append(stats.LastWeek, d)
	}
	if err := rows.Err(); err != nil {
		return audit.GlobalStats{}, fmt.Errorf("iterate daily stats: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes audits created before cutoff.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audits WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audits: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
