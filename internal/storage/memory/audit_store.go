package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// AuditStore keeps audit records and their aggregates in memory.
type AuditStore struct {
	mu      sync.RWMutex
	records []audit.Record
	daily   map[time.Time]audit.DailyStats
	popular map[string]audit.PopularDomain
}

// NewAuditStore constructs an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		daily:   make(map[time.Time]audit.DailyStats),
		popular: make(map[string]audit.PopularDomain),
	}
}

// SaveAudit stores the record and updates daily statistics and popular domains.
func (s *AuditStore) SaveAudit(_ context.Context, record audit.Record) error {
	if record.ID == "" {
		return errors.New("audit id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.ID == record.ID {
			return errors.New("audit already exists")
		}
	}
	s.records = append(s.records, copyRecord(record))

	day := truncateDay(record.CreatedAt)
	stats := s.daily[day]
	stats.Date = day
	stats.TotalAudits++
	switch record.Mode {
	case audit.ModeFast:
		stats.FastAudits++
	case audit.ModeComplete:
		stats.CompleteAudits++
	}
	if record.Email != "" {
		if record.EmailSent {
			stats.EmailsSent++
		} else {
			stats.EmailsFailed++
		}
	}
	s.daily[day] = stats

	if record.Status == audit.StatusCompleted && record.Result != nil {
		p := s.popular[record.Domain]
		n := float64(p.AuditCount)
		p.Domain = record.Domain
		p.AvgPerformance = (p.AvgPerformance*n + float64(record.Result.Lighthouse.Performance)) / (n + 1)
		p.AvgSEO = (p.AvgSEO*n + float64(record.Result.Lighthouse.SEO)) / (n + 1)
		p.AuditCount++
		p.LastAuditAt = record.CreatedAt
		s.popular[record.Domain] = p
	}
	return nil
}

// History returns the newest audits of domain first.
func (s *AuditStore) History(_ context.Context, domain string, limit int) ([]audit.Record, error) {
	return s.filter(func(r audit.Record) bool { return r.Domain == domain }, limit), nil
}

// ByEmail returns the newest audits sent to email first.
func (s *AuditStore) ByEmail(_ context.Context, email string, limit int) ([]audit.Record, error) {
	return s.filter(func(r audit.Record) bool { return r.Email == email }, limit), nil
}

func (s *AuditStore) filter(match func(audit.Record) bool, limit int) []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.Record{}
	for i := len(s.records) - 1; i >= 0; i-- {
		if !match(s.records[i]) {
			continue
		}
		out = append(out, copyRecord(s.records[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// PopularDomains returns domains ordered by audit count.
func (s *AuditStore) PopularDomains(_ context.Context, limit int) ([]audit.PopularDomain, error) {
	s.mu.RLock()
	out := make([]audit.PopularDomain, 0, len(s.popular))
	for _, p := range s.popular {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].AuditCount != out[j].AuditCount {
			return out[i].AuditCount > out[j].AuditCount
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GlobalStats summarizes every stored audit and the daily statistics of the last seven days.
func (s *AuditStore) GlobalStats(_ context.Context, now time.Time) (audit.GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := audit.GlobalStats{TotalAudits: len(s.records), LastWeek: []audit.DailyStats{}}
	domains := make(map[string]struct{})
	for _, r := range s.records {
		domains[r.Domain] = struct{}{}
		switch r.Status {
		case audit.StatusCompleted:
			stats.CompletedAudits++
		case audit.StatusFailed:
			stats.FailedAudits++
		}
		if r.EmailSent {
			stats.EmailsSent++
		}
	}
	stats.UniqueDomains = len(domains)

	since := truncateDay(now).AddDate(0, 0, -7)
	for day, daily := range s.daily {
		if !day.Before(since) {
			stats.LastWeek = append(stats.LastWeek, daily)
		}
	}
	sort.Slice(stats.LastWeek, func(i, j int) bool {
		return stats.LastWeek[i].Date.After(stats.LastWeek[j].Date)
	})
	return stats, nil
}

// DeleteOlderThan removes audits created before cutoff.
func (s *AuditStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func copyRecord(r audit.Record) audit.Record {
	if r.Result != nil {
		result := r.Result.Clone()
		r.Result = &result
	}
	return r
}
