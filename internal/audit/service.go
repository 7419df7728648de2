package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/metrics"
)

const (
	// DefaultTimeout bounds a whole audit run.
	DefaultTimeout = 120 * time.Second
	// DefaultRetentionDays is how long audits are kept by the periodic cleanup.
	DefaultRetentionDays = 90

	historyLimit        = 10
	userAuditsLimit     = 20
	popularDomainsLimit = 10
)

// ServiceConfig tunes the audit service.
type ServiceConfig struct {
	Timeout time.Duration
}

// Service runs the request flow: cache lookup, orchestrated audit on miss, then cache
// write, persistence and event publishing. Dependency failures are logged and swallowed.
type Service struct {
	cfg       ServiceConfig
	runner    Runner
	cache     ResultCache
	repo      Repository
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// Outcome is the result of one audit request.
type Outcome struct {
	ID     string
	Result Result
	Cached bool
}

// Delivery describes what happened to the report after the audit.
type Delivery struct {
	PDFGenerated   bool
	EmailSent      bool
	EmailMessageID string
}

// ServiceDeps collects the collaborators of a Service. Cache, Repo and Publisher are optional.
type ServiceDeps struct {
	Runner    Runner
	Cache     ResultCache
	Repo      Repository
	Publisher Publisher
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
}

// NewService builds a Service.
func NewService(cfg ServiceConfig, deps ServiceDeps) (*Service, error) {
	if deps.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		runner:    deps.Runner,
		cache:     deps.Cache,
		repo:      deps.Repo,
		publisher: deps.Publisher,
		ids:       deps.IDs,
		clock:     deps.Clock,
		logger:    logger,
	}, nil
}

// Audit executes the audit and records it with no report delivery.
func (s *Service) Audit(ctx context.Context, req Request) (Outcome, error) {
	out, err := s.Execute(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	out.ID = s.Record(ctx, req, out, Delivery{})
	return out, nil
}

// Execute returns a cached result when one is fresh, otherwise runs the orchestrator under
// the configured timeout and caches the result. A failed audit is recorded before returning.
func (s *Service) Execute(ctx context.Context, req Request) (Outcome, error) {
	domain := NormalizeDomain(req.Domain)
	if s.cache != nil {
		if result, ok := s.cache.Get(ctx, domain, req.Mode); ok {
			return Outcome{Result: result, Cached: true}, nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	result, err := s.runner.Run(runCtx, domain, req.Mode)
	if err != nil {
		s.recordFailure(ctx, req, domain, err)
		return Outcome{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, domain, req.Mode, result)
	}
	return Outcome{Result: result}, nil
}

// Record persists a completed audit and publishes its event. It returns the audit ID, or an
// empty string when no ID could be generated.
func (s *Service) Record(ctx context.Context, req Request, out Outcome, delivery Delivery) string {
	domain := NormalizeDomain(req.Domain)
	result := out.Result.Clone()
	record := Record{
		Domain:         domain,
		Email:          req.Email,
		Mode:           req.Mode,
		Status:         StatusCompleted,
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
		RequestID:      req.RequestID,
		Result:         &result,
		ExecutionTime:  result.ExecutionTimeMs,
		PDFGenerated:   delivery.PDFGenerated,
		EmailSent:      delivery.EmailSent,
		EmailMessageID: delivery.EmailMessageID,
	}
	id := s.save(ctx, record)
	s.publish(ctx, Event{
		AuditID:         id,
		Domain:          domain,
		Mode:            req.Mode,
		Status:          StatusCompleted,
		Cached:          out.Cached,
		ExecutionTimeMs: result.ExecutionTimeMs,
		OccurredAt:      s.clock.Now(),
	})
	return id
}

func (s *Service) recordFailure(ctx context.Context, req Request, domain string, cause error) {
	id := s.save(ctx, Record{
		Domain:       domain,
		Email:        req.Email,
		Mode:         req.Mode,
		Status:       StatusFailed,
		ErrorMessage: cause.Error(),
		ClientIP:     req.ClientIP,
		UserAgent:    req.UserAgent,
		RequestID:    req.RequestID,
	})
	s.publish(ctx, Event{
		AuditID:    id,
		Domain:     domain,
		Mode:       req.Mode,
		Status:     StatusFailed,
		OccurredAt: s.clock.Now(),
	})
}

func (s *Service) save(ctx context.Context, record Record) string {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("audit id generation failed", zap.Error(err))
		metrics.ObserveDependencyError("id")
		return ""
	}
	if s.repo == nil {
		return id
	}
	record.ID = id
	record.CreatedAt = s.clock.Now()
	// The request may already be canceled; persistence still gets a short window.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.SaveAudit(saveCtx, record); err != nil {
		s.logger.Warn("audit persistence failed",
			zap.String("domain", record.Domain),
			zap.String("status", string(record.Status)),
			zap.Error(err),
		)
		metrics.ObserveDependencyError("repository")
	}
	return id
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, EventTopic, event); err != nil {
		s.logger.Warn("audit event publish failed", zap.String("domain", event.Domain), zap.Error(err))
		metrics.ObserveDependencyError("publisher")
	}
}

// History returns the latest audits of a domain.
func (s *Service) History(ctx context.Context, domain string) ([]Record, error) {
	if s.repo == nil {
		return nil, nil
	}
	records, err := s.repo.History(ctx, NormalizeDomain(domain), historyLimit)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	return records, nil
}

// UserAudits returns the latest audits emailed to an address.
func (s *Service) UserAudits(ctx context.Context, email string) ([]Record, error) {
	if s.repo == nil {
		return nil, nil
	}
	records, err := s.repo.ByEmail(ctx, email, userAuditsLimit)
	if err != nil {
		return nil, fmt.Errorf("user audits: %w", err)
	}
	return records, nil
}

// AdminStats is the aggregate view served to administrators.
type AdminStats struct {
	Statistics     GlobalStats     `json:"statistics"`
	Cache          CacheStats      `json:"cache"`
	PopularDomains []PopularDomain `json:"popularDomains"`
	CachedDomains  []DomainCount   `json:"cachedDomains"`
}

// Stats gathers persisted statistics and cache state.
func (s *Service) Stats(ctx context.Context) (AdminStats, error) {
	out := AdminStats{
		Cache:          CacheStats{ByMode: map[Mode]int{}},
		PopularDomains: []PopularDomain{},
		CachedDomains:  []DomainCount{},
		Statistics:     GlobalStats{LastWeek: []DailyStats{}},
	}
	if s.repo != nil {
		stats, err := s.repo.GlobalStats(ctx, s.clock.Now())
		if err != nil {
			return AdminStats{}, fmt.Errorf("global stats: %w", err)
		}
		out.Statistics = stats
		popular, err := s.repo.PopularDomains(ctx, popularDomainsLimit)
		if err != nil {
			return AdminStats{}, fmt.Errorf("popular domains: %w", err)
		}
		out.PopularDomains = popular
	}
	if s.cache != nil {
		cacheStats, err := s.cache.Stats(ctx)
		if err != nil {
			return AdminStats{}, fmt.Errorf("cache stats: %w", err)
		}
		out.Cache = cacheStats
		top, err := s.cache.TopDomains(ctx, popularDomainsLimit)
		if err != nil {
			return AdminStats{}, fmt.Errorf("cached domains: %w", err)
		}
		out.CachedDomains = top
	}
	return out, nil
}

// CleanupRequest selects what an administrative cleanup removes.
type CleanupRequest struct {
	OldAudits    bool
	ExpiredCache bool
	DaysOld      int
}

// CleanupResult reports what was removed.
type CleanupResult struct {
	DeletedAudits       int `json:"deletedAudits"`
	DeletedCacheEntries int `json:"deletedCacheEntries"`
}

// Cleanup deletes audits older than DaysOld and expired cache entries.
func (s *Service) Cleanup(ctx context.Context, req CleanupRequest) (CleanupResult, error) {
	var out CleanupResult
	if req.OldAudits && s.repo != nil {
		days := req.DaysOld
		if days <= 0 {
			days = DefaultRetentionDays
		}
		cutoff := s.clock.Now().AddDate(0, 0, -days)
		n, err := s.repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return out, fmt.Errorf("delete old audits: %w", err)
		}
		out.DeletedAudits = n
		s.logger.Info("old audits deleted", zap.Int("count", n), zap.Int("days_old", days))
	}
	if req.ExpiredCache && s.cache != nil {
		out.DeletedCacheEntries = s.cache.CleanExpired(ctx)
	}
	return out, nil
}
