package audit

import (
	"context"
	"time"
)

// PerformanceProbe produces lighthouse-style category scores.
type PerformanceProbe interface {
	Performance(ctx context.Context, domain string) (PerformanceReport, error)
}

// SEOBasicProbe extracts the lightweight SEO fragment from raw HTML.
type SEOBasicProbe interface {
	SEOBasic(ctx context.Context, domain string) (SEOBasic, error)
}

// SecurityProbe inspects the security response headers.
type SecurityProbe interface {
	Security(ctx context.Context, domain string) (Security, error)
}

// PrivacyProbe inspects cookies and consent signals of the rendered page.
type PrivacyProbe interface {
	Privacy(ctx context.Context, domain string) (PrivacyReport, error)
}

// SEOAdvancedProbe analyzes the rendered DOM.
type SEOAdvancedProbe interface {
	SEOAdvanced(ctx context.Context, domain string) (SEOAdvanced, error)
}

// Runner executes an audit for a domain and mode.
type Runner interface {
	Run(ctx context.Context, domain string, mode Mode) (Result, error)
}

// CacheBackend stores cache entries. Implementations return errors and never apply TTL policy
// themselves beyond what DeleteExpired is asked to do.
type CacheBackend interface {
	Get(ctx context.Context, domain string, mode Mode) (CacheEntry, error)
	Put(ctx context.Context, entry CacheEntry) error
	Delete(ctx context.Context, domain string, modes ...Mode) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (CacheStats, error)
	Clear(ctx context.Context) (int, error)
	TopDomains(ctx context.Context, limit int) ([]DomainCount, error)
}

// ResultCache is the policy-level cache used by the service. Lookups and writes never
// fail; backend errors are logged and reported as misses.
type ResultCache interface {
	Get(ctx context.Context, domain string, mode Mode) (Result, bool)
	Set(ctx context.Context, domain string, mode Mode, result Result)
	Invalidate(ctx context.Context, domain string, modes ...Mode) int
	CleanExpired(ctx context.Context) int
	Stats(ctx context.Context) (CacheStats, error)
	TopDomains(ctx context.Context, limit int) ([]DomainCount, error)
}

// Repository persists audits and their aggregates.
type Repository interface {
	SaveAudit(ctx context.Context, record Record) error
	History(ctx context.Context, domain string, limit int) ([]Record, error)
	ByEmail(ctx context.Context, email string, limit int) ([]Record, error)
	PopularDomains(ctx context.Context, limit int) ([]PopularDomain, error)
	GlobalStats(ctx context.Context, now time.Time) (GlobalStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Publisher emits audit events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique audit identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
