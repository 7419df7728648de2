package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePerformance struct {
	report PerformanceReport
	err    error
	clock  *fakeClock
	calls  atomic.Int32
}

func (f *fakePerformance) Performance(context.Context, string) (PerformanceReport, error) {
	f.calls.Add(1)
	if f.clock != nil {
		f.clock.Advance(1500 * time.Millisecond)
	}
	return f.report, f.err
}

type fakeSEOBasic struct {
	result SEOBasic
	err    error
	calls  atomic.Int32
}

func (f *fakeSEOBasic) SEOBasic(context.Context, string) (SEOBasic, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeSecurity struct {
	result Security
	err    error
}

func (f *fakeSecurity) Security(context.Context, string) (Security, error) {
	return f.result, f.err
}

type fakePrivacy struct {
	result PrivacyReport
	err    error
	calls  atomic.Int32
}

func (f *fakePrivacy) Privacy(context.Context, string) (PrivacyReport, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeSEOAdvanced struct {
	result SEOAdvanced
	err    error
	calls  atomic.Int32
}

func (f *fakeSEOAdvanced) SEOAdvanced(context.Context, string) (SEOAdvanced, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeRunner struct {
	mu      sync.Mutex
	result  Result
	err     error
	domains []string
}

func (f *fakeRunner) Run(_ context.Context, domain string, _ Mode) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains = append(f.domains, domain)
	return f.result.Clone(), f.err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.domains)
}

type cacheKey struct {
	domain string
	mode   Mode
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[cacheKey]Result
	cleaned int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[cacheKey]Result{}}
}

func (c *fakeCache) Get(_ context.Context, domain string, mode Mode) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[cacheKey{domain, mode}]
	return r.Clone(), ok
}

func (c *fakeCache) Set(_ context.Context, domain string, mode Mode, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{domain, mode}] = result.Clone()
}

func (c *fakeCache) Invalidate(_ context.Context, domain string, modes ...Mode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range modes {
		if _, ok := c.entries[cacheKey{domain, m}]; ok {
			delete(c.entries, cacheKey{domain, m})
			n++
		}
	}
	return n
}

func (c *fakeCache) CleanExpired(context.Context) int {
	return c.cleaned
}

func (c *fakeCache) Stats(context.Context) (CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := CacheStats{Total: len(c.entries), Active: len(c.entries), ByMode: map[Mode]int{}}
	for k := range c.entries {
		stats.ByMode[k.mode]++
	}
	return stats, nil
}

func (c *fakeCache) TopDomains(context.Context, int) ([]DomainCount, error) {
	return []DomainCount{{Domain: "example.com", Count: 2}}, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	records []Record
	saveErr error
	cutoff  time.Time
}

func (r *fakeRepo) SaveAudit(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRepo) History(_ context.Context, domain string, _ int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Domain == domain {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRepo) ByEmail(context.Context, string, int) ([]Record, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) PopularDomains(context.Context, int) ([]PopularDomain, error) {
	return []PopularDomain{{Domain: "example.com", AuditCount: 3}}, nil
}

func (r *fakeRepo) GlobalStats(context.Context, time.Time) (GlobalStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return GlobalStats{TotalAudits: len(r.records)}, nil
}

func (r *fakeRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoff = cutoff
	return 4, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if topic != EventTopic {
		return "", errors.New("unexpected topic " + topic)
	}
	p.events = append(p.events, payload.(Event))
	return "msg", nil
}

type seqIDs struct {
	n atomic.Int32
}

func (s *seqIDs) NewID() (string, error) {
	return "audit-" + string(rune('0'+s.n.Add(1))), nil
}
