package audit

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Mode selects how deep an audit goes.
type Mode string

const (
	// ModeFast runs only the mandatory baseline probes.
	ModeFast Mode = "fast"
	// ModeComplete adds the rendered-DOM SEO and privacy probes.
	ModeComplete Mode = "complete"
)

// Modes lists every supported audit mode.
var Modes = []Mode{ModeFast, ModeComplete}

// ParseMode converts user input into a Mode. An empty string defaults to fast.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeFast:
		return ModeFast, nil
	case ModeComplete:
		return ModeComplete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// Probe names used in logs, metrics and Result.Probes.
const (
	ProbePerformance = "performance"
	ProbeSEOBasic    = "seo_basic"
	ProbeSecurity    = "security"
	ProbePrivacy     = "privacy"
	ProbeSEOAdvanced = "seo_advanced"
)

// ProbeStatus distinguishes a probe that ran from one that failed or was never attempted.
type ProbeStatus string

const (
	ProbeOK      ProbeStatus = "ok"
	ProbeFailed  ProbeStatus = "failed"
	ProbeSkipped ProbeStatus = "skipped"
)

// Request is the ephemeral description of one inbound audit call.
type Request struct {
	Domain    string
	Mode      Mode
	Email     string
	ClientIP  string
	UserAgent string
	RequestID string
	Timestamp time.Time
}

// Result is the merged output of every probe that ran for one audit.
type Result struct {
	Lighthouse      Scores                 `json:"lighthouse"`
	Metrics         *PerformanceStats      `json:"metrics,omitempty"`
	SEOBasic        SEOBasic               `json:"seoBasic"`
	Security        *Security              `json:"security,omitempty"`
	RGPD            *RGPD                  `json:"rgpd,omitempty"`
	Cookies         *Cookies               `json:"cookies,omitempty"`
	SEOAdvanced     *SEOAdvanced           `json:"seoAdvanced,omitempty"`
	Recommendations []string               `json:"recommendations"`
	Probes          map[string]ProbeStatus `json:"probes"`
	ExecutionTimeMs int64                  `json:"executionTime"`
	Mode            Mode                   `json:"mode"`
}

// Clone returns a deep copy so callers never share mutable slices or maps. Nil and empty
// collections keep their distinction so the JSON shape survives a cache round trip.
func (r Result) Clone() Result {
	out := r
	if r.Metrics != nil {
		m := *r.Metrics
		out.Metrics = &m
	}
	out.SEOBasic.H1 = slices.Clone(r.SEOBasic.H1)
	if r.Security != nil {
		s := *r.Security
		s.Headers = maps.Clone(r.Security.Headers)
		s.Recommendations = slices.Clone(r.Security.Recommendations)
		out.Security = &s
	}
	if r.RGPD != nil {
		g := *r.RGPD
		out.RGPD = &g
	}
	if r.Cookies != nil {
		c := *r.Cookies
		c.Details = slices.Clone(r.Cookies.Details)
		out.Cookies = &c
	}
	if r.SEOAdvanced != nil {
		a := *r.SEOAdvanced
		a.Recommendations = slices.Clone(r.SEOAdvanced.Recommendations)
		a.Content.Headings = maps.Clone(r.SEOAdvanced.Content.Headings)
		out.SEOAdvanced = &a
	}
	out.Recommendations = slices.Clone(r.Recommendations)
	out.Probes = maps.Clone(r.Probes)
	return out
}

// Scores holds lighthouse-style category scores, each an integer in 0..100.
type Scores struct {
	Performance   int `json:"performance"`
	SEO           int `json:"seo"`
	Accessibility int `json:"accessibility"`
	BestPractices int `json:"bestPractices"`
}

// PerformanceStats carries the raw timings behind the performance score.
type PerformanceStats struct {
	TimeToFirstByteMs        float64 `json:"ttfb"`
	FirstContentfulPaintMs   float64 `json:"firstContentfulPaint"`
	LargestContentfulPaintMs float64 `json:"largestContentfulPaint"`
	CumulativeLayoutShift    float64 `json:"cumulativeLayoutShift"`
	LoadMs                   float64 `json:"fullyLoaded"`
	TransferBytes            float64 `json:"transferSize"`
}

// PerformanceReport is the fragment produced by the performance probe.
type PerformanceReport struct {
	Scores Scores
	Stats  PerformanceStats
}

// SEOBasic is the lightweight SEO fragment taken from the raw HTML.
type SEOBasic struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	H1           []string `json:"h1"`
	Canonical    *string  `json:"canonical"`
	HasRobotsTxt bool     `json:"hasRobotsTxt"`
	HasSitemap   bool     `json:"hasSitemap"`
}

// Security header names checked by the security probe.
const (
	HeaderCSP               = "content-security-policy"
	HeaderHSTS              = "strict-transport-security"
	HeaderFrameOptions      = "x-frame-options"
	HeaderContentTypeOpts   = "x-content-type-options"
	HeaderReferrerPolicy    = "referrer-policy"
	HeaderPermissionsPolicy = "permissions-policy"
)

// SecurityHeaders lists the headers in scoring order.
var SecurityHeaders = []string{
	HeaderCSP,
	HeaderHSTS,
	HeaderFrameOptions,
	HeaderContentTypeOpts,
	HeaderReferrerPolicy,
	HeaderPermissionsPolicy,
}

// Security is the basic header probe fragment.
type Security struct {
	HTTPS           bool            `json:"https"`
	Headers         map[string]bool `json:"headers"`
	HeaderScore     int             `json:"headerScore"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// RGPD captures the privacy-compliance signals found in the rendered page.
type RGPD struct {
	HasCookieBanner       bool `json:"hasCookieBanner"`
	HasPrivacyPolicy      bool `json:"hasPrivacyPolicy"`
	HasTermsOfService     bool `json:"hasTermsOfService"`
	CookieConsentDetected bool `json:"cookieConsentDetected"`
}

// CookieInfo describes one cookie set while loading the page.
type CookieInfo struct {
	Name         string `json:"name"`
	Domain       string `json:"domain"`
	HTTPOnly     bool   `json:"httpOnly"`
	Secure       bool   `json:"secure"`
	SameSite     string `json:"sameSite,omitempty"`
	IsThirdParty bool   `json:"isThirdParty"`
}

// Cookies summarizes the cookie jar of the audited page.
type Cookies struct {
	Total       int          `json:"total"`
	ThirdParty  int          `json:"thirdParty"`
	SecureCount int          `json:"hasSecureFlags"`
	Details     []CookieInfo `json:"details"`
}

// PrivacyReport is the fragment produced by the privacy probe.
type PrivacyReport struct {
	RGPD            RGPD
	Cookies         Cookies
	Recommendations []string
}

// HTMLStructure is the structural part of the deep SEO analysis.
type HTMLStructure struct {
	HasTitle              bool `json:"hasTitle"`
	TitleLength           int  `json:"titleLength"`
	HasMetaDescription    bool `json:"hasMetaDescription"`
	MetaDescriptionLength int  `json:"metaDescriptionLength"`
	HasH1                 bool `json:"hasH1"`
	H1Count               int  `json:"h1Count"`
	HasCanonical          bool `json:"hasCanonical"`
	HasOpenGraph          bool `json:"hasOpenGraph"`
	HasTwitterCard        bool `json:"hasTwitterCard"`
	HasViewport           bool `json:"hasViewport"`
	HasLang               bool `json:"hasLang"`
	HasSchemaMarkup       bool `json:"hasSchemaMarkup"`
}

// TechnicalSEO covers crawlability and transport checks.
type TechnicalSEO struct {
	RobotsTxtExists     bool  `json:"robotsTxtExists"`
	RobotsTxtAccessible bool  `json:"robotsTxtAccessible"`
	SitemapExists       bool  `json:"sitemapExists"`
	SitemapAccessible   bool  `json:"sitemapAccessible"`
	HTTPSEnabled        bool  `json:"httpsEnabled"`
	HasRedirect         bool  `json:"hasRedirect"`
	ResponseTimeMs      int64 `json:"responseTime"`
}

// ContentStats counts content elements of the rendered page.
type ContentStats struct {
	ImageCount       int            `json:"imageCount"`
	ImagesWithoutAlt int            `json:"imagesWithoutAlt"`
	InternalLinks    int            `json:"internalLinks"`
	ExternalLinks    int            `json:"externalLinks"`
	TextLength       int            `json:"textLength"`
	Headings         map[string]int `json:"headingsStructure"`
}

// SEOAdvanced is the deep SEO fragment built from the rendered DOM.
type SEOAdvanced struct {
	HTMLStructure   HTMLStructure `json:"htmlStructure"`
	TechnicalSEO    TechnicalSEO  `json:"technicalSEO"`
	Content         ContentStats  `json:"content"`
	Recommendations []string      `json:"recommendations"`
}

// CacheEntry is one cached audit result keyed by (domain, mode).
type CacheEntry struct {
	Domain    string
	Mode      Mode
	Result    Result
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is stale at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Total   int          `json:"total"`
	Active  int          `json:"active"`
	Expired int          `json:"expired"`
	ByMode  map[Mode]int `json:"byMode"`
}

// DomainCount pairs a domain with an occurrence count.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// Status is the persisted outcome of an audit.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the persisted form of one audit.
type Record struct {
	ID             string    `json:"id"`
	Domain         string    `json:"domain"`
	Email          string    `json:"email,omitempty"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	ClientIP       string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	RequestID      string    `json:"requestId,omitempty"`
	Result         *Result   `json:"result,omitempty"`
	ExecutionTime  int64     `json:"executionTime"`
	PDFGenerated   bool      `json:"pdfGenerated"`
	EmailSent      bool      `json:"emailSent"`
	EmailMessageID string    `json:"emailMessageId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DailyStats aggregates audits for one UTC day.
type DailyStats struct {
	Date           time.Time `json:"date"`
	TotalAudits    int       `json:"totalAudits"`
	FastAudits     int       `json:"fastAudits"`
	CompleteAudits int       `json:"completeAudits"`
	EmailsSent     int       `json:"emailsSent"`
	EmailsFailed   int       `json:"emailsFailed"`
}

// PopularDomain is the rolling per-domain aggregate.
type PopularDomain struct {
	Domain         string    `json:"domain"`
	AuditCount     int       `json:"auditCount"`
	LastAuditAt    time.Time `json:"lastAuditAt"`
	AvgPerformance float64   `json:"avgPerformance"`
	AvgSEO         float64   `json:"avgSeo"`
}

// GlobalStats is the admin overview of persisted audits.
type GlobalStats struct {
	TotalAudits     int          `json:"totalAudits"`
	CompletedAudits int          `json:"completedAudits"`
	FailedAudits    int          `json:"failedAudits"`
	UniqueDomains   int          `json:"uniqueDomains"`
	EmailsSent      int          `json:"emailsSent"`
	LastWeek        []DailyStats `json:"lastWeek"`
}

// Event is published after every audit attempt.
type Event struct {
	AuditID         string    `json:"auditId"`
	Domain          string    `json:"domain"`
	Mode            Mode      `json:"mode"`
	Status          Status    `json:"status"`
	Cached          bool      `json:"cached"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// EventTopic is the topic audit events are published to.
const EventTopic = "audit.finished"
