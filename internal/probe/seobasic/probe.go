// Package seobasic extracts title, description, headings and crawlability hints from the
// raw HTML of a site's home page.
package seobasic

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	collyfetcher "github.com/JakeFAU/site-audit/internal/fetcher/colly"
)

// UserAgent identifies the probe to audited sites.
const UserAgent = "SEO-Audit-Bot/1.0"

// Fetcher is the subset of the colly fetcher the probe needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (collyfetcher.Page, error)
	Exists(ctx context.Context, rawURL string) bool
	Robots(ctx context.Context, origin string) (collyfetcher.Robots, error)
}

// Probe implements audit.SEOBasicProbe.
type Probe struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// New builds a Probe.
func New(fetcher Fetcher, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{fetcher: fetcher, logger: logger.Named("seo_basic")}
}

// SEOBasic fetches https://domain. Transport errors fail the probe; a non-2xx page yields
// empty fields while robots.txt and the sitemap are still checked.
func (p *Probe) SEOBasic(ctx context.Context, domain string) (audit.SEOBasic, error) {
	origin := "https://" + domain
	page, err := p.fetcher.Get(ctx, origin)
	if err != nil {
		return audit.SEOBasic{}, fmt.Errorf("fetch home page: %w", err)
	}

	out := audit.SEOBasic{H1: []string{}}
	if page.OK() {
		out, err = Parse(page.Body)
		if err != nil {
			return audit.SEOBasic{}, err
		}
	} else {
		p.logger.Warn("home page not reachable", zap.String("domain", domain), zap.Int("status", page.StatusCode))
	}

	out.HasRobotsTxt = p.fetcher.Exists(ctx, origin+"/robots.txt")
	out.HasSitemap = p.fetcher.Exists(ctx, origin+"/sitemap.xml")
	if !out.HasSitemap && out.HasRobotsTxt {
		out.HasSitemap = p.declaredSitemap(ctx, origin)
	}
	return out, nil
}

// declaredSitemap checks the first Sitemap directive of robots.txt.
func (p *Probe) declaredSitemap(ctx context.Context, origin string) bool {
	robots, err := p.fetcher.Robots(ctx, origin)
	if err != nil || len(robots.Sitemaps) == 0 {
		return false
	}
	return p.fetcher.Exists(ctx, robots.Sitemaps[0])
}

// Parse extracts the SEO fields from an HTML document. Empty values are reported as nil.
func Parse(body []byte) (audit.SEOBasic, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return audit.SEOBasic{}, fmt.Errorf("parse html: %w", err)
	}
	out := audit.SEOBasic{
		Title:       optional(doc.Find("title").First().Text()),
		Description: optional(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
		H1:          []string{},
	}
	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out.H1 = append(out.H1, text)
		}
	})
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		out.Canonical = &href
	}
	return out, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
