// Package seoadvanced analyzes the rendered DOM and crawlability files of a site.
package seoadvanced

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/browser"
	collyfetcher "github.com/JakeFAU/site-audit/internal/fetcher/colly"
)

const (
	minTitle          = 30
	maxTitle          = 60
	minDescription    = 120
	maxDescription    = 160
	slowResponseMs    = 3000
	minTextLength     = 300
	headingLevelCount = 6
)

// Loader renders a page in a browser.
type Loader interface {
	Load(ctx context.Context, url string, opts browser.Options) (browser.Page, error)
}

// Getter fetches raw resources.
type Getter interface {
	Get(ctx context.Context, rawURL string) (collyfetcher.Page, error)
}

// Probe implements audit.SEOAdvancedProbe.
type Probe struct {
	loader Loader
	getter Getter
	logger *zap.Logger
}

// New builds a Probe.
func New(loader Loader, getter Getter, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{loader: loader, getter: getter, logger: logger.Named("seo_advanced")}
}

// SEOAdvanced renders https://domain and inspects the DOM, robots.txt and sitemap.xml.
func (p *Probe) SEOAdvanced(ctx context.Context, domain string) (audit.SEOAdvanced, error) {
	origin := "https://" + domain
	page, err := p.loader.Load(ctx, origin, browser.Options{})
	if err != nil {
		return audit.SEOAdvanced{}, fmt.Errorf("render page: %w", err)
	}
	tech := audit.TechnicalSEO{
		HTTPSEnabled:   strings.HasPrefix(page.URL, "https://"),
		HasRedirect:    strings.TrimRight(page.URL, "/") != origin,
		ResponseTimeMs: page.Duration.Milliseconds(),
	}
	tech.RobotsTxtExists, tech.RobotsTxtAccessible = p.robots(ctx, origin)
	tech.SitemapExists, tech.SitemapAccessible = p.sitemap(ctx, origin)
	return Analyze(page.HTML, page.URL, tech)
}

func (p *Probe) robots(ctx context.Context, origin string) (bool, bool) {
	res, err := p.getter.Get(ctx, origin+"/robots.txt")
	if err != nil {
		p.logger.Debug("robots.txt unreachable", zap.String("origin", origin), zap.Error(err))
		return false, false
	}
	robots := collyfetcher.ParseRobots(res.StatusCode, res.Body)
	return robots.Exists, robots.Parsed
}

func (p *Probe) sitemap(ctx context.Context, origin string) (bool, bool) {
	res, err := p.getter.Get(ctx, origin+"/sitemap.xml")
	if err != nil {
		p.logger.Debug("sitemap.xml unreachable", zap.String("origin", origin), zap.Error(err))
		return false, false
	}
	exists := res.StatusCode == 200
	return exists, exists && IsSitemap(res.Body)
}

// IsSitemap reports whether body is an XML document rooted at urlset or sitemapindex.
func IsSitemap(body []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local == "urlset" || start.Name.Local == "sitemapindex"
		}
	}
}

// Analyze inspects rendered html served at pageURL and builds the fragment with its
// recommendations.
func Analyze(html, pageURL string, tech audit.TechnicalSEO) (audit.SEOAdvanced, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return audit.SEOAdvanced{}, fmt.Errorf("parse html: %w", err)
	}
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	desc := strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	h1Count := doc.Find("h1").Length()
	lang, _ := doc.Find("html").First().Attr("lang")

	structure := audit.HTMLStructure{
		HasTitle:              title != "",
		TitleLength:           utf8.RuneCountInString(title),
		HasMetaDescription:    desc != "",
		MetaDescriptionLength: utf8.RuneCountInString(desc),
		HasH1:                 h1Count > 0,
		H1Count:               h1Count,
		HasCanonical:          doc.Find(`link[rel="canonical"]`).Length() > 0,
		HasOpenGraph:          doc.Find(`meta[property="og:title"]`).Length() > 0,
		HasTwitterCard:        doc.Find(`meta[name="twitter:card"]`).Length() > 0,
		HasViewport:           doc.Find(`meta[name="viewport"]`).Length() > 0,
		HasLang:               strings.TrimSpace(lang) != "",
		HasSchemaMarkup:       doc.Find(`script[type="application/ld+json"]`).Length() > 0,
	}

	content := audit.ContentStats{
		Headings: make(map[string]int, headingLevelCount),
	}
	images := doc.Find("img")
	content.ImageCount = images.Length()
	images.Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.AttrOr("alt", "")) == "" {
			content.ImagesWithoutAlt++
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		sameHost := host != "" && strings.Contains(href, host)
		switch {
		case strings.HasPrefix(href, "/") || sameHost:
			content.InternalLinks++
		case strings.HasPrefix(href, "http"):
			content.ExternalLinks++
		}
	})
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	content.TextLength = utf8.RuneCountInString(strings.TrimSpace(body.Text()))
	for level := 1; level <= headingLevelCount; level++ {
		tag := fmt.Sprintf("h%d", level)
		content.Headings[tag] = doc.Find(tag).Length()
	}

	return audit.SEOAdvanced{
		HTMLStructure:   structure,
		TechnicalSEO:    tech,
		Content:         content,
		Recommendations: recommend(structure, tech, content),
	}, nil
}

func recommend(s audit.HTMLStructure, t audit.TechnicalSEO, c audit.ContentStats) []string {
	recs := []string{}
	add := func(cond bool, msg string) {
		if cond {
			recs = append(recs, msg)
		}
	}
	switch {
	case !s.HasTitle:
		recs = append(recs, "Add a <title> tag to the page")
	case s.TitleLength < minTitle || s.TitleLength > maxTitle:
		recs = append(recs, fmt.Sprintf("Adjust the title length (%d-%d characters recommended)", minTitle, maxTitle))
	}
	switch {
	case !s.HasMetaDescription:
		recs = append(recs, "Add a meta description")
	case s.MetaDescriptionLength < minDescription || s.MetaDescriptionLength > maxDescription:
		recs = append(recs, fmt.Sprintf("Adjust the meta description length (%d-%d characters)", minDescription, maxDescription))
	}
	switch {
	case !s.HasH1:
		recs = append(recs, "Add a main H1 heading")
	case s.H1Count > 1:
		recs = append(recs, "Use a single H1 heading per page")
	}
	add(!s.HasCanonical, "Add a canonical URL")
	add(!s.HasOpenGraph, "Add Open Graph tags for social networks")
	add(!s.HasViewport, "Add a viewport meta tag for responsive design")
	add(!s.HasLang, "Declare the page language with the lang attribute")
	add(!s.HasSchemaMarkup, "Add structured data (Schema.org)")
	add(!t.RobotsTxtExists, "Create a robots.txt file")
	add(!t.SitemapExists, "Create an XML sitemap")
	add(!t.HTTPSEnabled, "Enable HTTPS")
	add(c.ImagesWithoutAlt > 0, fmt.Sprintf("Add alt attributes to %d image(s)", c.ImagesWithoutAlt))
	add(t.ResponseTimeMs > slowResponseMs, "Improve server response time (over 3s)")
	add(c.TextLength < minTextLength, fmt.Sprintf("Add more text content to the page (at least %d characters)", minTextLength))
	return recs
}
