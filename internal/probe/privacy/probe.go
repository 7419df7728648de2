// Package privacy inspects the cookies and GDPR consent signals of a rendered page.
package privacy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/browser"
)

const (
	bannerSelector  = `[class*="cookie"], [id*="cookie"], [class*="consent"], [id*="consent"]`
	consentSelector = `[class*="gdpr"], [id*="gdpr"], [class*="cookieConsent"]`
)

var (
	bannerWords  = []string{"cookie", "consentement", "accepter"}
	consentWords = []string{"gdpr", "rgpd"}
	privacyLinks = []string{"politique de confidentialité", "privacy policy", "vie privée"}
	termsLinks   = []string{"conditions d'utilisation", "terms of service", "mentions légales"}
)

// Loader renders a page in a browser.
type Loader interface {
	Load(ctx context.Context, url string, opts browser.Options) (browser.Page, error)
}

// Probe implements audit.PrivacyProbe.
type Probe struct {
	loader Loader
	logger *zap.Logger
}

// New builds a Probe.
func New(loader Loader, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{loader: loader, logger: logger.Named("privacy")}
}

// Privacy renders https://domain with cookie collection enabled.
func (p *Probe) Privacy(ctx context.Context, domain string) (audit.PrivacyReport, error) {
	page, err := p.loader.Load(ctx, "https://"+domain, browser.Options{Cookies: true})
	if err != nil {
		return audit.PrivacyReport{}, fmt.Errorf("render page: %w", err)
	}
	host := domain
	if u, err := url.Parse(page.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	report, err := Analyze(host, page.HTML, page.Cookies)
	if err != nil {
		return audit.PrivacyReport{}, err
	}
	p.logger.Debug("privacy analyzed",
		zap.String("domain", domain),
		zap.Int("cookies", report.Cookies.Total),
		zap.Int("third_party", report.Cookies.ThirdParty),
	)
	return report, nil
}

// Analyze classifies cookies against host and looks for consent signals in html.
func Analyze(host, html string, cookies []browser.Cookie) (audit.PrivacyReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return audit.PrivacyReport{}, fmt.Errorf("parse html: %w", err)
	}
	text := strings.ToLower(doc.Find("body").Text())
	var links []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		links = append(links, strings.ToLower(s.Text()))
	})

	rgpd := audit.RGPD{
		HasCookieBanner:       doc.Find(bannerSelector).Length() > 0 || containsAny(text, bannerWords),
		HasPrivacyPolicy:      anyContains(links, privacyLinks),
		HasTermsOfService:     anyContains(links, termsLinks),
		CookieConsentDetected: doc.Find(consentSelector).Length() > 0 || containsAny(text, consentWords),
	}

	jar := audit.Cookies{Details: make([]audit.CookieInfo, 0, len(cookies))}
	for _, c := range cookies {
		info := audit.CookieInfo{
			Name:         c.Name,
			Domain:       c.Domain,
			HTTPOnly:     c.HTTPOnly,
			Secure:       c.Secure,
			SameSite:     c.SameSite,
			IsThirdParty: IsThirdParty(c.Domain, host),
		}
		if info.IsThirdParty {
			jar.ThirdParty++
		}
		if info.Secure && info.HTTPOnly {
			jar.SecureCount++
		}
		jar.Details = append(jar.Details, info)
	}
	jar.Total = len(jar.Details)

	recs := []string{}
	if !rgpd.HasCookieBanner && jar.Total > 0 {
		recs = append(recs, "Add a cookie consent banner (GDPR)")
	}
	if !rgpd.HasPrivacyPolicy {
		recs = append(recs, "Publish a privacy policy")
	}
	if jar.ThirdParty > 0 && !rgpd.CookieConsentDetected {
		recs = append(recs, "Implement GDPR consent management for third-party cookies")
	}
	if jar.Total > 0 && jar.SecureCount < jar.Total {
		recs = append(recs, "Set the Secure and HttpOnly flags on all cookies")
	}
	return audit.PrivacyReport{RGPD: rgpd, Cookies: jar, Recommendations: recs}, nil
}

// IsThirdParty reports whether a cookie domain is neither host nor one of its parents.
func IsThirdParty(cookieDomain, host string) bool {
	d := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	h := strings.ToLower(host)
	if d == "" {
		return false
	}
	return d != h && !strings.HasSuffix(h, "."+d)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func anyContains(texts, words []string) bool {
	for _, t := range texts {
		if containsAny(t, words) {
			return true
		}
	}
	return false
}
