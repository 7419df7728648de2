// Package security scores the security response headers of a site.
package security

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/JakeFAU/site-audit/internal/audit"
	collyfetcher "github.com/JakeFAU/site-audit/internal/fetcher/colly"
)

// Recommendations for missing headers. Only four headers produce one.
var recommendations = map[string]string{
	audit.HeaderCSP:             "Add a Content-Security-Policy header",
	audit.HeaderHSTS:            "Add a Strict-Transport-Security (HSTS) header",
	audit.HeaderFrameOptions:    "Add an X-Frame-Options header",
	audit.HeaderContentTypeOpts: "Add an X-Content-Type-Options header",
}

var recommendationOrder = []string{
	audit.HeaderCSP,
	audit.HeaderHSTS,
	audit.HeaderFrameOptions,
	audit.HeaderContentTypeOpts,
}

// Header issues HEAD requests.
type Header interface {
	Head(ctx context.Context, rawURL string) (collyfetcher.Page, error)
}

// Probe implements audit.SecurityProbe.
type Probe struct {
	fetcher Header
}

// New builds a Probe.
func New(fetcher Header) *Probe {
	return &Probe{fetcher: fetcher}
}

// Security sends HEAD https://domain and scores the response headers.
func (p *Probe) Security(ctx context.Context, domain string) (audit.Security, error) {
	page, err := p.fetcher.Head(ctx, "https://"+domain)
	if err != nil {
		return audit.Security{}, fmt.Errorf("head home page: %w", err)
	}
	final := page.URL
	if final == "" {
		final = page.RequestedURL
	}
	return Analyze(final, page.Headers), nil
}

// Analyze scores headers as round(present/6*100). finalURL decides the https flag.
func Analyze(finalURL string, headers http.Header) audit.Security {
	flags := make(map[string]bool, len(audit.SecurityHeaders))
	present := 0
	for _, name := range audit.SecurityHeaders {
		ok := headers.Get(name) != ""
		flags[name] = ok
		if ok {
			present++
		}
	}
	recs := []string{}
	for _, name := range recommendationOrder {
		if !flags[name] {
			recs = append(recs, recommendations[name])
		}
	}
	return audit.Security{
		HTTPS:           strings.HasPrefix(strings.ToLower(finalURL), "https://"),
		Headers:         flags,
		HeaderScore:     int(math.Round(float64(present) / float64(len(audit.SecurityHeaders)) * 100)),
		Recommendations: recs,
	}
}
