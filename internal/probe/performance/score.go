package performance

import (
	"math"
	"strings"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// metric maps a timing onto 0..1: 1 up to good, 0.5 at poor, 0 at twice poor.
type metric struct {
	weight float64
	good   float64
	poor   float64
}

var (
	fcpMetric  = metric{weight: 0.15, good: 1800, poor: 3000}
	lcpMetric  = metric{weight: 0.35, good: 2500, poor: 4000}
	clsMetric  = metric{weight: 0.25, good: 0.1, poor: 0.25}
	ttfbMetric = metric{weight: 0.10, good: 800, poor: 1800}
	loadMetric = metric{weight: 0.15, good: 3000, poor: 6000}
)

func (m metric) score(v float64) float64 {
	switch {
	case v <= m.good:
		return 1
	case v <= m.poor:
		return 1 - 0.5*(v-m.good)/(m.poor-m.good)
	case v < 2*m.poor:
		return 0.5 - 0.5*(v-m.poor)/m.poor
	default:
		return 0
	}
}

// Score turns a snapshot into category scores in 0..100.
func Score(s Snapshot, status int) audit.PerformanceReport {
	perf := fcpMetric.weight*fcpMetric.score(s.FCP) +
		lcpMetric.weight*lcpMetric.score(s.LCP) +
		clsMetric.weight*clsMetric.score(s.CLS) +
		ttfbMetric.weight*ttfbMetric.score(s.TTFB) +
		loadMetric.weight*loadMetric.score(s.Load)

	allAlt := s.ImagesWithAlt >= s.Images
	allLinksNamed := s.LinksNamed >= s.Links
	hasTitle := strings.TrimSpace(s.Title) != ""
	hasLang := strings.TrimSpace(s.Lang) != ""

	seo := share(
		hasTitle,
		strings.TrimSpace(s.Description) != "",
		s.HasViewport,
		hasLang,
		allLinksNamed,
		allAlt,
		status > 0 && status < 400,
	)
	accessibility := share(
		allAlt,
		s.InputsLabelled >= s.Inputs,
		allLinksNamed,
		s.ButtonsNamed >= s.Buttons,
		hasLang,
		hasTitle,
	)
	bestPractices := share(
		s.HTTPS,
		s.MixedContent == 0,
		s.HasDoctype,
		strings.EqualFold(s.Charset, "utf-8"),
	)

	return audit.PerformanceReport{
		Scores: audit.Scores{
			Performance:   toPercent(perf),
			SEO:           seo,
			Accessibility: accessibility,
			BestPractices: bestPractices,
		},
		Stats: audit.PerformanceStats{
			TimeToFirstByteMs:        s.TTFB,
			FirstContentfulPaintMs:   s.FCP,
			LargestContentfulPaintMs: s.LCP,
			CumulativeLayoutShift:    s.CLS,
			LoadMs:                   s.Load,
			TransferBytes:            s.TransferBytes,
		},
	}
}

func share(checks ...bool) int {
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return toPercent(float64(passed) / float64(len(checks)))
}

func toPercent(ratio float64) int {
	v := int(math.Round(ratio * 100))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
