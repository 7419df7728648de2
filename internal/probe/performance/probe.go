// Package performance scores page speed and page quality from a rendered load.
package performance

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/browser"
)

//go:embed snapshot.js
var snapshotScript string

// Loader renders a page in a browser.
type Loader interface {
	Load(ctx context.Context, url string, opts browser.Options) (browser.Page, error)
}

// Snapshot is the data collected in the page after load.
type Snapshot struct {
	TTFB             float64 `json:"ttfb"`
	DOMContentLoaded float64 `json:"domContentLoaded"`
	Load             float64 `json:"load"`
	FCP              float64 `json:"fcp"`
	LCP              float64 `json:"lcp"`
	CLS              float64 `json:"cls"`
	TransferBytes    float64 `json:"transferBytes"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	HasViewport      bool    `json:"hasViewport"`
	Lang             string  `json:"lang"`
	HasDoctype       bool    `json:"hasDoctype"`
	Charset          string  `json:"charset"`
	HTTPS            bool    `json:"https"`
	MixedContent     int     `json:"mixedContent"`
	Images           int     `json:"images"`
	ImagesWithAlt    int     `json:"imagesWithAlt"`
	Inputs           int     `json:"inputs"`
	InputsLabelled   int     `json:"inputsLabelled"`
	Links            int     `json:"links"`
	LinksNamed       int     `json:"linksNamed"`
	Buttons          int     `json:"buttons"`
	ButtonsNamed     int     `json:"buttonsNamed"`
}

// Probe implements audit.PerformanceProbe.
type Probe struct {
	loader Loader
	logger *zap.Logger
}

// New builds a Probe.
func New(loader Loader, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{loader: loader, logger: logger.Named("performance")}
}

// Performance loads https://domain and scores the load. Navigation errors are returned.
func (p *Probe) Performance(ctx context.Context, domain string) (audit.PerformanceReport, error) {
	var snap Snapshot
	page, err := p.loader.Load(ctx, "https://"+domain, browser.Options{
		Script: snapshotScript,
		Result: &snap,
	})
	if err != nil {
		return audit.PerformanceReport{}, fmt.Errorf("load page: %w", err)
	}
	report := Score(snap, page.StatusCode)
	p.logger.Debug("performance scored",
		zap.String("domain", domain),
		zap.Int("status", page.StatusCode),
		zap.Int("performance", report.Scores.Performance),
		zap.Float64("lcp_ms", snap.LCP),
	)
	return report, nil
}
