// Package report renders audit results as HTML and prints them to PDF.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// Paper formats.
const (
	FormatA4     = "A4"
	FormatLetter = "Letter"
)

// DefaultMaxBytes caps the size of a generated PDF.
const DefaultMaxBytes = 10 << 20

// ErrTooLarge is returned when the printed PDF exceeds the configured cap.
var ErrTooLarge = errors.New("pdf exceeds size limit")

//go:embed report.html.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"grade":   grade,
	"check":   check,
	"join":    strings.Join,
	"seconds": func(ms int64) int64 { return (ms + 500) / 1000 },
	"pair":    func(label string, value int) scoreView { return scoreView{Label: label, Value: value} },
}).Parse(reportTemplate))

type scoreView struct {
	Label string
	Value int
}

// paper sizes in inches.
var papers = map[string][2]float64{
	FormatA4:     {8.27, 11.69},
	FormatLetter: {8.5, 11},
}

// Margin holds CSS lengths such as "20mm", "1in", "2cm" or "48px".
type Margin struct {
	Top    string `json:"top"`
	Right  string `json:"right"`
	Bottom string `json:"bottom"`
	Left   string `json:"left"`
}

// Options tune the rendered report.
type Options struct {
	Format                 string `json:"format"`
	IncludeDetails         bool   `json:"includeDetails"`
	IncludeRecommendations bool   `json:"includeRecommendations"`
	Margin                 Margin `json:"margin"`
}

// DefaultOptions returns A4 with details, recommendations and 20/15mm margins.
func DefaultOptions() Options {
	return Options{
		Format:                 FormatA4,
		IncludeDetails:         true,
		IncludeRecommendations: true,
		Margin:                 Margin{Top: "20mm", Right: "15mm", Bottom: "20mm", Left: "15mm"},
	}
}

// Printer prints HTML to PDF.
type Printer interface {
	PrintPDF(ctx context.Context, html string, params *page.PrintToPDFParams) ([]byte, error)
}

// Config controls the renderer.
type Config struct {
	MaxBytes int
	SiteURL  string
}

// Renderer produces HTML and PDF reports.
type Renderer struct {
	cfg     Config
	printer Printer
}

// New builds a Renderer.
func New(cfg Config, printer Printer) (*Renderer, error) {
	if printer == nil {
		return nil, errors.New("printer is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Renderer{cfg: cfg, printer: printer}, nil
}

type view struct {
	Domain          string
	GeneratedAt     time.Time
	Result          audit.Result
	Options         Options
	Headers         []string
	Recommendations []string
	SiteURL         string
}

// HTML renders the report document.
func (r *Renderer) HTML(domain string, result audit.Result, opts Options, generatedAt time.Time) (string, error) {
	recs := append([]string(nil), result.Recommendations...)
	if result.SEOAdvanced != nil && opts.IncludeDetails {
		recs = append(recs, result.SEOAdvanced.Recommendations...)
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, view{
		Domain:          domain,
		GeneratedAt:     generatedAt,
		Result:          result,
		Options:         opts,
		Headers:         audit.SecurityHeaders,
		Recommendations: recs,
		SiteURL:         r.cfg.SiteURL,
	})
	if err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return buf.String(), nil
}

// PDF renders and prints the report. ctx bounds the whole operation.
func (r *Renderer) PDF(ctx context.Context, domain string, result audit.Result, opts Options, generatedAt time.Time) ([]byte, error) {
	params, err := PrintParams(opts)
	if err != nil {
		metrics.ObservePDF("failed")
		return nil, err
	}
	html, err := r.HTML(domain, result, opts, generatedAt)
	if err != nil {
		metrics.ObservePDF("failed")
		return nil, err
	}
	pdf, err := r.printer.PrintPDF(ctx, html, params)
	if err != nil {
		metrics.ObservePDF("failed")
		return nil, fmt.Errorf("print report: %w", err)
	}
	if len(pdf) > r.cfg.MaxBytes {
		metrics.ObservePDF("oversized")
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(pdf), r.cfg.MaxBytes)
	}
	metrics.ObservePDF("generated")
	return pdf, nil
}

// PrintParams converts options into CDP print parameters.
func PrintParams(opts Options) (*page.PrintToPDFParams, error) {
	format := opts.Format
	if format == "" {
		format = FormatA4
	}
	size, ok := papers[format]
	if !ok {
		return nil, fmt.Errorf("unsupported paper format %q", opts.Format)
	}
	defaults := DefaultOptions().Margin
	var margins [4]float64
	for i, raw := range []struct{ value, fallback string }{
		{opts.Margin.Top, defaults.Top},
		{opts.Margin.Right, defaults.Right},
		{opts.Margin.Bottom, defaults.Bottom},
		{opts.Margin.Left, defaults.Left},
	} {
		v := raw.value
		if strings.TrimSpace(v) == "" {
			v = raw.fallback
		}
		inches, err := ToInches(v)
		if err != nil {
			return nil, err
		}
		margins[i] = inches
	}
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(size[0]).
		WithPaperHeight(size[1]).
		WithMarginTop(margins[0]).
		WithMarginRight(margins[1]).
		WithMarginBottom(margins[2]).
		WithMarginLeft(margins[3]), nil
}

var unitsPerInch = map[string]float64{
	"mm": 25.4,
	"cm": 2.54,
	"in": 1,
	"px": 96,
}

// ToInches parses a CSS length in mm, cm, in or px. A bare number is read as px.
func ToInches(raw string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	unit := "px"
	for u := range unitsPerInch {
		if strings.HasSuffix(s, u) {
			unit = u
			s = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1000 {
		return 0, fmt.Errorf("invalid margin %q", raw)
	}
	return v / unitsPerInch[unit], nil
}

// Filename is the download name of a report: audit-<domain>-<unix ms>.pdf.
func Filename(domain string, at time.Time) string {
	return fmt.Sprintf("audit-%s-%d.pdf", domain, at.UnixMilli())
}

// AttachmentName is the email attachment name: audit-<domain>-<YYYY-MM-DD>.pdf.
func AttachmentName(domain string, at time.Time) string {
	return fmt.Sprintf("audit-%s-%s.pdf", domain, at.UTC().Format(time.DateOnly))
}

func grade(score int) string {
	switch {
	case score >= 80:
		return "good"
	case score >= 60:
		return "average"
	default:
		return "poor"
	}
}

func check(ok bool) template.HTML {
	if ok {
		return `<span class="ok">&#10003; Present</span>`
	}
	return `<span class="ko">&#10007; Missing</span>`
}
