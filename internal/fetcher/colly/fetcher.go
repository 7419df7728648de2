// Package collyfetcher performs the lightweight HTTP requests of the probes using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 5 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Waiter delays outbound requests to the same host.
type Waiter interface {
	Wait(ctx context.Context, host string) error
}

// Page is the outcome of one request.
type Page struct {
	RequestedURL string
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
}

// OK reports whether the response status is 2xx.
func (p Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Redirected reports whether the final URL differs from the requested one.
func (p Page) Redirected() bool {
	return p.URL != "" && p.URL != p.RequestedURL
}

// Fetcher issues GET and HEAD requests through cloned colly collectors.
type Fetcher struct {
	cfg           Config
	waiter        Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. waiter may be nil.
func New(cfg Config, waiter Waiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, waiter: waiter, baseCollector: c}
}

// Get fetches rawURL and returns the body. Non-2xx responses are returned, not treated
// as errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (Page, error) {
	return f.do(ctx, http.MethodGet, rawURL)
}

// Head fetches only the headers of rawURL.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (Page, error) {
	return f.do(ctx, http.MethodHead, rawURL)
}

// Exists reports whether rawURL answers HEAD with a 2xx status. Transport errors count as
// absent.
func (f *Fetcher) Exists(ctx context.Context, rawURL string) bool {
	page, err := f.Head(ctx, rawURL)
	return err == nil && page.OK()
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Page{}, fmt.Errorf("parse url %q: invalid", rawURL)
	}
	if f.waiter != nil {
		if err := f.waiter.Wait(ctx, u.Hostname()); err != nil {
			return Page{}, fmt.Errorf("wait for %s: %w", u.Hostname(), err)
		}
	}

	var (
		page     = Page{RequestedURL: rawURL}
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, time.Now(), &page, &fetchErr)

	visit := func() error { return collector.Visit(rawURL) }
	if method == http.MethodHead {
		visit = func() error { return collector.Head(rawURL) }
	}
	if err := f.runCollector(ctx, visit, &fetchErr); err != nil {
		return Page{}, err
	}
	if page.StatusCode == 0 {
		return Page{}, errors.New("colly returned no response")
	}
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *Page,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		page.URL = r.Request.URL.String()
		page.StatusCode = r.StatusCode
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
		} else {
			page.Headers = http.Header{}
		}
		page.Body = append([]byte(nil), r.Body...)
		page.Duration = time.Since(start)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, visit func() error, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
