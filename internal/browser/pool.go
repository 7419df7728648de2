// Package browser leases headless Chrome tabs to the probes and the PDF renderer.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// ErrClosed is returned when the pool has been shut down.
var ErrClosed = errors.New("browser pool closed")

// Config controls the pool.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ExecPath          string
	NoSandbox         bool
}

// Pool bounds the number of concurrent tabs on a shared Chrome process.
type Pool struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a pool. Chrome is started lazily with the first tab.
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Pool{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("browser"),
	}, nil
}

// Close stops Chrome. Tabs still open are cancelled.
func (p *Pool) Close() {
	p.allocCancel()
}

// Cookie is a cookie present in the browser after loading a page.
type Cookie struct {
	Name     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// Options selects what Load collects besides the document.
type Options struct {
	// Cookies reads the cookie jar after load.
	Cookies bool
	// Script is evaluated after load; a returned promise is awaited. The value is decoded
	// into Result, which must be a pointer.
	Script string
	Result any
	// Settle is the pause after the body is ready, letting late scripts run.
	Settle time.Duration
}

// Page is the rendered state of a loaded URL.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	HTML       string
	Cookies    []Cookie
	Duration   time.Duration
}

// Load opens url in a fresh tab and returns the rendered document. The tab is released
// on every exit path.
func (p *Pool) Load(ctx context.Context, url string, opts Options) (Page, error) {
	tabCtx, done, err := p.tab(ctx)
	if err != nil {
		return Page{}, err
	}
	defer done()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	settle := opts.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	var (
		html     string
		finalURL string
		cookies  []*network.Cookie
	)
	start := time.Now()
	actions := []chromedp.Action{
		p.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if opts.Script != "" {
		actions = append(actions, chromedp.Evaluate(opts.Script, opts.Result, awaitPromise))
	}
	if opts.Cookies {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("get cookies: %w", err)
			}
			return nil
		}))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return Page{}, fmt.Errorf("load %s: %w", url, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return Page{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		HTML:       html,
		Cookies:    toCookies(cookies),
		Duration:   time.Since(start),
	}, nil
}

// PrintPDF renders html in a blank tab and prints it with params.
func (p *Pool) PrintPDF(ctx context.Context, html string, params *page.PrintToPDFParams) ([]byte, error) {
	tabCtx, done, err := p.tab(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
				return fmt.Errorf("set document content: %w", err)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := params.Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return pdf, nil
}

// tab leases a slot and opens a tab bounded by the navigation timeout. Cancelling ctx
// closes the tab.
func (p *Pool) tab(ctx context.Context) (context.Context, func(), error) {
	if p.allocator.Err() != nil {
		return nil, nil, ErrClosed
	}
	if err := p.acquire(ctx); err != nil {
		return nil, nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(p.allocator)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, p.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, timeoutCancel)

	done := func() {
		stop()
		timeoutCancel()
		tabCancel()
		p.release()
	}
	return tabCtx, done, nil
}

func (p *Pool) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (p *Pool) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

func awaitPromise(params *runtime.EvaluateParams) *runtime.EvaluateParams {
	return params.WithAwaitPromise(true)
}

func toCookies(src []*network.Cookie) []Cookie {
	if len(src) == 0 {
		return nil
	}
	out := make([]Cookie, 0, len(src))
	for _, c := range src {
		if c == nil {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}
