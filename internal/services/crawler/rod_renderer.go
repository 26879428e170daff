package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
)

const navigationStatusJS = `() => {
	const entries = performance.getEntriesByType('navigation');
	if (entries.length === 0 || !entries[0].responseStatus) {
		return 0;
	}
	return entries[0].responseStatus;
}`

const scrollBottomJS = `() => { window.scrollTo(0, document.body.scrollHeight); return document.body.scrollHeight; }`

// RodRenderer renders pages with go-rod. Browsers are launched on demand up
// to the pool size and reused across renders.
type RodRenderer struct {
	pool      rod.Pool[rod.Browser]
	launchers []*launcher.Launcher
	mu        sync.Mutex
	config    RendererConfig
	logger    arbor.ILogger
}

// NewRodRenderer creates a rod renderer
func NewRodRenderer(config RendererConfig, logger arbor.ILogger) *RodRenderer {
	if config.PoolSize <= 0 {
		config.PoolSize = 1
	}
	return &RodRenderer{
		pool:   rod.NewBrowserPool(config.PoolSize),
		config: config,
		logger: logger,
	}
}

func (r *RodRenderer) createBrowser() (*rod.Browser, error) {
	controlURL := r.config.RemoteURL
	if controlURL == "" {
		l := launcher.New().
			Headless(r.config.Headless).
			NoSandbox(r.config.NoSandbox).
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		r.mu.Lock()
		r.launchers = append(r.launchers, l)
		r.mu.Unlock()
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.logger.Debug().Bool("remote", r.config.RemoteURL != "").Msg("Rod browser connected")
	return browser, nil
}

func (r *RodRenderer) newPage(browser *rod.Browser) (*rod.Page, error) {
	if r.config.Stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{})
}

// Render opens the URL in a new page and returns the rendered document
func (r *RodRenderer) Render(ctx context.Context, req models.FetchRequest) (*models.PageResult, error) {
	browser, err := r.pool.Get(r.createBrowser)
	if err != nil {
		r.pool.Put(nil)
		return nil, &models.FetchError{Kind: models.FetchRenderError, URL: req.URL, Err: err}
	}
	defer r.pool.Put(browser)

	page, err := r.newPage(browser)
	if err != nil {
		return nil, &models.FetchError{Kind: models.FetchRenderError, URL: req.URL, Err: fmt.Errorf("failed to open page: %w", err)}
	}
	defer page.Close()

	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	page = page.Context(ctx).Timeout(timeout)

	userAgent := r.config.UserAgent
	var extra []string
	for name, value := range requestHeaders(req) {
		switch {
		case strings.EqualFold(name, "User-Agent"):
			userAgent = value
		case strings.EqualFold(name, "Cookie"):
		default:
			extra = append(extra, name, value)
		}
	}
	if userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			return nil, renderError(ctx, req.URL, err)
		}
	}
	if len(extra) > 0 {
		cleanup, err := page.SetExtraHeaders(extra)
		if err != nil {
			return nil, renderError(ctx, req.URL, err)
		}
		defer cleanup()
	}
	if req.Auth != nil && req.Auth.Type == models.AuthTypeCookie && len(req.Auth.Cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(req.Auth.Cookies))
		for _, cookie := range req.Auth.Cookies {
			params = append(params, &proto.NetworkCookieParam{
				Name:   cookie.Name,
				Value:  cookie.Value,
				URL:    req.URL,
				Domain: cookie.Domain,
				Path:   cookie.Path,
			})
		}
		if err := page.SetCookies(params); err != nil {
			return nil, renderError(ctx, req.URL, err)
		}
	}

	if err := page.Navigate(req.URL); err != nil {
		return nil, renderError(ctx, req.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, renderError(ctx, req.URL, err)
	}

	wait := req.Config.JavaScriptWait
	if wait <= 0 {
		wait = r.config.JavaScriptWaitTime
	}
	if req.Config.WaitSelector != "" {
		if _, err := page.Element(req.Config.WaitSelector); err != nil {
			return nil, renderError(ctx, req.URL, fmt.Errorf("wait selector %q: %w", req.Config.WaitSelector, err))
		}
	}
	if wait > 0 {
		if err := page.WaitStable(wait); err != nil {
			r.logger.Debug().Err(err).Str("url", req.URL).Msg("Page did not settle, reading current DOM")
		}
	}
	for i := 0; i < req.ScrollSteps; i++ {
		if _, err := page.Eval(scrollBottomJS); err != nil {
			return nil, renderError(ctx, req.URL, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(scrollPause(wait)):
		}
	}

	status := 200
	if res, err := page.Eval(navigationStatusJS); err == nil && res.Value.Int() > 0 {
		status = res.Value.Int()
	}
	if status >= 400 {
		return nil, &models.FetchError{Kind: models.FetchHTTPError, URL: req.URL, StatusCode: status}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, renderError(ctx, req.URL, err)
	}

	finalURL := req.URL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	r.logger.Debug().
		Str("url", req.URL).
		Int("status_code", status).
		Int("bytes", len(html)).
		Msg("Browser render completed")

	return &models.PageResult{
		HTML:       html,
		FinalURL:   finalURL,
		StatusCode: status,
		Strategy:   models.FetchBrowser,
	}, nil
}

// Close closes pooled browsers and kills launched processes
func (r *RodRenderer) Close() error {
	r.pool.Cleanup(func(b *rod.Browser) {
		_ = b.Close()
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.launchers {
		l.Kill()
		l.Cleanup()
	}
	r.launchers = nil
	return nil
}

// NewRenderer creates the browser renderer for the configured engine
func NewRenderer(engine string, config RendererConfig, logger arbor.ILogger) (Renderer, error) {
	switch strings.ToLower(engine) {
	case "", "chromedp":
		return NewChromeDPPool(config, logger), nil
	case "rod":
		return NewRodRenderer(config, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}
