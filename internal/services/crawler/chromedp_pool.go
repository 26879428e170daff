package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
)

// Renderer renders a page in a headless browser
type Renderer interface {
	Render(ctx context.Context, req models.FetchRequest) (*models.PageResult, error)
	Close() error
}

// RendererConfig holds the settings shared by browser engines
type RendererConfig struct {
	PoolSize           int
	UserAgent          string
	Headless           bool
	NoSandbox          bool
	JavaScriptWaitTime time.Duration
	StartupTimeout     time.Duration
	RemoteURL          string
	Stealth            bool
}

// ChromeDPPool manages a pool of ChromeDP browser contexts. Instances are
// started on first use and handed out round-robin; each render runs in its
// own tab.
type ChromeDPPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	currentIndex     int
	config           RendererConfig
	logger           arbor.ILogger
	initialized      bool
}

// NewChromeDPPool creates a ChromeDP renderer
func NewChromeDPPool(config RendererConfig, logger arbor.ILogger) *ChromeDPPool {
	if config.PoolSize <= 0 {
		config.PoolSize = 1
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	return &ChromeDPPool{
		config: config,
		logger: logger,
	}
}

// init starts the browser instances (must be called with mutex held)
func (p *ChromeDPPool) init() error {
	if p.initialized {
		return nil
	}

	p.logger.Info().
		Int("pool_size", p.config.PoolSize).
		Bool("headless", p.config.Headless).
		Dur("js_wait_time", p.config.JavaScriptWaitTime).
		Msg("Initializing ChromeDP browser pool")

	var lastErr error
	for i := 0; i < p.config.PoolSize; i++ {
		if err := p.createBrowserInstance(i); err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Int("browser_index", i).Msg("Failed to create browser instance")
		}
	}

	if len(p.browsers) == 0 {
		return fmt.Errorf("failed to create any browser instances: %w", lastErr)
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_created", len(p.browsers)).
		Int("requested", p.config.PoolSize).
		Msg("ChromeDP browser pool initialized")
	return nil
}

// createBrowserInstance starts one browser and checks it responds
func (p *ChromeDPPool) createBrowserInstance(index int) error {
	startTime := time.Now()

	var allocatorCtx context.Context
	var allocatorCancel context.CancelFunc
	if p.config.RemoteURL != "" {
		allocatorCtx, allocatorCancel = chromedp.NewRemoteAllocator(context.Background(), p.config.RemoteURL)
	} else {
		allocatorOpts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", p.config.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", p.config.NoSandbox),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent(p.config.UserAgent),
		)
		allocatorCtx, allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, p.config.StartupTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created")
	return nil
}

// getBrowser returns a browser context using round-robin allocation
func (p *ChromeDPPool) getBrowser() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.init(); err != nil {
		return nil, err
	}
	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)
	return p.browsers[index], nil
}

// Render opens the URL in a new tab, injects credentials, waits for scripts
// and returns the rendered document
func (p *ChromeDPPool) Render(ctx context.Context, req models.FetchRequest) (*models.PageResult, error) {
	browserCtx, err := p.getBrowser()
	if err != nil {
		return nil, &models.FetchError{Kind: models.FetchRenderError, URL: req.URL, Err: err}
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	// The tab must also stop when the caller's context ends
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	defer timeoutCancel()

	if err := chromedp.Run(tabCtx, network.Enable(), p.authActions(req)); err != nil {
		return nil, renderError(ctx, req.URL, fmt.Errorf("failed to prepare tab: %w", err))
	}

	response, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(req.URL))
	if err != nil {
		return nil, renderError(ctx, req.URL, err)
	}

	wait := req.Config.JavaScriptWait
	if wait <= 0 {
		wait = p.config.JavaScriptWaitTime
	}

	actions := []chromedp.Action{}
	if req.Config.WaitSelector != "" {
		actions = append(actions, chromedp.WaitReady(req.Config.WaitSelector, chromedp.ByQuery))
	}
	if wait > 0 {
		actions = append(actions, chromedp.Sleep(wait))
	}
	for i := 0; i < req.ScrollSteps; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(scrollPause(wait)),
		)
	}

	var html, location string
	actions = append(actions, chromedp.OuterHTML("html", &html), chromedp.Location(&location))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, renderError(ctx, req.URL, err)
	}

	status := 200
	if response != nil && response.Status > 0 {
		status = int(response.Status)
	}
	if status >= 400 {
		return nil, &models.FetchError{Kind: models.FetchHTTPError, URL: req.URL, StatusCode: status}
	}

	p.logger.Debug().
		Str("url", req.URL).
		Int("status_code", status).
		Int("bytes", len(html)).
		Msg("Browser render completed")

	return &models.PageResult{
		HTML:       html,
		FinalURL:   location,
		StatusCode: status,
		Strategy:   models.FetchBrowser,
	}, nil
}

// authActions injects headers and cookies into the tab before navigation
func (p *ChromeDPPool) authActions(req models.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		headers := network.Headers{}
		for name, value := range requestHeaders(req) {
			if strings.EqualFold(name, "Cookie") {
				continue
			}
			headers[name] = value
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("failed to set headers: %w", err)
			}
		}

		if req.Auth == nil || req.Auth.Type != models.AuthTypeCookie {
			return nil
		}
		for _, cookie := range req.Auth.Cookies {
			params := network.SetCookie(cookie.Name, cookie.Value).WithURL(req.URL)
			if cookie.Domain != "" {
				params = params.WithDomain(cookie.Domain)
			}
			if cookie.Path != "" {
				params = params.WithPath(cookie.Path)
			}
			if err := params.Do(ctx); err != nil {
				p.logger.Warn().Err(err).Str("cookie_name", cookie.Name).Msg("Failed to inject cookie into browser")
			}
		}
		return nil
	})
}

// Close shuts down all browser instances
func (p *ChromeDPPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	for _, cancel := range p.browserCancels {
		cancel()
	}
	for _, cancel := range p.allocatorCancels {
		cancel()
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.initialized = false

	p.logger.Info().Msg("ChromeDP browser pool shut down")
	return nil
}

func scrollPause(wait time.Duration) time.Duration {
	if wait > 0 && wait < time.Second {
		return wait
	}
	return time.Second
}

// renderError maps browser failures onto the fetch failure taxonomy
func renderError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if strings.Contains(err.Error(), "deadline exceeded") {
		return &models.FetchError{Kind: models.FetchTimeoutError, URL: rawURL, Err: err}
	}
	if strings.Contains(err.Error(), "net::ERR_") {
		return &models.FetchError{Kind: models.FetchNetworkError, URL: rawURL, Err: err}
	}
	return &models.FetchError{Kind: models.FetchRenderError, URL: rawURL, Err: err}
}
