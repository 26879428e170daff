// -----------------------------------------------------------------------
// Page Fetcher - paced, retried page retrieval over http and browser
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// ErrBrowserDisabled is wrapped into render failures when no browser is configured
var ErrBrowserDisabled = errors.New("browser rendering is disabled")

// Service implements interfaces.PageFetcher. Every attempt waits for the
// source's pacing slot before it is sent.
type Service struct {
	http     *HTTPScraper
	renderer Renderer
	limiter  *RateLimiter
	retry    *RetryPolicy
	logger   arbor.ILogger
}

var _ interfaces.PageFetcher = (*Service)(nil)

// Option customises a fetcher Service
type Option func(*options)

type options struct {
	transport http.RoundTripper
	renderer  Renderer
}

// WithTransport replaces the HTTP transport used by the http strategy
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRenderer replaces the configured browser renderer
func WithRenderer(r Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// NewService creates the page fetcher from configuration
func NewService(fetcherCfg *common.FetcherConfig, browserCfg *common.BrowserConfig, logger arbor.ILogger, opts ...Option) (*Service, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	timeout := common.ParseDuration(fetcherCfg.RequestTimeout, 30*time.Second)
	delay := common.ParseDuration(fetcherCfg.RequestDelay, time.Second)

	renderer := o.renderer
	if renderer == nil && browserCfg != nil && browserCfg.Enabled {
		var err error
		renderer, err = NewRenderer(browserCfg.Engine, RendererConfig{
			PoolSize:           browserCfg.PoolSize,
			UserAgent:          fetcherCfg.UserAgent,
			Headless:           browserCfg.Headless,
			NoSandbox:          browserCfg.NoSandbox,
			JavaScriptWaitTime: common.ParseDuration(browserCfg.JavaScriptWaitTime, 3*time.Second),
			RemoteURL:          browserCfg.RemoteURL,
			Stealth:            browserCfg.Stealth,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	logger.Debug().
		Dur("timeout", timeout).
		Dur("default_delay", delay).
		Int("default_max_concurrent", fetcherCfg.MaxConcurrent).
		Bool("browser_enabled", renderer != nil).
		Msg("Page fetcher initialized")

	return &Service{
		http:     NewHTTPScraper(fetcherCfg.UserAgent, timeout, fetcherCfg.MaxBodySize, o.transport, logger),
		renderer: renderer,
		limiter:  NewRateLimiter(delay, fetcherCfg.MaxConcurrent),
		retry:    NewRetryPolicy(fetcherCfg.Retry),
		logger:   logger,
	}, nil
}

// Fetch retrieves one page with the requested strategy
func (s *Service) Fetch(ctx context.Context, req models.FetchRequest) (*models.PageResult, error) {
	if req.Strategy == "" {
		req.Strategy = models.FetchHTTP
	}
	if req.Strategy == models.FetchBrowser && s.renderer == nil {
		return nil, &models.FetchError{Kind: models.FetchRenderError, URL: req.URL, Err: ErrBrowserDisabled}
	}

	sourceID := req.SourceID
	if sourceID == "" {
		sourceID = req.URL
	}

	start := time.Now()
	result, err := s.retry.Execute(ctx, s.logger, func(ctx context.Context) (*models.PageResult, error) {
		release, err := s.limiter.Acquire(ctx, sourceID, req.Config.RequestDelay, req.Config.MaxConcurrent)
		if err != nil {
			return nil, err
		}
		defer release()

		if req.Strategy == models.FetchBrowser {
			return s.renderer.Render(ctx, req)
		}
		return s.http.Scrape(ctx, req)
	})
	if err != nil {
		s.logger.Debug().
			Str("url", req.URL).
			Str("strategy", string(req.Strategy)).
			Err(err).
			Msg("Fetch failed")
		return nil, err
	}

	s.logger.Debug().
		Str("url", req.URL).
		Str("strategy", string(req.Strategy)).
		Dur("duration", time.Since(start)).
		Msg("Fetch completed")
	return result, nil
}

// BrowserAvailable reports whether the browser strategy can be served
func (s *Service) BrowserAvailable() bool {
	return s.renderer != nil
}

// Close releases browser resources
func (s *Service) Close() error {
	if s.renderer == nil {
		return nil
	}
	return s.renderer.Close()
}
