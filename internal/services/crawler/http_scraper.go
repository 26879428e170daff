package crawler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
)

// HTTPScraper fetches pages with a plain HTTP request. It cannot execute
// page scripts.
type HTTPScraper struct {
	base      *colly.Collector
	userAgent string
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewHTTPScraper creates the http strategy. The shared collector keeps no
// cookies so credentials never leak between web sources.
func NewHTTPScraper(userAgent string, timeout time.Duration, maxBodySize int64, transport http.RoundTripper, logger arbor.ILogger) *HTTPScraper {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	c.MaxBodySize = int(maxBodySize)
	c.DisableCookies()
	// Clones share one http.Client; each fetch is bounded by its context
	// deadline instead of the client's default 10s timeout.
	c.SetRequestTimeout(0)
	if transport != nil {
		c.WithTransport(transport)
	}

	return &HTTPScraper{
		base:      c,
		userAgent: userAgent,
		timeout:   timeout,
		logger:    logger,
	}
}

// Scrape performs one GET request for req.URL
func (s *HTTPScraper) Scrape(ctx context.Context, req models.FetchRequest) (*models.PageResult, error) {
	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := s.base.Clone()
	c.Context = fetchCtx

	headers := requestHeaders(req)
	c.OnRequest(func(r *colly.Request) {
		for name, value := range headers {
			r.Headers.Set(name, value)
		}
	})

	var result *models.PageResult
	c.OnResponse(func(r *colly.Response) {
		result = &models.PageResult{
			HTML:       string(r.Body),
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Strategy:   models.FetchHTTP,
		}
	})

	if err := c.Request(http.MethodGet, req.URL, nil, nil, nil); err != nil {
		return nil, classifyError(ctx, req.URL, err)
	}
	if result == nil {
		return nil, &models.FetchError{Kind: models.FetchNetworkError, URL: req.URL, Err: errors.New("no response received")}
	}
	if result.StatusCode >= 400 {
		return nil, &models.FetchError{Kind: models.FetchHTTPError, URL: req.URL, StatusCode: result.StatusCode}
	}

	s.logger.Debug().
		Str("url", req.URL).
		Int("status_code", result.StatusCode).
		Int("bytes", len(result.HTML)).
		Msg("HTTP fetch completed")

	return result, nil
}

// requestHeaders merges static source headers, the user agent and the
// pre-resolved credentials into one header set
func requestHeaders(req models.FetchRequest) map[string]string {
	headers := make(map[string]string, len(req.Config.Headers)+2)
	for name, value := range req.Config.Headers {
		headers[name] = value
	}
	if req.Config.UserAgent != "" {
		headers["User-Agent"] = req.Config.UserAgent
	}

	auth := req.Auth
	if auth == nil {
		return headers
	}
	switch auth.Type {
	case models.AuthTypeHeader:
		for name, value := range auth.Headers {
			headers[name] = value
		}
	case models.AuthTypeBasic:
		credentials := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers["Authorization"] = "Basic " + credentials
	case models.AuthTypeCookie:
		pairs := make([]string, 0, len(auth.Cookies))
		for _, cookie := range auth.Cookies {
			pairs = append(pairs, (&http.Cookie{Name: cookie.Name, Value: cookie.Value}).String())
		}
		if len(pairs) > 0 {
			headers["Cookie"] = strings.Join(pairs, "; ")
		}
	}
	return headers
}

// classifyError maps transport errors onto the fetch failure taxonomy.
// Cancellation of the caller's context is returned unchanged.
func classifyError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var fetchErr *models.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &models.FetchError{Kind: models.FetchTimeoutError, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &models.FetchError{Kind: models.FetchTimeoutError, URL: rawURL, Err: err}
	}
	return &models.FetchError{Kind: models.FetchNetworkError, URL: rawURL, Err: fmt.Errorf("request failed: %w", err)}
}
