package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/models"
)

func testFetcherConfig() *common.FetcherConfig {
	return &common.FetcherConfig{
		UserAgent:      "quarry-test/1.0",
		RequestTimeout: "5s",
		RequestDelay:   "1ms",
		MaxConcurrent:  4,
		MaxBodySize:    1 << 20,
		Retry: common.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    "1ms",
			MaxBackoff:        "5ms",
			BackoffMultiplier: 2,
		},
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(testFetcherConfig(), &common.BrowserConfig{Enabled: false}, arbor.NewLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type fakeRenderer struct {
	mu       sync.Mutex
	requests []models.FetchRequest
	html     string
	err      error
}

func (f *fakeRenderer) Render(ctx context.Context, req models.FetchRequest) (*models.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.PageResult{HTML: f.html, FinalURL: req.URL, StatusCode: 200, Strategy: models.FetchBrowser}, nil
}

func (f *fakeRenderer) Close() error { return nil }

func TestFetch_HTTPReturnsBodyAndFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/listing", http.StatusFound)
	})
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>ok</p></body></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := newTestService(t)
	result, err := svc.Fetch(context.Background(), models.FetchRequest{
		SourceID: "src_1",
		URL:      server.URL + "/start",
		Strategy: models.FetchHTTP,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, server.URL+"/listing", result.FinalURL)
	assert.Contains(t, result.HTML, "<p>ok</p>")
	assert.Equal(t, models.FetchHTTP, result.Strategy)
}

func TestFetch_AppliesHeadersAndCredentials(t *testing.T) {
	var mu sync.Mutex
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Clone()
		mu.Unlock()
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	svc := newTestService(t)

	tests := []struct {
		name   string
		config models.ScraperConfig
		auth   *models.AuthConfig
		check  func(t *testing.T, h http.Header)
	}{
		{
			name: "default user agent",
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "quarry-test/1.0", h.Get("User-Agent"))
			},
		},
		{
			name:   "source headers and user agent override",
			config: models.ScraperConfig{UserAgent: "custom-agent", Headers: map[string]string{"Accept-Language": "en-AU"}},
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "custom-agent", h.Get("User-Agent"))
				assert.Equal(t, "en-AU", h.Get("Accept-Language"))
			},
		},
		{
			name: "header auth",
			auth: &models.AuthConfig{Type: models.AuthTypeHeader, Headers: map[string]string{"X-Api-Key": "secret"}},
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "secret", h.Get("X-Api-Key"))
			},
		},
		{
			name: "basic auth",
			auth: &models.AuthConfig{Type: models.AuthTypeBasic, Username: "alice", Password: "pw"},
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "Basic YWxpY2U6cHc=", h.Get("Authorization"))
			},
		},
		{
			name: "cookie auth",
			auth: &models.AuthConfig{Type: models.AuthTypeCookie, Cookies: []models.Cookie{
				{Name: "session", Value: "abc"},
				{Name: "region", Value: "au"},
			}},
			check: func(t *testing.T, h http.Header) {
				assert.Equal(t, "session=abc; region=au", h.Get("Cookie"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Fetch(context.Background(), models.FetchRequest{
				SourceID: "src_headers",
				URL:      server.URL,
				Config:   tt.config,
				Auth:     tt.auth,
			})
			require.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			tt.check(t, got)
		})
	}
}

func TestFetch_CredentialsDoNotLeakBetweenRequests(t *testing.T) {
	var mu sync.Mutex
	var cookies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cookies = append(cookies, r.Header.Get("Cookie"))
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "tracker", Value: "1"})
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	svc := newTestService(t)
	_, err := svc.Fetch(context.Background(), models.FetchRequest{
		SourceID: "a",
		URL:      server.URL,
		Auth:     &models.AuthConfig{Type: models.AuthTypeCookie, Cookies: []models.Cookie{{Name: "session", Value: "abc"}}},
	})
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), models.FetchRequest{SourceID: "b", URL: server.URL})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, cookies, 2)
	assert.Equal(t, "session=abc", cookies[0])
	assert.Empty(t, cookies[1])
}

func TestFetch_StatusFailures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int32
		wantRetry    bool
	}{
		{name: "not found is permanent", status: http.StatusNotFound, wantAttempts: 1},
		{name: "forbidden is permanent", status: http.StatusForbidden, wantAttempts: 1},
		{name: "server error is retried", status: http.StatusServiceUnavailable, wantAttempts: 3, wantRetry: true},
		{name: "rate limited is retried", status: http.StatusTooManyRequests, wantAttempts: 3, wantRetry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			svc := newTestService(t)
			_, err := svc.Fetch(context.Background(), models.FetchRequest{SourceID: "src", URL: server.URL})
			require.Error(t, err)

			var fetchErr *models.FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, models.FetchHTTPError, fetchErr.Kind)
			assert.Equal(t, tt.status, fetchErr.StatusCode)
			assert.Equal(t, tt.wantRetry, fetchErr.Retryable())
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestFetch_RetryRecovers(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<html>third time</html>"))
	}))
	defer server.Close()

	svc := newTestService(t)
	result, err := svc.Fetch(context.Background(), models.FetchRequest{SourceID: "src", URL: server.URL})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "third time")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testFetcherConfig()
	cfg.Retry.MaxAttempts = 1
	svc, err := NewService(cfg, nil, arbor.NewLogger())
	require.NoError(t, err)

	_, err = svc.Fetch(context.Background(), models.FetchRequest{
		SourceID: "slow",
		URL:      server.URL,
		Config:   models.ScraperConfig{Timeout: 50 * time.Millisecond},
	})
	var fetchErr *models.FetchError
	require.True(t, errors.As(err, &fetchErr), "got %v", err)
	assert.Equal(t, models.FetchTimeoutError, fetchErr.Kind)
}

func TestFetch_SourceTimeoutAboveClientDefault(t *testing.T) {
	if testing.Short() {
		t.Skip("slow: waits past the collector's default client timeout")
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(11 * time.Second):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("<html><body>late</body></html>"))
	}))
	defer server.Close()

	cfg := testFetcherConfig()
	cfg.RequestTimeout = "30s"
	cfg.Retry.MaxAttempts = 1
	svc, err := NewService(cfg, nil, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	result, err := svc.Fetch(context.Background(), models.FetchRequest{
		SourceID: "slow-but-allowed",
		URL:      server.URL,
		Config:   models.ScraperConfig{Timeout: 20 * time.Second},
	})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "late")
}

func TestFetch_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Fetch(ctx, models.FetchRequest{SourceID: "src", URL: server.URL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_BrowserStrategy(t *testing.T) {
	t.Run("disabled browser is a render failure", func(t *testing.T) {
		svc := newTestService(t)
		_, err := svc.Fetch(context.Background(), models.FetchRequest{URL: "http://example.test", Strategy: models.FetchBrowser})

		var fetchErr *models.FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, models.FetchRenderError, fetchErr.Kind)
		assert.ErrorIs(t, err, ErrBrowserDisabled)
		assert.False(t, svc.BrowserAvailable())
	})

	t.Run("renderer receives the full request", func(t *testing.T) {
		renderer := &fakeRenderer{html: "<html>rendered</html>"}
		svc := newTestService(t, WithRenderer(renderer))
		req := models.FetchRequest{
			SourceID:    "src",
			URL:         "http://example.test/list",
			Strategy:    models.FetchBrowser,
			ScrollSteps: 2,
			Auth:        &models.AuthConfig{Type: models.AuthTypeCookie, Cookies: []models.Cookie{{Name: "s", Value: "1"}}},
		}
		result, err := svc.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "<html>rendered</html>", result.HTML)
		assert.Equal(t, models.FetchBrowser, result.Strategy)
		require.Len(t, renderer.requests, 1)
		assert.Equal(t, 2, renderer.requests[0].ScrollSteps)
		assert.Equal(t, "s", renderer.requests[0].Auth.Cookies[0].Name)
	})

	t.Run("render failures are not retried", func(t *testing.T) {
		renderer := &fakeRenderer{err: &models.FetchError{Kind: models.FetchRenderError, URL: "x", Err: errors.New("crashed")}}
		svc := newTestService(t, WithRenderer(renderer))
		_, err := svc.Fetch(context.Background(), models.FetchRequest{URL: "x", Strategy: models.FetchBrowser})
		require.Error(t, err)
		assert.Len(t, renderer.requests, 1)
	})
}

func TestRateLimiter_EnforcesDelay(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	ctx := context.Background()
	delay := 40 * time.Millisecond

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := rl.Acquire(ctx, "src", delay, 1)
		require.NoError(t, err)
		release()
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-5*time.Millisecond)
	assert.Equal(t, delay, rl.SourceDelay("src"))
	assert.Equal(t, time.Duration(0), rl.SourceDelay("other"))
}

func TestRateLimiter_CapsConcurrency(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	ctx := context.Background()

	release, err := rl.Acquire(ctx, "src", 0, 1)
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = rl.Acquire(blocked, "src", 0, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Another source is independent
	otherRelease, err := rl.Acquire(ctx, "other", 0, 1)
	require.NoError(t, err)
	otherRelease()

	release()
	release()
	again, err := rl.Acquire(ctx, "src", 0, 1)
	require.NoError(t, err)
	again()
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(common.RetryConfig{MaxAttempts: 3, InitialBackoff: "100ms", MaxBackoff: "300ms", BackoffMultiplier: 2})

	retryable := &models.FetchError{Kind: models.FetchNetworkError}
	permanent := &models.FetchError{Kind: models.FetchHTTPError, StatusCode: 404}

	assert.True(t, p.ShouldRetry(0, retryable))
	assert.True(t, p.ShouldRetry(1, retryable))
	assert.False(t, p.ShouldRetry(2, retryable))
	assert.False(t, p.ShouldRetry(0, permanent))
	assert.False(t, p.ShouldRetry(0, errors.New("plain")))

	for attempt := 0; attempt < 5; attempt++ {
		backoff := p.CalculateBackoff(attempt)
		assert.Greater(t, backoff, time.Duration(0))
		assert.LessOrEqual(t, backoff, 375*time.Millisecond)
	}

	defaults := NewRetryPolicy(common.RetryConfig{})
	assert.Equal(t, 1, defaults.MaxAttempts)
	assert.Equal(t, 2.0, defaults.BackoffMultiplier)
}

func TestNewRenderer(t *testing.T) {
	logger := arbor.NewLogger()

	r, err := NewRenderer("chromedp", RendererConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ChromeDPPool{}, r)

	r, err = NewRenderer("rod", RendererConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &RodRenderer{}, r)
	assert.NoError(t, r.Close())

	_, err = NewRenderer("webkit", RendererConfig{}, logger)
	assert.Error(t, err)
}
