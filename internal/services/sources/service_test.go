package sources

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/analysis"
	"github.com/ternarybob/quarry/internal/storage/badger"
)

const catalogHTML = `<html><body><div class="list">
<div class="product"><h2 class="title">Alpha Widget</h2><span class="price">$10.50</span></div>
<div class="product"><h2 class="title">Beta Widget</h2><span class="price">$7.00</span></div>
<div class="product"><h2 class="title">Gamma Widget</h2><span class="price">$1,200</span></div>
</div><a rel="next" href="/list?page=2">Next</a></body></html>`

// strategyFetcher serves a page per strategy and records requests
type strategyFetcher struct {
	mu       sync.Mutex
	pages    map[models.FetchStrategy]string
	err      map[models.FetchStrategy]error
	requests []models.FetchRequest
}

func (f *strategyFetcher) Fetch(_ context.Context, req models.FetchRequest) (*models.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.err[req.Strategy]; err != nil {
		return nil, err
	}
	return &models.PageResult{HTML: f.pages[req.Strategy], FinalURL: req.URL, StatusCode: 200, Strategy: req.Strategy}, nil
}

type staticSecrets map[string]*models.AuthConfig

func (s staticSecrets) ResolveAuth(_ context.Context, ref string) (*models.AuthConfig, error) {
	if auth, ok := s[ref]; ok {
		copied := *auth
		return &copied, nil
	}
	return nil, models.NewConfigurationError("secret_ref", "secret %q not found", ref)
}

func newTestService(t *testing.T, fetcher *strategyFetcher, secrets interfaces.SecretStore) (*Service, interfaces.StorageManager) {
	t.Helper()
	dir := t.TempDir()
	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger,
		&common.BadgerConfig{Path: filepath.Join(dir, "db")},
		&common.StagingConfig{Dir: filepath.Join(dir, "staging")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	return NewService(storage, fetcher, analysis.NewAnalyzer(logger), secrets, nil, logger), storage
}

func TestCreateSource(t *testing.T) {
	service, _ := newTestService(t, &strategyFetcher{}, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: " https://shop.test "}
	require.NoError(t, service.CreateSource(ctx, source))
	assert.Contains(t, source.ID, "src_")
	assert.Equal(t, "https://shop.test", source.BaseURL)
	assert.False(t, source.CreatedAt.IsZero())

	stored, err := service.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shop", stored.Name)

	list, err := service.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateSource_Validation(t *testing.T) {
	service, _ := newTestService(t, &strategyFetcher{}, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		source *models.WebSource
		field  string
	}{
		{"missing name", &models.WebSource{BaseURL: "https://shop.test"}, "name"},
		{"bad url", &models.WebSource{Name: "x", BaseURL: "not a url"}, "base_url"},
		{"ftp url", &models.WebSource{Name: "x", BaseURL: "ftp://shop.test"}, "base_url"},
		{"auth without ref", &models.WebSource{Name: "x", BaseURL: "https://shop.test", Config: models.ScraperConfig{AuthType: models.AuthTypeCookie}}, "secret_ref"},
		{"unknown scraper", &models.WebSource{Name: "x", BaseURL: "https://shop.test", Config: models.ScraperConfig{Type: "curl"}}, "type"},
		{"negative delay", &models.WebSource{Name: "x", BaseURL: "https://shop.test", Config: models.ScraperConfig{RequestDelay: -1}}, "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.CreateSource(ctx, tt.source)
			var cfgErr *models.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestUpdateSource_KeepsStructureForSameURL(t *testing.T) {
	fetcher := &strategyFetcher{pages: map[models.FetchStrategy]string{models.FetchHTTP: catalogHTML}}
	service, _ := newTestService(t, fetcher, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test/list"}
	require.NoError(t, service.CreateSource(ctx, source))
	_, err := service.Analyze(ctx, source.ID)
	require.NoError(t, err)

	renamed := &models.WebSource{ID: source.ID, Name: "Shop 2", BaseURL: "https://shop.test/list"}
	require.NoError(t, service.UpdateSource(ctx, renamed))
	assert.NotNil(t, renamed.Structure)
	assert.Equal(t, source.CreatedAt.Unix(), renamed.CreatedAt.Unix())

	moved := &models.WebSource{ID: source.ID, Name: "Shop 2", BaseURL: "https://shop.test/catalog"}
	require.NoError(t, service.UpdateSource(ctx, moved))
	assert.Nil(t, moved.Structure)
	assert.Nil(t, moved.AnalyzedAt)

	err = service.UpdateSource(ctx, &models.WebSource{ID: "src_missing", Name: "x", BaseURL: "https://x.test"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteSource_RefusedWhileReferenced(t *testing.T) {
	service, storage := newTestService(t, &strategyFetcher{}, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test"}
	require.NoError(t, service.CreateSource(ctx, source))
	require.NoError(t, storage.AssignmentStorage().SaveAssignment(ctx, &models.Assignment{
		ID: "asg_1", Name: "Products", WebSourceID: source.ID, TargetTable: "products",
	}))

	err := service.DeleteSource(ctx, source.ID)
	assert.ErrorIs(t, err, models.ErrInUse)

	require.NoError(t, storage.AssignmentStorage().DeleteAssignment(ctx, "asg_1"))
	require.NoError(t, service.DeleteSource(ctx, source.ID))

	_, err = service.GetSource(ctx, source.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, service.DeleteSource(ctx, source.ID), models.ErrNotFound)
}

func TestAnalyze_CachesStructure(t *testing.T) {
	fetcher := &strategyFetcher{pages: map[models.FetchStrategy]string{models.FetchHTTP: catalogHTML}}
	service, _ := newTestService(t, fetcher, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test/list"}
	require.NoError(t, service.CreateSource(ctx, source))

	analyzed, err := service.Analyze(ctx, source.ID)
	require.NoError(t, err)
	require.NotNil(t, analyzed.Structure)
	require.NotNil(t, analyzed.AnalyzedAt)
	assert.Equal(t, "div.product", analyzed.Structure.RepeatingElements[0].Selector)
	assert.Equal(t, models.PaginationNextButton, analyzed.Structure.Pagination.Type)

	stored, err := service.GetSource(ctx, source.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Structure)
	assert.Equal(t, "https://shop.test/list", stored.Structure.AnalyzedURL)
	require.Len(t, fetcher.requests, 1)
	assert.Equal(t, models.FetchHTTP, fetcher.requests[0].Strategy)
}

func TestAnalyze_HybridEscalatesToBrowser(t *testing.T) {
	fetcher := &strategyFetcher{pages: map[models.FetchStrategy]string{
		models.FetchHTTP:    `<html><body><div id="app"></div></body></html>`,
		models.FetchBrowser: catalogHTML,
	}}
	service, _ := newTestService(t, fetcher, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test/list", Config: models.ScraperConfig{Type: models.ScraperTypeHybrid}}
	require.NoError(t, service.CreateSource(ctx, source))

	analyzed, err := service.Analyze(ctx, source.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, analyzed.Structure.RepeatingElements)
	require.Len(t, fetcher.requests, 2)
	assert.Equal(t, models.FetchBrowser, fetcher.requests[1].Strategy)
}

func TestAnalyze_HybridKeepsHTTPResultWhenBrowserFails(t *testing.T) {
	fetcher := &strategyFetcher{
		pages: map[models.FetchStrategy]string{models.FetchHTTP: `<html><body><p>empty</p></body></html>`},
		err:   map[models.FetchStrategy]error{models.FetchBrowser: errors.New("no browser")},
	}
	service, _ := newTestService(t, fetcher, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test", Config: models.ScraperConfig{Type: models.ScraperTypeHybrid}}
	require.NoError(t, service.CreateSource(ctx, source))

	analyzed, err := service.Analyze(ctx, source.ID)
	require.NoError(t, err)
	assert.Empty(t, analyzed.Structure.RepeatingElements)
}

func TestAnalyze_FetchFailure(t *testing.T) {
	fetcher := &strategyFetcher{err: map[models.FetchStrategy]error{
		models.FetchHTTP: &models.FetchError{Kind: models.FetchHTTPError, URL: "https://shop.test", StatusCode: 503},
	}}
	service, _ := newTestService(t, fetcher, nil)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test"}
	require.NoError(t, service.CreateSource(ctx, source))

	_, err := service.Analyze(ctx, source.ID)
	var fetchErr *models.FetchError
	assert.ErrorAs(t, err, &fetchErr)

	stored, err := service.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Structure)
}

func TestAnalyze_ResolvesCredentials(t *testing.T) {
	fetcher := &strategyFetcher{pages: map[models.FetchStrategy]string{models.FetchHTTP: catalogHTML}}
	secrets := staticSecrets{"shop": {Headers: map[string]string{"Authorization": "Bearer t"}}}
	service, _ := newTestService(t, fetcher, secrets)
	ctx := context.Background()

	source := &models.WebSource{Name: "Shop", BaseURL: "https://shop.test", Config: models.ScraperConfig{AuthType: models.AuthTypeHeader, SecretRef: "shop"}}
	require.NoError(t, service.CreateSource(ctx, source))

	_, err := service.Analyze(ctx, source.ID)
	require.NoError(t, err)
	require.NotNil(t, fetcher.requests[0].Auth)
	assert.Equal(t, models.AuthTypeHeader, fetcher.requests[0].Auth.Type)
	assert.Equal(t, "Bearer t", fetcher.requests[0].Auth.Headers["Authorization"])
}
