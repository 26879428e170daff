package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/analysis"
	"github.com/ternarybob/quarry/internal/services/auth"
)

// Service manages web sources and their cached structure analysis
type Service struct {
	storage      interfaces.StorageManager
	fetcher      interfaces.PageFetcher
	analyzer     *analysis.Analyzer
	secrets      interfaces.SecretStore
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewService creates a web source service. secrets may be nil when no
// source uses authentication.
func NewService(
	storage interfaces.StorageManager,
	fetcher interfaces.PageFetcher,
	analyzer *analysis.Analyzer,
	secrets interfaces.SecretStore,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:      storage,
		fetcher:      fetcher,
		analyzer:     analyzer,
		secrets:      secrets,
		eventService: eventService,
		logger:       logger,
	}
}

// siteDomain extracts the host of a URL without a www. prefix
func siteDomain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func validate(source *models.WebSource) error {
	if err := common.ValidateStruct(source); err != nil {
		return err
	}
	u, err := url.Parse(source.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.NewConfigurationError("base_url", "must be an absolute http or https URL")
	}
	authType := source.Config.AuthType
	if authType != "" && authType != models.AuthTypeNone && source.Config.SecretRef == "" {
		return models.NewConfigurationError("secret_ref", "required for %s auth", authType)
	}
	if source.Config.RequestDelay < 0 || source.Config.Timeout < 0 || source.Config.JavaScriptWait < 0 {
		return models.NewConfigurationError("config", "durations must not be negative")
	}
	return nil
}

// CreateSource validates and stores a new web source
func (s *Service) CreateSource(ctx context.Context, source *models.WebSource) error {
	source.BaseURL = strings.TrimSpace(source.BaseURL)
	if err := validate(source); err != nil {
		return err
	}

	source.ID = common.NewID(common.PrefixWebSource)
	now := time.Now()
	source.CreatedAt = now
	source.UpdatedAt = now
	source.Structure = nil
	source.AnalyzedAt = nil

	if err := s.storage.WebSourceStorage().SaveWebSource(ctx, source); err != nil {
		return fmt.Errorf("failed to save web source: %w", err)
	}

	s.logger.Info().
		Str("id", source.ID).
		Str("name", source.Name).
		Str("site_domain", siteDomain(source.BaseURL)).
		Str("scraper", string(source.Config.ScraperTypeOrDefault())).
		Msg("Web source created")
	return nil
}

// UpdateSource replaces the operator-editable fields of a web source.
// The cached structure is kept unless the base URL changes.
func (s *Service) UpdateSource(ctx context.Context, source *models.WebSource) error {
	source.BaseURL = strings.TrimSpace(source.BaseURL)
	if err := validate(source); err != nil {
		return err
	}

	existing, err := s.storage.WebSourceStorage().GetWebSource(ctx, source.ID)
	if err != nil {
		return err
	}

	source.CreatedAt = existing.CreatedAt
	source.UpdatedAt = time.Now()
	if source.BaseURL == existing.BaseURL {
		source.Structure = existing.Structure
		source.AnalyzedAt = existing.AnalyzedAt
	} else {
		source.Structure = nil
		source.AnalyzedAt = nil
	}

	if err := s.storage.WebSourceStorage().SaveWebSource(ctx, source); err != nil {
		return fmt.Errorf("failed to save web source: %w", err)
	}

	s.logger.Info().
		Str("id", source.ID).
		Str("name", source.Name).
		Msg("Web source updated")
	return nil
}

// GetSource retrieves a web source by ID
func (s *Service) GetSource(ctx context.Context, id string) (*models.WebSource, error) {
	return s.storage.WebSourceStorage().GetWebSource(ctx, id)
}

// ListSources returns all web sources ordered by name
func (s *Service) ListSources(ctx context.Context) ([]*models.WebSource, error) {
	return s.storage.WebSourceStorage().ListWebSources(ctx)
}

// DeleteSource deletes a web source no assignment references
func (s *Service) DeleteSource(ctx context.Context, id string) error {
	if _, err := s.storage.WebSourceStorage().GetWebSource(ctx, id); err != nil {
		return err
	}

	assignments, err := s.storage.AssignmentStorage().ListAssignments(ctx, &interfaces.AssignmentListOptions{WebSourceID: id})
	if err != nil {
		return err
	}
	if len(assignments) > 0 {
		return fmt.Errorf("web source %s is referenced by %d assignment(s): %w", id, len(assignments), models.ErrInUse)
	}

	if err := s.storage.WebSourceStorage().DeleteWebSource(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("id", id).Msg("Web source deleted")
	return nil
}

// Analyze fetches the base URL, detects its structure and caches the
// result on the source, replacing any earlier analysis. Hybrid sources
// are re-fetched with the browser when the http copy shows no repeating
// elements.
func (s *Service) Analyze(ctx context.Context, id string) (*models.WebSource, error) {
	source, err := s.storage.WebSourceStorage().GetWebSource(ctx, id)
	if err != nil {
		return nil, err
	}
	creds, err := auth.Resolve(ctx, s.secrets, source)
	if err != nil {
		return nil, err
	}

	scraper := source.Config.ScraperTypeOrDefault()
	strategy := models.FetchHTTP
	if scraper == models.ScraperTypeBrowser {
		strategy = models.FetchBrowser
	}

	structure, err := s.fetchAndAnalyze(ctx, source, creds, strategy)
	if scraper == models.ScraperTypeHybrid && strategy == models.FetchHTTP &&
		(err != nil || len(structure.RepeatingElements) == 0) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug().Str("id", source.ID).Msg("HTTP analysis found nothing, retrying with browser")
		rendered, rerr := s.fetchAndAnalyze(ctx, source, creds, models.FetchBrowser)
		if rerr == nil {
			structure, err = rendered, nil
		} else if err == nil {
			s.logger.Warn().Err(rerr).Str("id", source.ID).Msg("Browser analysis failed, keeping http result")
		}
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	source.Structure = structure
	source.AnalyzedAt = &now
	source.UpdatedAt = now
	if err := s.storage.WebSourceStorage().SaveWebSource(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	s.logger.Info().
		Str("id", source.ID).
		Int("repeating_elements", len(structure.RepeatingElements)).
		Str("pagination", string(structure.Pagination.Type)).
		Msg("Web source analyzed")

	if s.eventService != nil {
		event := interfaces.Event{
			Type: interfaces.EventWebSourceAnalyzed,
			Payload: map[string]interface{}{
				"web_source_id":      source.ID,
				"repeating_elements": len(structure.RepeatingElements),
				"pagination":         string(structure.Pagination.Type),
				"timestamp":          now,
			},
		}
		if err := s.eventService.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish web source analyzed event")
		}
	}
	return source, nil
}

func (s *Service) fetchAndAnalyze(ctx context.Context, source *models.WebSource, creds *models.AuthConfig, strategy models.FetchStrategy) (*models.WebsiteStructure, error) {
	page, err := s.fetcher.Fetch(ctx, models.FetchRequest{
		SourceID: source.ID,
		URL:      source.BaseURL,
		Strategy: strategy,
		Config:   source.Config,
		Auth:     creds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s for analysis: %w", source.BaseURL, err)
	}

	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = source.BaseURL
	}
	return s.analyzer.Analyze(pageURL, page.HTML)
}

// PageHTML fetches one page of a source with its configured strategy,
// used by the LLM analyzer
func (s *Service) PageHTML(ctx context.Context, source *models.WebSource, pageURL string) (string, error) {
	creds, err := auth.Resolve(ctx, s.secrets, source)
	if err != nil {
		return "", err
	}
	strategy := models.FetchHTTP
	if source.Config.ScraperTypeOrDefault() == models.ScraperTypeBrowser {
		strategy = models.FetchBrowser
	}
	page, err := s.fetcher.Fetch(ctx, models.FetchRequest{
		SourceID: source.ID,
		URL:      pageURL,
		Strategy: strategy,
		Config:   source.Config,
		Auth:     creds,
	})
	if err != nil {
		return "", err
	}
	return page.HTML, nil
}
