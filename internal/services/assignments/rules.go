package assignments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/analysis"
	"github.com/ternarybob/quarry/internal/services/extraction"
)

// CreateRule validates and stores a new extraction rule. Rule writes of
// one assignment are serialised so the one-active-rule-per-column check
// holds.
func (s *Service) CreateRule(ctx context.Context, rule *models.ExtractionRule) error {
	normalizeRule(rule)
	unlock := s.writes.Lock(rule.AssignmentID)
	defer unlock()
	if err := s.validateRule(ctx, rule); err != nil {
		return err
	}

	rule.ID = common.NewID(common.PrefixRule)
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.storage.RuleStorage().SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	s.logger.Debug().
		Str("id", rule.ID).
		Str("assignment_id", rule.AssignmentID).
		Str("target_column", rule.TargetColumn).
		Msg("Rule created")
	return nil
}

// UpdateRule replaces a rule. The owning assignment cannot change.
func (s *Service) UpdateRule(ctx context.Context, rule *models.ExtractionRule) error {
	existing, err := s.storage.RuleStorage().GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	normalizeRule(rule)
	rule.AssignmentID = existing.AssignmentID
	unlock := s.writes.Lock(rule.AssignmentID)
	defer unlock()
	rule.CreatedAt = existing.CreatedAt
	if err := s.validateRule(ctx, rule); err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()
	if err := s.storage.RuleStorage().SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule by ID
func (s *Service) GetRule(ctx context.Context, id string) (*models.ExtractionRule, error) {
	return s.storage.RuleStorage().GetRule(ctx, id)
}

// ListRules returns the rules of an assignment in evaluation order
func (s *Service) ListRules(ctx context.Context, assignmentID string, activeOnly bool) ([]*models.ExtractionRule, error) {
	if _, err := s.storage.AssignmentStorage().GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	return s.storage.RuleStorage().ListRules(ctx, assignmentID, activeOnly)
}

// DeleteRule removes a rule
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	return s.storage.RuleStorage().DeleteRule(ctx, id)
}

func normalizeRule(rule *models.ExtractionRule) {
	rule.Selector = strings.TrimSpace(rule.Selector)
	rule.TargetColumn = strings.TrimSpace(rule.TargetColumn)
	if rule.SelectorKind == "" && rule.Selector != "" {
		rule.SelectorKind = extraction.DetectSelectorKind(rule.Selector)
	}
	if rule.Attribute == "" {
		rule.Attribute = models.AttributeText
	}
	if rule.DataType == "" {
		rule.DataType = models.DataTypeString
	}
}

func (s *Service) validateRule(ctx context.Context, rule *models.ExtractionRule) error {
	if err := common.ValidateStruct(rule); err != nil {
		return err
	}
	assignment, err := s.storage.AssignmentStorage().GetAssignment(ctx, rule.AssignmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewConfigurationError("assignment_id", "assignment %s does not exist", rule.AssignmentID)
		}
		return err
	}
	if err := s.evaluator.ValidateRule(rule); err != nil {
		return err
	}

	table, err := s.targetTable(ctx, assignment)
	if err != nil {
		return err
	}
	if table != nil && table.Column(rule.TargetColumn) == nil {
		return models.NewConfigurationError("target_column", "column %s does not exist in %s", rule.TargetColumn, assignment.QualifiedTable())
	}

	if !rule.IsActive {
		return nil
	}
	rules, err := s.storage.RuleStorage().ListRules(ctx, rule.AssignmentID, true)
	if err != nil {
		return err
	}
	for _, other := range rules {
		if other.ID != rule.ID && strings.EqualFold(other.TargetColumn, rule.TargetColumn) {
			return models.NewConfigurationError("target_column", "column %s already has an active rule (%s)", rule.TargetColumn, other.ID)
		}
	}
	return nil
}

// Suggest proposes selectors for the target columns of an assignment. The
// cached structure of the web source is tried first; the LLM analyzer is
// consulted when it yields nothing.
func (s *Service) Suggest(ctx context.Context, assignmentID string) ([]models.ColumnSuggestion, error) {
	assignment, source, err := s.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	columns, err := s.TargetColumns(ctx, assignment)
	if err != nil {
		return nil, err
	}

	if suggestions := analysis.SuggestRules(source.Structure, columns); len(suggestions) > 0 {
		s.logger.Debug().Str("assignment_id", assignmentID).Int("suggestions", len(suggestions)).Msg("Suggested rules from cached structure")
		return suggestions, nil
	}

	if s.llm == nil {
		if source.Structure == nil {
			return nil, models.NewConfigurationError("web_source_id", "web source not analyzed and no LLM is configured")
		}
		return []models.ColumnSuggestion{}, nil
	}

	html, err := s.pages.PageHTML(ctx, source, assignment.ResolveStartURL(source))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for suggestions: %w", err)
	}
	suggestions, err := s.llm.AnalyzePage(ctx, html, columns)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("assignment_id", assignmentID).Int("suggestions", len(suggestions)).Msg("Suggested rules from LLM analysis")
	return suggestions, nil
}

// SeedRules turns suggestions into rules, ordered as given. Columns that
// already have an active rule receive inactive rules. Suggestions that do
// not validate are skipped.
func (s *Service) SeedRules(ctx context.Context, assignmentID string, suggestions []models.ColumnSuggestion, activate bool) ([]*models.ExtractionRule, error) {
	existing, err := s.ListRules(ctx, assignmentID, false)
	if err != nil {
		return nil, err
	}
	order := 0
	covered := make(map[string]bool)
	for _, rule := range existing {
		if rule.SortOrder >= order {
			order = rule.SortOrder + 1
		}
		if rule.IsActive {
			covered[strings.ToLower(rule.TargetColumn)] = true
		}
	}

	var created []*models.ExtractionRule
	for _, suggestion := range suggestions {
		column := strings.ToLower(suggestion.Column)
		rule := &models.ExtractionRule{
			AssignmentID: assignmentID,
			TargetColumn: suggestion.Column,
			Selector:     suggestion.Selector,
			SelectorKind: suggestion.SelectorKind,
			Attribute:    suggestion.Attribute,
			DataType:     suggestion.DataType,
			SortOrder:    order,
			IsActive:     activate && !covered[column],
		}
		if err := s.CreateRule(ctx, rule); err != nil {
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				return created, err
			}
			s.logger.Warn().Err(err).Str("column", suggestion.Column).Str("selector", suggestion.Selector).Msg("Skipping suggestion")
			continue
		}
		if rule.IsActive {
			covered[column] = true
		}
		order++
		created = append(created, rule)
	}

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Int("suggestions", len(suggestions)).
		Int("created", len(created)).
		Msg("Rules seeded")
	return created, nil
}

// GenerateCapture builds and stores the LLM capture configuration of an
// assignment. An empty analysis runs the page analyzer first.
func (s *Service) GenerateCapture(ctx context.Context, assignmentID string, suggestions []models.ColumnSuggestion) (*models.CaptureConfig, error) {
	if s.llm == nil {
		return nil, models.NewConfigurationError("capture", "no LLM provider is configured")
	}
	assignment, source, err := s.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	html, err := s.pages.PageHTML(ctx, source, assignment.ResolveStartURL(source))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for capture: %w", err)
	}
	if len(suggestions) == 0 {
		columns, err := s.TargetColumns(ctx, assignment)
		if err != nil {
			return nil, err
		}
		if suggestions, err = s.llm.AnalyzePage(ctx, html, columns); err != nil {
			return nil, err
		}
	}

	config, err := s.llm.CreateCaptureConfig(ctx, suggestions, html)
	if err != nil {
		return nil, err
	}
	assignment.Capture = config
	assignment.UpdatedAt = time.Now()
	if err := s.storage.AssignmentStorage().SaveAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to save capture configuration: %w", err)
	}

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Str("provider", config.Provider).
		Int("columns", len(config.Columns)).
		Msg("Capture configuration generated")
	return config, nil
}

func (s *Service) load(ctx context.Context, assignmentID string) (*models.Assignment, *models.WebSource, error) {
	assignment, err := s.storage.AssignmentStorage().GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	source, err := s.storage.WebSourceStorage().GetWebSource(ctx, assignment.WebSourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("web source of assignment %s: %w", assignmentID, err)
	}
	return assignment, source, nil
}
