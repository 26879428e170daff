package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// RuleStorage implements the RuleStorage interface for Badger
type RuleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRuleStorage creates a new RuleStorage instance
func NewRuleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RuleStorage {
	return &RuleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RuleStorage) SaveRule(ctx context.Context, rule *models.ExtractionRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if err := s.db.Store().Upsert(rule.ID, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *RuleStorage) GetRule(ctx context.Context, id string) (*models.ExtractionRule, error) {
	var rule models.ExtractionRule
	if err := s.db.Store().Get(id, &rule); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("rule %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (s *RuleStorage) ListRules(ctx context.Context, assignmentID string, activeOnly bool) ([]*models.ExtractionRule, error) {
	query := badgerhold.Where("AssignmentID").Eq(assignmentID)
	if activeOnly {
		query = query.And("IsActive").Eq(true)
	}

	var rules []models.ExtractionRule
	if err := s.db.Store().Find(&rules, query.SortBy("SortOrder", "CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	result := make([]*models.ExtractionRule, len(rules))
	for i := range rules {
		result[i] = &rules[i]
	}
	return result, nil
}

func (s *RuleStorage) DeleteRule(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.ExtractionRule{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("rule %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

func (s *RuleStorage) DeleteRulesByAssignment(ctx context.Context, assignmentID string) error {
	if err := s.db.Store().DeleteMatching(&models.ExtractionRule{}, badgerhold.Where("AssignmentID").Eq(assignmentID)); err != nil {
		return fmt.Errorf("failed to delete rules: %w", err)
	}
	return nil
}
