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

// WebSourceStorage implements the WebSourceStorage interface for Badger
type WebSourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWebSourceStorage creates a new WebSourceStorage instance
func NewWebSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WebSourceStorage {
	return &WebSourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WebSourceStorage) SaveWebSource(ctx context.Context, source *models.WebSource) error {
	if source.ID == "" {
		return fmt.Errorf("web source ID is required")
	}
	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to save web source: %w", err)
	}
	return nil
}

func (s *WebSourceStorage) GetWebSource(ctx context.Context, id string) (*models.WebSource, error) {
	var source models.WebSource
	if err := s.db.Store().Get(id, &source); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("web source %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get web source: %w", err)
	}
	return &source, nil
}

func (s *WebSourceStorage) ListWebSources(ctx context.Context) ([]*models.WebSource, error) {
	var sources []models.WebSource
	if err := s.db.Store().Find(&sources, badgerhold.Where("ID").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list web sources: %w", err)
	}

	result := make([]*models.WebSource, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

func (s *WebSourceStorage) DeleteWebSource(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.WebSource{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("web source %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete web source: %w", err)
	}
	return nil
}
