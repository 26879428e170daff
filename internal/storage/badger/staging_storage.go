package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// StagingStorage keeps staged rows inline in Badger up to the configured
// limit and spills larger payloads to files under the staging directory.
type StagingStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	config *common.StagingConfig
}

// NewStagingStorage creates a new StagingStorage instance
func NewStagingStorage(db *BadgerDB, logger arbor.ILogger, config *common.StagingConfig) interfaces.StagingStorage {
	return &StagingStorage{
		db:     db,
		logger: logger,
		config: config,
	}
}

func (s *StagingStorage) Stage(ctx context.Context, jobID string, columns []string, rows []models.Row) (*models.StagedPayload, error) {
	data, err := models.EncodeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode staged rows: %w", err)
	}

	payload := &models.StagedPayload{
		JobID:     jobID,
		Columns:   columns,
		RowCount:  len(rows),
		CreatedAt: time.Now(),
	}

	if s.config == nil || s.config.Dir == "" || len(data) <= s.config.InlineLimit {
		payload.Inline = data
	} else {
		if err := os.MkdirAll(s.config.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
		path := filepath.Join(s.config.Dir, jobID+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write staged payload: %w", err)
		}
		payload.FilePath = path
		s.logger.Debug().Str("job_id", jobID).Str("path", path).Int("bytes", len(data)).Msg("Staged payload spilled to file")
	}

	if err := s.db.Store().Upsert(jobID, payload); err != nil {
		if payload.FilePath != "" {
			_ = os.Remove(payload.FilePath)
		}
		return nil, fmt.Errorf("failed to save staged payload: %w", err)
	}
	return payload, nil
}

func (s *StagingStorage) Load(ctx context.Context, jobID string) (*models.StagedPayload, []models.Row, error) {
	var payload models.StagedPayload
	if err := s.db.Store().Get(jobID, &payload); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil, fmt.Errorf("staged payload for job %s: %w", jobID, models.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to get staged payload: %w", err)
	}

	data := payload.Inline
	if payload.FilePath != "" {
		var err error
		data, err = os.ReadFile(payload.FilePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil, fmt.Errorf("staged payload file for job %s: %w", jobID, models.ErrNotFound)
			}
			return nil, nil, fmt.Errorf("failed to read staged payload: %w", err)
		}
	}

	rows, err := models.DecodeRows(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode staged rows: %w", err)
	}
	return &payload, rows, nil
}

// Discard removes the payload and its file. Discarding an absent payload is not an error.
func (s *StagingStorage) Discard(ctx context.Context, jobID string) error {
	var payload models.StagedPayload
	if err := s.db.Store().Get(jobID, &payload); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get staged payload: %w", err)
	}

	if payload.FilePath != "" {
		if err := os.Remove(payload.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", payload.FilePath).Msg("Failed to remove staged payload file")
		}
	}

	if err := s.db.Store().Delete(jobID, &models.StagedPayload{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete staged payload: %w", err)
	}
	return nil
}
