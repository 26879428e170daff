package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// logSequence keeps log keys unique within the same nanosecond
var logSequence uint64

// ProcessLogStorage implements the ProcessLogStorage interface for Badger
type ProcessLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProcessLogStorage creates a new ProcessLogStorage instance
func NewProcessLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProcessLogStorage {
	return &ProcessLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProcessLogStorage) AppendLog(ctx context.Context, entry *models.ProcessLog) error {
	if entry.JobID == "" {
		return fmt.Errorf("log entry job ID is required")
	}

	now := time.Now()
	seq := atomic.AddUint64(&logSequence, 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.Timestamp = now.UnixNano()
	entry.Sequence = seq
	key := fmt.Sprintf("%s_%d_%d", entry.JobID, entry.Timestamp, seq)
	if entry.ID == "" {
		entry.ID = key
	}

	if err := s.db.Store().Insert(key, entry); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *ProcessLogStorage) GetLogs(ctx context.Context, jobID string, level models.LogLevel, limit, offset int) ([]*models.ProcessLog, error) {
	query := badgerhold.Where("JobID").Eq(jobID)
	if level != "" {
		query = query.And("Level").Eq(level)
	}
	query = query.SortBy("Timestamp", "Sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var logs []models.ProcessLog
	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	result := make([]*models.ProcessLog, len(logs))
	for i := range logs {
		result[i] = &logs[i]
	}
	return result, nil
}

func (s *ProcessLogStorage) CountLogs(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.ProcessLog{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return int(count), nil
}
