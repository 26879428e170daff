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

// AssignmentStorage implements the AssignmentStorage interface for Badger
type AssignmentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAssignmentStorage creates a new AssignmentStorage instance
func NewAssignmentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AssignmentStorage {
	return &AssignmentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AssignmentStorage) SaveAssignment(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		return fmt.Errorf("assignment ID is required")
	}
	if err := s.db.Store().Upsert(assignment.ID, assignment); err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *AssignmentStorage) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := s.db.Store().Get(id, &assignment); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("assignment %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &assignment, nil
}

func (s *AssignmentStorage) ListAssignments(ctx context.Context, opts *interfaces.AssignmentListOptions) ([]*models.Assignment, error) {
	query := badgerhold.Where("ID").Ne("")
	if opts != nil {
		if opts.WebSourceID != "" {
			query = query.And("WebSourceID").Eq(opts.WebSourceID)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
	}

	var assignments []models.Assignment
	if err := s.db.Store().Find(&assignments, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	result := make([]*models.Assignment, len(assignments))
	for i := range assignments {
		result[i] = &assignments[i]
	}
	return result, nil
}

func (s *AssignmentStorage) DeleteAssignment(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Assignment{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("assignment %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}
