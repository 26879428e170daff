package interfaces

import (
	"context"

	"github.com/ternarybob/quarry/internal/models"
)

// WebSourceStorage persists web sources
type WebSourceStorage interface {
	SaveWebSource(ctx context.Context, source *models.WebSource) error
	GetWebSource(ctx context.Context, id string) (*models.WebSource, error)
	ListWebSources(ctx context.Context) ([]*models.WebSource, error)
	DeleteWebSource(ctx context.Context, id string) error
}

// AssignmentListOptions filters assignment listings
type AssignmentListOptions struct {
	WebSourceID string
	Status      models.AssignmentStatus
}

// AssignmentStorage persists assignments
type AssignmentStorage interface {
	SaveAssignment(ctx context.Context, assignment *models.Assignment) error
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	ListAssignments(ctx context.Context, opts *AssignmentListOptions) ([]*models.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) error
}

// RuleStorage persists extraction rules
type RuleStorage interface {
	SaveRule(ctx context.Context, rule *models.ExtractionRule) error
	GetRule(ctx context.Context, id string) (*models.ExtractionRule, error)
	// ListRules returns the rules of an assignment ordered by SortOrder
	ListRules(ctx context.Context, assignmentID string, activeOnly bool) ([]*models.ExtractionRule, error)
	DeleteRule(ctx context.Context, id string) error
	DeleteRulesByAssignment(ctx context.Context, assignmentID string) error
}

// JobListOptions filters job listings
type JobListOptions struct {
	AssignmentID string
	Status       models.JobStatus
	Limit        int
	Offset       int
}

// JobStorage persists extraction jobs
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.ExtractionJob) error
	GetJob(ctx context.Context, id string) (*models.ExtractionJob, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.ExtractionJob, error)
	GetJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.ExtractionJob, error)
}

// ProcessLogStorage persists the append-only per-job process log
type ProcessLogStorage interface {
	AppendLog(ctx context.Context, entry *models.ProcessLog) error
	// GetLogs returns entries in creation order. An empty level returns all levels.
	GetLogs(ctx context.Context, jobID string, level models.LogLevel, limit, offset int) ([]*models.ProcessLog, error)
	CountLogs(ctx context.Context, jobID string) (int, error)
}

// StagingStorage holds staged payloads owned by a single job
type StagingStorage interface {
	Stage(ctx context.Context, jobID string, columns []string, rows []models.Row) (*models.StagedPayload, error)
	// Load returns the payload metadata and rows, or models.ErrNotFound once discarded
	Load(ctx context.Context, jobID string) (*models.StagedPayload, []models.Row, error)
	Discard(ctx context.Context, jobID string) error
}

// StorageManager aggregates all storages over one database
type StorageManager interface {
	WebSourceStorage() WebSourceStorage
	AssignmentStorage() AssignmentStorage
	RuleStorage() RuleStorage
	JobStorage() JobStorage
	ProcessLogStorage() ProcessLogStorage
	StagingStorage() StagingStorage
	Close() error
}
