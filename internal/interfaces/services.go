package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quarry/internal/models"
)

// PageFetcher retrieves one page using the strategy named in the request.
// Failures are returned as *models.FetchError.
type PageFetcher interface {
	Fetch(ctx context.Context, req models.FetchRequest) (*models.PageResult, error)
}

// DatabaseConnector is the boundary to the target relational store
type DatabaseConnector interface {
	DiscoverTables(ctx context.Context) ([]models.TableSchema, error)
	// InsertRows inserts each row independently; a failing row does not block the others
	InsertRows(ctx context.Context, table string, columns []string, rows []models.Row) (*models.InsertResult, error)
	Close() error
}

// SecretStore resolves decrypted site credentials by reference
type SecretStore interface {
	ResolveAuth(ctx context.Context, ref string) (*models.AuthConfig, error)
}

// PageAnalyzer is the LLM-assisted field mapper
type PageAnalyzer interface {
	AnalyzePage(ctx context.Context, html string, columns []models.ColumnSchema) ([]models.ColumnSuggestion, error)
	CreateCaptureConfig(ctx context.Context, analysis []models.ColumnSuggestion, html string) (*models.CaptureConfig, error)
}

// CaptureRunner replays a capture configuration against one fetched page
type CaptureRunner interface {
	Capture(ctx context.Context, config *models.CaptureConfig, page *models.PageResult) ([]models.Row, error)
}

// LLMProvider is a single-turn text completion backend
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ScheduleStatus describes the recurring trigger of one assignment
type ScheduleStatus struct {
	AssignmentID string     `json:"assignment_id"`
	ScheduleType string     `json:"schedule_type"`
	Expression   string     `json:"expression,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastJobID    string     `json:"last_job_id,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// SchedulerService maps assignments to recurring and on-demand triggers
type SchedulerService interface {
	Start(ctx context.Context) error
	Stop() error
	Schedule(ctx context.Context, assignment *models.Assignment) error
	Unschedule(assignmentID string)
	TriggerNow(ctx context.Context, assignmentID string, trigger models.TriggerSource) (string, error)
	Status(assignmentID string) (*ScheduleStatus, bool)
	Statuses() []*ScheduleStatus
}

// JobLauncher creates and runs jobs. It holds the per-assignment lease.
type JobLauncher interface {
	IsInFlight(assignmentID string) bool
	Launch(ctx context.Context, assignmentID string, trigger models.TriggerSource) (*models.ExtractionJob, error)
}
