// -----------------------------------------------------------------------
// Assignment Service - Assignments, rules, status lifecycle and suggestions
// -----------------------------------------------------------------------

package assignments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/extraction"
	"github.com/ternarybob/quarry/internal/services/pagination"
	"github.com/ternarybob/quarry/internal/services/runner"
)

// JobRunner is the part of the job service assignments depend on
type JobRunner interface {
	Reserve(assignmentID string) (release func(), err error)
	Sample(ctx context.Context, assignmentID string, maxRows int) (*runner.Outcome, error)
}

// PageSource fetches page HTML for a web source
type PageSource interface {
	PageHTML(ctx context.Context, source *models.WebSource, pageURL string) (string, error)
}

// Service manages assignments and their extraction rules
type Service struct {
	storage   interfaces.StorageManager
	evaluator *extraction.Evaluator
	connector interfaces.DatabaseConnector
	scheduler interfaces.SchedulerService
	jobs      JobRunner
	pages     PageSource
	llm       interfaces.PageAnalyzer
	events    interfaces.EventService
	writes    *keyedMutex
	logger    arbor.ILogger
}

// Option configures optional collaborators
type Option func(*Service)

// WithConnector enables target table and column checks
func WithConnector(connector interfaces.DatabaseConnector) Option {
	return func(s *Service) { s.connector = connector }
}

// WithScheduler re-evaluates recurring triggers on every change
func WithScheduler(scheduler interfaces.SchedulerService) Option {
	return func(s *Service) { s.scheduler = scheduler }
}

// WithPageAnalyzer enables LLM suggestions and capture configurations
func WithPageAnalyzer(analyzer interfaces.PageAnalyzer, pages PageSource) Option {
	return func(s *Service) {
		s.llm = analyzer
		s.pages = pages
	}
}

// NewService creates an assignment service
func NewService(storage interfaces.StorageManager, evaluator *extraction.Evaluator, jobs JobRunner, events interfaces.EventService, logger arbor.ILogger, opts ...Option) *Service {
	if evaluator == nil {
		evaluator = extraction.NewEvaluator(nil)
	}
	s := &Service{
		storage:   storage,
		evaluator: evaluator,
		jobs:      jobs,
		events:    events,
		writes:    newKeyedMutex(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAssignment validates and stores a new assignment in draft status
func (s *Service) CreateAssignment(ctx context.Context, assignment *models.Assignment) error {
	applyDefaults(assignment)
	assignment.Status = models.AssignmentDraft
	assignment.StatusMessage = ""
	if err := s.validateAssignment(ctx, assignment); err != nil {
		return err
	}

	assignment.ID = common.NewID(common.PrefixAssignment)
	now := time.Now()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now

	if err := s.storage.AssignmentStorage().SaveAssignment(ctx, assignment); err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.Info().
		Str("id", assignment.ID).
		Str("web_source_id", assignment.WebSourceID).
		Str("target_table", assignment.QualifiedTable()).
		Msg("Assignment created")
	return nil
}

// UpdateAssignment replaces the operator-editable fields. Status is only
// changed through SetStatus. A nil capture keeps the stored one.
func (s *Service) UpdateAssignment(ctx context.Context, assignment *models.Assignment) error {
	existing, err := s.storage.AssignmentStorage().GetAssignment(ctx, assignment.ID)
	if err != nil {
		return err
	}

	applyDefaults(assignment)
	assignment.Status = existing.Status
	assignment.StatusMessage = existing.StatusMessage
	assignment.CreatedAt = existing.CreatedAt
	if assignment.Capture == nil {
		assignment.Capture = existing.Capture
	}
	if err := s.validateAssignment(ctx, assignment); err != nil {
		return err
	}
	if assignment.Status == models.AssignmentActive {
		if err := s.checkActivation(ctx, assignment); err != nil {
			return err
		}
	}

	assignment.UpdatedAt = time.Now()
	if err := s.storage.AssignmentStorage().SaveAssignment(ctx, assignment); err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.Info().Str("id", assignment.ID).Msg("Assignment updated")
	return s.reschedule(ctx, assignment)
}

// GetAssignment retrieves an assignment by ID
func (s *Service) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	return s.storage.AssignmentStorage().GetAssignment(ctx, id)
}

// ListAssignments returns assignments matching opts
func (s *Service) ListAssignments(ctx context.Context, opts *interfaces.AssignmentListOptions) ([]*models.Assignment, error) {
	return s.storage.AssignmentStorage().ListAssignments(ctx, opts)
}

// DeleteAssignment removes an assignment and its rules. It is refused
// while a job of the assignment is in flight, and no job can start or rule
// be written until it returns.
func (s *Service) DeleteAssignment(ctx context.Context, id string) error {
	unlock := s.writes.Lock(id)
	defer unlock()

	if _, err := s.storage.AssignmentStorage().GetAssignment(ctx, id); err != nil {
		return err
	}
	if s.jobs != nil {
		release, err := s.jobs.Reserve(id)
		if err != nil {
			return fmt.Errorf("assignment %s cannot be deleted: %w", id, err)
		}
		defer release()
	}

	if s.scheduler != nil {
		s.scheduler.Unschedule(id)
	}
	if err := s.storage.RuleStorage().DeleteRulesByAssignment(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rules: %w", err)
	}
	if err := s.storage.AssignmentStorage().DeleteAssignment(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("id", id).Msg("Assignment deleted")
	return nil
}

// SetStatus moves an assignment through its lifecycle and re-evaluates
// its recurring trigger. Activation requires at least one active rule, or
// a capture configuration for llm extraction.
func (s *Service) SetStatus(ctx context.Context, id string, status models.AssignmentStatus, message string) (*models.Assignment, error) {
	assignment, err := s.storage.AssignmentStorage().GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.AssignmentDraft, models.AssignmentTesting, models.AssignmentActive, models.AssignmentPaused, models.AssignmentError:
	default:
		return nil, models.NewConfigurationError("status", "unknown assignment status %q", status)
	}
	previous := assignment.Status
	if !previous.CanTransitionTo(status) {
		return nil, models.NewConfigurationError("status", "cannot move assignment from %s to %s", previous, status)
	}
	if status == models.AssignmentActive {
		if err := s.checkActivation(ctx, assignment); err != nil {
			return nil, err
		}
	}

	assignment.Status = status
	assignment.StatusMessage = ""
	if status == models.AssignmentError {
		assignment.StatusMessage = message
	}
	assignment.UpdatedAt = time.Now()
	if err := s.storage.AssignmentStorage().SaveAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.Info().
		Str("id", id).
		Str("previous_status", string(previous)).
		Str("status", string(status)).
		Msg("Assignment status changed")
	s.publish(interfaces.EventAssignmentStatusChanged, map[string]interface{}{
		"assignment_id":   id,
		"previous_status": string(previous),
		"status":          string(status),
		"message":         assignment.StatusMessage,
	})

	if err := s.reschedule(ctx, assignment); err != nil {
		return assignment, err
	}
	return assignment, nil
}

// Sample runs the assignment against the live site without creating a job
func (s *Service) Sample(ctx context.Context, id string, maxRows int) (*runner.Outcome, error) {
	if s.jobs == nil {
		return nil, models.NewConfigurationError("", "sample runs are not available")
	}
	return s.jobs.Sample(ctx, id, maxRows)
}

// TargetColumns returns the columns of the assignment's target table
func (s *Service) TargetColumns(ctx context.Context, assignment *models.Assignment) ([]models.ColumnSchema, error) {
	table, err := s.targetTable(ctx, assignment)
	if err != nil {
		return nil, err
	}
	if table == nil {
		return nil, models.NewConfigurationError("target_table", "no target database connector is configured")
	}
	return table.Columns, nil
}

func (s *Service) reschedule(ctx context.Context, assignment *models.Assignment) error {
	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.Schedule(ctx, assignment); err != nil {
		s.logger.Warn().Err(err).Str("id", assignment.ID).Msg("Failed to update assignment schedule")
		return err
	}
	return nil
}

func (s *Service) checkActivation(ctx context.Context, assignment *models.Assignment) error {
	if assignment.Method() == models.ExtractionLLM {
		if assignment.Capture == nil || len(assignment.Capture.Columns) == 0 {
			return models.NewConfigurationError("capture", "llm extraction requires a capture configuration before activation")
		}
		return nil
	}
	rules, err := s.storage.RuleStorage().ListRules(ctx, assignment.ID, true)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return models.NewConfigurationError("rules", "at least one active rule is required before activation")
	}
	return nil
}

func applyDefaults(assignment *models.Assignment) {
	assignment.StartURL = strings.TrimSpace(assignment.StartURL)
	if assignment.SyncMode == "" {
		assignment.SyncMode = models.SyncModeManual
	}
	if assignment.ScheduleType == "" {
		assignment.ScheduleType = models.ScheduleManual
	}
	if assignment.ExtractionMethod == "" {
		assignment.ExtractionMethod = models.ExtractionRules
	}
	if assignment.Pagination.Type == "" {
		assignment.Pagination.Type = models.PaginationNone
	}
	if assignment.ScheduleType != models.ScheduleCron {
		assignment.CronExpression = ""
	}
}

func (s *Service) validateAssignment(ctx context.Context, assignment *models.Assignment) error {
	if err := common.ValidateStruct(assignment); err != nil {
		return err
	}

	if _, err := s.storage.WebSourceStorage().GetWebSource(ctx, assignment.WebSourceID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewConfigurationError("web_source_id", "web source %s does not exist", assignment.WebSourceID)
		}
		return err
	}

	if assignment.ScheduleType == models.ScheduleCron {
		if err := common.ValidateCronExpression(assignment.CronExpression); err != nil {
			return models.NewConfigurationError("cron_expression", "%v", err)
		}
	}

	if assignment.StartURL != "" {
		u, err := url.Parse(assignment.StartURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return models.NewConfigurationError("start_url", "must be an absolute http or https URL")
		}
	}

	if err := pagination.Validate(assignment.Pagination); err != nil {
		return err
	}
	if next := assignment.Pagination.NextSelector; assignment.Pagination.Type == models.PaginationNextButton {
		if err := extraction.CompileSelector(extraction.DetectSelectorKind(next), next); err != nil {
			return models.NewConfigurationError("pagination.next_selector", "%v", err)
		}
	}
	if assignment.ItemSelector != "" {
		if err := extraction.CompileSelector(extraction.DetectSelectorKind(assignment.ItemSelector), assignment.ItemSelector); err != nil {
			return models.NewConfigurationError("item_selector", "%v", err)
		}
	}

	if _, err := s.targetTable(ctx, assignment); err != nil {
		return err
	}
	return nil
}

// targetTable looks the assignment's table up through the connector. It
// returns nil without error when no connector is configured.
func (s *Service) targetTable(ctx context.Context, assignment *models.Assignment) (*models.TableSchema, error) {
	if s.connector == nil {
		return nil, nil
	}
	tables, err := s.connector.DiscoverTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover target tables: %w", err)
	}
	for i := range tables {
		if tables[i].Name != assignment.TargetTable {
			continue
		}
		if assignment.TargetSchema == "" || tables[i].Schema == assignment.TargetSchema {
			return &tables[i], nil
		}
	}
	return nil, models.NewConfigurationError("target_table", "table %s does not exist in the target database", assignment.QualifiedTable())
}

func (s *Service) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish assignment event")
	}
}
