package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

const (
	fireTimeout = 30 * time.Second
	stopTimeout = 30 * time.Second
)

// entry is the recurring trigger of one assignment
type entry struct {
	assignmentID string
	scheduleType models.ScheduleType
	expression   string
	cronID       cron.EntryID
	lastRun      *time.Time
	lastJobID    string
	lastError    string
}

// Service maps assignments onto cron entries and dispatches their jobs
type Service struct {
	launcher    interfaces.JobLauncher
	assignments interfaces.AssignmentStorage
	events      interfaces.EventService
	cron        *cron.Cron
	location    *time.Location
	logger      arbor.ILogger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a scheduler evaluating cron expressions in location
func NewService(launcher interfaces.JobLauncher, assignments interfaces.AssignmentStorage, events interfaces.EventService, location *time.Location, logger arbor.ILogger) *Service {
	if location == nil {
		location = time.UTC
	}
	cronLog := &cronLogger{logger: logger}
	return &Service{
		launcher:    launcher,
		assignments: assignments,
		events:      events,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.Recover(cronLog)),
			cron.WithLogger(cronLog),
		),
		location: location,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// Start schedules every active assignment and starts the cron loop
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.mu.Unlock()

	active, err := s.assignments.ListAssignments(ctx, &interfaces.AssignmentListOptions{Status: models.AssignmentActive})
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}
	for _, assignment := range active {
		if err := s.Schedule(ctx, assignment); err != nil {
			// One bad expression must not keep the rest unscheduled
			s.logger.Warn().
				Err(err).
				Str("assignment_id", assignment.ID).
				Msg("Failed to schedule assignment")
		}
	}

	s.mu.Lock()
	s.running = true
	count := len(s.entries)
	s.mu.Unlock()
	s.cron.Start()

	s.logger.Info().
		Int("schedules", count).
		Str("timezone", s.location.String()).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for fires in progress
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running triggers")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Schedule reconciles the recurring trigger of an assignment. Assignments
// that are not active, auto-synced and non-manual are unscheduled.
func (s *Service) Schedule(ctx context.Context, assignment *models.Assignment) error {
	if !assignment.IsSchedulable() {
		s.Unschedule(assignment.ID)
		return nil
	}

	schedule, expression, err := s.parse(assignment)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if existing, ok := s.entries[assignment.ID]; ok {
		if existing.scheduleType == assignment.ScheduleType && existing.expression == expression {
			s.mu.Unlock()
			return nil
		}
		s.cron.Remove(existing.cronID)
		delete(s.entries, assignment.ID)
	}

	assignmentID := assignment.ID
	cronID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(assignmentID)
	}))
	s.entries[assignmentID] = &entry{
		assignmentID: assignmentID,
		scheduleType: assignment.ScheduleType,
		expression:   expression,
		cronID:       cronID,
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Str("schedule_type", string(assignment.ScheduleType)).
		Str("expression", expression).
		Msg("Assignment scheduled")
	s.publish(interfaces.EventAssignmentScheduled, map[string]interface{}{
		"assignment_id": assignmentID,
		"schedule_type": string(assignment.ScheduleType),
		"expression":    expression,
	})
	return nil
}

func (s *Service) parse(assignment *models.Assignment) (cron.Schedule, string, error) {
	switch assignment.ScheduleType {
	case models.ScheduleHourly:
		return cron.Every(time.Hour), "@every 1h", nil
	case models.ScheduleDaily:
		return cron.Every(24 * time.Hour), "@every 24h", nil
	case models.ScheduleWeekly:
		return cron.Every(7 * 24 * time.Hour), "@every 168h", nil
	case models.ScheduleCron:
		if err := common.ValidateCronExpression(assignment.CronExpression); err != nil {
			return nil, "", models.NewConfigurationError("cron_expression", "%v", err)
		}
		schedule, err := common.ParseCronExpression(assignment.CronExpression)
		if err != nil {
			return nil, "", models.NewConfigurationError("cron_expression", "%v", err)
		}
		if spec, ok := schedule.(*cron.SpecSchedule); ok {
			spec.Location = s.location
		}
		return schedule, assignment.CronExpression, nil
	default:
		return nil, "", models.NewConfigurationError("schedule_type", "unsupported schedule type %q", assignment.ScheduleType)
	}
}

// Unschedule removes the recurring trigger of an assignment. Removing an
// unscheduled assignment is a no-op.
func (s *Service) Unschedule(assignmentID string) {
	s.mu.Lock()
	existing, ok := s.entries[assignmentID]
	if ok {
		s.cron.Remove(existing.cronID)
		delete(s.entries, assignmentID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.logger.Info().Str("assignment_id", assignmentID).Msg("Assignment unscheduled")
	s.publish(interfaces.EventAssignmentUnscheduled, map[string]interface{}{
		"assignment_id": assignmentID,
	})
}

// TriggerNow launches a job for the assignment immediately. It returns
// models.ErrAlreadyRunning when the assignment has an in-flight job.
func (s *Service) TriggerNow(ctx context.Context, assignmentID string, trigger models.TriggerSource) (string, error) {
	if trigger == "" {
		trigger = models.TriggerManual
	}
	if s.launcher.IsInFlight(assignmentID) {
		return "", models.ErrAlreadyRunning
	}

	job, err := s.launcher.Launch(ctx, assignmentID, trigger)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// fire runs one recurring trigger. An in-flight job turns the fire into a no-op.
func (s *Service) fire(assignmentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	assignment, err := s.assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.Unschedule(assignmentID)
			return
		}
		s.record(assignmentID, "", err)
		return
	}
	if !assignment.IsSchedulable() {
		s.Unschedule(assignmentID)
		return
	}

	if s.launcher.IsInFlight(assignmentID) {
		s.logger.Debug().Str("assignment_id", assignmentID).Msg("Scheduled run skipped, job in flight")
		return
	}

	job, err := s.launcher.Launch(ctx, assignmentID, models.TriggerScheduled)
	if errors.Is(err, models.ErrAlreadyRunning) {
		s.logger.Debug().Str("assignment_id", assignmentID).Msg("Scheduled run skipped, job in flight")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("assignment_id", assignmentID).Msg("Scheduled run failed to launch")
		s.record(assignmentID, "", err)
		return
	}

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Str("job_id", job.ID).
		Msg("Scheduled run launched")
	s.record(assignmentID, job.ID, nil)
}

func (s *Service) record(assignmentID, jobID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[assignmentID]
	if !ok {
		return
	}
	now := time.Now()
	e.lastRun = &now
	if err != nil {
		e.lastError = err.Error()
		return
	}
	e.lastJobID = jobID
	e.lastError = ""
}

// Status returns the recurring trigger of an assignment
func (s *Service) Status(assignmentID string) (*interfaces.ScheduleStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[assignmentID]
	if !ok {
		return nil, false
	}
	return s.status(e), true
}

// Statuses returns every recurring trigger ordered by assignment
func (s *Service) Statuses() []*interfaces.ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]*interfaces.ScheduleStatus, 0, len(s.entries))
	for _, e := range s.entries {
		statuses = append(statuses, s.status(e))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].AssignmentID < statuses[j].AssignmentID
	})
	return statuses
}

// status builds a ScheduleStatus. Callers hold s.mu.
func (s *Service) status(e *entry) *interfaces.ScheduleStatus {
	status := &interfaces.ScheduleStatus{
		AssignmentID: e.assignmentID,
		ScheduleType: string(e.scheduleType),
		Expression:   e.expression,
		LastRun:      e.lastRun,
		LastJobID:    e.lastJobID,
		LastError:    e.lastError,
	}

	cronEntry := s.cron.Entry(e.cronID)
	next := cronEntry.Next
	if next.IsZero() && cronEntry.Schedule != nil {
		// Entries only get a Next once the loop has started
		next = cronEntry.Schedule.Next(time.Now().In(s.location))
	}
	if !next.IsZero() {
		status.NextRun = &next
	}
	return status
}

func (s *Service) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish scheduler event")
	}
}

// cronLogger routes cron's internal logging through arbor
type cronLogger struct {
	logger arbor.ILogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}
