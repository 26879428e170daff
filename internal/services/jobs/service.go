// -----------------------------------------------------------------------
// Job Service - Extraction job lifecycle: launch, stage, commit, cancel
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/auth"
	"github.com/ternarybob/quarry/internal/services/runner"
)

const (
	defaultMaxConcurrentJobs = 4
	defaultCommitBatchSize   = 500
	shutdownTimeout          = 30 * time.Second
)

// liveJob is the in-memory copy of an active job. Progress is written by
// the run goroutine and read by pollers under mu.
type liveJob struct {
	mu         sync.RWMutex
	job        models.ExtractionJob
	cancel     context.CancelFunc
	running    bool // run goroutine still alive
	committing bool
}

func (l *liveJob) snapshot() *models.ExtractionJob {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job := l.job
	return &job
}

// Service runs extraction jobs and owns their state machine
type Service struct {
	storage   interfaces.StorageManager
	runner    *runner.Runner
	connector interfaces.DatabaseConnector
	secrets   interfaces.SecretStore
	events    interfaces.EventService
	leases    *LeaseRegistry
	slots     *semaphore.Weighted
	batchSize int
	logger    arbor.ILogger

	mu   sync.Mutex
	live map[string]*liveJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.JobLauncher = (*Service)(nil)

// NewService creates the job service. connector and secrets may be nil;
// commits then fail with a configuration error and authenticated sources
// cannot be fetched.
func NewService(
	storage interfaces.StorageManager,
	runner *runner.Runner,
	connector interfaces.DatabaseConnector,
	secrets interfaces.SecretStore,
	events interfaces.EventService,
	config *common.JobsConfig,
	logger arbor.ILogger,
) *Service {
	maxJobs := defaultMaxConcurrentJobs
	batchSize := defaultCommitBatchSize
	if config != nil {
		if config.MaxConcurrentJobs > 0 {
			maxJobs = config.MaxConcurrentJobs
		}
		if config.CommitBatchSize > 0 {
			batchSize = config.CommitBatchSize
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		storage:   storage,
		runner:    runner,
		connector: connector,
		secrets:   secrets,
		events:    events,
		leases:    NewLeaseRegistry(),
		slots:     semaphore.NewWeighted(int64(maxJobs)),
		batchSize: batchSize,
		logger:    logger,
		live:      make(map[string]*liveJob),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// IsInFlight reports whether the assignment has a pending, running or staging job
func (s *Service) IsInFlight(assignmentID string) bool {
	_, held := s.leases.Holder(assignmentID)
	return held
}

// ActiveJob returns the ID of the assignment's in-flight job
func (s *Service) ActiveJob(assignmentID string) (string, bool) {
	return s.leases.Holder(assignmentID)
}

// Reserve holds the assignment's lease without creating a job, so no job
// can start until release is called. It returns models.ErrAlreadyRunning
// when a job is in flight.
func (s *Service) Reserve(assignmentID string) (func(), error) {
	token := common.NewID("reserve")
	if err := s.leases.Acquire(assignmentID, token); err != nil {
		return nil, err
	}
	return func() { s.leases.Release(assignmentID, token) }, nil
}

// InFlightCount returns the number of assignments holding a job lease
func (s *Service) InFlightCount() int {
	return s.leases.Count()
}

// Launch creates a pending job for the assignment and starts it in the
// background. It returns models.ErrAlreadyRunning when the assignment
// already has an in-flight job.
func (s *Service) Launch(ctx context.Context, assignmentID string, trigger models.TriggerSource) (*models.ExtractionJob, error) {
	if trigger == "" {
		trigger = models.TriggerManual
	}

	// The lease is taken before the assignment is read so a concurrent
	// delete, which reserves the same lease, cannot interleave.
	jobID := common.NewID(common.PrefixJob)
	if err := s.leases.Acquire(assignmentID, jobID); err != nil {
		s.logger.Debug().
			Str("assignment_id", assignmentID).
			Str("trigger", string(trigger)).
			Msg("Launch rejected, assignment already has an in-flight job")
		return nil, err
	}

	assignment, source, rules, err := s.loadAssignment(ctx, assignmentID)
	if err == nil && (assignment.Status == models.AssignmentDraft || assignment.Status == models.AssignmentError) {
		err = models.NewConfigurationError("status", "assignment %s is %s and cannot be run", assignmentID, assignment.Status)
	}
	if err == nil {
		err = checkRunnable(assignment, rules)
	}
	if err != nil {
		s.leases.Release(assignmentID, jobID)
		return nil, err
	}

	job := models.ExtractionJob{
		ID:           jobID,
		AssignmentID: assignmentID,
		WebSourceID:  assignment.WebSourceID,
		Status:       models.JobStatusPending,
		Trigger:      trigger,
		CreatedAt:    time.Now(),
	}
	if err := s.storage.JobStorage().SaveJob(ctx, &job); err != nil {
		s.leases.Release(assignmentID, jobID)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	lj := &liveJob{job: job, cancel: cancel, running: true}
	s.mu.Lock()
	s.live[jobID] = lj
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", jobID).
		Str("assignment_id", assignmentID).
		Str("trigger", string(trigger)).
		Msg("Extraction job created")
	s.publish(interfaces.EventJobCreated, &job, map[string]interface{}{"trigger": string(trigger)})

	s.wg.Add(1)
	common.SafeGo(s.logger, "job-"+jobID, func() {
		defer s.wg.Done()
		s.execute(jobCtx, lj, assignment, source, rules)
	})

	return &job, nil
}

// execute drives one job from pending to staging, then commits when the
// assignment syncs automatically.
func (s *Service) execute(ctx context.Context, lj *liveJob, assignment *models.Assignment, source *models.WebSource, rules []*models.ExtractionRule) {
	jobID := lj.snapshot().ID
	logger := s.logger.WithCorrelationId(jobID)
	defer s.exit(lj)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	if _, err := s.transition(context.Background(), jobID, models.JobStatusRunning, "start", nil); err != nil {
		logger.Debug().Err(err).Msg("Job not started")
		return
	}
	s.appendLog(jobID, models.LogLevelInfo, "Extraction started", assignment.ResolveStartURL(source), nil)

	creds, err := s.resolveAuth(ctx, source)
	if err != nil {
		s.Fail(jobID, err)
		return
	}

	reporter := &jobReporter{service: s, live: lj, logger: logger}
	outcome, err := s.runner.Run(ctx, runner.Request{
		Assignment: assignment,
		Source:     source,
		Rules:      rules,
		Auth:       creds,
		Mode:       runner.ModeFull,
	}, reporter)
	reporter.apply(outcome)

	if err != nil {
		if runner.IsCancellation(err) {
			if s.ctx.Err() != nil {
				s.Fail(jobID, errors.New("interrupted by shutdown"))
			}
			// Operator cancellation already moved the job to cancelled.
			return
		}
		s.failWithOutcome(jobID, err, outcome)
		return
	}

	payload, err := s.storage.StagingStorage().Stage(context.Background(), jobID, outcome.Columns, outcome.Rows)
	if err != nil {
		s.Fail(jobID, fmt.Errorf("failed to stage rows: %w", err))
		return
	}

	staged, err := s.transition(context.Background(), jobID, models.JobStatusStaging, "stage", func(job *models.ExtractionJob) {
		job.StagedRowCount = payload.RowCount
		job.StagedRef = stagedRef(payload)
	})
	if err != nil {
		// Cancelled while staging; the rows must not outlive the job.
		s.discard(jobID)
		return
	}

	logger.Info().
		Int("rows", staged.StagedRowCount).
		Int("rows_failed", staged.RowsFailed).
		Int("pages", staged.PagesProcessed).
		Str("stop_reason", outcome.StopReason).
		Msg("Rows staged")
	s.appendLog(jobID, models.LogLevelInfo, fmt.Sprintf("Staged %d rows from %d pages", staged.StagedRowCount, staged.PagesProcessed), "", nil)

	if assignment.SyncMode == models.SyncModeAuto {
		if _, err := s.Commit(context.Background(), jobID); err != nil {
			logger.Warn().Err(err).Msg("Automatic commit failed")
		}
	}
}

// exit runs when the job goroutine returns, including after a panic
func (s *Service) exit(lj *liveJob) {
	job := lj.snapshot()
	if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
		reason := "job interrupted"
		if s.ctx.Err() != nil {
			reason = "interrupted by shutdown"
		}
		s.Fail(job.ID, errors.New(reason))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lj.mu.Lock()
	lj.running = false
	status := lj.job.Status
	lj.mu.Unlock()
	if status.IsTerminal() {
		delete(s.live, job.ID)
		s.leases.Release(job.AssignmentID, job.ID)
	}
}

// transition moves a live job to next. mutate runs on the job before it is
// persisted; a failed save leaves the in-memory job unchanged.
func (s *Service) transition(ctx context.Context, jobID string, next models.JobStatus, attempted string, mutate func(*models.ExtractionJob)) (*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lj, ok := s.live[jobID]
	if !ok {
		job, err := s.storage.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, &models.JobStateError{JobID: jobID, Current: job.Status, Attempted: attempted}
	}

	lj.mu.Lock()
	previous := lj.job
	if !previous.Status.CanTransitionTo(next) ||
		(lj.committing && next != models.JobStatusCompleted && next != models.JobStatusFailed) {
		lj.mu.Unlock()
		return nil, &models.JobStateError{JobID: jobID, Current: previous.Status, Attempted: attempted}
	}

	updated := previous
	updated.Status = next
	now := time.Now()
	switch {
	case next == models.JobStatusRunning:
		updated.StartedAt = &now
	case next == models.JobStatusStaging:
		updated.StagedAt = &now
	case next.IsTerminal():
		updated.FinishedAt = &now
		updated.CurrentURL = ""
	}
	if mutate != nil {
		mutate(&updated)
	}

	if err := s.storage.JobStorage().SaveJob(ctx, &updated); err != nil {
		lj.mu.Unlock()
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	lj.job = updated
	running := lj.running
	lj.mu.Unlock()

	if next.IsTerminal() {
		s.leases.Release(updated.AssignmentID, jobID)
		if !running {
			delete(s.live, jobID)
		}
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("from", string(previous.Status)).
		Str("to", string(next)).
		Msg("Job status changed")
	s.publish(interfaces.EventJobStatusChanged, &updated, map[string]interface{}{
		"previous_status": string(previous.Status),
		"error":           updated.ErrorMessage,
	})

	job := updated
	return &job, nil
}

// Commit inserts the staged rows of a job into the target table. Only a
// job in staging can be committed; any other state returns a
// models.JobStateError and changes nothing.
func (s *Service) Commit(ctx context.Context, jobID string) (*models.ExtractionJob, error) {
	lj, err := s.beginCommit(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer s.endCommit(lj)

	job := lj.snapshot()
	if s.connector == nil {
		return nil, models.NewConfigurationError("target", "no target database is configured")
	}

	assignment, err := s.storage.AssignmentStorage().GetAssignment(ctx, job.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	payload, rows, err := s.storage.StagingStorage().Load(ctx, jobID)
	if err != nil {
		s.Fail(jobID, fmt.Errorf("staged rows unavailable: %w", err))
		return nil, err
	}

	table := assignment.QualifiedTable()
	logger := s.logger.WithCorrelationId(jobID)
	logger.Info().Str("table", table).Int("rows", len(rows)).Msg("Committing staged rows")

	inserted, failed := 0, 0
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		result, err := s.connector.InsertRows(ctx, table, payload.Columns, rows[start:end])
		if result != nil {
			inserted += result.Inserted
			failed += result.Failed
			for _, rowErr := range result.Errors {
				index := start + rowErr.RowIndex
				s.appendLog(jobID, models.LogLevelWarn, "Insert failed: "+rowErr.Message, "", &index)
			}
		}
		if err != nil {
			s.failWithCounts(jobID, fmt.Errorf("commit to %s failed: %w", table, err), inserted, failed)
			return nil, err
		}
	}

	completed, err := s.transition(ctx, jobID, models.JobStatusCompleted, "commit", func(j *models.ExtractionJob) {
		j.RowsInserted = inserted
		j.RowsFailed += failed
	})
	if err != nil {
		return nil, err
	}
	s.discard(jobID)

	logger.Info().
		Str("table", table).
		Int("inserted", inserted).
		Int("failed", failed).
		Msg("Staged rows committed")
	s.appendLog(jobID, models.LogLevelInfo, fmt.Sprintf("Committed %d rows to %s, %d failed", inserted, table, failed), "", nil)
	s.publish(interfaces.EventJobCommitted, completed, map[string]interface{}{
		"table":         table,
		"rows_inserted": inserted,
		"rows_failed":   failed,
	})
	return completed, nil
}

func (s *Service) beginCommit(ctx context.Context, jobID string) (*liveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lj, ok := s.live[jobID]
	if !ok {
		job, err := s.storage.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, &models.JobStateError{JobID: jobID, Current: job.Status, Attempted: "commit"}
	}

	lj.mu.Lock()
	defer lj.mu.Unlock()
	if lj.job.Status != models.JobStatusStaging || lj.committing {
		return nil, &models.JobStateError{JobID: jobID, Current: lj.job.Status, Attempted: "commit"}
	}
	lj.committing = true
	return lj, nil
}

func (s *Service) endCommit(lj *liveJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lj.mu.Lock()
	lj.committing = false
	lj.mu.Unlock()
}

// Cancel stops a pending, running or staging job and discards its staged
// rows. A job whose commit is in progress cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, jobID string) (*models.ExtractionJob, error) {
	job, err := s.transition(ctx, jobID, models.JobStatusCancelled, "cancel", func(j *models.ExtractionJob) {
		j.ErrorMessage = models.ErrCancelled.Error()
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	lj, ok := s.live[jobID]
	s.mu.Unlock()
	if ok && lj.cancel != nil {
		lj.cancel()
	}

	s.discard(jobID)
	s.appendLog(jobID, models.LogLevelWarn, "Job cancelled", "", nil)
	return job, nil
}

// Fail moves an active job to failed with err as its message
func (s *Service) Fail(jobID string, err error) {
	s.failWithOutcome(jobID, err, nil)
}

func (s *Service) failWithOutcome(jobID string, cause error, outcome *runner.Outcome) {
	s.fail(jobID, cause, func(job *models.ExtractionJob) {
		if outcome == nil {
			return
		}
		if outcome.FirstFailure != nil {
			job.ErrorDetails = outcome.FirstFailure.Error()
		} else if outcome.LastFetchError != "" {
			job.ErrorDetails = outcome.LastFetchError
		}
	})
}

func (s *Service) failWithCounts(jobID string, cause error, inserted, failed int) {
	s.fail(jobID, cause, func(job *models.ExtractionJob) {
		job.RowsInserted = inserted
		job.RowsFailed += failed
	})
}

func (s *Service) fail(jobID string, cause error, mutate func(*models.ExtractionJob)) {
	job, err := s.transition(context.Background(), jobID, models.JobStatusFailed, "fail", func(j *models.ExtractionJob) {
		j.ErrorMessage = cause.Error()
		mutate(j)
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("Job not failed")
		return
	}

	s.discard(jobID)
	s.appendLog(jobID, models.LogLevelError, job.ErrorMessage, "", nil)
	s.logger.WithCorrelationId(jobID).Error().
		Str("assignment_id", job.AssignmentID).
		Str("error", job.ErrorMessage).
		Msg("Extraction job failed")
}

// Sample runs the assignment in sample mode without creating a job
func (s *Service) Sample(ctx context.Context, assignmentID string, maxRows int) (*runner.Outcome, error) {
	assignment, source, rules, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := checkRunnable(assignment, rules); err != nil {
		return nil, err
	}

	creds, err := s.resolveAuth(ctx, source)
	if err != nil {
		return nil, err
	}

	return s.runner.Run(ctx, runner.Request{
		Assignment: assignment,
		Source:     source,
		Rules:      rules,
		Auth:       creds,
		Mode:       runner.ModeSample,
		MaxRows:    maxRows,
	}, runner.NopReporter{})
}

// Get returns a job, reading live progress for active jobs
func (s *Service) Get(ctx context.Context, jobID string) (*models.ExtractionJob, error) {
	s.mu.Lock()
	lj, ok := s.live[jobID]
	s.mu.Unlock()
	if ok {
		return lj.snapshot(), nil
	}
	return s.storage.JobStorage().GetJob(ctx, jobID)
}

// List returns stored jobs with live progress overlaid
func (s *Service) List(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.ExtractionJob, error) {
	jobs, err := s.storage.JobStorage().ListJobs(ctx, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range jobs {
		if lj, ok := s.live[job.ID]; ok {
			jobs[i] = lj.snapshot()
		}
	}
	return jobs, nil
}

// Logs returns the process logs of a job
func (s *Service) Logs(ctx context.Context, jobID string, level models.LogLevel, limit, offset int) ([]*models.ProcessLog, int, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, 0, err
	}
	logs, err := s.storage.ProcessLogStorage().GetLogs(ctx, jobID, level, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.storage.ProcessLogStorage().CountLogs(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// StagedRows returns up to limit staged rows of a job in staging. Jobs
// that have not staged yet return a state error; once a job has left
// staging its payload is gone and the read is not found.
func (s *Service) StagedRows(ctx context.Context, jobID string, limit int) ([]string, []models.Row, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
		return nil, nil, &models.JobStateError{JobID: jobID, Current: job.Status, Attempted: "read staged rows"}
	}

	payload, rows, err := s.storage.StagingStorage().Load(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return payload.Columns, rows, nil
}

// Recover restores job state after a restart. Jobs that were pending or
// running have lost their goroutine and are failed; staging jobs keep
// their lease and wait for a commit or cancel.
func (s *Service) Recover(ctx context.Context) error {
	stale, err := s.storage.JobStorage().GetJobsByStatus(ctx, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list interrupted jobs: %w", err)
	}
	for _, job := range stale {
		now := time.Now()
		job.Status = models.JobStatusFailed
		job.ErrorMessage = "interrupted by restart"
		job.FinishedAt = &now
		job.CurrentURL = ""
		if err := s.storage.JobStorage().SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to fail interrupted job %s: %w", job.ID, err)
		}
		_ = s.storage.StagingStorage().Discard(ctx, job.ID)
		s.appendLog(job.ID, models.LogLevelError, job.ErrorMessage, "", nil)
	}

	staged, err := s.storage.JobStorage().GetJobsByStatus(ctx, models.JobStatusStaging)
	if err != nil {
		return fmt.Errorf("failed to list staged jobs: %w", err)
	}
	s.mu.Lock()
	for _, job := range staged {
		if err := s.leases.Acquire(job.AssignmentID, job.ID); err != nil {
			s.logger.Warn().
				Str("job_id", job.ID).
				Str("assignment_id", job.AssignmentID).
				Msg("Assignment has more than one staged job")
			continue
		}
		s.live[job.ID] = &liveJob{job: *job}
	}
	s.mu.Unlock()

	s.logger.Info().
		Int("failed", len(stale)).
		Int("staging", len(staged)).
		Msg("Job state recovered")
	return nil
}

// Close cancels every running job and waits for their goroutines
func (s *Service) Close() error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Job service stopped")
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("timed out waiting for jobs to stop")
	}
}

func (s *Service) loadAssignment(ctx context.Context, assignmentID string) (*models.Assignment, *models.WebSource, []*models.ExtractionRule, error) {
	assignment, err := s.storage.AssignmentStorage().GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	source, err := s.storage.WebSourceStorage().GetWebSource(ctx, assignment.WebSourceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load web source %s: %w", assignment.WebSourceID, err)
	}
	rules, err := s.storage.RuleStorage().ListRules(ctx, assignmentID, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return assignment, source, rules, nil
}

func checkRunnable(assignment *models.Assignment, rules []*models.ExtractionRule) error {
	switch assignment.Method() {
	case models.ExtractionLLM:
		if assignment.Capture == nil || len(assignment.Capture.Columns) == 0 {
			return models.NewConfigurationError("capture", "assignment %s has no capture configuration", assignment.ID)
		}
	default:
		if len(rules) == 0 {
			return models.NewConfigurationError("rules", "assignment %s has no active extraction rules", assignment.ID)
		}
	}
	return nil
}

func (s *Service) resolveAuth(ctx context.Context, source *models.WebSource) (*models.AuthConfig, error) {
	return auth.Resolve(ctx, s.secrets, source)
}

func (s *Service) discard(jobID string) {
	if err := s.storage.StagingStorage().Discard(context.Background(), jobID); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to discard staged rows")
	}
}

func (s *Service) appendLog(jobID string, level models.LogLevel, message, url string, rowIndex *int) {
	entry := &models.ProcessLog{
		JobID:    jobID,
		Level:    level,
		Message:  message,
		URL:      url,
		RowIndex: rowIndex,
	}
	if err := s.storage.ProcessLogStorage().AppendLog(context.Background(), entry); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append process log")
	}
}

func (s *Service) publish(eventType interfaces.EventType, job *models.ExtractionJob, extra map[string]interface{}) {
	if s.events == nil {
		return
	}

	payload := map[string]interface{}{
		"job_id":        job.ID,
		"assignment_id": job.AssignmentID,
		"web_source_id": job.WebSourceID,
		"status":        string(job.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}

	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish job event")
	}
}

func stagedRef(payload *models.StagedPayload) string {
	if payload.FilePath != "" {
		return payload.FilePath
	}
	return "inline"
}
