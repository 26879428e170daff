// -----------------------------------------------------------------------
// Extraction Job - One execution attempt of an assignment
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus is the state of an extraction job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusStaging   JobStatus = "staging"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TriggerSource records what created a job
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerAuto      TriggerSource = "auto"
	TriggerScheduled TriggerSource = "scheduled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed, JobStatusCancelled},
	JobStatusRunning: {JobStatusStaging, JobStatusFailed, JobStatusCancelled},
	JobStatusStaging: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// IsActive reports whether the status holds the assignment's single-flight lease
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusStaging
}

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether a job may move from s to next
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobProgress holds the counters of a job. It is copied out of the running
// job on every poll.
type JobProgress struct {
	PagesProcessed int    `json:"pages_processed"`
	PagesTotal     int    `json:"pages_total"` // Upper bound, the maxPages ceiling for paginated runs
	RowsExtracted  int    `json:"rows_extracted"`
	RowsInserted   int    `json:"rows_inserted"`
	RowsFailed     int    `json:"rows_failed"`
	StagedRowCount int    `json:"staged_row_count"`
	CurrentURL     string `json:"current_url,omitempty"`
}

// ExtractionJob is one execution attempt of an assignment
type ExtractionJob struct {
	ID           string        `json:"id"`
	AssignmentID string        `json:"assignment_id"`
	WebSourceID  string        `json:"web_source_id"`
	Status       JobStatus     `json:"status"`
	Trigger      TriggerSource `json:"trigger"`
	JobProgress
	Strategy     string     `json:"strategy,omitempty"`    // Fetch strategy that produced the last page
	StagedRef    string     `json:"staged_ref,omitempty"`  // "inline" or the payload file path
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorDetails string     `json:"error_details,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	StagedAt     *time.Time `json:"staged_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
