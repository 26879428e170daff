// -----------------------------------------------------------------------
// Assignment - Binds one web source to one target table
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// SyncMode controls whether staged rows are committed automatically
type SyncMode string

const (
	SyncModeManual SyncMode = "manual"
	SyncModeAuto   SyncMode = "auto"
)

// ScheduleType is the recurring trigger descriptor of an assignment
type ScheduleType string

const (
	ScheduleManual ScheduleType = "manual"
	ScheduleHourly ScheduleType = "hourly"
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
	ScheduleCron   ScheduleType = "cron"
)

// AssignmentStatus is the operator-facing lifecycle of an assignment
type AssignmentStatus string

const (
	AssignmentDraft   AssignmentStatus = "draft"
	AssignmentTesting AssignmentStatus = "testing"
	AssignmentActive  AssignmentStatus = "active"
	AssignmentPaused  AssignmentStatus = "paused"
	AssignmentError   AssignmentStatus = "error"
)

// ExtractionMethod selects between rule evaluation and LLM capture
type ExtractionMethod string

const (
	ExtractionRules ExtractionMethod = "rules"
	ExtractionLLM   ExtractionMethod = "llm"
)

// assignmentTransitions lists the allowed status changes.
// Any status may move to error.
var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentDraft:   {AssignmentTesting},
	AssignmentTesting: {AssignmentActive, AssignmentDraft},
	AssignmentActive:  {AssignmentPaused, AssignmentTesting},
	AssignmentPaused:  {AssignmentActive, AssignmentTesting},
	AssignmentError:   {AssignmentDraft, AssignmentTesting},
}

// CanTransitionTo reports whether the assignment may move from s to next
func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	if next == AssignmentError || s == next {
		return true
	}
	for _, allowed := range assignmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Assignment binds a web source to a target table with its own schedule and rules
type Assignment struct {
	ID               string           `json:"id"`
	Name             string           `json:"name" validate:"required,max=200"`
	WebSourceID      string           `json:"web_source_id" validate:"required"`
	TargetSchema     string           `json:"target_schema"`
	TargetTable      string           `json:"target_table" validate:"required"`
	SyncMode         SyncMode         `json:"sync_mode" validate:"omitempty,oneof=manual auto"`
	ScheduleType     ScheduleType     `json:"schedule_type" validate:"omitempty,oneof=manual hourly daily weekly cron"`
	CronExpression   string           `json:"cron_expression,omitempty" validate:"required_if=ScheduleType cron"`
	Status           AssignmentStatus `json:"status"`
	StatusMessage    string           `json:"status_message,omitempty"` // Reason for the error status
	StartURL         string           `json:"start_url,omitempty" validate:"omitempty,url"`
	ExtractionMethod ExtractionMethod `json:"extraction_method" validate:"omitempty,oneof=rules llm"`
	ItemSelector     string           `json:"item_selector,omitempty"` // CSS selector of the repeating element; empty means inferred
	Pagination       PaginationConfig `json:"pagination"`
	Capture          *CaptureConfig   `json:"capture,omitempty"` // Required when ExtractionMethod is llm
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsSchedulable reports whether the assignment should carry a recurring trigger
func (a *Assignment) IsSchedulable() bool {
	return a.Status == AssignmentActive &&
		a.SyncMode == SyncModeAuto &&
		a.ScheduleType != "" &&
		a.ScheduleType != ScheduleManual
}

// ResolveStartURL returns the assignment start URL, falling back to the source base URL
func (a *Assignment) ResolveStartURL(source *WebSource) string {
	if a.StartURL != "" {
		return a.StartURL
	}
	if source != nil {
		return source.BaseURL
	}
	return ""
}

// Method returns the extraction method, defaulting to rules
func (a *Assignment) Method() ExtractionMethod {
	if a.ExtractionMethod == "" {
		return ExtractionRules
	}
	return a.ExtractionMethod
}

// QualifiedTable returns schema.table, or table when no schema is set
func (a *Assignment) QualifiedTable() string {
	if a.TargetSchema == "" {
		return a.TargetTable
	}
	return a.TargetSchema + "." + a.TargetTable
}
