// -----------------------------------------------------------------------
// Errors - Error taxonomy shared across the extraction pipeline
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a stored record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning is returned when an assignment already has a job in flight
	ErrAlreadyRunning = errors.New("assignment already has a job in flight")

	// ErrNoDataExtracted fails a job when no row survived across all pages
	ErrNoDataExtracted = errors.New("no data extracted")

	// ErrInUse is returned when deleting a record other records still reference
	ErrInUse = errors.New("in use")

	// ErrCancelled marks a job stopped by operator request
	ErrCancelled = errors.New("cancelled by operator")
)

// ConfigurationError rejects invalid operator input before any job is created
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// JobStateError is returned for a transition that is not valid from the current state
type JobStateError struct {
	JobID     string
	Current   JobStatus
	Attempted string
}

func (e *JobStateError) Error() string {
	return fmt.Sprintf("job %s: cannot %s from state %s", e.JobID, e.Attempted, e.Current)
}

// FieldFailureKind classifies a row-scoped field failure
type FieldFailureKind string

const (
	FieldMissingRequired  FieldFailureKind = "missing_required"
	FieldValidationFailed FieldFailureKind = "validation_failed"
	FieldTransformFailed  FieldFailureKind = "transform_failed"
	FieldCoercionFailed   FieldFailureKind = "coercion_failed"
	FieldSelectorInvalid  FieldFailureKind = "selector_invalid"
)

// FieldFailure is a row-scoped extraction failure for one column
type FieldFailure struct {
	Kind    FieldFailureKind `json:"kind"`
	Column  string           `json:"column"`
	RuleID  string           `json:"rule_id,omitempty"`
	Value   string           `json:"value,omitempty"` // Raw or transformed value that failed
	Message string           `json:"message"`
}

func (f *FieldFailure) Error() string {
	return fmt.Sprintf("field %s: %s: %s", f.Column, f.Kind, f.Message)
}

// FetchErrorKind classifies a fetch failure
type FetchErrorKind string

const (
	FetchNetworkError FetchErrorKind = "network"
	FetchHTTPError    FetchErrorKind = "http"
	FetchTimeoutError FetchErrorKind = "timeout"
	FetchRenderError  FetchErrorKind = "render"
)

// FetchError is a page-scoped fetch failure
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPError {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt at the same URL may succeed.
// 4xx responses other than 408 and 429 and render failures are permanent.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchNetworkError, FetchTimeoutError:
		return true
	case FetchHTTPError:
		return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
	default:
		return false
	}
}
