package models

import "time"

// LogLevel of a process log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ProcessLog is an append-only diagnostic record attached to a job
type ProcessLog struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	RowIndex  *int      `json:"row_index,omitempty"`
	Timestamp int64     `json:"-"` // UnixNano, sort key
	Sequence  uint64    `json:"-"` // Tie breaker within one nanosecond
	CreatedAt time.Time `json:"created_at"`
}
