package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated              EventType = "job_created"
	EventJobStatusChanged        EventType = "job_status_changed"
	EventJobCommitted            EventType = "job_committed"
	EventAssignmentStatusChanged EventType = "assignment_status_changed"
	EventAssignmentScheduled     EventType = "assignment_scheduled"
	EventAssignmentUnscheduled   EventType = "assignment_unscheduled"
	EventWebSourceAnalyzed       EventType = "web_source_analyzed"
	EventStatusChanged           EventType = "status_changed"
)

// AllEventTypes lists every event the service emits
var AllEventTypes = []EventType{
	EventJobCreated,
	EventJobStatusChanged,
	EventJobCommitted,
	EventAssignmentStatusChanged,
	EventAssignmentScheduled,
	EventAssignmentUnscheduled,
	EventWebSourceAnalyzed,
	EventStatusChanged,
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
