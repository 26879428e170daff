package status

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
)

// AppState represents the application state
type AppState string

const (
	StateIdle       AppState = "idle"
	StateExtracting AppState = "extracting"
)

// JobCounter reports how many assignments have a job in flight
type JobCounter interface {
	InFlightCount() int
}

// BrowserChecker reports whether the browser strategy is usable
type BrowserChecker interface {
	BrowserAvailable() bool
}

// Snapshot is the application status returned to operators
type Snapshot struct {
	State            AppState  `json:"state"`
	InFlightJobs     int       `json:"in_flight_jobs"`
	Schedules        int       `json:"schedules"`
	BrowserAvailable bool      `json:"browser_available"`
	Goroutines       int       `json:"goroutines"`
	SafeGoroutines   int64     `json:"safe_goroutines"`
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
	Uptime           string    `json:"uptime"`
	Timestamp        time.Time `json:"timestamp"`
}

// Service tracks whether extraction work is in progress
type Service struct {
	state        AppState
	mu           sync.RWMutex
	jobs         JobCounter
	browser      BrowserChecker
	scheduler    interfaces.SchedulerService
	eventService interfaces.EventService
	startedAt    time.Time
	logger       arbor.ILogger
}

// NewService creates a new StatusService. browser and scheduler may be nil.
func NewService(jobs JobCounter, browser BrowserChecker, scheduler interfaces.SchedulerService, eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		jobs:         jobs,
		browser:      browser,
		scheduler:    scheduler,
		eventService: eventService,
		startedAt:    time.Now(),
		logger:       logger,
	}
}

// GetState returns the current application state (thread-safe)
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Refresh recomputes the state from the job counter and publishes a
// status_changed event when it moves
func (s *Service) Refresh() {
	inFlight := s.jobs.InFlightCount()
	next := StateIdle
	if inFlight > 0 {
		next = StateExtracting
	}

	s.mu.Lock()
	previous := s.state
	s.state = next
	s.mu.Unlock()
	if previous == next {
		return
	}

	s.logger.Info().
		Str("old_state", string(previous)).
		Str("new_state", string(next)).
		Int("in_flight_jobs", inFlight).
		Msg("Application state changed")

	if s.eventService == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventStatusChanged,
		Payload: map[string]interface{}{
			"state":          string(next),
			"in_flight_jobs": inFlight,
			"timestamp":      time.Now(),
		},
	}
	if err := s.eventService.Publish(context.Background(), event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish status event")
	}
}

// GetStatus returns the full status snapshot
func (s *Service) GetStatus() Snapshot {
	snapshot := Snapshot{
		State:          s.GetState(),
		InFlightJobs:   s.jobs.InFlightCount(),
		Goroutines:     runtime.NumGoroutine(),
		SafeGoroutines: common.GetGoroutineCount(),
		Version:        common.GetVersion(),
		StartedAt:      s.startedAt,
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp:      time.Now(),
	}
	if s.browser != nil {
		snapshot.BrowserAvailable = s.browser.BrowserAvailable()
	}
	if s.scheduler != nil {
		snapshot.Schedules = len(s.scheduler.Statuses())
	}
	return snapshot
}

// SubscribeToJobEvents keeps the state current as jobs change status
func (s *Service) SubscribeToJobEvents() error {
	if s.eventService == nil {
		return nil
	}
	handler := func(ctx context.Context, event interfaces.Event) error {
		s.Refresh()
		return nil
	}
	for _, eventType := range []interfaces.EventType{interfaces.EventJobCreated, interfaces.EventJobStatusChanged} {
		if err := s.eventService.Subscribe(eventType, handler); err != nil {
			return err
		}
	}

	s.logger.Debug().Msg("StatusService subscribed to job events")
	return nil
}
