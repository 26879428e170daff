package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// fakeLauncher holds one lease per assignment until release is called
type fakeLauncher struct {
	mu       sync.Mutex
	inFlight map[string]bool
	launches []models.TriggerSource
	err      error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{inFlight: make(map[string]bool)}
}

func (l *fakeLauncher) IsInFlight(assignmentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[assignmentID]
}

func (l *fakeLauncher) Launch(ctx context.Context, assignmentID string, trigger models.TriggerSource) (*models.ExtractionJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.inFlight[assignmentID] {
		return nil, models.ErrAlreadyRunning
	}
	l.inFlight[assignmentID] = true
	l.launches = append(l.launches, trigger)
	return &models.ExtractionJob{ID: fmt.Sprintf("job_%d", len(l.launches)), AssignmentID: assignmentID, Trigger: trigger}, nil
}

func (l *fakeLauncher) release(assignmentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, assignmentID)
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

// memoryAssignments is an in-memory AssignmentStorage
type memoryAssignments struct {
	mu    sync.Mutex
	items map[string]*models.Assignment
}

func (m *memoryAssignments) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.items[a.ID] = &copied
	return nil
}

func (m *memoryAssignments) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, models.ErrNotFound)
	}
	copied := *a
	return &copied, nil
}

func (m *memoryAssignments) ListAssignments(ctx context.Context, opts *interfaces.AssignmentListOptions) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Assignment
	for _, a := range m.items {
		if opts != nil && opts.Status != "" && a.Status != opts.Status {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memoryAssignments) DeleteAssignment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func autoAssignment(id string, scheduleType models.ScheduleType) *models.Assignment {
	return &models.Assignment{
		ID:           id,
		Name:         id,
		WebSourceID:  "src_1",
		TargetTable:  "products",
		SyncMode:     models.SyncModeAuto,
		ScheduleType: scheduleType,
		Status:       models.AssignmentActive,
	}
}

func newTestScheduler(t *testing.T, location *time.Location) (*Service, *fakeLauncher, *memoryAssignments) {
	t.Helper()
	launcher := newFakeLauncher()
	store := &memoryAssignments{items: make(map[string]*models.Assignment)}
	s := NewService(launcher, store, nil, location, arbor.NewLogger())
	t.Cleanup(func() { _ = s.Stop() })
	return s, launcher, store
}

func TestSchedule_OnlySchedulableAssignments(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(a *models.Assignment)
	}{
		{"manual sync", func(a *models.Assignment) { a.SyncMode = models.SyncModeManual }},
		{"paused", func(a *models.Assignment) { a.Status = models.AssignmentPaused }},
		{"manual schedule", func(a *models.Assignment) { a.ScheduleType = models.ScheduleManual }},
		{"no schedule", func(a *models.Assignment) { a.ScheduleType = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := autoAssignment("asg_1", models.ScheduleHourly)
			tc.mutate(a)
			require.NoError(t, s.Schedule(ctx, a))
			_, ok := s.Status("asg_1")
			assert.False(t, ok)
		})
	}
	assert.Empty(t, s.Statuses())
}

func TestSchedule_IntervalTypes(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	intervals := map[models.ScheduleType]time.Duration{
		models.ScheduleHourly: time.Hour,
		models.ScheduleDaily:  24 * time.Hour,
		models.ScheduleWeekly: 7 * 24 * time.Hour,
	}
	for scheduleType, interval := range intervals {
		id := "asg_" + string(scheduleType)
		require.NoError(t, s.Schedule(ctx, autoAssignment(id, scheduleType)))

		status, ok := s.Status(id)
		require.True(t, ok)
		require.NotNil(t, status.NextRun)
		assert.WithinDuration(t, time.Now().Add(interval), *status.NextRun, 2*time.Second)
	}
	assert.Len(t, s.Statuses(), 3)
}

func TestSchedule_CronUsesReferenceTimezone(t *testing.T) {
	location := time.FixedZone("UTC+10", 10*60*60)
	s, _, _ := newTestScheduler(t, location)

	a := autoAssignment("asg_1", models.ScheduleCron)
	a.CronExpression = "30 6 * * *"
	require.NoError(t, s.Schedule(context.Background(), a))

	status, ok := s.Status("asg_1")
	require.True(t, ok)
	assert.Equal(t, "30 6 * * *", status.Expression)
	require.NotNil(t, status.NextRun)

	next := status.NextRun.In(location)
	assert.Equal(t, 6, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestSchedule_InvalidCronIsConfigurationError(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	var cfgErr *models.ConfigurationError

	for _, expr := range []string{"not a cron", "* * * * *", "*/2 * * * *"} {
		a := autoAssignment("asg_1", models.ScheduleCron)
		a.CronExpression = expr
		err := s.Schedule(context.Background(), a)
		assert.ErrorAs(t, err, &cfgErr, expr)
	}
	_, ok := s.Status("asg_1")
	assert.False(t, ok)
}

func TestSchedule_ReplacesAndUnschedules(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	a := autoAssignment("asg_1", models.ScheduleHourly)
	require.NoError(t, s.Schedule(ctx, a))
	first, _ := s.Status("asg_1")

	require.NoError(t, s.Schedule(ctx, a))
	again, _ := s.Status("asg_1")
	assert.Equal(t, first.Expression, again.Expression)
	assert.Len(t, s.Statuses(), 1)

	a.ScheduleType = models.ScheduleDaily
	require.NoError(t, s.Schedule(ctx, a))
	daily, ok := s.Status("asg_1")
	require.True(t, ok)
	assert.Equal(t, "daily", daily.ScheduleType)

	a.Status = models.AssignmentPaused
	require.NoError(t, s.Schedule(ctx, a))
	_, ok = s.Status("asg_1")
	assert.False(t, ok)

	s.Unschedule("asg_1")
	s.Unschedule("asg_never")
	assert.Empty(t, s.Statuses())
}

func TestTriggerNow_RejectsInFlight(t *testing.T) {
	s, launcher, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	jobID, err := s.TriggerNow(ctx, "asg_1", "")
	require.NoError(t, err)
	assert.Equal(t, "job_1", jobID)

	_, err = s.TriggerNow(ctx, "asg_1", models.TriggerManual)
	assert.ErrorIs(t, err, models.ErrAlreadyRunning)
	assert.Equal(t, 1, launcher.count())

	launcher.release("asg_1")
	_, err = s.TriggerNow(ctx, "asg_1", models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, []models.TriggerSource{models.TriggerManual, models.TriggerManual}, launcher.launches)
}

func TestTriggerNow_ConcurrentCallsYieldOneJob(t *testing.T) {
	s, launcher, _ := newTestScheduler(t, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.TriggerNow(context.Background(), "asg_1", models.TriggerManual)
		}(i)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for _, err := range results {
		if err == nil {
			accepted++
		} else if assert.ErrorIs(t, err, models.ErrAlreadyRunning) {
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, launcher.count())
}

func TestFire_SkipsWhileInFlight(t *testing.T) {
	s, launcher, store := newTestScheduler(t, nil)
	ctx := context.Background()

	a := autoAssignment("asg_1", models.ScheduleHourly)
	require.NoError(t, store.SaveAssignment(ctx, a))
	require.NoError(t, s.Schedule(ctx, a))

	s.fire("asg_1")
	require.Equal(t, 1, launcher.count())
	assert.Equal(t, models.TriggerScheduled, launcher.launches[0])

	status, _ := s.Status("asg_1")
	assert.Equal(t, "job_1", status.LastJobID)
	require.NotNil(t, status.LastRun)

	s.fire("asg_1")
	assert.Equal(t, 1, launcher.count())
	status, _ = s.Status("asg_1")
	assert.Empty(t, status.LastError)
}

func TestFire_UnschedulesStaleAssignments(t *testing.T) {
	s, launcher, store := newTestScheduler(t, nil)
	ctx := context.Background()

	a := autoAssignment("asg_1", models.ScheduleHourly)
	require.NoError(t, s.Schedule(ctx, a))

	a.SyncMode = models.SyncModeManual
	require.NoError(t, store.SaveAssignment(ctx, a))
	s.fire("asg_1")
	_, ok := s.Status("asg_1")
	assert.False(t, ok)

	require.NoError(t, s.Schedule(ctx, autoAssignment("asg_2", models.ScheduleHourly)))
	s.fire("asg_2")
	_, ok = s.Status("asg_2")
	assert.False(t, ok)
	assert.Equal(t, 0, launcher.count())
}

func TestFire_RecordsLaunchError(t *testing.T) {
	s, launcher, store := newTestScheduler(t, nil)
	ctx := context.Background()
	launcher.err = models.NewConfigurationError("rules", "no active rules")

	a := autoAssignment("asg_1", models.ScheduleDaily)
	require.NoError(t, store.SaveAssignment(ctx, a))
	require.NoError(t, s.Schedule(ctx, a))

	s.fire("asg_1")
	status, ok := s.Status("asg_1")
	require.True(t, ok)
	assert.Contains(t, status.LastError, "no active rules")
}

func TestStart_SchedulesActiveAssignments(t *testing.T) {
	s, _, store := newTestScheduler(t, nil)
	ctx := context.Background()

	require.NoError(t, store.SaveAssignment(ctx, autoAssignment("asg_1", models.ScheduleHourly)))
	paused := autoAssignment("asg_2", models.ScheduleHourly)
	paused.Status = models.AssignmentPaused
	require.NoError(t, store.SaveAssignment(ctx, paused))
	manual := autoAssignment("asg_3", models.ScheduleDaily)
	manual.SyncMode = models.SyncModeManual
	require.NoError(t, store.SaveAssignment(ctx, manual))

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "asg_1", statuses[0].AssignmentID)
	require.NotNil(t, statuses[0].NextRun)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
