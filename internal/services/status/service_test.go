package status

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/interfaces"
)

type counter struct{ n int }

func (c *counter) InFlightCount() int { return c.n }

type browser bool

func (b browser) BrowserAvailable() bool { return bool(b) }

type recordingEvents struct {
	mu        sync.Mutex
	published []interfaces.Event
	handlers  map[interfaces.EventType][]interfaces.EventHandler
}

func (r *recordingEvents) Subscribe(t interfaces.EventType, h interfaces.EventHandler) error {
	if r.handlers == nil {
		r.handlers = map[interfaces.EventType][]interfaces.EventHandler{}
	}
	r.handlers[t] = append(r.handlers[t], h)
	return nil
}

func (r *recordingEvents) Publish(ctx context.Context, e interfaces.Event) error {
	r.mu.Lock()
	r.published = append(r.published, e)
	handlers := r.handlers[e.Type]
	r.mu.Unlock()
	for _, h := range handlers {
		_ = h(ctx, e)
	}
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, e interfaces.Event) error {
	return r.Publish(ctx, e)
}

func (r *recordingEvents) Close() error { return nil }

func TestRefresh_PublishesOnChange(t *testing.T) {
	jobs := &counter{}
	events := &recordingEvents{}
	service := NewService(jobs, browser(true), nil, events, arbor.NewLogger())
	require.NoError(t, service.SubscribeToJobEvents())

	jobs.n = 1
	require.NoError(t, events.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.Equal(t, StateExtracting, service.GetState())

	require.NoError(t, events.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStatusChanged}))

	jobs.n = 0
	require.NoError(t, events.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStatusChanged}))
	assert.Equal(t, StateIdle, service.GetState())

	var changes []string
	for _, e := range events.published {
		if e.Type == interfaces.EventStatusChanged {
			changes = append(changes, e.Payload["state"].(string))
		}
	}
	assert.Equal(t, []string{"extracting", "idle"}, changes)
}

func TestGetStatus(t *testing.T) {
	service := NewService(&counter{n: 2}, browser(false), nil, nil, arbor.NewLogger())
	snapshot := service.GetStatus()

	assert.Equal(t, StateIdle, snapshot.State)
	assert.Equal(t, 2, snapshot.InFlightJobs)
	assert.False(t, snapshot.BrowserAvailable)
	assert.Positive(t, snapshot.Goroutines)
	assert.False(t, snapshot.StartedAt.IsZero())
}
