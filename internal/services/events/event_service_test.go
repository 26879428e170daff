package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/interfaces"
)

func TestPublishSync_CollectsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var calls int32
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPublish_IsAsyncAndSurvivesPanics(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	done := make(chan string, 1)
	require.NoError(t, svc.Subscribe(interfaces.EventJobCommitted, func(ctx context.Context, e interfaces.Event) error {
		panic("handler exploded")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCommitted, func(ctx context.Context, e interfaces.Event) error {
		done <- e.Payload["job_id"].(string)
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCommitted,
		Payload: map[string]interface{}{"job_id": "job_1"},
	}))

	select {
	case id := <-done:
		assert.Equal(t, "job_1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestClose_StopsDelivery(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var calls int32
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	require.NoError(t, svc.Close())

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Error(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, e interfaces.Event) error { return nil }))
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(logger)
	defer svc.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(svc, logger))

	for _, eventType := range interfaces.AllEventTypes {
		err := svc.PublishSync(context.Background(), interfaces.Event{
			Type:    eventType,
			Payload: map[string]interface{}{"job_id": "job_1", "status": "running"},
		})
		assert.NoError(t, err, "event type %s", eventType)
	}
}
