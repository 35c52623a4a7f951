package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := NewService(arbor.NewLogger())

	var mu sync.Mutex
	received := []interfaces.Event{}
	handler := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		return nil
	}
	require.NoError(t, s.Subscribe(interfaces.EventJobStatusChanged, handler))

	require.NoError(t, s.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStatusChanged,
		Payload: "job_1",
	}))

	// Publish is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "job_1", received[0].Payload)
}

func TestPublishSyncWaits(t *testing.T) {
	s := NewService(arbor.NewLogger())

	var mu sync.Mutex
	count := 0
	handler := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}
	require.NoError(t, s.Subscribe(interfaces.EventBatchUpdated, handler))
	require.NoError(t, s.Subscribe(interfaces.EventBatchUpdated, handler))

	require.NoError(t, s.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventBatchUpdated}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	s := NewService(arbor.NewLogger())
	assert.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStatusChanged}))
}

func TestSubscribeNilHandler(t *testing.T) {
	s := NewService(arbor.NewLogger())
	assert.Error(t, s.Subscribe(interfaces.EventJobStatusChanged, nil))
}

func TestUnsubscribe(t *testing.T) {
	s := NewService(arbor.NewLogger())

	called := false
	handler := func(ctx context.Context, event interfaces.Event) error {
		called = true
		return nil
	}
	require.NoError(t, s.Subscribe(interfaces.EventJobStatusChanged, handler))
	require.NoError(t, s.Unsubscribe(interfaces.EventJobStatusChanged, handler))

	require.NoError(t, s.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobStatusChanged}))
	assert.False(t, called)

	assert.Error(t, s.Unsubscribe(interfaces.EventJobStatusChanged, handler))
}

func TestClosedServiceRejectsSubscribe(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.Close())

	err := s.Subscribe(interfaces.EventJobStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		return nil
	})
	assert.Error(t, err)
}
