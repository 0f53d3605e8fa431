package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

func TestService_PublishSync(t *testing.T) {
	svc := NewService(common.NewTestLogger())
	ctx := context.Background()

	var calls int32
	handler := func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	failing := func(ctx context.Context, e interfaces.Event) error {
		return errors.New("boom")
	}

	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, handler))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// No subscribers is fine
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobFailed}))

	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, failing))
	assert.Error(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	assert.Error(t, svc.Subscribe(interfaces.EventJobCreated, nil))
}

func TestService_Unsubscribe(t *testing.T) {
	svc := NewService(common.NewTestLogger())
	ctx := context.Background()

	var calls int32
	handler := func(ctx context.Context, e interfaces.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	require.NoError(t, svc.Subscribe(interfaces.EventJobQueued, handler))
	require.NoError(t, svc.Unsubscribe(interfaces.EventJobQueued, handler))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobQueued}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	assert.Error(t, svc.Unsubscribe(interfaces.EventJobQueued, handler))
}

func TestService_PublishAsync(t *testing.T) {
	svc := NewService(common.NewTestLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	var got interfaces.Event
	require.NoError(t, svc.Subscribe(interfaces.EventJobAssigned, func(ctx context.Context, e interfaces.Event) error {
		got = e
		wg.Done()
		return nil
	}))

	payload := models.JobEventPayload{JobID: "job-1", Status: models.JobStatusRunning}
	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobAssigned, Payload: payload}))
	wg.Wait()

	assert.Equal(t, payload, got.Payload)
}

func TestLoggerSubscriber(t *testing.T) {
	svc := NewService(common.NewTestLogger())
	require.NoError(t, SubscribeLoggerToAllEvents(svc, common.NewTestLogger()))
	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventWorkerRegistered,
		Payload: models.WorkerEventPayload{WorkerID: "wkr-1", Status: models.WorkerStatusOffline},
	}))
}

func TestRedisService_CrossProcessDelivery(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	channel := "drover_test_events_" + time.Now().Format("150405.000000")

	rdbA := redis.NewClient(&redis.Options{Addr: addr})
	rdbB := redis.NewClient(&redis.Options{Addr: addr})
	defer rdbA.Close()
	defer rdbB.Close()

	a, err := NewRedisService(ctx, rdbA, channel, common.NewTestLogger())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisService(ctx, rdbB, channel, common.NewTestLogger())
	require.NoError(t, err)
	defer b.Close()

	received := make(chan interfaces.Event, 4)
	require.NoError(t, b.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, e interfaces.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, a.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: models.JobEventPayload{JobID: "job-9", Status: models.JobStatusCompleted},
	}))

	select {
	case e := <-received:
		assert.Equal(t, interfaces.EventJobCompleted, e.Type)
		assert.Contains(t, string(e.Payload.(json.RawMessage)), "job-9")
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered across redis")
	}
}
