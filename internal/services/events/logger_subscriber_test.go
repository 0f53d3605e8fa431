package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

func TestNewLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(common.NewTestLogger())
	ctx := context.Background()

	events := []interfaces.Event{
		{
			Type:    interfaces.EventJobAssigned,
			Payload: models.JobEventPayload{JobID: "job_1", Status: models.JobStatusRunning, WorkerID: "wkr_1"},
		},
		{
			Type:    interfaces.EventWorkerRegistered,
			Payload: models.WorkerEventPayload{WorkerID: "wkr_1", Status: models.WorkerStatusOnline},
		},
		{Type: interfaces.EventBatchCreated},
	}
	for _, event := range events {
		assert.NoError(t, subscriber(ctx, event), string(event.Type))
	}
}

func TestSubscribeLoggerToAllEvents_SkipsHeartbeats(t *testing.T) {
	svc := NewService(common.NewTestLogger())
	require.NoError(t, SubscribeLoggerToAllEvents(svc, common.NewTestLogger()))

	for _, eventType := range interfaces.AllEventTypes {
		if eventType == interfaces.EventWorkerHeartbeat {
			assert.Empty(t, svc.handlers(eventType))
			continue
		}
		assert.Len(t, svc.handlers(eventType), 1, string(eventType))
	}
}
