package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs lifecycle events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.JobEventPayload:
			logEvent = logEvent.Str("job_id", payload.JobID).Str("status", string(payload.Status))
			if payload.WorkerID != "" {
				logEvent = logEvent.Str("worker_id", payload.WorkerID)
			}
		case models.WorkerEventPayload:
			logEvent = logEvent.Str("worker_id", payload.WorkerID).Str("status", string(payload.Status))
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
// except heartbeats, which would drown the log on a large fleet.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	count := 0
	for _, eventType := range interfaces.AllEventTypes {
		if eventType == interfaces.EventWorkerHeartbeat {
			continue
		}
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
		count++
	}

	logger.Debug().
		Int("event_type_count", count).
		Msg("Logger subscribed to all event types")

	return nil
}
