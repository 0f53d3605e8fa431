package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated   EventType = "job_created"
	EventJobQueued    EventType = "job_queued"
	EventJobAssigned  EventType = "job_assigned"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
	EventJobRetried   EventType = "job_retried"

	EventWorkerRegistered   EventType = "worker_registered"
	EventWorkerUpdated      EventType = "worker_updated"
	EventWorkerHeartbeat    EventType = "worker_heartbeat"
	EventWorkerDeregistered EventType = "worker_deregistered"

	EventBatchCreated EventType = "batch_created"
)

// AllEventTypes lists every event type, used by subscribers that want everything
var AllEventTypes = []EventType{
	EventJobCreated, EventJobQueued, EventJobAssigned, EventJobCompleted,
	EventJobFailed, EventJobCancelled, EventJobRetried,
	EventWorkerRegistered, EventWorkerUpdated, EventWorkerHeartbeat, EventWorkerDeregistered,
	EventBatchCreated,
}

// Event represents a system event
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe from an event type
	Unsubscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
