package models

// Event payloads published on the event bus and streamed over /ws

// JobEventPayload accompanies job lifecycle events
type JobEventPayload struct {
	JobID    string    `json:"jobId"`
	Name     string    `json:"name,omitempty"`
	Status   JobStatus `json:"status"`
	Previous JobStatus `json:"previous,omitempty"`
	WorkerID string    `json:"workerId,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// WorkerEventPayload accompanies worker registry events
type WorkerEventPayload struct {
	WorkerID    string       `json:"workerId"`
	Name        string       `json:"name,omitempty"`
	Status      WorkerStatus `json:"status"`
	CurrentJobs int          `json:"currentJobs"`
	HealthScore float64      `json:"healthScore,omitempty"`
}
