package models

import (
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the scheduling queue.
// Just enough to order and route the job; the job itself lives in job storage.
type QueueMessage struct {
	JobID      string    `json:"jobId"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Less orders messages by priority descending, then FIFO
func (m QueueMessage) Less(other QueueMessage) bool {
	if m.Priority != other.Priority {
		return m.Priority > other.Priority
	}
	if !m.EnqueuedAt.Equal(other.EnqueuedAt) {
		return m.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return m.JobID < other.JobID
}
