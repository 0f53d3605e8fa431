package interfaces

import (
	"context"

	"github.com/ternarybob/drover/internal/models"
)

// QueueManager is the scheduling queue of jobs waiting for a worker.
// Messages are ordered by priority descending, then FIFO within a priority.
// Enqueue of a job id already present replaces the existing entry.
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	Remove(ctx context.Context, jobID string) error
	// List returns up to limit messages in dispatch order without removing them. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.QueueMessage, error)
	// ListRange is List restricted to minPriority <= priority <= maxPriority,
	// skipping the first offset matches.
	ListRange(ctx context.Context, minPriority, maxPriority, offset, limit int) ([]models.QueueMessage, error)
	Len(ctx context.Context) (int, error)
	Close() error
}
