package interfaces

import (
	"context"

	"github.com/ternarybob/drover/internal/models"
)

// WorkerSlots is the part of the worker registry the job lifecycle needs:
// reserving and releasing capacity, and queuing abort instructions.
type WorkerSlots interface {
	// TryAcquire atomically reserves one slot if the worker is eligible for
	// the priority, or returns models.ErrNoEligibleWorker.
	TryAcquire(ctx context.Context, workerID string, priority int) (*models.Worker, error)
	// Release frees one slot; a nil outcome rolls back a reservation without
	// touching the rolling statistics.
	Release(ctx context.Context, workerID string, outcome *models.JobOutcome) error
	QueueAbort(workerID, jobID string)
}
