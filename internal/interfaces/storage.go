package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/drover/internal/models"
)

// JobStorage - interface for job persistence.
// Get operations return *models.NotFoundError for unknown ids.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	DeleteJob(ctx context.Context, id string) error

	// ListJobs returns one page of jobs matching filter, newest first, and the total match count
	ListJobs(ctx context.Context, filter models.JobFilter, offset, limit int) ([]*models.Job, int, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	GetJobsByWorker(ctx context.Context, workerID string, status models.JobStatus) ([]*models.Job, error)

	// GetDuePendingJobs returns pending scheduled/batch jobs whose next run is at or before now
	GetDuePendingJobs(ctx context.Context, now time.Time) ([]*models.Job, error)
	// GetActiveRecurringJobs returns recurring schedule templates that are still active
	GetActiveRecurringJobs(ctx context.Context) ([]*models.Job, error)

	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// WorkerStorage - interface for the durable worker registry
type WorkerStorage interface {
	SaveWorker(ctx context.Context, worker *models.Worker) error
	GetWorker(ctx context.Context, id string) (*models.Worker, error)
	GetWorkerByAPIKeyHash(ctx context.Context, hash string) (*models.Worker, error)
	ListWorkers(ctx context.Context) ([]*models.Worker, error)
	DeleteWorker(ctx context.Context, id string) error
}

// ProxyStorage - interface for proxy pool persistence
type ProxyStorage interface {
	SaveProxy(ctx context.Context, proxy *models.Proxy) error
	GetProxy(ctx context.Context, id string) (*models.Proxy, error)
	ListProxies(ctx context.Context) ([]*models.Proxy, error)
	DeleteProxy(ctx context.Context, id string) error
}

// StorageManager - composite interface for all storage backends
type StorageManager interface {
	JobStorage() JobStorage
	WorkerStorage() WorkerStorage
	ProxyStorage() ProxyStorage
	Close() error
}
