package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkerStorage implements the WorkerStorage interface for Badger
type WorkerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkerStorage creates a new WorkerStorage instance
func NewWorkerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkerStorage {
	return &WorkerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WorkerStorage) SaveWorker(ctx context.Context, worker *models.Worker) error {
	if worker == nil || worker.ID == "" {
		return fmt.Errorf("worker ID is required")
	}
	if err := s.db.Store().Upsert(worker.ID, *worker); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (s *WorkerStorage) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	var worker models.Worker
	if err := s.db.Store().Get(id, &worker); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Kind: "worker", ID: id}
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return &worker, nil
}

func (s *WorkerStorage) GetWorkerByAPIKeyHash(ctx context.Context, hash string) (*models.Worker, error) {
	var workers []models.Worker
	if err := s.db.Store().Find(&workers, badgerhold.Where("APIKeyHash").Eq(hash).Index("APIKeyHash").Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to look up worker credential: %w", err)
	}
	if len(workers) == 0 {
		return nil, &models.NotFoundError{Kind: "worker credential", ID: "(redacted)"}
	}
	return &workers[0], nil
}

func (s *WorkerStorage) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	var workers []models.Worker
	if err := s.db.Store().Find(&workers, badgerhold.Where("ID").Ne("").SortBy("RegisteredAt")); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	result := make([]*models.Worker, len(workers))
	for i := range workers {
		result[i] = &workers[i]
	}
	return result, nil
}

func (s *WorkerStorage) DeleteWorker(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Worker{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &models.NotFoundError{Kind: "worker", ID: id}
		}
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	return nil
}
