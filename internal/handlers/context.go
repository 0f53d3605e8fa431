package handlers

import (
	"context"

	"github.com/ternarybob/drover/internal/models"
)

type workerKey struct{}

// WithWorker returns a context carrying the authenticated worker
func WithWorker(ctx context.Context, worker *models.Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

// WorkerFromContext returns the authenticated worker, if any
func WorkerFromContext(ctx context.Context) (*models.Worker, bool) {
	worker, ok := ctx.Value(workerKey{}).(*models.Worker)
	return worker, ok && worker != nil
}
