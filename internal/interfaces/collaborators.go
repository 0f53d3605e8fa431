package interfaces

import (
	"context"

	"github.com/ternarybob/drover/internal/models"
)

// ScenarioGenerator produces interaction scripts for a page.
// Generate always returns a usable scenario; upstream failures fall back to rules.
type ScenarioGenerator interface {
	Generate(ctx context.Context, page models.PageContext, intent string) (*models.Scenario, error)
}

// FingerprintGenerator produces browser identities for a region
type FingerprintGenerator interface {
	Generate(region string) *models.FingerprintProfile
}

// ProxyAllocator hands out proxies from the pool.
// Allocate returns nil, nil when no proxy satisfies the constraints.
type ProxyAllocator interface {
	Allocate(ctx context.Context, constraints models.ProxyConstraints, jobID string) (*models.Proxy, error)
	Release(ctx context.Context, proxyID string) error
}

// BrowserExecutor runs one job in a controlled browser on the worker
type BrowserExecutor interface {
	Execute(ctx context.Context, job *models.Job) (*models.ExecutionResult, error)
}
