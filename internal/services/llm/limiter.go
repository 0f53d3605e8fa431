package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/interfaces"
	"golang.org/x/time/rate"
)

// RateLimited spaces calls to an LLM provider to at most one per interval.
// Callers that cannot get a token before their context ends fail fast.
type RateLimited struct {
	inner   interfaces.LLMService
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewRateLimited wraps inner with a limiter of one call per interval.
// A non-positive interval disables limiting.
func NewRateLimited(inner interfaces.LLMService, interval time.Duration, logger arbor.ILogger) *RateLimited {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Chat waits for a token and forwards the call
func (r *RateLimited) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Debug().Str("provider", r.inner.Name()).Err(err).Msg("LLM rate limit wait abandoned")
		return "", fmt.Errorf("rate limited: %w", err)
	}
	return r.inner.Chat(ctx, messages)
}

// Name returns the wrapped provider's name
func (r *RateLimited) Name() string {
	return r.inner.Name()
}

// Close closes the wrapped provider
func (r *RateLimited) Close() error {
	return r.inner.Close()
}
