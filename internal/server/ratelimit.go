package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterTTL = 5 * time.Minute

// workerLimiters holds one token bucket per worker. Entries are rebuilt after
// limiterTTL so a deregistered worker's bucket does not live forever.
type workerLimiters struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map // workerID -> *cachedLimiter
	now      func() time.Time
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// newWorkerLimiters returns per-worker limiters. perSecond <= 0 means unlimited.
func newWorkerLimiters(perSecond float64, burst int) *workerLimiters {
	if burst < 1 {
		burst = 1
	}
	return &workerLimiters{
		limit: rate.Limit(perSecond),
		burst: burst,
		now:   time.Now,
	}
}

func (l *workerLimiters) allow(workerID string) bool {
	if l.limit <= 0 {
		return true
	}
	return l.get(workerID).AllowN(l.now(), 1)
}

func (l *workerLimiters) get(workerID string) *rate.Limiter {
	now := l.now()
	if v, ok := l.limiters.Load(workerID); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Store(workerID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(limiterTTL),
	})
	return limiter
}
