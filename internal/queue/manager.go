package queue

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// NewManager builds the scheduling queue selected by config.
// db is required for the badger backend, rdb for the redis backend.
func NewManager(config common.QueueConfig, db *badger.DB, rdb *redis.Client, logger arbor.ILogger) (interfaces.QueueManager, error) {
	switch config.Backend {
	case "", common.BackendMemory:
		logger.Info().Msg("Using in-memory scheduling queue")
		return NewMemoryManager(), nil
	case common.BackendBadger:
		logger.Info().Str("queue", config.Name).Msg("Using Badger scheduling queue")
		return NewBadgerManager(db, config.Name)
	case common.BackendRedis:
		logger.Info().Str("queue", config.Name).Msg("Using Redis scheduling queue")
		return NewRedisManager(rdb, config.Name)
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", config.Backend)
	}
}

// priorityBounds clamps a ListRange band to valid priorities.
// ok is false when the band is empty.
func priorityBounds(minPriority, maxPriority int) (lo, hi int, ok bool) {
	lo, hi = minPriority, maxPriority
	if lo < models.MinPriority {
		lo = models.MinPriority
	}
	if hi > models.MaxPriority {
		hi = models.MaxPriority
	}
	return lo, hi, lo <= hi
}
