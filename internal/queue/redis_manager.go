package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ternarybob/drover/internal/models"
)

// priorityBand separates priorities in the sorted set score.
// Unix milliseconds stay below it until the year 2286.
const priorityBand = 1e13

// RedisManager implements the scheduling queue as a Redis sorted set.
// Lower score dispatches first: score = (MaxPriority - priority) * band + enqueued millis.
type RedisManager struct {
	rdb *redis.Client
	key string
}

// NewRedisManager creates a queue stored under "{queueName}:queue"
func NewRedisManager(rdb *redis.Client, queueName string) (*RedisManager, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	return &RedisManager{
		rdb: rdb,
		key: fmt.Sprintf("%s:queue", queueName),
	}, nil
}

func score(msg models.QueueMessage) float64 {
	inverted := models.MaxPriority - models.ClampPriority(msg.Priority)
	return float64(inverted)*priorityBand + float64(msg.EnqueuedAt.UnixMilli())
}

func fromScore(jobID string, s float64) models.QueueMessage {
	band := math.Floor(s / priorityBand)
	millis := int64(s - band*priorityBand)
	return models.QueueMessage{
		JobID:      jobID,
		Priority:   models.MaxPriority - int(band),
		EnqueuedAt: time.UnixMilli(millis),
	}
}

// Enqueue adds a message; ZADD replaces the score of an existing member
func (m *RedisManager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	if err := m.rdb.ZAdd(ctx, m.key, redis.Z{Score: score(msg), Member: msg.JobID}).Err(); err != nil {
		return fmt.Errorf("failed to add job to queue: %w", err)
	}
	return nil
}

// Remove deletes jobID from the queue
func (m *RedisManager) Remove(ctx context.Context, jobID string) error {
	if err := m.rdb.ZRem(ctx, m.key, jobID).Err(); err != nil {
		return fmt.Errorf("failed to remove job from queue: %w", err)
	}
	return nil
}

// List returns up to limit messages in dispatch order
func (m *RedisManager) List(ctx context.Context, limit int) ([]models.QueueMessage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	zs, err := m.rdb.ZRangeWithScores(ctx, m.key, 0, stop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	return messages(zs), nil
}

// ListRange returns the messages within the priority band in dispatch order.
// A band of priorities is a contiguous score range, so this is one ZRANGEBYSCORE.
func (m *RedisManager) ListRange(ctx context.Context, minPriority, maxPriority, offset, limit int) ([]models.QueueMessage, error) {
	lo, hi, ok := priorityBounds(minPriority, maxPriority)
	if !ok {
		return nil, nil
	}

	by := &redis.ZRangeBy{
		Min:    strconv.FormatFloat(float64(models.MaxPriority-hi)*priorityBand, 'f', -1, 64),
		Max:    "(" + strconv.FormatFloat(float64(models.MaxPriority-lo+1)*priorityBand, 'f', -1, 64),
		Offset: int64(offset),
	}
	if limit > 0 {
		by.Count = int64(limit)
	} else if offset > 0 {
		by.Count = -1
	}

	zs, err := m.rdb.ZRangeByScoreWithScores(ctx, m.key, by).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read queue range: %w", err)
	}
	return messages(zs), nil
}

func messages(zs []redis.Z) []models.QueueMessage {
	result := make([]models.QueueMessage, 0, len(zs))
	for _, z := range zs {
		jobID, ok := z.Member.(string)
		if !ok {
			continue
		}
		result = append(result, fromScore(jobID, z.Score))
	}
	return result
}

// Len returns the number of queued messages
func (m *RedisManager) Len(ctx context.Context) (int, error) {
	n, err := m.rdb.ZCard(ctx, m.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the client is owned by the app
func (m *RedisManager) Close() error {
	return nil
}
