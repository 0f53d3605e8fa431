package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

func newBadgerQueue(t *testing.T) interfaces.QueueManager {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewBadgerManager(db, "test")
	require.NoError(t, err)
	return q
}

func newRedisQueue(t *testing.T) interfaces.QueueManager {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	name := "drover_test_" + time.Now().Format("150405.000000")
	t.Cleanup(func() { rdb.Del(context.Background(), name+":queue") })

	q, err := NewRedisManager(rdb, name)
	require.NoError(t, err)
	return q
}

func implementations() map[string]func(t *testing.T) interfaces.QueueManager {
	return map[string]func(t *testing.T) interfaces.QueueManager{
		"memory": func(t *testing.T) interfaces.QueueManager { return NewMemoryManager() },
		"badger": newBadgerQueue,
		"redis":  newRedisQueue,
	}
}

func ids(msgs []models.QueueMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.JobID
	}
	return out
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()
			base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

			msgs := []models.QueueMessage{
				{JobID: "low-old", Priority: 2, EnqueuedAt: base},
				{JobID: "mid-new", Priority: 5, EnqueuedAt: base.Add(2 * time.Second)},
				{JobID: "mid-old", Priority: 5, EnqueuedAt: base.Add(time.Second)},
				{JobID: "top", Priority: 10, EnqueuedAt: base.Add(3 * time.Second)},
			}
			for _, m := range msgs {
				require.NoError(t, q.Enqueue(ctx, m))
			}

			list, err := q.List(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"top", "mid-old", "mid-new", "low-old"}, ids(list))
			assert.Equal(t, 5, list[1].Priority)

			limited, err := q.List(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"top", "mid-old"}, ids(limited))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestQueue_ReenqueueReplacesAndRemove(t *testing.T) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()
			now := time.Now().Truncate(time.Millisecond)

			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "a", Priority: 3, EnqueuedAt: now}))
			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "b", Priority: 5, EnqueuedAt: now}))
			// priority bump of an already queued job
			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "a", Priority: 9, EnqueuedAt: now}))

			list, err := q.List(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids(list))

			require.NoError(t, q.Remove(ctx, "a"))
			require.NoError(t, q.Remove(ctx, "missing"))

			list, err = q.List(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids(list))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.NoError(t, q.Close())
		})
	}
}

func TestQueue_ListRangeReadsOnlyTheBand(t *testing.T) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()
			base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

			for i := 0; i < 20; i++ {
				require.NoError(t, q.Enqueue(ctx, models.QueueMessage{
					JobID: fmt.Sprintf("top-%02d", i), Priority: 10, EnqueuedAt: base.Add(time.Duration(i) * time.Second),
				}))
			}
			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "five-b", Priority: 5, EnqueuedAt: base.Add(2 * time.Minute)}))
			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "five-a", Priority: 5, EnqueuedAt: base.Add(time.Minute)}))
			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "three", Priority: 3, EnqueuedAt: base}))
			require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "one", Priority: 1, EnqueuedAt: base}))

			band, err := q.ListRange(ctx, 3, 5, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"five-a", "five-b", "three"}, ids(band))

			paged, err := q.ListRange(ctx, 3, 5, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"five-b"}, ids(paged))

			rest, err := q.ListRange(ctx, 3, 5, 2, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"three"}, ids(rest))

			top, err := q.ListRange(ctx, 9, 10, 18, 5)
			require.NoError(t, err)
			assert.Equal(t, []string{"top-18", "top-19"}, ids(top))

			empty, err := q.ListRange(ctx, 6, 9, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, empty)

			inverted, err := q.ListRange(ctx, 7, 2, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, inverted)
		})
	}
}

func TestRedisScoreRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	msg := models.QueueMessage{JobID: "x", Priority: 7, EnqueuedAt: now}

	back := fromScore("x", score(msg))
	assert.Equal(t, 7, back.Priority)
	assert.True(t, now.Equal(back.EnqueuedAt))

	higher := score(models.QueueMessage{Priority: 8, EnqueuedAt: now.Add(time.Hour)})
	assert.Less(t, higher, score(msg))
}
