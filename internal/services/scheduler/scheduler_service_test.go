package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/queue"
	"github.com/ternarybob/drover/internal/services/jobs"
	"github.com/ternarybob/drover/internal/services/registry"
	"github.com/ternarybob/drover/internal/storage/badger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	scheduler *Service
	jobs      *jobs.Service
	registry  *registry.Service
	queue     *queue.MemoryManager
	clock     *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := common.NewTestLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	clock := &testClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}

	reg := registry.NewService(manager.WorkerStorage(), nil, logger, registry.Config{StaleAfter: time.Minute})
	reg.SetClock(clock.Now)

	q := queue.NewMemoryManager()
	jobService := jobs.NewService(manager.JobStorage(), q, reg, nil, logger, jobs.Config{})
	jobService.SetClock(clock.Now)

	sched := NewService(jobService, reg, manager.JobStorage(), q, logger, Config{
		MaxJobDuration: 5 * time.Minute,
		TimeoutGrace:   30 * time.Second,
	})
	sched.SetClock(clock.Now)

	return &fixture{scheduler: sched, jobs: jobService, registry: reg, queue: q, clock: clock}
}

func (f *fixture) worker(t *testing.T, name string, maxJobs int, filter models.PriorityFilter) *models.Worker {
	t.Helper()
	ctx := context.Background()

	worker, _, err := f.registry.Register(ctx, models.WorkerRegistration{
		Name:          name,
		Capabilities:  models.WorkerCapabilities{MaxConcurrentJobs: maxJobs},
		Configuration: models.WorkerConfiguration{PriorityFilter: filter},
	})
	require.NoError(t, err)
	_, err = f.registry.Heartbeat(ctx, worker.ID, models.HeartbeatReport{Status: models.WorkerStatusOnline})
	require.NoError(t, err)
	return worker
}

func (f *fixture) job(t *testing.T, priority int, pinned string) *models.Job {
	t.Helper()
	job, err := f.jobs.CreateJob(context.Background(), models.JobSpec{
		Name:     "job",
		URL:      "https://example.com",
		Priority: priority,
		Config:   models.JobConfig{WorkerID: pinned},
	})
	require.NoError(t, err)
	return job
}

var anyPriority = models.PriorityFilter{}

func TestRankWorkers(t *testing.T) {
	workers := []models.Worker{
		{ID: "d", Resources: models.WorkerResources{CurrentJobs: 1, SuccessRate: 1}},
		{ID: "c", Resources: models.WorkerResources{CurrentJobs: 0, SuccessRate: 0.5, AverageJobDuration: 100}},
		{ID: "b", Resources: models.WorkerResources{CurrentJobs: 0, SuccessRate: 0.9, AverageJobDuration: 900}},
		{ID: "a", Resources: models.WorkerResources{CurrentJobs: 0, SuccessRate: 0.9, AverageJobDuration: 300}},
		{ID: "e", Resources: models.WorkerResources{CurrentJobs: 0, SuccessRate: 0.9, AverageJobDuration: 300}},
	}

	RankWorkers(workers)

	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	assert.Equal(t, []string{"a", "e", "b", "c", "d"}, ids)
}

func TestAssign_PicksLeastLoadedWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	busy := f.worker(t, "busy", 3, anyPriority)
	idle := f.worker(t, "idle", 3, anyPriority)

	first := f.job(t, 5, busy.ID)
	_, err := f.scheduler.Assign(ctx, first.ID)
	require.NoError(t, err)

	second := f.job(t, 5, "")
	worker, err := f.scheduler.Assign(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, worker)
	assert.Equal(t, idle.ID, worker.ID)

	stored, err := f.jobs.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, idle.ID, stored.AssignedWorker)
}

func TestAssign_RespectsPriorityFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.worker(t, "high-only", 2, models.PriorityFilter{Min: 5, Max: 10})
	low := f.job(t, 3, "")

	worker, err := f.scheduler.Assign(ctx, low.ID)
	require.NoError(t, err)
	assert.Nil(t, worker)

	stored, err := f.jobs.GetJob(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
}

func TestAssign_PinnedDoesNotFallBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pinned := f.worker(t, "pinned", 1, anyPriority)
	f.worker(t, "other", 5, anyPriority)

	first := f.job(t, 5, pinned.ID)
	worker, err := f.scheduler.Assign(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, worker)
	assert.Equal(t, pinned.ID, worker.ID)

	// Pinned worker is at capacity; the idle worker must not be used
	second := f.job(t, 5, pinned.ID)
	worker, err = f.scheduler.Assign(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, worker)

	stored, err := f.jobs.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
	assert.Empty(t, stored.AssignedWorker)
}

func TestAssign_WaitsForRetryBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	worker := f.worker(t, "w", 1, anyPriority)
	job := f.job(t, 5, "")

	_, err := f.scheduler.Assign(ctx, job.ID)
	require.NoError(t, err)
	_, err = f.jobs.Fail(ctx, job.ID, "boom", nil)
	require.NoError(t, err)
	_, err = f.jobs.Retry(ctx, job.ID)
	require.NoError(t, err)

	got, err := f.scheduler.Assign(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	f.clock.Advance(6 * time.Second)
	got, err = f.scheduler.Assign(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, worker.ID, got.ID)
}

func TestNext_UnknownWorker(t *testing.T) {
	f := newFixture(t)

	_, err := f.scheduler.Next(context.Background(), "wrk_missing")
	var unknown *models.UnknownWorkerError
	assert.ErrorAs(t, err, &unknown)
}

func TestNext_HighestPriorityFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	worker := f.worker(t, "w", 2, anyPriority)
	low := f.job(t, 2, "")
	high := f.job(t, 9, "")

	got, err := f.scheduler.Next(ctx, worker.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, high.ID, got.ID)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.NotNil(t, got.Execution.DeliveredAt)

	got, err = f.scheduler.Next(ctx, worker.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, low.ID, got.ID)

	// At capacity
	f.job(t, 5, "")
	got, err = f.scheduler.Next(ctx, worker.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNext_SkipsFilteredAndPinnedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	picky := f.worker(t, "picky", 3, models.PriorityFilter{Min: 5, Max: 10})
	other := f.worker(t, "other", 3, anyPriority)

	f.job(t, 9, other.ID)
	f.job(t, 3, "")
	wanted := f.job(t, 6, "")

	got, err := f.scheduler.Next(ctx, picky.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wanted.ID, got.ID)

	got, err = f.scheduler.Next(ctx, picky.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNext_FindsFilteredJobBehindDeepQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2*queuePageSize+1; i++ {
		f.job(t, 10, "")
	}
	wanted := f.job(t, 3, "")

	low := f.worker(t, "low", 1, models.PriorityFilter{Min: 1, Max: 5})

	got, err := f.scheduler.Next(ctx, low.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wanted.ID, got.ID)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestNext_PagesPastJobsPinnedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := f.worker(t, "other", 1, anyPriority)
	for i := 0; i < queuePageSize+5; i++ {
		f.job(t, 7, other.ID)
	}
	wanted := f.job(t, 7, "")

	free := f.worker(t, "free", 1, anyPriority)

	got, err := f.scheduler.Next(ctx, free.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wanted.ID, got.ID)
}

func TestNext_DeliversPushedAssignmentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	worker := f.worker(t, "w", 2, anyPriority)
	job := f.job(t, 5, "")

	assigned, err := f.scheduler.Assign(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned)

	got, err := f.scheduler.Next(ctx, worker.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	got, err = f.scheduler.Next(ctx, worker.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNext_ConcurrentPullsAssignAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	for i := range ids {
		ids[i] = f.worker(t, "w", 1, anyPriority).ID
	}
	job := f.job(t, 5, "")

	var wg sync.WaitGroup
	results := make(chan string, workers)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			got, err := f.scheduler.Next(ctx, id)
			if err == nil && got != nil {
				results <- id
			}
		}(id)
	}
	wg.Wait()
	close(results)

	var winners []string
	for id := range results {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)

	stored, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.AssignedWorker)
	assert.Equal(t, 1, f.registry.FleetStats().TotalActiveJobs)
}

func TestRunAssignmentPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.worker(t, "a", 1, anyPriority)
	f.worker(t, "b", 1, anyPriority)
	for i := 0; i < 3; i++ {
		f.job(t, 5, "")
	}

	require.NoError(t, f.scheduler.RunAssignmentPass(ctx))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.registry.FleetStats().TotalActiveJobs)
}

func TestSweepSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(time.Minute)
	once, err := f.jobs.CreateJob(ctx, models.JobSpec{
		Name:     "later",
		URL:      "https://example.com",
		Type:     models.JobTypeScheduled,
		Schedule: &models.JobSchedule{Kind: models.ScheduleOnce, StartAt: &start},
	})
	require.NoError(t, err)

	tmpl, err := f.jobs.CreateJob(ctx, models.JobSpec{
		Name:     "every",
		URL:      "https://example.com",
		Type:     models.JobTypeScheduled,
		Schedule: &models.JobSchedule{Kind: models.ScheduleRecurring, StartAt: &start, IntervalSeconds: 30},
	})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.SweepSchedules(ctx))
	stored, err := f.jobs.GetJob(ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.scheduler.SweepSchedules(ctx))

	stored, err = f.jobs.GetJob(ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)

	children, total, err := f.jobs.ListJobs(ctx, models.JobFilter{ParentID: tmpl.ID}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, children, 1)
	assert.Equal(t, models.JobStatusQueued, children[0].Status)
}

func TestSweepTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	worker := f.worker(t, "slow", 1, anyPriority)
	job := f.job(t, 5, "")
	_, err := f.scheduler.Assign(ctx, job.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.scheduler.SweepTimeouts(ctx))
	stored, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.scheduler.SweepTimeouts(ctx))
	stored, err = f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)

	// Keep the worker fresh so the heartbeat is accepted
	resp, err := f.registry.Heartbeat(ctx, worker.ID, models.HeartbeatReport{Status: models.WorkerStatusOnline})
	require.NoError(t, err)
	assert.Contains(t, resp.Instructions.AbortJobs, job.ID)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.scheduler.config.ScheduleSweep = "*/10 * * * * *"
	f.scheduler.config.TimeoutSweep = "*/30 * * * * *"
	f.scheduler.config.AutoAssign = true
	f.scheduler.config.AssignSchedule = "*/5 * * * * *"

	require.NoError(t, f.scheduler.Start())
	assert.Error(t, f.scheduler.Start())

	statuses := f.scheduler.Status()
	require.Len(t, statuses, 3)
	assert.Equal(t, "assignment_pass", statuses[0].Name)
	assert.Equal(t, "schedule_sweep", statuses[1].Name)
	assert.Equal(t, "timeout_sweep", statuses[2].Name)

	require.NoError(t, f.scheduler.Stop())
	require.NoError(t, f.scheduler.Stop())
}

func TestStart_InvalidSchedule(t *testing.T) {
	f := newFixture(t)
	f.scheduler.config.ScheduleSweep = "not a cron"

	assert.Error(t, f.scheduler.Start())
}
