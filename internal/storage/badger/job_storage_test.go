package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	tmpDir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store}
}

func newJob(id string, status models.JobStatus, created time.Time) *models.Job {
	return &models.Job{
		ID:        id,
		Name:      id,
		URL:       "https://example.com/" + id,
		Type:      models.JobTypeSingle,
		Priority:  models.DefaultPriority,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestJobStorage_SaveGetDelete(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	job := newJob("job-1", models.JobStatusQueued, time.Now())
	job.Execution.Results = &models.ExecutionResult{Success: true, Data: []byte(`{"title":"x"}`)}
	require.NoError(t, storage.SaveJob(ctx, job))

	got, err := storage.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.JSONEq(t, `{"title":"x"}`, string(got.Execution.Results.Data))

	require.NoError(t, storage.DeleteJob(ctx, "job-1"))

	_, err = storage.GetJob(ctx, "job-1")
	assert.True(t, models.IsNotFound(err))

	assert.Error(t, storage.SaveJob(ctx, &models.Job{}))
}

func TestJobStorage_ListJobsFiltersAndPages(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, status := range []models.JobStatus{
		models.JobStatusQueued, models.JobStatusQueued, models.JobStatusRunning,
		models.JobStatusCompleted, models.JobStatusQueued,
	} {
		job := newJob("job-"+string(rune('a'+i)), status, base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			job.Tags = []string{"nightly"}
		}
		if status == models.JobStatusRunning {
			job.AssignedWorker = "wkr-1"
		}
		require.NoError(t, storage.SaveJob(ctx, job))
	}

	jobs, total, err := storage.ListJobs(ctx, models.JobFilter{Status: models.JobStatusQueued}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 2)
	// newest first
	assert.Equal(t, "job-e", jobs[0].ID)
	assert.Equal(t, "job-b", jobs[1].ID)

	jobs, _, err = storage.ListJobs(ctx, models.JobFilter{Status: models.JobStatusQueued}, 2, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-a", jobs[0].ID)

	_, total, err = storage.ListJobs(ctx, models.JobFilter{Tags: []string{"nightly"}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	jobs, _, err = storage.ListJobs(ctx, models.JobFilter{AssignedWorker: "wkr-1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-c", jobs[0].ID)

	byWorker, err := storage.GetJobsByWorker(ctx, "wkr-1", models.JobStatusRunning)
	require.NoError(t, err)
	assert.Len(t, byWorker, 1)

	counts, err := storage.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.JobStatusQueued])
	assert.Equal(t, 1, counts[models.JobStatusRunning])
	assert.Equal(t, 1, counts[models.JobStatusCompleted])
	assert.Equal(t, 0, counts[models.JobStatusFailed])
}

func TestJobStorage_ScheduledQueries(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newJob("due", models.JobStatusPending, now)
	due.Type = models.JobTypeBatch
	due.Schedule = &models.JobSchedule{Kind: models.ScheduleOnce, NextRunAt: &past, Active: true}

	later := newJob("later", models.JobStatusPending, now)
	later.Type = models.JobTypeScheduled
	later.Schedule = &models.JobSchedule{Kind: models.ScheduleOnce, NextRunAt: &future, Active: true}

	recurring := newJob("recurring", models.JobStatusPending, now)
	recurring.Type = models.JobTypeScheduled
	recurring.Schedule = &models.JobSchedule{Kind: models.ScheduleRecurring, IntervalSeconds: 60, Active: true}

	paused := newJob("paused", models.JobStatusPending, now)
	paused.Type = models.JobTypeScheduled
	paused.Schedule = &models.JobSchedule{Kind: models.ScheduleRecurring, IntervalSeconds: 60, Active: false}

	for _, job := range []*models.Job{due, later, recurring, paused} {
		require.NoError(t, storage.SaveJob(ctx, job))
	}

	dueJobs, err := storage.GetDuePendingJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueJobs, 1)
	assert.Equal(t, "due", dueJobs[0].ID)

	active, err := storage.GetActiveRecurringJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "recurring", active[0].ID)
}

func TestWorkerStorage(t *testing.T) {
	storage := NewWorkerStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	worker := &models.Worker{
		ID:           "wkr-1",
		Name:         "alpha",
		Type:         models.WorkerTypeVPS,
		APIKeyHash:   "abc123",
		RegisteredAt: time.Now(),
	}
	require.NoError(t, storage.SaveWorker(ctx, worker))

	got, err := storage.GetWorkerByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "wkr-1", got.ID)

	_, err = storage.GetWorkerByAPIKeyHash(ctx, "nope")
	assert.True(t, models.IsNotFound(err))

	workers, err := storage.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 1)

	require.NoError(t, storage.DeleteWorker(ctx, "wkr-1"))
	_, err = storage.GetWorker(ctx, "wkr-1")
	assert.True(t, models.IsNotFound(err))
}

func TestProxyStorage(t *testing.T) {
	storage := NewProxyStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	proxy := &models.Proxy{ID: "prx-1", URL: "http://10.0.0.1:3128", Country: "DE", Quality: 80, Active: true, CreatedAt: time.Now()}
	require.NoError(t, storage.SaveProxy(ctx, proxy))

	got, err := storage.GetProxy(ctx, "prx-1")
	require.NoError(t, err)
	assert.Equal(t, 80, got.Quality)

	proxies, err := storage.ListProxies(ctx)
	require.NoError(t, err)
	assert.Len(t, proxies, 1)

	require.NoError(t, storage.DeleteProxy(ctx, "prx-1"))
	_, err = storage.GetProxy(ctx, "prx-1")
	assert.True(t, models.IsNotFound(err))
}
