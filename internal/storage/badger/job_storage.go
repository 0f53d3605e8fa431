package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	// Store the value, not the pointer: badgerhold prefixes keys with the type name
	if err := s.db.Store().Upsert(job.ID, *job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Kind: "job", ID: id}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Job{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &models.NotFoundError{Kind: "job", ID: id}
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// buildJobQuery converts a filter into a badgerhold query.
// Every value is passed with its field's exact type; badgerhold compares by type.
func buildJobQuery(filter models.JobFilter) *badgerhold.Query {
	query := badgerhold.Where("ID").Ne("")

	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	if filter.Type != "" {
		query = query.And("Type").Eq(filter.Type)
	}
	if filter.Priority > 0 {
		query = query.And("Priority").Eq(filter.Priority)
	}
	if filter.AssignedWorker != "" {
		query = query.And("AssignedWorker").Eq(filter.AssignedWorker)
	}
	if filter.CreatedBy != "" {
		query = query.And("CreatedBy").Eq(filter.CreatedBy)
	}
	if filter.ParentID != "" {
		query = query.And("ParentID").Eq(filter.ParentID)
	}
	if len(filter.Tags) > 0 {
		tags := make([]interface{}, len(filter.Tags))
		for i, t := range filter.Tags {
			tags[i] = t
		}
		query = query.And("Tags").ContainsAny(tags...)
	}

	return query
}

func (s *JobStorage) ListJobs(ctx context.Context, filter models.JobFilter, offset, limit int) ([]*models.Job, int, error) {
	total, err := s.db.Store().Count(&models.Job{}, buildJobQuery(filter))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := buildJobQuery(filter).SortBy("CreatedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	return toJobPointers(jobs), int(total), nil
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).Index("Status").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) GetJobsByWorker(ctx context.Context, workerID string, status models.JobStatus) ([]*models.Job, error) {
	query := badgerhold.Where("AssignedWorker").Eq(workerID).Index("AssignedWorker")
	if status != "" {
		query = query.And("Status").Eq(status)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to get jobs by worker: %w", err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) GetDuePendingJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	pending, err := s.GetJobsByStatus(ctx, models.JobStatusPending)
	if err != nil {
		return nil, err
	}

	// Schedule is a nested pointer; filter in memory rather than through the query engine
	var due []*models.Job
	for _, job := range pending {
		if job.Schedule == nil || job.Schedule.Kind == models.ScheduleRecurring {
			continue
		}
		if job.Schedule.NextRunAt == nil || !job.Schedule.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

func (s *JobStorage) GetActiveRecurringJobs(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Type").Eq(models.JobTypeScheduled).Index("Type")); err != nil {
		return nil, fmt.Errorf("failed to get scheduled jobs: %w", err)
	}

	var recurring []*models.Job
	for i := range jobs {
		schedule := jobs[i].Schedule
		if schedule != nil && schedule.Kind == models.ScheduleRecurring && schedule.Active {
			recurring = append(recurring, &jobs[i])
		}
	}
	return recurring, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	statuses := []models.JobStatus{
		models.JobStatusPending, models.JobStatusQueued, models.JobStatusRunning,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
	}

	counts := make(map[models.JobStatus]int, len(statuses))
	for _, status := range statuses {
		n, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status).Index("Status"))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		counts[status] = int(n)
	}
	return counts, nil
}

func toJobPointers(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
