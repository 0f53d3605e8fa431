// -----------------------------------------------------------------------
// Job Service - job store, lifecycle state machine and batch expansion
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// Config holds job service tunables
type Config struct {
	// MaxRetryBackoff caps the delay applied to a manually retried job
	MaxRetryBackoff time.Duration
}

// Service owns job records and every status change they go through.
// All writes to one job happen under that job's lock.
type Service struct {
	storage interfaces.JobStorage
	queue   interfaces.QueueManager
	workers interfaces.WorkerSlots
	events  interfaces.EventService
	logger  arbor.ILogger
	config  Config

	collaborators Collaborators

	locks  *keyedMutex
	now    func() time.Time
	jitter func() float64
}

// NewService creates a new job service
func NewService(
	storage interfaces.JobStorage,
	queue interfaces.QueueManager,
	workers interfaces.WorkerSlots,
	events interfaces.EventService,
	logger arbor.ILogger,
	config Config,
) *Service {
	if config.MaxRetryBackoff <= 0 {
		config.MaxRetryBackoff = 10 * time.Minute
	}

	return &Service{
		storage: storage,
		queue:   queue,
		workers: workers,
		events:  events,
		logger:  logger,
		config:  config,
		locks:   newKeyedMutex(),
		now:     time.Now,
		jitter:  rand.Float64,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateJob validates spec and stores a new pending job.
// Single jobs, and batch jobs without a start time, are queued immediately;
// scheduled jobs wait for the schedule sweep.
func (s *Service) CreateJob(ctx context.Context, spec models.JobSpec) (*models.Job, error) {
	job, err := s.buildJob(spec)
	if err != nil {
		return nil, err
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("name", job.Name).
		Str("type", string(job.Type)).
		Int("priority", job.Priority).
		Msg("Job created")
	s.publish(ctx, interfaces.EventJobCreated, job, "", "")

	if job.Schedule == nil {
		unlock := s.locks.Lock(job.ID)
		defer unlock()
		if err := s.enqueueLocked(ctx, job); err != nil {
			return nil, err
		}
	}

	return job, nil
}

func (s *Service) buildJob(spec models.JobSpec) (*models.Job, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, models.NewValidationError("name", "is required")
	}
	if err := ValidateJobURL(spec.URL); err != nil {
		return nil, err
	}

	if spec.Type == "" {
		spec.Type = models.JobTypeSingle
	}
	if !spec.Type.IsValid() {
		return nil, models.NewValidationError("type", "unknown job type %q", spec.Type)
	}

	retry := spec.Config.Retry
	if retry == (models.RetryConfig{}) {
		retry = models.RetryConfig{MaxRetries: models.DefaultMaxRetries, RetryDelay: models.DefaultRetryDelayMs}
	}
	if retry.MaxRetries < 0 || retry.RetryDelay < 0 {
		return nil, models.NewValidationError("config.retry", "values cannot be negative")
	}
	spec.Config.Retry = retry

	now := s.now()
	schedule, err := s.buildSchedule(spec, now)
	if err != nil {
		return nil, err
	}

	return &models.Job{
		ID:          common.NewJobID(),
		Name:        spec.Name,
		Description: spec.Description,
		URL:         spec.URL,
		Type:        spec.Type,
		Priority:    models.ClampPriority(spec.Priority),
		Status:      models.JobStatusPending,
		Config:      spec.Config,
		Schedule:    schedule,
		Execution:   models.JobExecution{Logs: []models.JobLogEntry{}},
		ParentID:    spec.ParentID,
		BatchID:     spec.BatchID,
		CreatedBy:   spec.CreatedBy,
		Tags:        spec.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// buildSchedule normalises the schedule of a new job. A nil result means the
// job is queued straight away.
func (s *Service) buildSchedule(spec models.JobSpec, now time.Time) (*models.JobSchedule, error) {
	if spec.Schedule == nil || spec.Type == models.JobTypeSingle {
		if spec.Type == models.JobTypeScheduled {
			return nil, models.NewValidationError("schedule", "is required for scheduled jobs")
		}
		return nil, nil
	}

	schedule := *spec.Schedule
	schedule.Active = true
	schedule.RunCount = 0
	schedule.LastRunAt = nil

	if schedule.Kind == "" {
		schedule.Kind = models.ScheduleOnce
	}
	if schedule.StartAt != nil && schedule.EndAt != nil && schedule.EndAt.Before(*schedule.StartAt) {
		return nil, models.NewValidationError("schedule.endAt", "must not be before startAt")
	}

	switch schedule.Kind {
	case models.ScheduleOnce:
		schedule.NextRunAt = schedule.StartAt
	case models.ScheduleRecurring:
		if spec.Type != models.JobTypeScheduled {
			return nil, models.NewValidationError("schedule.kind", "recurring schedules require type %s", models.JobTypeScheduled)
		}
		if schedule.Cron == "" && schedule.IntervalSeconds <= 0 {
			return nil, models.NewValidationError("schedule", "recurring schedules need cron or intervalSeconds")
		}
		if schedule.Cron != "" {
			if err := common.ValidateJobSchedule(schedule.Cron); err != nil {
				return nil, models.NewValidationError("schedule.cron", "%v", err)
			}
		}
		next, err := firstRun(&schedule, now)
		if err != nil {
			return nil, err
		}
		schedule.NextRunAt = &next
	default:
		return nil, models.NewValidationError("schedule.kind", "unknown schedule kind %q", schedule.Kind)
	}

	// An unscheduled batch item with no start time needs no sweep
	if spec.Type == models.JobTypeBatch && schedule.Kind == models.ScheduleOnce && schedule.StartAt == nil {
		return nil, nil
	}

	return &schedule, nil
}

// ValidateJobURL accepts only absolute http(s) URLs with a host
func ValidateJobURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return models.NewValidationError("url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return models.NewValidationError("url", "is not a valid URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.NewValidationError("url", "must be an absolute http or https URL")
	}
	return nil
}

// GetJob returns a job by id
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.storage.GetJob(ctx, id)
}

// ListJobs returns one page of jobs. page is 1-based.
func (s *Service) ListJobs(ctx context.Context, filter models.JobFilter, page, limit int) ([]*models.Job, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return s.storage.ListJobs(ctx, filter, (page-1)*limit, limit)
}

// Stats counts jobs per status
func (s *Service) Stats(ctx context.Context) (*models.JobStats, error) {
	counts, err := s.storage.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.JobStats{
		Pending:   counts[models.JobStatusPending],
		Queued:    counts[models.JobStatusQueued],
		Running:   counts[models.JobStatusRunning],
		Completed: counts[models.JobStatusCompleted],
		Failed:    counts[models.JobStatusFailed],
		Cancelled: counts[models.JobStatusCancelled],
	}
	stats.Total = stats.Pending + stats.Queued + stats.Running + stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// UpdateJob applies a partial update. A status in the update is routed
// through the matching lifecycle transition; running can only be entered
// through assignment.
func (s *Service) UpdateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, models.NewValidationError("name", "cannot be empty")
		}
		job.Name = name
	}
	if update.Description != nil {
		job.Description = *update.Description
	}
	if update.Tags != nil {
		job.Tags = update.Tags
	}
	for _, entry := range update.Logs {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = s.now()
		}
		job.Execution.Logs = append(job.Execution.Logs, entry)
	}

	requeue := false
	if update.Priority != nil {
		priority := models.ClampPriority(*update.Priority)
		if priority != job.Priority {
			job.Priority = priority
			requeue = job.Status == models.JobStatusQueued
		}
	}

	if update.Status == nil || *update.Status == job.Status {
		if update.Results != nil && job.Status == models.JobStatusRunning {
			job.Execution.Results = update.Results
		}
		job.UpdatedAt = s.now()
		if err := s.storage.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		if requeue {
			if err := s.queue.Enqueue(ctx, s.queueMessage(job)); err != nil {
				s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to re-queue job after priority change")
			}
		}
		return job, nil
	}

	switch *update.Status {
	case models.JobStatusQueued:
		err = s.enqueueLocked(ctx, job)
	case models.JobStatusCompleted:
		err = s.finishLocked(ctx, job, true, update.Results, "")
	case models.JobStatusFailed:
		err = s.finishLocked(ctx, job, false, update.Results, update.Error)
	case models.JobStatusCancelled:
		err = s.cancelLocked(ctx, job, update.CancelReason)
	case models.JobStatusPending:
		err = s.retryLocked(ctx, job)
	case models.JobStatusRunning:
		if verr := models.ValidateTransition(job.Status, models.JobStatusRunning); verr != nil {
			return nil, verr
		}
		return nil, models.NewValidationError("status", "running is set by assignment")
	default:
		return nil, models.NewValidationError("status", "unknown status %q", *update.Status)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DeleteJob removes a job record. Only jobs that are not running may be deleted.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusRunning {
		return &models.ConflictError{Message: fmt.Sprintf("job %s is running; cancel it first", id)}
	}
	if job.Status == models.JobStatusQueued {
		if err := s.queue.Remove(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to remove deleted job from queue")
		}
	}
	return s.storage.DeleteJob(ctx, id)
}

func (s *Service) queueMessage(job *models.Job) models.QueueMessage {
	return models.QueueMessage{
		JobID:      job.ID,
		Priority:   job.Priority,
		EnqueuedAt: job.UpdatedAt,
	}
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, job *models.Job, previous models.JobStatus, message string) {
	if s.events == nil {
		return
	}
	payload := models.JobEventPayload{
		JobID:    job.ID,
		Name:     job.Name,
		Status:   job.Status,
		Previous: previous,
		WorkerID: job.AssignedWorker,
		Message:  message,
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish job event")
	}
}
