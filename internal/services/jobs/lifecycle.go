package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// Enqueue moves a pending job to queued
func (s *Service) Enqueue(ctx context.Context, id string) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.enqueueLocked(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RestoreQueue puts every job stored as queued back on the scheduling queue.
// Run on start so a non-durable queue backend does not strand queued jobs;
// for durable backends the re-enqueue replaces the existing entry.
func (s *Service) RestoreQueue(ctx context.Context) (int, error) {
	queued, err := s.storage.GetJobsByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("failed to load queued jobs: %w", err)
	}

	restored := 0
	for _, stored := range queued {
		unlock := s.locks.Lock(stored.ID)
		job, err := s.storage.GetJob(ctx, stored.ID)
		if err == nil && job.Status == models.JobStatusQueued {
			err = s.queue.Enqueue(ctx, s.queueMessage(job))
			if err == nil {
				restored++
			}
		}
		unlock()
		if err != nil && !models.IsNotFound(err) {
			return restored, fmt.Errorf("failed to restore job %s: %w", stored.ID, err)
		}
	}

	if restored > 0 {
		s.logger.Info().Int("jobs", restored).Msg("Restored queued jobs to the scheduling queue")
	}
	return restored, nil
}

func (s *Service) enqueueLocked(ctx context.Context, job *models.Job) error {
	if err := models.ValidateTransition(job.Status, models.JobStatusQueued); err != nil {
		return err
	}

	previous := job.Status
	now := s.now()
	job.Status = models.JobStatusQueued
	job.UpdatedAt = now
	if job.Schedule != nil && job.Schedule.Kind == models.ScheduleOnce {
		job.Schedule.LastRunAt = &now
		job.Schedule.RunCount++
		job.Schedule.Active = false
	}
	s.appendLog(job, models.LogLevelInfo, "Queued for assignment")

	if err := s.queue.Enqueue(ctx, s.queueMessage(job)); err != nil {
		job.Status = previous
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	if err := s.storage.SaveJob(ctx, job); err != nil {
		if rmErr := s.queue.Remove(ctx, job.ID); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("job_id", job.ID).Msg("Failed to remove queue entry after save failure")
		}
		job.Status = previous
		return fmt.Errorf("failed to save queued job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Int("priority", job.Priority).Msg("Job queued")
	s.publish(ctx, interfaces.EventJobQueued, job, previous, "")
	return nil
}

// StartOnWorker assigns a queued job to a worker and moves it to running.
// The worker slot is reserved first; if the job cannot be saved the slot
// is rolled back. Returns models.ErrNoEligibleWorker when the worker cannot
// take the job, including a job pinned to a different worker.
func (s *Service) StartOnWorker(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateTransition(job.Status, models.JobStatusRunning); err != nil {
		return nil, err
	}
	if pinned := job.Config.WorkerID; pinned != "" && pinned != workerID {
		return nil, models.ErrNoEligibleWorker
	}

	worker, err := s.workers.TryAcquire(ctx, workerID, job.Priority)
	if err != nil {
		return nil, err
	}

	now := s.now()
	previous := job.Status
	job.Status = models.JobStatusRunning
	job.AssignedWorker = worker.ID
	job.AssignedAt = &now
	job.WorkerInfo = &models.JobWorkerInfo{Name: worker.Name, IP: worker.Connection.IP}
	job.Execution.Attempts++
	job.Execution.StartTime = &now
	job.Execution.LastAttempt = &now
	job.Execution.EndTime = nil
	job.Execution.DurationMs = 0
	job.Execution.DeliveredAt = nil
	job.Execution.NotBefore = nil
	job.UpdatedAt = now
	s.appendLog(job, models.LogLevelInfo, fmt.Sprintf("Assigned to worker %s (attempt %d)", worker.Name, job.Execution.Attempts))

	if err := s.storage.SaveJob(ctx, job); err != nil {
		if relErr := s.workers.Release(ctx, worker.ID, nil); relErr != nil {
			s.logger.Error().Err(relErr).Str("worker_id", worker.ID).Msg("Failed to roll back worker slot")
		}
		return nil, fmt.Errorf("failed to save assigned job: %w", err)
	}

	if err := s.queue.Remove(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove assigned job from queue")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("worker_id", worker.ID).
		Int("priority", job.Priority).
		Int("attempt", job.Execution.Attempts).
		Msg("Job assigned")
	s.publish(ctx, interfaces.EventJobAssigned, job, previous, "")

	return job, nil
}

// MarkDelivered records that the assigned worker has received the job.
// Returns false when the job was already delivered or is no longer running.
func (s *Service) MarkDelivered(ctx context.Context, jobID string) (bool, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusRunning || job.Execution.DeliveredAt != nil {
		return false, nil
	}

	now := s.now()
	job.Execution.DeliveredAt = &now
	job.UpdatedAt = now
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return false, fmt.Errorf("failed to mark job delivered: %w", err)
	}
	return true, nil
}

// Complete finishes a running job successfully
func (s *Service) Complete(ctx context.Context, id string, results *models.ExecutionResult) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.finishLocked(ctx, job, true, results, ""); err != nil {
		return nil, err
	}
	return job, nil
}

// Fail finishes a running job as failed with a reason
func (s *Service) Fail(ctx context.Context, id, reason string, results *models.ExecutionResult) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.finishLocked(ctx, job, false, results, reason); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) finishLocked(ctx context.Context, job *models.Job, success bool, results *models.ExecutionResult, reason string) error {
	target := models.JobStatusFailed
	if success {
		target = models.JobStatusCompleted
	}
	if err := models.ValidateTransition(job.Status, target); err != nil {
		return err
	}

	now := s.now()
	var duration int64
	if job.Execution.StartTime != nil {
		duration = now.Sub(*job.Execution.StartTime).Milliseconds()
	}

	previous := job.Status
	job.Status = target
	job.Execution.EndTime = &now
	job.Execution.DurationMs = duration
	job.UpdatedAt = now

	if results != nil {
		results.Success = success
		job.Execution.Results = results
		for _, msg := range results.Errors {
			s.appendLog(job, models.LogLevelError, msg)
		}
	}
	switch {
	case reason != "":
		s.appendLog(job, models.LogLevelError, reason)
	case success:
		s.appendLog(job, models.LogLevelInfo, fmt.Sprintf("Completed in %dms", duration))
	default:
		s.appendLog(job, models.LogLevelError, "Job failed")
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save finished job: %w", err)
	}

	if job.AssignedWorker != "" {
		outcome := &models.JobOutcome{Success: success, DurationMs: duration}
		if err := s.workers.Release(ctx, job.AssignedWorker, outcome); err != nil {
			s.logger.Error().Err(err).Str("worker_id", job.AssignedWorker).Msg("Failed to release worker slot")
		}
	}

	eventType := interfaces.EventJobFailed
	if success {
		eventType = interfaces.EventJobCompleted
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("worker_id", job.AssignedWorker).
		Str("status", string(target)).
		Int64("duration_ms", duration).
		Msg("Job finished")
	s.publish(ctx, eventType, job, previous, reason)

	return nil
}

// Cancel stops a pending, queued or running job. A running job frees its
// worker slot immediately, counts as a failure with zero duration, and the
// worker is told to abort on its next heartbeat.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cancelLocked(ctx, job, reason); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) cancelLocked(ctx context.Context, job *models.Job, reason string) error {
	if err := models.ValidateTransition(job.Status, models.JobStatusCancelled); err != nil {
		return err
	}

	now := s.now()
	previous := job.Status
	job.Status = models.JobStatusCancelled
	job.CancelReason = reason
	job.UpdatedAt = now
	if job.Schedule != nil {
		job.Schedule.Active = false
	}
	if previous == models.JobStatusRunning {
		job.Execution.EndTime = &now
		if job.Execution.StartTime != nil {
			job.Execution.DurationMs = now.Sub(*job.Execution.StartTime).Milliseconds()
		}
	}

	msg := "Cancelled"
	if reason != "" {
		msg = "Cancelled: " + reason
	}
	s.appendLog(job, models.LogLevelWarn, msg)

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save cancelled job: %w", err)
	}

	switch previous {
	case models.JobStatusQueued:
		if err := s.queue.Remove(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove cancelled job from queue")
		}
	case models.JobStatusRunning:
		if err := s.workers.Release(ctx, job.AssignedWorker, &models.JobOutcome{Success: false}); err != nil {
			s.logger.Error().Err(err).Str("worker_id", job.AssignedWorker).Msg("Failed to release worker slot")
		}
		s.workers.QueueAbort(job.AssignedWorker, job.ID)
	}

	s.logger.Info().Str("job_id", job.ID).Str("previous", string(previous)).Str("reason", reason).Msg("Job cancelled")
	s.publish(ctx, interfaces.EventJobCancelled, job, previous, reason)
	return nil
}

// Retry sends a failed job back through the front door: pending, assignment
// cleared, then queued again with a backoff before it can be assigned.
// The attempt counter is kept; enforcing MaxRetries is the caller's choice.
func (s *Service) Retry(ctx context.Context, id string) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.retryLocked(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) retryLocked(ctx context.Context, job *models.Job) error {
	if err := models.ValidateTransition(job.Status, models.JobStatusPending); err != nil {
		return err
	}

	now := s.now()
	previous := job.Status
	delay := s.RetryBackoff(job)
	notBefore := now.Add(delay)

	job.Status = models.JobStatusPending
	job.AssignedWorker = ""
	job.AssignedAt = nil
	job.WorkerInfo = nil
	job.Execution.DeliveredAt = nil
	job.Execution.EndTime = nil
	job.Execution.DurationMs = 0
	job.Execution.Results = nil
	job.Execution.NotBefore = &notBefore
	job.UpdatedAt = now
	s.appendLog(job, models.LogLevelInfo, fmt.Sprintf("Retry requested after %d attempts, eligible in %s", job.Execution.Attempts, delay))

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save retried job: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID).Int("attempts", job.Execution.Attempts).Dur("backoff", delay).Msg("Job retried")
	s.publish(ctx, interfaces.EventJobRetried, job, previous, "")

	return s.enqueueLocked(ctx, job)
}

// RetryBackoff is retryDelay × 2^(attempts−1), capped
func (s *Service) RetryBackoff(job *models.Job) time.Duration {
	delay := job.Config.Retry.Delay()
	for i := 1; i < job.Execution.Attempts && delay < s.config.MaxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > s.config.MaxRetryBackoff {
		delay = s.config.MaxRetryBackoff
	}
	return delay
}

// RetriesExhausted reports whether a failed job has used all of its configured retries
func RetriesExhausted(job *models.Job) bool {
	return job.Execution.Attempts > job.Config.Retry.MaxRetries
}

// TriggerRecurring spawns the next run of a recurring schedule template if
// it is due, and advances the template's schedule. Returns nil when nothing
// was due.
func (s *Service) TriggerRecurring(ctx context.Context, templateID string) (*models.Job, error) {
	unlock := s.locks.Lock(templateID)
	defer unlock()

	tmpl, err := s.storage.GetJob(ctx, templateID)
	if err != nil {
		return nil, err
	}
	schedule := tmpl.Schedule
	if tmpl.Status != models.JobStatusPending || schedule == nil || schedule.Kind != models.ScheduleRecurring || !schedule.Active {
		return nil, nil
	}

	now := s.now()
	if schedule.NextRunAt != nil && schedule.NextRunAt.After(now) {
		return nil, nil
	}
	if schedule.EndAt != nil && now.After(*schedule.EndAt) {
		schedule.Active = false
		tmpl.UpdatedAt = now
		s.logger.Info().Str("job_id", tmpl.ID).Msg("Recurring schedule ended")
		return nil, s.storage.SaveJob(ctx, tmpl)
	}

	child, createErr := s.CreateJob(ctx, models.JobSpec{
		Name:        fmt.Sprintf("%s #%d", tmpl.Name, schedule.RunCount+1),
		Description: tmpl.Description,
		URL:         tmpl.URL,
		Type:        models.JobTypeSingle,
		Priority:    tmpl.Priority,
		Config:      tmpl.Config,
		Tags:        tmpl.Tags,
		CreatedBy:   tmpl.CreatedBy,
		ParentID:    tmpl.ID,
	})

	// Advance even when the run failed so a broken template does not fire on every sweep
	next, err := nextRun(schedule, now)
	if err != nil {
		return nil, err
	}
	schedule.LastRunAt = &now
	schedule.RunCount++
	schedule.NextRunAt = &next
	if schedule.EndAt != nil && next.After(*schedule.EndAt) {
		schedule.Active = false
	}
	tmpl.UpdatedAt = now
	if err := s.storage.SaveJob(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to advance schedule: %w", err)
	}

	if createErr != nil {
		return nil, fmt.Errorf("failed to spawn scheduled run: %w", createErr)
	}

	s.logger.Info().
		Str("job_id", child.ID).
		Str("parent_id", tmpl.ID).
		Int("run", schedule.RunCount).
		Msg("Recurring job spawned")
	return child, nil
}

// firstRun is the initial due time of a recurring schedule
func firstRun(schedule *models.JobSchedule, now time.Time) (time.Time, error) {
	if schedule.StartAt != nil && schedule.StartAt.After(now) {
		return *schedule.StartAt, nil
	}
	if schedule.Cron != "" {
		return nextRun(schedule, now)
	}
	return now, nil
}

func nextRun(schedule *models.JobSchedule, after time.Time) (time.Time, error) {
	if schedule.Cron != "" {
		parsed, err := common.ParseJobSchedule(schedule.Cron)
		if err != nil {
			return time.Time{}, models.NewValidationError("schedule.cron", "%v", err)
		}
		return parsed.Next(after), nil
	}
	return after.Add(time.Duration(schedule.IntervalSeconds) * time.Second), nil
}

func (s *Service) appendLog(job *models.Job, level, message string) {
	job.Execution.Logs = append(job.Execution.Logs, models.JobLogEntry{
		Timestamp: s.now(),
		Level:     level,
		Message:   message,
	})
}
