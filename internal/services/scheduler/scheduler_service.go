package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/services/jobs"
	"github.com/ternarybob/drover/internal/services/registry"
)

// queuePageSize is how many queue entries one pull reads at a time
const queuePageSize = 200

// Config holds scheduler tunables
type Config struct {
	AutoAssign     bool
	AssignSchedule string // cron with seconds
	ScheduleSweep  string
	TimeoutSweep   string
	MaxJobDuration time.Duration // used when a worker does not set its own
	TimeoutGrace   time.Duration
}

// sweepEntry is a registered periodic task with its run state
type sweepEntry struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// SweepStatus is the reportable state of one periodic task
type SweepStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	IsRunning bool       `json:"isRunning"`
	LastError string     `json:"lastError,omitempty"`
}

// Service matches queued jobs to workers and runs the periodic sweeps
type Service struct {
	jobs     *jobs.Service
	registry *registry.Service
	storage  interfaces.JobStorage
	queue    interfaces.QueueManager
	logger   arbor.ILogger
	config   Config
	tracer   trace.Tracer

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]*sweepEntry
	running bool
	now     func() time.Time
}

// NewService creates a new scheduler
func NewService(
	jobService *jobs.Service,
	registryService *registry.Service,
	storage interfaces.JobStorage,
	queue interfaces.QueueManager,
	logger arbor.ILogger,
	config Config,
) *Service {
	if config.MaxJobDuration <= 0 {
		config.MaxJobDuration = 10 * time.Minute
	}

	return &Service{
		jobs:     jobService,
		registry: registryService,
		storage:  storage,
		queue:    queue,
		logger:   logger,
		config:   config,
		tracer:   otel.Tracer("github.com/ternarybob/drover/scheduler"),
		cron:     cron.New(cron.WithSeconds()),
		entries:  make(map[string]*sweepEntry),
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RankWorkers orders candidates best first: fewest current jobs, then highest
// success rate, then lowest average duration, then worker id.
func RankWorkers(candidates []models.Worker) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Resources, candidates[j].Resources
		if a.CurrentJobs != b.CurrentJobs {
			return a.CurrentJobs < b.CurrentJobs
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.AverageJobDuration != b.AverageJobDuration {
			return a.AverageJobDuration < b.AverageJobDuration
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// Assign picks a worker for a queued job and starts it there.
// A pinned job is only ever tried on its pinned worker.
// Returns nil, nil when no eligible worker is available; the job stays queued.
func (s *Service) Assign(ctx context.Context, jobID string) (*models.Worker, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Assign", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusQueued {
		return nil, &models.InvalidTransitionError{From: job.Status, To: models.JobStatusRunning}
	}
	if nb := job.Execution.NotBefore; nb != nil && nb.After(s.now()) {
		return nil, nil
	}

	var candidates []models.Worker
	if pinned := job.Config.WorkerID; pinned != "" {
		if !s.registry.Eligible(pinned, job.Priority) {
			s.logger.Debug().Str("job_id", jobID).Str("worker_id", pinned).Msg("Pinned worker not eligible")
			return nil, nil
		}
		candidates = []models.Worker{{ID: pinned}}
	} else {
		candidates = s.registry.Candidates(job.Priority)
		RankWorkers(candidates)
	}

	for _, candidate := range candidates {
		started, err := s.jobs.StartOnWorker(ctx, jobID, candidate.ID)
		if err == nil {
			span.SetAttributes(attribute.String("worker.id", started.AssignedWorker))
			worker, _ := s.registry.Get(ctx, candidate.ID)
			if worker == nil {
				return &models.Worker{ID: candidate.ID}, nil
			}
			return &worker.Worker, nil
		}
		// Capacity raced away between ranking and reservation; try the next one
		if errors.Is(err, models.ErrNoEligibleWorker) {
			continue
		}
		return nil, err
	}

	s.logger.Debug().Str("job_id", jobID).Int("priority", job.Priority).Msg("No eligible worker")
	return nil, nil
}

// Next returns the job a worker should run now, or nil. An assignment the
// worker has not yet received is delivered first; otherwise the best queued
// job the worker may take is assigned to it.
func (s *Service) Next(ctx context.Context, workerID string) (*models.Job, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Next", trace.WithAttributes(attribute.String("worker.id", workerID)))
	defer span.End()

	if err := s.registry.Touch(workerID); err != nil {
		return nil, err
	}

	if job, err := s.redeliver(ctx, workerID); err != nil || job != nil {
		return job, err
	}

	worker, err := s.registry.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	filter := worker.Configuration.PriorityFilter

	// Only the worker's priority band is read, page by page, so jobs it may
	// take are found however many ineligible jobs are queued ahead of them.
	now := s.now()
	offset := 0
	for {
		msgs, err := s.queue.ListRange(ctx, filter.Min, filter.Max, offset, queuePageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read queue: %w", err)
		}

		dropped := 0
		for _, msg := range msgs {
			job, err := s.storage.GetJob(ctx, msg.JobID)
			if err != nil {
				if models.IsNotFound(err) {
					s.dropStale(ctx, msg.JobID)
					dropped++
					continue
				}
				return nil, err
			}
			if job.Status != models.JobStatusQueued {
				s.dropStale(ctx, msg.JobID)
				dropped++
				continue
			}
			if !filter.Accepts(job.Priority) {
				continue
			}
			if nb := job.Execution.NotBefore; nb != nil && nb.After(now) {
				continue
			}
			if pinned := job.Config.WorkerID; pinned != "" && pinned != workerID {
				continue
			}

			started, err := s.jobs.StartOnWorker(ctx, job.ID, workerID)
			if err != nil {
				var terr *models.InvalidTransitionError
				switch {
				case errors.As(err, &terr):
					// Taken by a concurrent pull
					continue
				case errors.Is(err, models.ErrNoEligibleWorker):
					return nil, nil
				default:
					return nil, err
				}
			}

			if _, err := s.jobs.MarkDelivered(ctx, started.ID); err != nil {
				s.logger.Warn().Err(err).Str("job_id", started.ID).Msg("Failed to mark job delivered")
			}
			span.SetAttributes(attribute.String("job.id", started.ID))
			return s.jobs.PrepareDelivery(ctx, started.ID)
		}

		if len(msgs) < queuePageSize {
			return nil, nil
		}
		// Dropped entries are gone from the queue, so the next page starts earlier
		offset += len(msgs) - dropped
	}
}

// redeliver hands over a running job that was assigned to the worker but
// never received by it
func (s *Service) redeliver(ctx context.Context, workerID string) (*models.Job, error) {
	running, err := s.storage.GetJobsByWorker(ctx, workerID, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}

	for _, job := range running {
		if job.Execution.DeliveredAt != nil {
			continue
		}
		delivered, err := s.jobs.MarkDelivered(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if delivered {
			s.logger.Debug().Str("job_id", job.ID).Str("worker_id", workerID).Msg("Delivering pushed assignment")
			return s.jobs.PrepareDelivery(ctx, job.ID)
		}
	}
	return nil, nil
}

func (s *Service) dropStale(ctx context.Context, jobID string) {
	if err := s.queue.Remove(ctx, jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to drop stale queue entry")
	}
}

// RunAssignmentPass tries to assign every queued job once, in queue order
func (s *Service) RunAssignmentPass(ctx context.Context) error {
	msgs, err := s.queue.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	assigned := 0
	for _, msg := range msgs {
		worker, err := s.Assign(ctx, msg.JobID)
		if err != nil {
			var terr *models.InvalidTransitionError
			if errors.As(err, &terr) || models.IsNotFound(err) {
				s.dropStale(ctx, msg.JobID)
				continue
			}
			return err
		}
		if worker != nil {
			assigned++
		}
	}

	if assigned > 0 {
		s.logger.Info().Int("assigned", assigned).Int("queued", len(msgs)).Msg("Assignment pass complete")
	}
	return nil
}

// SweepSchedules queues due one-off and batch jobs and spawns due runs of
// recurring schedules
func (s *Service) SweepSchedules(ctx context.Context) error {
	now := s.now()

	due, err := s.storage.GetDuePendingJobs(ctx, now)
	if err != nil {
		return err
	}
	for _, job := range due {
		if _, err := s.jobs.Enqueue(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to queue scheduled job")
		}
	}

	recurring, err := s.storage.GetActiveRecurringJobs(ctx)
	if err != nil {
		return err
	}
	spawned := 0
	for _, tmpl := range recurring {
		child, err := s.jobs.TriggerRecurring(ctx, tmpl.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", tmpl.ID).Msg("Failed to trigger recurring job")
			continue
		}
		if child != nil {
			spawned++
		}
	}

	if len(due) > 0 || spawned > 0 {
		s.logger.Info().Int("queued", len(due)).Int("spawned", spawned).Msg("Schedule sweep complete")
	}
	return nil
}

// SweepTimeouts fails running jobs that have exceeded their worker's max job
// duration plus the grace period, and tells the worker to abort them
func (s *Service) SweepTimeouts(ctx context.Context) error {
	running, err := s.storage.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return err
	}

	now := s.now()
	for _, job := range running {
		if job.Execution.StartTime == nil {
			continue
		}

		limit := s.config.MaxJobDuration
		if view, err := s.registry.Get(ctx, job.AssignedWorker); err == nil && view.Configuration.MaxJobDuration > 0 {
			limit = time.Duration(view.Configuration.MaxJobDuration) * time.Second
		}
		if now.Sub(*job.Execution.StartTime) <= limit+s.config.TimeoutGrace {
			continue
		}

		reason := fmt.Sprintf("Timed out: running longer than %s", limit)
		if _, err := s.jobs.Fail(ctx, job.ID, reason, nil); err != nil {
			var terr *models.InvalidTransitionError
			if !errors.As(err, &terr) {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to time out job")
			}
			continue
		}
		s.registry.QueueAbort(job.AssignedWorker, job.ID)
		s.logger.Warn().Str("job_id", job.ID).Str("worker_id", job.AssignedWorker).Dur("limit", limit).Msg("Job timed out")
	}
	return nil
}

// Start registers the periodic tasks and starts the cron runner
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.registerLocked("schedule_sweep", s.config.ScheduleSweep, s.SweepSchedules); err != nil {
		return err
	}
	if err := s.registerLocked("timeout_sweep", s.config.TimeoutSweep, s.SweepTimeouts); err != nil {
		return err
	}
	if s.config.AutoAssign {
		if err := s.registerLocked("assignment_pass", s.config.AssignSchedule, s.RunAssignmentPass); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Bool("auto_assign", s.config.AutoAssign).
		Int("tasks", len(s.entries)).
		Msg("Scheduler started")
	return nil
}

func (s *Service) registerLocked(name, schedule string, handler func(ctx context.Context) error) error {
	if schedule == "" {
		s.logger.Debug().Str("task", name).Msg("Periodic task disabled (no schedule)")
		return nil
	}

	entry := &sweepEntry{name: name, schedule: schedule, handler: handler}
	id, err := s.cron.AddFunc(schedule, func() { s.runEntry(entry) })
	if err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}
	entry.cronID = id
	s.entries[name] = entry
	return nil
}

// runEntry executes one periodic task, skipping the tick if the previous run
// has not finished
func (s *Service) runEntry(entry *sweepEntry) {
	defer common.Recover(s.logger, entry.name)

	s.mu.Lock()
	if entry.isRunning {
		s.mu.Unlock()
		s.logger.Debug().Str("task", entry.name).Msg("Previous run still in progress, skipping")
		return
	}
	entry.isRunning = true
	s.mu.Unlock()

	err := entry.handler(context.Background())

	s.mu.Lock()
	now := s.now()
	entry.isRunning = false
	entry.lastRun = &now
	entry.lastError = ""
	if err != nil {
		entry.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("task", entry.name).Msg("Periodic task failed")
	}
}

// Stop halts the cron runner and waits for running tasks to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Status reports the periodic tasks in name order
func (s *Service) Status() []SweepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]SweepStatus, 0, len(s.entries))
	for _, entry := range s.entries {
		status := SweepStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			LastRun:   entry.lastRun,
			IsRunning: entry.isRunning,
			LastError: entry.lastError,
		}
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			status.NextRun = &next
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
