package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// Config holds registry tunables
type Config struct {
	StaleAfter        time.Duration // worker is offline after this long without a signal
	PollInterval      int           // seconds, handed to workers
	HeartbeatInterval int           // seconds, default for workers that do not set one
}

// Service is the worker registry and heartbeat processor.
//
// Durable worker records (definition and rolling counters) are cached in
// memory and written through to storage on every change. Liveness is kept
// only in memory and is rebuilt from the next heartbeat after a restart.
// All counter changes happen under mu, which makes capacity checks and
// increments a single atomic step.
type Service struct {
	storage interfaces.WorkerStorage
	events  interfaces.EventService
	logger  arbor.ILogger
	config  Config

	mu       sync.Mutex
	workers  map[string]*models.Worker
	liveness map[string]*models.WorkerLiveness
	aborts   map[string][]string
	now      func() time.Time
}

// NewService creates a new worker registry
func NewService(storage interfaces.WorkerStorage, events interfaces.EventService, logger arbor.ILogger, config Config) *Service {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 60 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30
	}

	return &Service{
		storage:  storage,
		events:   events,
		logger:   logger,
		config:   config,
		workers:  make(map[string]*models.Worker),
		liveness: make(map[string]*models.WorkerLiveness),
		aborts:   make(map[string][]string),
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// StaleAfter returns the staleness threshold
func (s *Service) StaleAfter() time.Duration {
	return s.config.StaleAfter
}

// Load fills the cache from storage and rebuilds each worker's current job
// count from the jobs that are actually running on it.
func (s *Service) Load(ctx context.Context, jobs interfaces.JobStorage) error {
	workers, err := s.storage.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	running, err := jobs.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to load running jobs: %w", err)
	}
	counts := make(map[string]int)
	for _, job := range running {
		if job.AssignedWorker != "" {
			counts[job.AssignedWorker]++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, worker := range workers {
		current := counts[worker.ID]
		if worker.Resources.CurrentJobs != current {
			s.logger.Info().
				Str("worker_id", worker.ID).
				Int("stored", worker.Resources.CurrentJobs).
				Int("running", current).
				Msg("Rebuilt worker job count from running jobs")
			worker.Resources.CurrentJobs = current
			if err := s.storage.SaveWorker(ctx, worker); err != nil {
				return err
			}
		}
		s.workers[worker.ID] = worker
	}

	s.logger.Info().Int("workers", len(workers)).Int("running_jobs", len(running)).Msg("Worker registry loaded")
	return nil
}

// Register creates a worker with a fresh id and credential.
// The plaintext api key is returned once; only its hash is stored.
func (s *Service) Register(ctx context.Context, reg models.WorkerRegistration) (*models.Worker, string, error) {
	if err := common.ValidateStruct(reg); err != nil {
		return nil, "", err
	}

	if reg.Type == "" {
		reg.Type = models.WorkerTypeStandalone
	}
	if !reg.Type.IsValid() {
		return nil, "", models.NewValidationError("type", "unknown worker type %q", reg.Type)
	}

	if reg.Capabilities.MaxConcurrentJobs == 0 {
		reg.Capabilities.MaxConcurrentJobs = 1
	}
	if reg.Capabilities.MaxConcurrentJobs < 0 {
		return nil, "", models.NewValidationError("capabilities.maxConcurrentJobs", "must be at least 1")
	}

	if reg.Configuration.PriorityFilter == (models.PriorityFilter{}) {
		reg.Configuration.PriorityFilter = models.PriorityFilter{Min: models.MinPriority, Max: models.MaxPriority}
	}
	if err := validatePriorityFilter(reg.Configuration.PriorityFilter); err != nil {
		return nil, "", err
	}

	if reg.Connection.HeartbeatInterval <= 0 {
		reg.Connection.HeartbeatInterval = s.config.HeartbeatInterval
	}

	apiKey, err := common.NewAPIKey()
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	now := s.now()
	worker := &models.Worker{
		ID:            common.NewWorkerID(),
		Name:          reg.Name,
		Type:          reg.Type,
		Connection:    reg.Connection,
		Capabilities:  reg.Capabilities,
		Configuration: reg.Configuration,
		APIKeyHash:    common.HashAPIKey(apiKey),
		RegisteredAt:  now,
		UpdatedAt:     now,
	}

	if err := s.storage.SaveWorker(ctx, worker); err != nil {
		s.mu.Unlock()
		return nil, "", fmt.Errorf("failed to register worker: %w", err)
	}
	s.workers[worker.ID] = worker
	snapshot := *worker
	s.mu.Unlock()

	s.logger.Info().
		Str("worker_id", worker.ID).
		Str("name", worker.Name).
		Int("max_jobs", worker.Capabilities.MaxConcurrentJobs).
		Msg("Worker registered")

	s.publish(ctx, interfaces.EventWorkerRegistered, &snapshot, models.WorkerStatusOffline, 0)

	return &snapshot, apiKey, nil
}

func validatePriorityFilter(f models.PriorityFilter) error {
	if f.Min < models.MinPriority || f.Max > models.MaxPriority || f.Min > f.Max {
		return models.NewValidationError("configuration.priorityFilter",
			"must satisfy %d <= min <= max <= %d", models.MinPriority, models.MaxPriority)
	}
	return nil
}

// Authenticate resolves a worker from its api key
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Worker, error) {
	worker, err := s.storage.GetWorkerByAPIKeyHash(ctx, common.HashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.workers[worker.ID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "worker", ID: worker.ID}
	}
	snapshot := *cached
	return &snapshot, nil
}

// Get returns a worker with its derived status
func (s *Service) Get(ctx context.Context, id string) (*models.WorkerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "worker", ID: id}
	}
	view := s.viewLocked(worker, s.now())
	return &view, nil
}

// List returns all workers ordered by registration time
func (s *Service) List(ctx context.Context) []models.WorkerView {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	views := make([]models.WorkerView, 0, len(s.workers))
	for _, worker := range s.workers {
		views = append(views, s.viewLocked(worker, now))
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].RegisteredAt.Equal(views[j].RegisteredAt) {
			return views[i].RegisteredAt.Before(views[j].RegisteredAt)
		}
		return views[i].ID < views[j].ID
	})
	return views
}

func (s *Service) viewLocked(worker *models.Worker, now time.Time) models.WorkerView {
	view := models.WorkerView{
		Worker: *worker,
		Status: DeriveStatus(worker, s.liveness[worker.ID], now, s.config.StaleAfter),
	}
	if live, ok := s.liveness[worker.ID]; ok {
		copied := *live
		view.Liveness = &copied
	}
	return view
}

// Status returns the derived status of a worker
func (s *Service) Status(id string) (models.WorkerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return "", &models.NotFoundError{Kind: "worker", ID: id}
	}
	return DeriveStatus(worker, s.liveness[id], s.now(), s.config.StaleAfter), nil
}

// Update applies a partial update. Only maintenance and online are accepted
// as operator status; the rest is derived.
func (s *Service) Update(ctx context.Context, id string, update models.WorkerUpdate) (*models.WorkerView, error) {
	s.mu.Lock()

	worker, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return nil, &models.NotFoundError{Kind: "worker", ID: id}
	}

	updated := *worker

	if update.Name != nil {
		if *update.Name == "" {
			s.mu.Unlock()
			return nil, models.NewValidationError("name", "cannot be empty")
		}
		updated.Name = *update.Name
	}

	if update.Status != nil {
		switch *update.Status {
		case models.WorkerStatusMaintenance:
			updated.AdminStatus = models.WorkerStatusMaintenance
		case models.WorkerStatusOnline:
			updated.AdminStatus = ""
		default:
			s.mu.Unlock()
			return nil, models.NewValidationError("status", "only %s or %s can be set", models.WorkerStatusMaintenance, models.WorkerStatusOnline)
		}
	}

	if update.MaxConcurrentJobs != nil {
		max := *update.MaxConcurrentJobs
		if max < 1 {
			s.mu.Unlock()
			return nil, models.NewValidationError("maxConcurrentJobs", "must be at least 1")
		}
		if max < updated.Resources.CurrentJobs {
			s.mu.Unlock()
			return nil, &models.ConflictError{Message: fmt.Sprintf("worker is running %d jobs; cannot lower capacity to %d", updated.Resources.CurrentJobs, max)}
		}
		updated.Capabilities.MaxConcurrentJobs = max
	}

	if update.Configuration != nil {
		cfg := *update.Configuration
		if err := validatePriorityFilter(cfg.PriorityFilter); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		updated.Configuration = cfg
	}

	now := s.now()
	updated.UpdatedAt = now
	if err := s.storage.SaveWorker(ctx, &updated); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to update worker: %w", err)
	}
	*worker = updated
	view := s.viewLocked(worker, now)
	s.mu.Unlock()

	s.logger.Info().Str("worker_id", id).Str("status", string(view.Status)).Msg("Worker updated")
	s.publish(ctx, interfaces.EventWorkerUpdated, &view.Worker, view.Status, 0)

	return &view, nil
}

// Deregister removes a worker. Workers are never removed automatically and
// a worker with running jobs cannot be removed.
func (s *Service) Deregister(ctx context.Context, id string) error {
	s.mu.Lock()

	worker, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return &models.NotFoundError{Kind: "worker", ID: id}
	}
	if worker.Resources.CurrentJobs > 0 {
		s.mu.Unlock()
		return &models.ConflictError{Message: fmt.Sprintf("worker %s has %d running jobs", id, worker.Resources.CurrentJobs)}
	}

	if err := s.storage.DeleteWorker(ctx, id); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := *worker
	delete(s.workers, id)
	delete(s.liveness, id)
	delete(s.aborts, id)
	s.mu.Unlock()

	s.logger.Info().Str("worker_id", id).Msg("Worker deregistered")
	s.publish(ctx, interfaces.EventWorkerDeregistered, &snapshot, models.WorkerStatusOffline, 0)
	return nil
}

// Heartbeat records a worker's self-report and returns instructions.
// Reported values are stored verbatim; they never overwrite the master's
// own job accounting.
func (s *Service) Heartbeat(ctx context.Context, id string, report models.HeartbeatReport) (*models.HeartbeatResponse, error) {
	s.mu.Lock()

	worker, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return nil, &models.UnknownWorkerError{WorkerID: id}
	}

	now := s.now()
	live := s.livenessLocked(id)
	previous := DeriveStatus(worker, live, now, s.config.StaleAfter)

	live.LastSeen = now
	live.ReportedStatus = report.Status
	live.ReportedCurrent = report.CurrentJobs
	live.ReportedTotal = report.TotalJobs
	live.Metrics = report.Metrics

	status := s.rescoreLocked(worker, live, now)

	aborts := s.aborts[id]
	delete(s.aborts, id)

	heartbeatInterval := worker.Connection.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = s.config.HeartbeatInterval
	}

	response := &models.HeartbeatResponse{
		Instructions: models.HeartbeatInstructions{
			PollInterval:      s.config.PollInterval,
			HeartbeatInterval: heartbeatInterval,
			MaxConcurrentJobs: worker.Capabilities.MaxConcurrentJobs,
			AbortJobs:         aborts,
		},
		Stats: s.fleetStatsLocked(now),
		Calculated: models.HeartbeatCalculated{
			HealthScore:     live.HealthScore,
			EfficiencyScore: live.EfficiencyScore,
			Status:          status,
		},
	}
	snapshot := *worker
	masterCurrent := worker.Resources.CurrentJobs
	s.mu.Unlock()

	if report.CurrentJobs != masterCurrent {
		s.logger.Debug().
			Str("worker_id", id).
			Int("reported", report.CurrentJobs).
			Int("tracked", masterCurrent).
			Msg("Worker reported job count differs from tracked count")
	}
	if previous != status {
		s.logger.Info().
			Str("worker_id", id).
			Str("from", string(previous)).
			Str("to", string(status)).
			Msg("Worker status changed")
	}
	if len(aborts) > 0 {
		s.logger.Info().Str("worker_id", id).Strs("jobs", aborts).Msg("Abort instructions delivered")
	}

	s.publish(ctx, interfaces.EventWorkerHeartbeat, &snapshot, status, response.Calculated.HealthScore)

	return response, nil
}

// UpdateMetrics records host metrics outside the heartbeat cycle
func (s *Service) UpdateMetrics(ctx context.Context, id string, metrics models.WorkerMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return &models.UnknownWorkerError{WorkerID: id}
	}

	now := s.now()
	live := s.livenessLocked(id)
	live.LastSeen = now
	live.Metrics = metrics
	s.rescoreLocked(worker, live, now)
	return nil
}

// Touch records a liveness signal other than a heartbeat, such as a job pull
func (s *Service) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return &models.UnknownWorkerError{WorkerID: id}
	}

	now := s.now()
	live := s.livenessLocked(id)
	live.LastSeen = now
	s.rescoreLocked(worker, live, now)
	return nil
}

func (s *Service) livenessLocked(id string) *models.WorkerLiveness {
	live, ok := s.liveness[id]
	if !ok {
		live = &models.WorkerLiveness{}
		s.liveness[id] = live
	}
	return live
}

func (s *Service) rescoreLocked(worker *models.Worker, live *models.WorkerLiveness, now time.Time) models.WorkerStatus {
	status := DeriveStatus(worker, live, now, s.config.StaleAfter)
	live.HealthScore = HealthScore(status, live.Metrics, worker.Resources)
	live.EfficiencyScore = EfficiencyScore(worker.Resources, worker.Capabilities.MaxConcurrentJobs)
	return status
}

// FleetStats summarises the pool at the current time
func (s *Service) FleetStats() models.FleetStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fleetStatsLocked(s.now())
}

func (s *Service) fleetStatsLocked(now time.Time) models.FleetStats {
	stats := models.FleetStats{TotalWorkers: len(s.workers)}
	for id, worker := range s.workers {
		switch DeriveStatus(worker, s.liveness[id], now, s.config.StaleAfter) {
		case models.WorkerStatusOnline:
			stats.OnlineWorkers++
		case models.WorkerStatusBusy:
			stats.BusyWorkers++
		}
		stats.TotalActiveJobs += worker.Resources.CurrentJobs
	}
	return stats
}

// Candidates returns snapshots of every worker currently eligible for a job of the given priority
func (s *Service) Candidates(priority int) []models.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var result []models.Worker
	for _, worker := range s.workers {
		if s.eligibleLocked(worker, priority, now) {
			result = append(result, *worker)
		}
	}
	return result
}

// Eligible reports whether a worker could take a job of the given priority right now
func (s *Service) Eligible(id string, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	return ok && s.eligibleLocked(worker, priority, s.now())
}

func (s *Service) eligibleLocked(worker *models.Worker, priority int, now time.Time) bool {
	if DeriveStatus(worker, s.liveness[worker.ID], now, s.config.StaleAfter) != models.WorkerStatusOnline {
		return false
	}
	if worker.Resources.CurrentJobs >= worker.Capabilities.MaxConcurrentJobs {
		return false
	}
	return worker.Configuration.PriorityFilter.Accepts(priority)
}

// TryAcquire reserves one job slot on a worker if it is eligible for the
// priority. The eligibility check and the increment are one step under the
// registry lock, so concurrent callers can never exceed capacity.
// Returns models.ErrNoEligibleWorker when the worker cannot take the job.
func (s *Service) TryAcquire(ctx context.Context, id string, priority int) (*models.Worker, error) {
	s.mu.Lock()

	worker, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return nil, &models.UnknownWorkerError{WorkerID: id}
	}

	now := s.now()
	if !s.eligibleLocked(worker, priority, now) {
		s.mu.Unlock()
		return nil, models.ErrNoEligibleWorker
	}

	worker.Resources.CurrentJobs++
	worker.UpdatedAt = now
	if err := s.storage.SaveWorker(ctx, worker); err != nil {
		worker.Resources.CurrentJobs--
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to reserve worker slot: %w", err)
	}

	if live, ok := s.liveness[id]; ok {
		s.rescoreLocked(worker, live, now)
	}
	snapshot := *worker
	s.mu.Unlock()

	return &snapshot, nil
}

// Release frees one job slot. A non-nil outcome also folds the finished job
// into the worker's rolling statistics; nil rolls back a reservation.
func (s *Service) Release(ctx context.Context, id string, outcome *models.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		s.logger.Warn().Str("worker_id", id).Msg("Release for unknown worker ignored")
		return nil
	}

	if worker.Resources.CurrentJobs > 0 {
		worker.Resources.CurrentJobs--
	} else {
		s.logger.Warn().Str("worker_id", id).Msg("Release with no reserved slots")
	}
	if outcome != nil {
		applyOutcome(&worker.Resources, *outcome)
	}

	now := s.now()
	worker.UpdatedAt = now
	if live, ok := s.liveness[id]; ok {
		s.rescoreLocked(worker, live, now)
	}

	if err := s.storage.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("failed to persist worker counters: %w", err)
	}
	return nil
}

// QueueAbort schedules an abort instruction for the worker's next heartbeat
func (s *Service) QueueAbort(workerID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[workerID]; !ok {
		return
	}
	s.aborts[workerID] = append(s.aborts[workerID], jobID)
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, worker *models.Worker, status models.WorkerStatus, health float64) {
	if s.events == nil {
		return
	}
	payload := models.WorkerEventPayload{
		WorkerID:    worker.ID,
		Name:        worker.Name,
		Status:      status,
		CurrentJobs: worker.Resources.CurrentJobs,
		HealthScore: health,
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish worker event")
	}
}
