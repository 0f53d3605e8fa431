// Package agent is the worker side of drover: it registers with the master,
// heartbeats, pulls jobs and runs them in a browser.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ternarybob/drover/agent")

// Config holds the worker agent settings
type Config struct {
	Registration      models.WorkerRegistration
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	PollInterval      time.Duration // overridden by heartbeat instructions
	MaxBackoff        time.Duration // cap for polling an empty queue
	HeartbeatInterval time.Duration // overridden by heartbeat instructions
}

// Agent runs the heartbeat and pull loops for one worker
type Agent struct {
	client   *Client
	executor Executor
	config   Config
	logger   arbor.ILogger

	pollInterval      atomic.Int64 // nanoseconds
	heartbeatInterval atomic.Int64
	maxJobs           atomic.Int32
	totalJobs         atomic.Int64

	mu      sync.Mutex
	running map[string]context.CancelFunc
	aborted map[string]bool

	regMu sync.Mutex
	wg    sync.WaitGroup
	slots chan struct{}
	wake  chan struct{}
}

// New creates an agent. The client may already carry credentials; otherwise
// the agent registers on start.
func New(client *Client, executor Executor, config Config, logger arbor.ILogger) *Agent {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.Registration.Capabilities.MaxConcurrentJobs <= 0 {
		config.Registration.Capabilities.MaxConcurrentJobs = config.MaxConcurrentJobs
	}

	a := &Agent{
		client:   client,
		executor: executor,
		config:   config,
		logger:   logger,
		running:  make(map[string]context.CancelFunc),
		aborted:  make(map[string]bool),
		slots:    make(chan struct{}, config.MaxConcurrentJobs),
		wake:     make(chan struct{}, 1),
	}
	a.pollInterval.Store(int64(config.PollInterval))
	a.heartbeatInterval.Store(int64(config.HeartbeatInterval))
	a.maxJobs.Store(int32(config.MaxConcurrentJobs))
	return a
}

// Run registers if needed, then heartbeats and pulls until ctx is cancelled.
// In-flight jobs are allowed to finish before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if _, apiKey := a.client.Credentials(); apiKey == "" {
		if err := a.register(ctx); err != nil {
			return err
		}
	}

	workerID, _ := a.client.Credentials()
	a.logger.Info().
		Str("worker_id", workerID).
		Int("max_concurrent_jobs", a.config.MaxConcurrentJobs).
		Msg("Worker agent starting")

	// First heartbeat brings the worker online before the first pull
	a.heartbeatOnce(ctx)

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		a.heartbeatLoop(ctx)
	}()

	a.pullLoop(ctx)
	loops.Wait()

	a.logger.Info().Msg("Waiting for running jobs to finish")
	a.wg.Wait()
	return ctx.Err()
}

func (a *Agent) register(ctx context.Context) error {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	reg, err := a.client.Register(ctx, a.config.Registration)
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	a.logger.Info().
		Str("worker_id", reg.WorkerID).
		Str("name", a.config.Registration.Name).
		Msg("Worker registered; keep the api key to reuse this identity")
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(a.heartbeatInterval.Load())):
			a.heartbeatOnce(ctx)
		}
	}
}

// heartbeatOnce reports state and applies the returned instructions
func (a *Agent) heartbeatOnce(ctx context.Context) {
	resp, err := a.client.Heartbeat(ctx, a.report())
	if NeedsRegistration(err) {
		a.logger.Warn().Err(err).Msg("Master rejected worker credentials, registering again")
		if regErr := a.register(ctx); regErr != nil {
			a.logger.Error().Err(regErr).Msg("Re-registration failed")
			return
		}
		resp, err = a.client.Heartbeat(ctx, a.report())
	}
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn().Err(err).Msg("Heartbeat failed")
		}
		return
	}
	a.apply(resp.Instructions)
}

func (a *Agent) report() models.HeartbeatReport {
	a.mu.Lock()
	ids := make([]string, 0, len(a.running))
	for id := range a.running {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	status := models.WorkerStatusOnline
	if len(ids) >= int(a.maxJobs.Load()) {
		status = models.WorkerStatusBusy
	}
	return models.HeartbeatReport{
		Status:        status,
		CurrentJobs:   len(ids),
		TotalJobs:     int(a.totalJobs.Load()),
		Metrics:       collectMetrics(a.config.Registration.Capabilities.MemoryMB),
		RunningJobIDs: ids,
	}
}

func (a *Agent) apply(instructions models.HeartbeatInstructions) {
	if instructions.PollInterval > 0 {
		a.pollInterval.Store(int64(time.Duration(instructions.PollInterval) * time.Second))
	}
	if instructions.HeartbeatInterval > 0 {
		a.heartbeatInterval.Store(int64(time.Duration(instructions.HeartbeatInterval) * time.Second))
	}
	if m := instructions.MaxConcurrentJobs; m > 0 {
		// The local semaphore bounds what the master may grant
		if m > cap(a.slots) {
			m = cap(a.slots)
		}
		a.maxJobs.Store(int32(m))
	}
	for _, jobID := range instructions.AbortJobs {
		a.abort(jobID)
	}
}

// abort cancels a running job. Its outcome is not reported: the master
// already cancelled it.
func (a *Agent) abort(jobID string) {
	a.mu.Lock()
	cancel, ok := a.running[jobID]
	if ok {
		a.aborted[jobID] = true
	}
	a.mu.Unlock()

	if ok {
		a.logger.Info().Str("job_id", jobID).Msg("Aborting job on master instruction")
		cancel()
	}
}

// pullLoop polls for work with exponential backoff on an empty queue and
// re-polls immediately when a slot frees up
func (a *Agent) pullLoop(ctx context.Context) {
	backoff := time.Duration(a.pollInterval.Load())
	a.trigger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			a.trigger()
		case <-a.wake:
			found, err := a.pullOnce(ctx)
			minimum := time.Duration(a.pollInterval.Load())
			switch {
			case err != nil || !found:
				backoff *= 2
				if backoff < minimum {
					backoff = minimum
				}
				if backoff > a.config.MaxBackoff {
					backoff = a.config.MaxBackoff
				}
			default:
				backoff = minimum
				a.trigger()
			}
		}
	}
}

func (a *Agent) trigger() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// pullOnce asks for one job if there is free capacity and starts it.
// It reports whether a job was started.
func (a *Agent) pullOnce(ctx context.Context) (bool, error) {
	if a.runningCount() >= int(a.maxJobs.Load()) {
		return false, nil
	}

	select {
	case a.slots <- struct{}{}:
	default:
		return false, nil
	}

	job, err := a.client.NextJob(ctx)
	if NeedsRegistration(err) {
		a.logger.Warn().Err(err).Msg("Master rejected worker credentials while pulling")
		if regErr := a.register(ctx); regErr == nil {
			job, err = a.client.NextJob(ctx)
		}
	}
	if err != nil || job == nil {
		<-a.slots
		if err != nil && ctx.Err() == nil {
			a.logger.Warn().Err(err).Msg("Failed to pull next job")
		}
		return false, err
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.JobTimeout)
	if !a.track(job.ID, cancel) {
		// Redelivery of a job this agent is already running
		cancel()
		<-a.slots
		return false, nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			<-a.slots
			a.trigger()
		}()
		defer cancel()
		a.process(jobCtx, job)
	}()
	return true, nil
}

func (a *Agent) track(jobID string, cancel context.CancelFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.running[jobID]; ok {
		return false
	}
	a.running[jobID] = cancel
	return true
}

func (a *Agent) untrack(jobID string) (aborted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	aborted = a.aborted[jobID]
	delete(a.running, jobID)
	delete(a.aborted, jobID)
	return aborted
}

func (a *Agent) runningCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}

// process executes one job and reports the outcome. Jobs keep running after
// the agent is told to stop; only abort and the job timeout end them early.
func (a *Agent) process(ctx context.Context, job *models.Job) {
	ctx, span := tracer.Start(ctx, "execute_job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.url", job.URL),
		),
	)
	defer span.End()

	logger := a.logger.WithCorrelationId(job.ID)
	logger.Info().Str("url", job.URL).Int("priority", job.Priority).Msg("Executing job")

	start := time.Now()
	result, err := a.executor.Execute(ctx, job)
	aborted := a.untrack(job.ID)
	a.totalJobs.Add(1)

	if aborted {
		logger.Info().Dur("duration", time.Since(start)).Msg("Job aborted")
		return
	}

	update := models.JobUpdate{Results: result}
	status := models.JobStatusCompleted
	switch {
	case err != nil:
		status = models.JobStatusFailed
		update.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			update.Error = fmt.Sprintf("job timed out after %s", a.config.JobTimeout)
		}
	case result == nil || !result.Success:
		status = models.JobStatusFailed
		update.Error = "execution reported failure"
	}
	update.Status = &status

	if status == models.JobStatusFailed {
		span.SetStatus(codes.Error, update.Error)
		logger.Warn().Str("error", update.Error).Dur("duration", time.Since(start)).Msg("Job failed")
	} else {
		logger.Info().Dur("duration", time.Since(start)).Msg("Job completed")
	}

	// Reporting must survive agent shutdown
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := a.client.UpdateJob(reportCtx, job.ID, update); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("Failed to report job outcome")
	}
}
