package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/services/jobs"
	"github.com/ternarybob/drover/internal/services/scheduler"
)

// JobHandler serves the job API
type JobHandler struct {
	jobs      *jobs.Service
	scheduler *scheduler.Service
	logger    arbor.ILogger
}

// NewJobHandler creates a job handler
func NewJobHandler(jobService *jobs.Service, schedulerService *scheduler.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:      jobService,
		scheduler: schedulerService,
		logger:    logger,
	}
}

// CreateJobHandler handles POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var spec models.JobSpec
	if err := DecodeJSON(r, &spec); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), spec)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteData(w, http.StatusCreated, job)
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	filter := models.JobFilter{
		Status:         models.JobStatus(query.Get("status")),
		Type:           models.JobType(query.Get("type")),
		AssignedWorker: query.Get("assignedWorker"),
		CreatedBy:      query.Get("createdBy"),
		ParentID:       query.Get("parentId"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		WriteError(w, http.StatusBadRequest, "status: unknown job status")
		return
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		WriteError(w, http.StatusBadRequest, "type: unknown job type")
		return
	}
	priority, err := parseIntParam(r, "priority")
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	filter.Priority = priority
	if tags := query.Get("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}

	page, limit := GetPaginationParams(r)
	list, total, err := h.jobs.ListJobs(r.Context(), filter, page, limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.Job{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       list,
		"pagination": NewPagination(page, limit, total),
	})
}

// GetJobStatsHandler handles GET /api/jobs/stats
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, stats)
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), PathID(r, "/api/jobs/"))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, job)
}

// UpdateJobHandler handles PUT /api/jobs/{id}. Workers report completion
// and failure through this endpoint; an authenticated worker may only
// update jobs assigned to it.
func (h *JobHandler) UpdateJobHandler(w http.ResponseWriter, r *http.Request) {
	id := PathID(r, "/api/jobs/")

	var update models.JobUpdate
	if err := DecodeJSON(r, &update); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if worker, ok := WorkerFromContext(r.Context()); ok {
		job, err := h.jobs.GetJob(r.Context(), id)
		if err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		if job.AssignedWorker != worker.ID {
			WriteError(w, http.StatusConflict, "job is not assigned to this worker")
			return
		}
	}

	job, err := h.jobs.UpdateJob(r.Context(), id, update)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, job)
}

// CancelJobHandler handles DELETE /api/jobs/{id}?reason=
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), PathID(r, "/api/jobs/"), r.URL.Query().Get("reason"))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, job)
}

// RetryJobHandler handles POST /api/jobs/{id}/retry[?force=true]
func (h *JobHandler) RetryJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := PathID(r, "/api/jobs/")
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if job.Status == models.JobStatusFailed && jobs.RetriesExhausted(job) && !parseBoolParam(r, "force") {
		WriteError(w, http.StatusBadRequest, "retries exhausted; use force=true to retry anyway")
		return
	}

	job, err = h.jobs.Retry(r.Context(), id)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, job)
}

// BatchHandler handles POST /api/jobs/batch. The body may be JSON, YAML or
// TOML, selected by Content-Type.
func (h *JobHandler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	spec, err := jobs.ParseBatchSpec(data, jobs.FormatFromContentType(r.Header.Get("Content-Type")))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	result, err := h.jobs.CreateBatchJobs(r.Context(), *spec)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Int("requested", result.TotalRequested).
		Int("created", result.TotalCreated).
		Int("errors", len(result.Errors)).
		Msg("Batch submitted")

	WriteData(w, http.StatusCreated, result)
}

// NextJobHandler handles GET /api/jobs/next?workerId= for an authenticated worker
func (h *JobHandler) NextJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	worker, ok := WorkerFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "worker authentication required")
		return
	}
	workerID := r.URL.Query().Get("workerId")
	if workerID == "" {
		workerID = worker.ID
	}
	if workerID != worker.ID {
		WriteError(w, http.StatusForbidden, "api key does not belong to this worker")
		return
	}

	job, err := h.scheduler.Next(r.Context(), workerID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if job == nil {
		WriteData(w, http.StatusOK, nil)
		return
	}

	h.logger.Debug().Str("job_id", job.ID).Str("worker_id", workerID).Msg("Job delivered")
	WriteData(w, http.StatusOK, job)
}
