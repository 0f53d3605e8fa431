package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/services/registry"
)

// WorkerHandler serves worker registration, administration and heartbeats
type WorkerHandler struct {
	registry *registry.Service
	logger   arbor.ILogger
}

// NewWorkerHandler creates a worker handler
func NewWorkerHandler(registryService *registry.Service, logger arbor.ILogger) *WorkerHandler {
	return &WorkerHandler{registry: registryService, logger: logger}
}

// RegistrationResponse is returned once, at registration. The api key is not stored.
type RegistrationResponse struct {
	WorkerID string         `json:"workerId"`
	APIKey   string         `json:"apiKey"`
	Worker   *models.Worker `json:"worker"`
}

// RegisterHandler handles POST /api/workers
func (h *WorkerHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var reg models.WorkerRegistration
	if err := DecodeJSON(r, &reg); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	worker, apiKey, err := h.registry.Register(r.Context(), reg)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteData(w, http.StatusCreated, RegistrationResponse{WorkerID: worker.ID, APIKey: apiKey, Worker: worker})
}

// ListWorkersHandler handles GET /api/workers
func (h *WorkerHandler) ListWorkersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  h.registry.List(r.Context()),
		"stats": h.registry.FleetStats(),
	})
}

// GetWorkerHandler handles GET /api/workers/{id}
func (h *WorkerHandler) GetWorkerHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.registry.Get(r.Context(), PathID(r, "/api/workers/"))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, view)
}

// UpdateWorkerHandler handles PUT /api/workers/{id}
func (h *WorkerHandler) UpdateWorkerHandler(w http.ResponseWriter, r *http.Request) {
	var update models.WorkerUpdate
	if err := DecodeJSON(r, &update); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	view, err := h.registry.Update(r.Context(), PathID(r, "/api/workers/"), update)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, view)
}

// DeleteWorkerHandler handles DELETE /api/workers/{id}
func (h *WorkerHandler) DeleteWorkerHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deregister(r.Context(), PathID(r, "/api/workers/")); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteSuccess(w, "Worker deregistered")
}

// HeartbeatHandler handles POST /api/workers/{id}/heartbeat
func (h *WorkerHandler) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id, ok := h.authorizedWorker(w, r)
	if !ok {
		return
	}

	var report models.HeartbeatReport
	if err := DecodeJSON(r, &report); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	resp, err := h.registry.Heartbeat(r.Context(), id, report)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, resp)
}

// MetricsHandler handles PUT /api/workers/{id}/metrics
func (h *WorkerHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}

	id, ok := h.authorizedWorker(w, r)
	if !ok {
		return
	}

	var metrics models.WorkerMetrics
	if err := DecodeJSON(r, &metrics); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := h.registry.UpdateMetrics(r.Context(), id, metrics); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteSuccess(w, "Metrics recorded")
}

// authorizedWorker checks that the path worker id is the authenticated worker
func (h *WorkerHandler) authorizedWorker(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := PathID(r, "/api/workers/")
	worker, ok := WorkerFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "worker authentication required")
		return "", false
	}
	if worker.ID != id {
		WriteError(w, http.StatusForbidden, "api key does not belong to this worker")
		return "", false
	}
	return id, true
}
