package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/models"
)

// FleetReader reports fleet and queue state for the health endpoint
type FleetReader interface {
	FleetStats() models.FleetStats
}

// QueueLengther reports the scheduling queue depth
type QueueLengther interface {
	Len(ctx context.Context) (int, error)
}

type APIHandler struct {
	fleet  FleetReader
	queue  QueueLengther
	logger arbor.ILogger
}

func NewAPIHandler(fleet FleetReader, queue QueueLengther, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		fleet:  fleet,
		queue:  queue,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status with fleet and queue figures
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	response := map[string]interface{}{
		"status": "ok",
	}
	if h.fleet != nil {
		response["workers"] = h.fleet.FleetStats()
	}
	if h.queue != nil {
		if n, err := h.queue.Len(r.Context()); err == nil {
			response["queued"] = n
		} else {
			h.logger.Warn().Err(err).Msg("Failed to read queue length for health check")
			response["status"] = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"status": "error",
		"error":  "Not Found",
		"path":   r.URL.Path,
	})
}
