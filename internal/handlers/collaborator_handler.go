package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/services/proxy"
)

// CollaboratorHandler exposes scenario, fingerprint and proxy services
type CollaboratorHandler struct {
	scenarios    interfaces.ScenarioGenerator
	fingerprints interfaces.FingerprintGenerator
	proxies      *proxy.Service
	logger       arbor.ILogger
}

// NewCollaboratorHandler creates a collaborator handler
func NewCollaboratorHandler(
	scenarios interfaces.ScenarioGenerator,
	fingerprints interfaces.FingerprintGenerator,
	proxies *proxy.Service,
	logger arbor.ILogger,
) *CollaboratorHandler {
	return &CollaboratorHandler{
		scenarios:    scenarios,
		fingerprints: fingerprints,
		proxies:      proxies,
		logger:       logger,
	}
}

// ScenarioRequest is the input to scenario generation
type ScenarioRequest struct {
	URL    string `json:"url" validate:"required,url"`
	Title  string `json:"title,omitempty"`
	HTML   string `json:"html,omitempty"`
	Region string `json:"region,omitempty"`
	Intent string `json:"intent,omitempty"`
}

// ScenarioHandler handles POST /api/scenarios
func (h *CollaboratorHandler) ScenarioHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req ScenarioRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	scenario, err := h.scenarios.Generate(r.Context(), models.PageContext{
		URL:    req.URL,
		Title:  req.Title,
		HTML:   req.HTML,
		Region: req.Region,
	}, req.Intent)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteData(w, http.StatusOK, scenario)
}

// FingerprintHandler handles POST /api/fingerprints with an optional {"region": ""} body
func (h *CollaboratorHandler) FingerprintHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Region string `json:"region"`
	}
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
	}
	if req.Region == "" {
		req.Region = r.URL.Query().Get("region")
	}

	WriteData(w, http.StatusOK, h.fingerprints.Generate(req.Region))
}

// ProxiesHandler handles GET and POST /api/proxies
func (h *CollaboratorHandler) ProxiesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.proxies.List(r.Context())
		if err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		if list == nil {
			list = []*models.Proxy{}
		}
		WriteData(w, http.StatusOK, list)

	case http.MethodPost:
		var spec proxy.ProxySpec
		if err := DecodeJSON(r, &spec); err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		p, err := h.proxies.Add(r.Context(), spec)
		if err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		WriteData(w, http.StatusCreated, p)

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// ProxyHandler handles DELETE /api/proxies/{id} and POST /api/proxies/{id}/release
func (h *CollaboratorHandler) ProxyHandler(w http.ResponseWriter, r *http.Request) {
	id := PathID(r, "/api/proxies/")

	var err error
	switch {
	case r.Method == http.MethodDelete:
		err = h.proxies.Remove(r.Context(), id)
	case r.Method == http.MethodPost && r.URL.Path == "/api/proxies/"+id+"/release":
		err = h.proxies.Release(r.Context(), id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteSuccess(w, "OK")
}
