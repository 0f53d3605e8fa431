package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
)

// maxBodyBytes bounds request bodies; batch files are the largest payloads
const maxBodyBytes = 4 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes data inside the standard {"data": ...} envelope.
func WriteData(w http.ResponseWriter, statusCode int, data interface{}) error {
	return WriteJSON(w, statusCode, map[string]interface{}{"data": data})
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteErrorCode writes an error response carrying a machine-readable code.
func WriteErrorCode(w http.ResponseWriter, statusCode int, code, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"code":   code,
		"error":  message,
	})
}

// WriteServiceError maps a domain error to its HTTP status
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		transition *models.InvalidTransitionError
		conflict   *models.ConflictError
		unknown    *models.UnknownWorkerError
	)

	switch {
	case errors.As(err, &unknown):
		WriteErrorCode(w, http.StatusNotFound, "unknown_worker", err.Error())
	case errors.As(err, &validation):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &transition), errors.As(err, &conflict):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// DecodeJSON reads a JSON request body into v
func DecodeJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return models.NewValidationError("", "failed to read request body: %v", err)
	}
	if len(data) == 0 {
		return models.NewValidationError("", "request body is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return models.NewValidationError("", "invalid JSON: %v", err)
	}
	return nil
}

// PathID returns the path segment following prefix, e.g. the {id} in
// /api/jobs/{id}/retry for prefix /api/jobs/.
func PathID(r *http.Request, prefix string) string {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// PaginationResponse contains pagination metadata for API responses.
type PaginationResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// GetPaginationParams extracts pagination parameters from query string.
// Returns page (1-indexed) and limit (default 20, max 100).
func GetPaginationParams(r *http.Request) (page, limit int) {
	page = 1
	limit = 20

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p >= 1 {
			page = p
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	return page, limit
}

// NewPagination builds pagination metadata for a page of total items
func NewPagination(page, limit, total int) PaginationResponse {
	return PaginationResponse{
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}
}

func parseBoolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func parseIntParam(r *http.Request, name string) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, models.NewValidationError(name, "must be an integer, got %q", value)
	}
	return n, nil
}
