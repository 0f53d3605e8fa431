package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/drover/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Client talks to the drover master API. Worker calls carry the bearer api
// key; operator calls work without one.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.RWMutex
	workerID string
	apiKey   string
}

// NewClient creates a client for the master at baseURL
func NewClient(baseURL, workerID, apiKey string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		workerID: workerID,
		apiKey:   apiKey,
		httpClient: &http.Client{
			// Delivery can wait on scenario generation at the master
			Timeout: 60 * time.Second,
		},
	}
}

// ErrNotRegistered is returned by worker calls made before registration
var ErrNotRegistered = errors.New("worker is not registered")

// APIError is a non-2xx response from the master
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// NeedsRegistration reports whether err means the master no longer knows
// this worker's credentials or id.
func NeedsRegistration(err error) bool {
	if errors.Is(err, ErrNotRegistered) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.Code == "unknown_worker"
}

// Registration is the master's answer to a worker registration
type Registration struct {
	WorkerID string         `json:"workerId"`
	APIKey   string         `json:"apiKey"`
	Worker   *models.Worker `json:"worker"`
}

// Pagination mirrors the list endpoints' pagination block
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// Credentials returns the worker id and api key in use
func (c *Client) Credentials() (workerID, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workerID, c.apiKey
}

func (c *Client) setCredentials(workerID, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workerID = workerID
	c.apiKey = apiKey
}

// Register registers a new worker and switches the client to its credentials
func (c *Client) Register(ctx context.Context, reg models.WorkerRegistration) (*Registration, error) {
	var result Registration
	if err := c.do(ctx, http.MethodPost, "/api/workers", reg, &result, false); err != nil {
		return nil, err
	}
	c.setCredentials(result.WorkerID, result.APIKey)
	return &result, nil
}

// Heartbeat reports liveness and returns the master's instructions
func (c *Client) Heartbeat(ctx context.Context, report models.HeartbeatReport) (*models.HeartbeatResponse, error) {
	workerID, _ := c.Credentials()
	var result models.HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/api/workers/"+url.PathEscape(workerID)+"/heartbeat", report, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReportMetrics sends host metrics outside the heartbeat
func (c *Client) ReportMetrics(ctx context.Context, metrics models.WorkerMetrics) error {
	workerID, _ := c.Credentials()
	return c.do(ctx, http.MethodPut, "/api/workers/"+url.PathEscape(workerID)+"/metrics", metrics, nil, true)
}

// NextJob pulls the next job for this worker. It returns nil when there is none.
func (c *Client) NextJob(ctx context.Context) (*models.Job, error) {
	workerID, _ := c.Credentials()
	var job *models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/next?workerId="+url.QueryEscape(workerID), nil, &job, true); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob reports progress or the final outcome of a job
func (c *Client) UpdateJob(ctx context.Context, jobID string, update models.JobUpdate) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPut, "/api/jobs/"+url.PathEscape(jobID), update, &job, true); err != nil {
		return nil, err
	}
	return &job, nil
}

// GenerateScenario asks the master for an interaction scenario for a loaded page
func (c *Client) GenerateScenario(ctx context.Context, page models.PageContext, intent string) (*models.Scenario, error) {
	body := map[string]string{
		"url":    page.URL,
		"title":  page.Title,
		"html":   page.HTML,
		"region": page.Region,
		"intent": intent,
	}
	var scenario models.Scenario
	if err := c.do(ctx, http.MethodPost, "/api/scenarios", body, &scenario, true); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// CreateJob creates a single job
func (c *Client) CreateJob(ctx context.Context, spec models.JobSpec) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", spec, &job, false); err != nil {
		return nil, err
	}
	return &job, nil
}

// SubmitBatch expands a batch spec on the master
func (c *Client) SubmitBatch(ctx context.Context, spec *models.BatchJobSpec) (*models.BatchResult, error) {
	var result models.BatchResult
	if err := c.do(ctx, http.MethodPost, "/api/jobs/batch", spec, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob fetches one job
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &job, false); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs matching the query (status, type, tags, page, limit...)
func (c *Client) ListJobs(ctx context.Context, query url.Values) ([]*models.Job, *Pagination, error) {
	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var envelope struct {
		Data       []*models.Job `json:"data"`
		Pagination Pagination    `json:"pagination"`
	}
	if err := c.doRaw(ctx, http.MethodGet, path, nil, &envelope, false); err != nil {
		return nil, nil, err
	}
	return envelope.Data, &envelope.Pagination, nil
}

// CancelJob cancels a job with an optional reason
func (c *Client) CancelJob(ctx context.Context, jobID, reason string) (*models.Job, error) {
	path := "/api/jobs/" + url.PathEscape(jobID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	var job models.Job
	if err := c.do(ctx, http.MethodDelete, path, nil, &job, false); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob re-queues a failed job
func (c *Client) RetryJob(ctx context.Context, jobID string, force bool) (*models.Job, error) {
	path := "/api/jobs/" + url.PathEscape(jobID) + "/retry"
	if force {
		path += "?force=true"
	}
	var job models.Job
	if err := c.do(ctx, http.MethodPost, path, nil, &job, false); err != nil {
		return nil, err
	}
	return &job, nil
}

// do performs a request and unwraps the {"data": ...} envelope into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, authenticated bool) error {
	if out == nil {
		return c.doRaw(ctx, method, path, body, nil, authenticated)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.doRaw(ctx, method, path, body, &envelope, authenticated); err != nil {
		return err
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body, out interface{}, authenticated bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, apiKey := c.Credentials()
	if authenticated && apiKey == "" {
		return ErrNotRegistered
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errBody struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Error != "" {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
