package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeData(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func TestBatchSubmit(t *testing.T) {
	var received models.BatchJobSpec
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/jobs/batch", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeData(w, http.StatusCreated, map[string]interface{}{"data": models.BatchResult{
			TotalRequested: 3,
			TotalCreated:   2,
			Errors:         []models.BatchItemError{{Index: 1, Error: "url: invalid"}},
		}})
	}))
	defer server.Close()

	file := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
template:
  name: product
  url: https://shop.example.com/p-{number}
quantity: 3
urlPattern:
  type: sequential
  template: https://shop.example.com/p-{number}
  startNumber: 5
`), 0o644))

	out, err := execute(t, "--url", server.URL, "batch", "submit", "-f", file)
	require.NoError(t, err)

	assert.Equal(t, 3, received.Quantity)
	require.NotNil(t, received.URLPattern)
	require.NotNil(t, received.URLPattern.StartNumber)
	assert.Equal(t, 5, *received.URLPattern.StartNumber)
	assert.Contains(t, out, "2 of 3 jobs created")
	assert.Contains(t, out, "item 1: url: invalid")
}

func TestBatchSubmit_RequiresFile(t *testing.T) {
	_, err := execute(t, "batch", "submit")
	assert.Error(t, err)
}

func TestJobsList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "nightly,smoke", r.URL.Query().Get("tags"))
		writeData(w, http.StatusOK, map[string]interface{}{
			"data": []models.Job{
				{ID: "job_1", Status: models.JobStatusFailed, Priority: 7, URL: "https://example.com/a"},
			},
			"pagination": map[string]int{"page": 1, "limit": 20, "totalItems": 1, "totalPages": 1},
		})
	}))
	defer server.Close()

	out, err := execute(t, "--url", server.URL, "jobs", "list", "--status", "failed", "--tags", "nightly,smoke")
	require.NoError(t, err)
	assert.Contains(t, out, "job_1")
	assert.Contains(t, out, "https://example.com/a")
	assert.Contains(t, out, "page 1 of 1 (1 jobs)")
}

func TestJobsRetry_ForwardsForce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/job_9/retry", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		writeData(w, http.StatusOK, map[string]interface{}{"data": models.Job{ID: "job_9", Status: models.JobStatusQueued}})
	}))
	defer server.Close()

	out, err := execute(t, "--url", server.URL, "jobs", "retry", "job_9", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Job job_9 queued")
}

func TestJobsCancel_ReportsConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "operator", r.URL.Query().Get("reason"))
		writeData(w, http.StatusConflict, map[string]string{"status": "error", "error": "job job_2 is completed"})
	}))
	defer server.Close()

	_, err := execute(t, "--url", server.URL, "jobs", "cancel", "job_2", "--reason", "operator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "job job_2 is completed")
}

func TestWorkerRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reg models.WorkerRegistration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		assert.Equal(t, "edge-1", reg.Name)
		assert.Equal(t, 2, reg.Capabilities.MaxConcurrentJobs)
		assert.Equal(t, models.PriorityFilter{Min: 1, Max: 10}, reg.Configuration.PriorityFilter)
		writeData(w, http.StatusCreated, map[string]interface{}{"data": map[string]string{"workerId": "wkr_1", "apiKey": "dk_secret"}})
	}))
	defer server.Close()

	config := filepath.Join(t.TempDir(), "drover.toml")
	require.NoError(t, os.WriteFile(config, []byte("[agent]\nname = \"edge-1\"\n"), 0o644))

	out, err := execute(t, "--config", config, "--url", server.URL, "worker", "register")
	require.NoError(t, err)
	assert.Contains(t, out, "wkr_1")
	assert.Contains(t, out, "dk_secret")
}
