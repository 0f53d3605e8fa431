package models

import (
	"encoding/json"
	"time"
)

const (
	MinBatchQuantity = 1
	MaxBatchQuantity = 1000
)

// Pattern types for batch URL and name generation
const (
	PatternSequential = "sequential"
	PatternList       = "list"
)

// BatchJobSpec describes a fan-out of many jobs from one template.
// It is transient: only the jobs it produces are persisted.
type BatchJobSpec struct {
	Template    JobSpec         `json:"template"`
	Quantity    int             `json:"quantity" validate:"min=1,max=1000"`
	URLPattern  *URLPattern     `json:"urlPattern,omitempty"`
	NamePattern *NamePattern    `json:"namePattern,omitempty"`
	Variations  *BatchVariation `json:"variations,omitempty"`
	Scheduling  *BatchSchedule  `json:"scheduling,omitempty"`
}

// URLPattern generates one URL per batch index.
// Sequential templates substitute {number} with StartNumber+index;
// StartNumber defaults to 1 when absent, and 0 is honoured.
type URLPattern struct {
	Type        string   `json:"type"`
	Template    string   `json:"template,omitempty"`
	StartNumber *int     `json:"startNumber,omitempty"`
	URLs        []string `json:"urls,omitempty"`
}

// NamePattern generates one name per batch index
type NamePattern struct {
	Type        string   `json:"type"`
	Prefix      string   `json:"prefix,omitempty"`
	StartNumber *int     `json:"startNumber,omitempty"`
	Names       []string `json:"names,omitempty"`
}

// BatchVariation pools are indexed by batch index modulo pool length
type BatchVariation struct {
	Priorities []int      `json:"priorities,omitempty"`
	Regions    []string   `json:"regions,omitempty"`
	Intents    []string   `json:"intents,omitempty"`
	Tags       [][]string `json:"tags,omitempty"`
}

// BatchSchedule spreads batch jobs over time
type BatchSchedule struct {
	Enabled         bool       `json:"enabled"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	IntervalSeconds int        `json:"intervalSeconds"`
	Jitter          bool       `json:"jitter"`
}

// BatchItemError records why one batch index could not be created
type BatchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult is the outcome of expanding a batch spec.
// Creation is not transactional: successful items stay even when others fail.
type BatchResult struct {
	Created        []*Job           `json:"jobs"`
	Errors         []BatchItemError `json:"errors"`
	TotalRequested int              `json:"totalRequested"`
	TotalCreated   int              `json:"totalCreated"`
}

// JobSpec is the input to job creation
type JobSpec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url"`
	Type        JobType      `json:"type,omitempty"`
	Priority    int          `json:"priority,omitempty"`
	Config      JobConfig    `json:"config"`
	Schedule    *JobSchedule `json:"schedule,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	CreatedBy   string       `json:"createdBy,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	BatchID     string       `json:"batchId,omitempty"`
}

// JobUpdate is a partial job update. Status changes go through the state machine.
type JobUpdate struct {
	Status       *JobStatus       `json:"status,omitempty"`
	Priority     *int             `json:"priority,omitempty"`
	Name         *string          `json:"name,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Results      *ExecutionResult `json:"results,omitempty"`
	Error        string           `json:"error,omitempty"`
	Logs         []JobLogEntry    `json:"logs,omitempty"`
	CancelReason string           `json:"cancelReason,omitempty"`
}

// UnmarshalJSON also accepts results reported as {execution: {results, error}},
// the shape workers use when finishing a job. A top-level results field wins.
// endTime inside execution is ignored; the master stamps its own.
func (u *JobUpdate) UnmarshalJSON(data []byte) error {
	type flat JobUpdate
	var body struct {
		flat
		Execution *struct {
			Results *ExecutionResult `json:"results"`
			Error   string           `json:"error"`
		} `json:"execution"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	*u = JobUpdate(body.flat)
	if exec := body.Execution; exec != nil {
		if u.Results == nil {
			u.Results = exec.Results
		}
		if u.Error == "" {
			u.Error = exec.Error
		}
	}
	return nil
}

// JobFilter selects jobs for listing. Empty fields match everything.
type JobFilter struct {
	Status         JobStatus
	Type           JobType
	Priority       int
	AssignedWorker string
	CreatedBy      string
	Tags           []string
	ParentID       string
}

// JobStats is a count of jobs per status
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
