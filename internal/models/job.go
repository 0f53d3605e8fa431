package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transitions happen from this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType classifies how a job enters the queue
type JobType string

const (
	JobTypeSingle    JobType = "single"
	JobTypeBatch     JobType = "batch"
	JobTypeScheduled JobType = "scheduled"
)

// IsValid reports whether t is one of the known job types
func (t JobType) IsValid() bool {
	return t == JobTypeSingle || t == JobTypeBatch || t == JobTypeScheduled
}

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5

	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 5000
)

// ClampPriority forces p into [MinPriority, MaxPriority]. Zero means "unset" and maps to the default.
func ClampPriority(p int) int {
	if p == 0 {
		return DefaultPriority
	}
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Job is a single unit of browser automation work targeting one URL.
// Fields used in storage queries live at the top level; badgerhold cannot
// query into nested structs reliably.
type Job struct {
	ID          string    `json:"id" badgerhold:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Type        JobType   `json:"type" badgerhold:"index"`
	Priority    int       `json:"priority"`
	Status      JobStatus `json:"status" badgerhold:"index"`

	Config JobConfig `json:"config"`

	AssignedWorker string         `json:"assignedWorker,omitempty" badgerhold:"index"`
	AssignedAt     *time.Time     `json:"assignedAt,omitempty"`
	WorkerInfo     *JobWorkerInfo `json:"workerInfo,omitempty"`
	Schedule       *JobSchedule   `json:"schedule,omitempty"`
	Execution      JobExecution   `json:"execution"`
	CancelReason   string         `json:"cancelReason,omitempty"`

	ParentID  string    `json:"parentId,omitempty" badgerhold:"index"`
	BatchID   string    `json:"batchId,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobWorkerInfo is a snapshot of the assigned worker at assignment time
type JobWorkerInfo struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// JobConfig holds one optional slice of configuration per collaborator.
// The browser executor receives Browser, the scenario generator Automation.
type JobConfig struct {
	Browser    BrowserConfig    `json:"browser"`
	Automation AutomationConfig `json:"automation"`
	Retry      RetryConfig      `json:"retry"`
	// WorkerID pins the job to one worker; assignment fails rather than falling back.
	WorkerID string `json:"workerId,omitempty"`
}

// Viewport is a browser window size
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ProxyRequirement describes the proxy a job wants and, once allocated, the proxy it got
type ProxyRequirement struct {
	Required   bool     `json:"required"`
	MinQuality int      `json:"minQuality,omitempty"`
	Countries  []string `json:"countries,omitempty"`
	ProxyID    string   `json:"proxyId,omitempty"`
	URL        string   `json:"url,omitempty"`
}

// BrowserConfig is the slice of job configuration consumed by the browser executor
type BrowserConfig struct {
	Headless    bool                `json:"headless"`
	Viewport    *Viewport           `json:"viewport,omitempty"`
	Proxy       *ProxyRequirement   `json:"proxy,omitempty"`
	UserAgent   string              `json:"userAgent,omitempty"`
	Fingerprint *FingerprintProfile `json:"fingerprint,omitempty"`
}

// AutomationConfig is the slice of job configuration consumed by the scenario generator
type AutomationConfig struct {
	UseAIScenario bool      `json:"useAIScenario"`
	Intent        string    `json:"intent,omitempty"`
	Region        string    `json:"region,omitempty"`
	Scenario      *Scenario `json:"scenario,omitempty"`
}

// RetryConfig controls manual retry backoff
type RetryConfig struct {
	MaxRetries int   `json:"maxRetries"`
	RetryDelay int64 `json:"retryDelay"` // milliseconds
}

// Delay returns the configured retry delay as a duration
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.RetryDelay) * time.Millisecond
}

// ScheduleKind distinguishes one-off from recurring schedules
type ScheduleKind string

const (
	ScheduleOnce      ScheduleKind = "once"
	ScheduleRecurring ScheduleKind = "recurring"
)

// JobSchedule describes when a scheduled or batch job becomes eligible for queuing.
// Recurring schedules use either Cron or IntervalSeconds.
type JobSchedule struct {
	Kind            ScheduleKind `json:"kind"`
	StartAt         *time.Time   `json:"startAt,omitempty"`
	EndAt           *time.Time   `json:"endAt,omitempty"`
	IntervalSeconds int          `json:"intervalSeconds,omitempty"`
	Cron            string       `json:"cron,omitempty"`
	Active          bool         `json:"active"`
	NextRunAt       *time.Time   `json:"nextRunAt,omitempty"`
	LastRunAt       *time.Time   `json:"lastRunAt,omitempty"`
	RunCount        int          `json:"runCount"`
}

// JobExecution is the execution record of a job
type JobExecution struct {
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	DurationMs  int64      `json:"durationMs"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	// DeliveredAt is set when the assigned worker has received the job
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	// NotBefore delays re-assignment after a manual retry
	NotBefore *time.Time       `json:"notBefore,omitempty"`
	Logs      []JobLogEntry    `json:"logs"`
	Results   *ExecutionResult `json:"results,omitempty"`
}

// Log levels for job log entries
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// JobLogEntry is one timestamped, leveled line of the append-only job log
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ExecutionResult is what the browser executor reports back for one run
type ExecutionResult struct {
	Success    bool               `json:"success"`
	Screenshot string             `json:"screenshot,omitempty"` // base64 PNG
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Data       json.RawMessage    `json:"data,omitempty"` // arbitrary JSON object from the executor
	Logs       []string           `json:"logs,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}

// AppendLog appends a log entry to the job's execution log
func (j *Job) AppendLog(level, message string) {
	j.Execution.Logs = append(j.Execution.Logs, JobLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}

// HasTag reports whether the job carries tag
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
