package models

import (
	"encoding/json"
	"time"
)

// WorkerStatus is the derived or self-reported status of a worker
type WorkerStatus string

const (
	WorkerStatusOnline      WorkerStatus = "online"
	WorkerStatusOffline     WorkerStatus = "offline"
	WorkerStatusBusy        WorkerStatus = "busy"
	WorkerStatusMaintenance WorkerStatus = "maintenance"
	WorkerStatusError       WorkerStatus = "error"
)

// IsValid reports whether s is a known worker status
func (s WorkerStatus) IsValid() bool {
	switch s {
	case WorkerStatusOnline, WorkerStatusOffline, WorkerStatusBusy,
		WorkerStatusMaintenance, WorkerStatusError:
		return true
	}
	return false
}

// WorkerType is the hosting class of a worker
type WorkerType string

const (
	WorkerTypeStandalone WorkerType = "standalone"
	WorkerTypeVPS        WorkerType = "vps"
	WorkerTypeCloud      WorkerType = "cloud"
)

// IsValid reports whether t is a known worker type
func (t WorkerType) IsValid() bool {
	return t == WorkerTypeStandalone || t == WorkerTypeVPS || t == WorkerTypeCloud
}

// Worker is the durable definition of a registered worker plus its rolling
// resource counters. Liveness (last seen, reported metrics, scores) is held
// in memory by the registry and merged in by WorkerView.
type Worker struct {
	ID            string              `json:"id" badgerhold:"key"`
	Name          string              `json:"name"`
	Type          WorkerType          `json:"type" badgerhold:"index"`
	Connection    WorkerConnection    `json:"connection"`
	Capabilities  WorkerCapabilities  `json:"capabilities"`
	Configuration WorkerConfiguration `json:"configuration"`
	Resources     WorkerResources     `json:"resources"`

	// AdminStatus is set by an operator: maintenance, or empty for normal operation
	AdminStatus  WorkerStatus `json:"adminStatus,omitempty"`
	APIKeyHash   string       `json:"-" badgerhold:"index"`
	RegisteredAt time.Time    `json:"registeredAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// WorkerConnection describes how the master can reach a worker
type WorkerConnection struct {
	IP                string `json:"ip"`
	Port              int    `json:"port"`
	HeartbeatInterval int    `json:"heartbeatInterval"` // seconds
}

// WorkerCapabilities is what the worker can run
type WorkerCapabilities struct {
	MaxConcurrentJobs int      `json:"maxConcurrentJobs"`
	Browsers          []string `json:"browsers,omitempty"`
	MemoryMB          int      `json:"memoryMB,omitempty"`
	CPUCores          int      `json:"cpuCores,omitempty"`
	StorageGB         int      `json:"storageGB,omitempty"`
	Features          []string `json:"features,omitempty"`
}

// PriorityFilter is the inclusive priority range a worker accepts
type PriorityFilter struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Accepts reports whether priority p falls within the filter
func (f PriorityFilter) Accepts(p int) bool {
	return p >= f.Min && p <= f.Max
}

// WorkerConfiguration holds per-worker tunables
type WorkerConfiguration struct {
	PriorityFilter PriorityFilter `json:"priorityFilter"`
	AutoAccept     bool           `json:"autoAccept"`
	MaxJobDuration int            `json:"maxJobDuration"` // seconds, 0 = master default
	ProxyRotation  bool           `json:"proxyRotation"`
}

// WorkerResources are rolling counters maintained by the master.
// CurrentJobs is authoritative; it is rebuilt from running jobs on start.
type WorkerResources struct {
	CurrentJobs        int     `json:"currentJobs"`
	TotalJobsProcessed int     `json:"totalJobsProcessed"`
	SuccessRate        float64 `json:"successRate"`        // 0..1
	AverageJobDuration float64 `json:"averageJobDuration"` // ms
}

// WorkerMetrics is the host telemetry reported by a worker
type WorkerMetrics struct {
	CPUUsage    float64 `json:"cpuUsage"`    // percent
	MemoryUsage float64 `json:"memoryUsage"` // percent
	DiskUsage   float64 `json:"diskUsage"`   // percent
	NetworkIn   float64 `json:"networkIn"`   // bytes/s
	NetworkOut  float64 `json:"networkOut"`  // bytes/s
}

// WorkerLiveness is the ephemeral heartbeat-derived state of a worker
type WorkerLiveness struct {
	LastSeen        time.Time     `json:"lastSeen"`
	ReportedStatus  WorkerStatus  `json:"reportedStatus,omitempty"`
	ReportedCurrent int           `json:"reportedCurrentJobs"`
	ReportedTotal   int           `json:"reportedTotalJobs"`
	Metrics         WorkerMetrics `json:"metrics"`
	HealthScore     float64       `json:"healthScore"`
	EfficiencyScore float64       `json:"efficiencyScore"`
}

// WorkerView is a worker as returned by the API: durable record, liveness
// and the derived status at read time.
type WorkerView struct {
	Worker
	Status   WorkerStatus    `json:"status"`
	Liveness *WorkerLiveness `json:"liveness,omitempty"`
}

// HeartbeatReport is what a worker sends on each heartbeat
type HeartbeatReport struct {
	Status        WorkerStatus  `json:"status"`
	CurrentJobs   int           `json:"currentJobs"`
	TotalJobs     int           `json:"totalJobs"`
	Metrics       WorkerMetrics `json:"metrics"`
	RunningJobIDs []string      `json:"runningJobIds,omitempty"`
}

// HeartbeatInstructions tell the worker how to behave until the next heartbeat
type HeartbeatInstructions struct {
	PollInterval      int      `json:"pollInterval"`      // seconds
	HeartbeatInterval int      `json:"heartbeatInterval"` // seconds
	MaxConcurrentJobs int      `json:"maxConcurrentJobs"`
	AbortJobs         []string `json:"abortJobs,omitempty"`
}

// FleetStats is a point-in-time summary of the worker pool
type FleetStats struct {
	TotalWorkers    int `json:"totalWorkers"`
	OnlineWorkers   int `json:"onlineWorkers"`
	BusyWorkers     int `json:"busyWorkers"`
	TotalActiveJobs int `json:"totalActiveJobs"`
}

// HeartbeatCalculated carries the scores the master derived from the report
type HeartbeatCalculated struct {
	HealthScore     float64      `json:"healthScore"`
	EfficiencyScore float64      `json:"efficiencyScore"`
	Status          WorkerStatus `json:"status"`
}

// HeartbeatResponse is returned to the worker for every heartbeat
type HeartbeatResponse struct {
	Instructions HeartbeatInstructions `json:"instructions"`
	Stats        FleetStats            `json:"stats"`
	Calculated   HeartbeatCalculated   `json:"calculated"`
}

// WorkerRegistration is the input to worker registration
type WorkerRegistration struct {
	Name          string              `json:"name" validate:"required"`
	Type          WorkerType          `json:"type"`
	Connection    WorkerConnection    `json:"connection"`
	Capabilities  WorkerCapabilities  `json:"capabilities"`
	Configuration WorkerConfiguration `json:"configuration"`
}

// UnmarshalJSON accepts the nested form above and the flat form a worker
// agent posts: {name, ip, port, maxConcurrentJobs, memory, cpu, storage},
// with memory in MB and storage in GB. Nested values win over flat ones.
func (r *WorkerRegistration) UnmarshalJSON(data []byte) error {
	type nested WorkerRegistration
	var body struct {
		nested
		IP                string   `json:"ip"`
		Port              int      `json:"port"`
		MaxConcurrentJobs int      `json:"maxConcurrentJobs"`
		Memory            int      `json:"memory"`
		CPU               int      `json:"cpu"`
		Storage           int      `json:"storage"`
		Browsers          []string `json:"browsers"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	*r = WorkerRegistration(body.nested)
	if r.Connection.IP == "" {
		r.Connection.IP = body.IP
	}
	if r.Connection.Port == 0 {
		r.Connection.Port = body.Port
	}
	caps := &r.Capabilities
	if caps.MaxConcurrentJobs == 0 {
		caps.MaxConcurrentJobs = body.MaxConcurrentJobs
	}
	if caps.MemoryMB == 0 {
		caps.MemoryMB = body.Memory
	}
	if caps.CPUCores == 0 {
		caps.CPUCores = body.CPU
	}
	if caps.StorageGB == 0 {
		caps.StorageGB = body.Storage
	}
	if len(caps.Browsers) == 0 {
		caps.Browsers = body.Browsers
	}
	return nil
}

// WorkerUpdate is a partial worker update; nil fields are left unchanged
type WorkerUpdate struct {
	Name              *string              `json:"name,omitempty"`
	Status            *WorkerStatus        `json:"status,omitempty"`
	MaxConcurrentJobs *int                 `json:"maxConcurrentJobs,omitempty"`
	Configuration     *WorkerConfiguration `json:"configuration,omitempty"`
}

// JobOutcome is the result of one job as seen by the worker accounting
type JobOutcome struct {
	Success    bool
	DurationMs int64
}
