package registry

import (
	"time"

	"github.com/ternarybob/drover/internal/models"
)

// HealthScore rates a worker 0-100 from its reported load and track record.
// The success rate penalty only applies once the worker has processed a job.
func HealthScore(status models.WorkerStatus, metrics models.WorkerMetrics, resources models.WorkerResources) float64 {
	if status == models.WorkerStatusOffline {
		return 0
	}

	score := 100.0
	if metrics.CPUUsage > 80 {
		score -= 2 * (metrics.CPUUsage - 80)
	}
	if metrics.MemoryUsage > 85 {
		score -= 1.5 * (metrics.MemoryUsage - 85)
	}
	if resources.TotalJobsProcessed > 0 {
		if pct := resources.SuccessRate * 100; pct < 95 {
			score -= 95 - pct
		}
	}
	if status == models.WorkerStatusOnline {
		score += 5
	}

	return clamp(score, 0, 100)
}

// EfficiencyScore is the average of load percentage and success percentage
func EfficiencyScore(resources models.WorkerResources, maxJobs int) float64 {
	load := 0.0
	if maxJobs > 0 {
		load = float64(resources.CurrentJobs) / float64(maxJobs) * 100
	}
	return clamp((load+resources.SuccessRate*100)/2, 0, 100)
}

// DeriveStatus computes the effective status of a worker at now.
// Staleness wins over everything; an operator or self-reported
// maintenance/error state wins over load.
func DeriveStatus(worker *models.Worker, live *models.WorkerLiveness, now time.Time, staleAfter time.Duration) models.WorkerStatus {
	if live == nil || live.LastSeen.IsZero() || now.Sub(live.LastSeen) > staleAfter {
		return models.WorkerStatusOffline
	}
	if worker.AdminStatus == models.WorkerStatusMaintenance {
		return models.WorkerStatusMaintenance
	}
	switch live.ReportedStatus {
	case models.WorkerStatusMaintenance, models.WorkerStatusError:
		return live.ReportedStatus
	}
	if worker.Resources.CurrentJobs >= worker.Capabilities.MaxConcurrentJobs {
		return models.WorkerStatusBusy
	}
	return models.WorkerStatusOnline
}

// applyOutcome folds one finished job into the rolling counters
func applyOutcome(r *models.WorkerResources, outcome models.JobOutcome) {
	n := float64(r.TotalJobsProcessed)
	s := 0.0
	if outcome.Success {
		s = 1
	}
	r.SuccessRate = (r.SuccessRate*n + s) / (n + 1)
	r.AverageJobDuration = (r.AverageJobDuration*n + float64(outcome.DurationMs)) / (n + 1)
	r.TotalJobsProcessed++
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
