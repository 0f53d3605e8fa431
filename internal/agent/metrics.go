package agent

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/ternarybob/drover/internal/models"
)

const cpuSampleName = "/cpu/classes/total:cpu-seconds"

var cpuSampler = struct {
	sync.Mutex
	lastCPU  float64
	lastWall time.Time
}{}

// collectMetrics reports process-level usage. Memory is a share of
// memoryMB when the worker declared it, otherwise of memory obtained from
// the OS. Disk and network are not measured.
func collectMetrics(memoryMB int) models.WorkerMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var memoryUsage float64
	if memoryMB > 0 {
		memoryUsage = float64(mem.Sys) / float64(memoryMB*1024*1024) * 100
	} else if mem.Sys > 0 {
		memoryUsage = float64(mem.HeapInuse) / float64(mem.Sys) * 100
	}

	return models.WorkerMetrics{
		CPUUsage:    clampPercent(sampleCPU()),
		MemoryUsage: clampPercent(memoryUsage),
	}
}

// sampleCPU returns the process CPU share since the previous sample
func sampleCPU() float64 {
	sample := []metrics.Sample{{Name: cpuSampleName}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	cpu := sample[0].Value.Float64()
	now := time.Now()

	cpuSampler.Lock()
	defer cpuSampler.Unlock()

	var usage float64
	if !cpuSampler.lastWall.IsZero() {
		wall := now.Sub(cpuSampler.lastWall).Seconds() * float64(runtime.NumCPU())
		if wall > 0 {
			usage = (cpu - cpuSampler.lastCPU) / wall * 100
		}
	}
	cpuSampler.lastCPU = cpu
	cpuSampler.lastWall = now
	return usage
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
