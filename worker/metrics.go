package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"` // Workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`  // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"` // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsProcessed int     `json:"jobs_processed"` // Jobs claimed since the pool started
}

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count based on available
// memory. Chart rendering spawns a headless browser per concurrent job,
// roughly 1.5GB each.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerRenderWorker = 1.5 // GB per concurrent headless render
	const memoryBuffer = 1.0          // GB reserved for the process itself

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerRenderWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16
	}
	return recommended
}

// GetSystemMetrics returns current pool and system resource usage.
func (p *Pool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	p.mu.Lock()
	active := p.activeWorkers
	processed := p.jobsProcessed
	p.mu.Unlock()

	return SystemMetrics{
		WorkersActive: active,
		WorkersTotal:  p.config.Workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsProcessed: processed,
	}
}

// checkMemoryPressure validates the configured worker count against
// available memory. Returns a warning message, or empty string if OK.
func (p *Pool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if p.config.Workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent render memory pressure.",
			p.config.Workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}
