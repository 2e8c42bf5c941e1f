package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemSampler periodically reads process CPU/memory usage and feeds it
// into a Metrics instance, so operators can watch a driftnet server's
// resource footprint alongside its protocol-level counters.
type SystemSampler struct {
	metrics *Metrics

	mu          sync.RWMutex
	cpuPercent  float64
	memoryStats runtime.MemStats
}

// NewSystemSampler creates a sampler reporting into m.
func NewSystemSampler(m *Metrics) *SystemSampler {
	return &SystemSampler{metrics: m}
}

// Sample takes one CPU/memory reading and publishes it to Metrics. Intended
// to be called on a ticker (see Config.MetricsInterval).
func (s *SystemSampler) Sample() {
	s.updateMemory()
	s.updateCPU()
	s.metrics.UpdateGoroutinesCount(runtime.NumGoroutine())
}

func (s *SystemSampler) updateMemory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	runtime.ReadMemStats(&s.memoryStats)
	s.metrics.UpdateMemoryUsage(s.memoryStats.HeapAlloc)
}

func (s *SystemSampler) updateCPU() {
	percents, err := cpu.Percent(time.Second, false)
	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cpuPercent == 0 {
		s.cpuPercent = current
	} else {
		const alpha = 0.3
		s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
	}
	s.metrics.UpdateCPUUsage(s.cpuPercent)
}

// CPUPercent returns the last smoothed CPU usage reading.
func (s *SystemSampler) CPUPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPercent
}

// HeapAllocMB returns the last sampled heap allocation in megabytes.
func (s *SystemSampler) HeapAllocMB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return float64(s.memoryStats.HeapAlloc) / 1024 / 1024
}
