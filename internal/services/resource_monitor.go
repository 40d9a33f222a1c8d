package services

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

const defaultResourceHistory = 48

// ResourceSnapshot captures process resource usage at a point in time.
type ResourceSnapshot struct {
	Timestamp           time.Time `json:"timestamp"`
	RSSMB               float64   `json:"rss_mb"`
	CPUPercent          float64   `json:"cpu_percent"`
	SystemMemoryPercent float64   `json:"system_memory_percent"`
	Goroutines          int       `json:"goroutines"`
}

// ResourceMonitor samples memory and CPU of the current process and keeps a
// short history for the health endpoint.
type ResourceMonitor struct {
	mu          sync.RWMutex
	proc        *process.Process
	maxMemoryMB int
	history     []ResourceSnapshot
	maxHistory  int
	logger      *logrus.Logger
}

// NewResourceMonitor creates a monitor that warns when RSS exceeds
// maxMemoryMB. A non-positive limit disables the warning.
func NewResourceMonitor(maxMemoryMB int, logger *logrus.Logger) *ResourceMonitor {
	rm := &ResourceMonitor{
		maxMemoryMB: maxMemoryMB,
		maxHistory:  defaultResourceHistory,
		logger:      logger,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WithError(err).Warn("Could not attach to own process, resource sampling limited to goroutines")
	}
	rm.proc = proc
	return rm
}

// Sample reads current usage, records it and logs a warning when the memory
// limit is exceeded.
func (rm *ResourceMonitor) Sample(ctx context.Context) (ResourceSnapshot, error) {
	snap := ResourceSnapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if rm.proc != nil {
		info, err := rm.proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return snap, fmt.Errorf("failed to read process memory: %w", err)
		}
		snap.RSSMB = float64(info.RSS) / (1024 * 1024)

		cpuPct, err := rm.proc.CPUPercentWithContext(ctx)
		if err != nil {
			return snap, fmt.Errorf("failed to read process cpu: %w", err)
		}
		snap.CPUPercent = cpuPct
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.SystemMemoryPercent = vm.UsedPercent
	}

	rm.record(snap)

	if rm.OverLimit(snap) {
		rm.logger.WithFields(logrus.Fields{
			"rss_mb":        snap.RSSMB,
			"max_memory_mb": rm.maxMemoryMB,
		}).Warn("High memory usage")
	}
	return snap, nil
}

// OverLimit reports whether snap exceeds the configured memory limit.
func (rm *ResourceMonitor) OverLimit(snap ResourceSnapshot) bool {
	return rm.maxMemoryMB > 0 && snap.RSSMB > float64(rm.maxMemoryMB)
}

func (rm *ResourceMonitor) record(snap ResourceSnapshot) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.history = append(rm.history, snap)
	if len(rm.history) > rm.maxHistory {
		rm.history = rm.history[len(rm.history)-rm.maxHistory:]
	}
}

// Latest returns the most recent sample.
func (rm *ResourceMonitor) Latest() (ResourceSnapshot, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if len(rm.history) == 0 {
		return ResourceSnapshot{}, false
	}
	return rm.history[len(rm.history)-1], true
}

// History returns a copy of the retained samples, oldest first.
func (rm *ResourceMonitor) History() []ResourceSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make([]ResourceSnapshot, len(rm.history))
	copy(out, rm.history)
	return out
}
