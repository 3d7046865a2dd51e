package worker

import (
	psprocess "github.com/shirou/gopsutil/v4/process"

	"murmur/internal/services"
)

// ProcessStats is a resource snapshot of the worker process.
type ProcessStats struct {
	PID        int
	RSSBytes   uint64
	CPUPercent float64
	Threads    int32
}

// Stats samples the live worker's resource usage.
func (s *Supervisor) Stats() (ProcessStats, error) {
	pid := s.PID()
	if pid == 0 {
		return ProcessStats{}, services.Wrap(services.ErrNotStarted, component, "stats", "no worker process", nil)
	}
	proc, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return ProcessStats{}, services.Wrap(services.ErrExternalTool, component, "stats", "inspect process", err)
	}
	stats := ProcessStats{PID: pid}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats.Threads = threads
	}
	return stats, nil
}
