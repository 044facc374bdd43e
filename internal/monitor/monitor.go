package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"modelhub-worker/pkg/models"
)

const bytesPerGB = 1 << 30

// SystemMonitor answers the two hardware questions the worker has:
// is there room for another artifact, and what telemetry rides along
// with worker-state announcements.
type SystemMonitor struct{}

func New() *SystemMonitor {
	return &SystemMonitor{}
}

// FreeSpaceGB returns the free space on the filesystem holding path.
func (m *SystemMonitor) FreeSpaceGB(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get disk stats for %s: %w", path, err)
	}
	return float64(usage.Free) / bytesPerGB, nil
}

// Stats gathers real-time CPU, RAM, and disk usage for telemetry.
func (m *SystemMonitor) Stats(ctx context.Context, modelsDir string) (*models.HardwareStats, error) {
	stats := &models.HardwareStats{}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMPercent = v.UsedPercent

	// A small sampling interval is more accurate than the immediate gauge.
	cpuPct, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUPercent = cpuPct[0]
	}

	if free, err := m.FreeSpaceGB(modelsDir); err == nil {
		stats.DiskFreeGB = free
	}

	return stats, nil
}
