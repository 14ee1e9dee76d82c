package system

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats represents system resource usage (percentages as integers)
type Stats struct {
	CPU    int `json:"cpu"`
	Memory int `json:"memory"`
	Disk   int `json:"disk"`
}

// GetStats samples system resource usage. Readings that fail are left at zero.
func GetStats(ctx context.Context) *Stats {
	stats := &Stats{}

	// Zero interval compares against the previous call instead of sleeping
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(cpuPercent) > 0 {
		stats.CPU = percent(cpuPercent[0])
	}

	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		stats.Memory = percent(memStats.UsedPercent)
	}

	// Downloads land on the root partition
	diskStats, err := disk.UsageWithContext(ctx, "/")
	if err == nil {
		stats.Disk = percent(diskStats.UsedPercent)
	}

	return stats
}

func percent(f float64) int {
	return int(math.Round(math.Max(0, math.Min(100, f))))
}
