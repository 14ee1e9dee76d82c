package system

import (
	"context"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSVersion_Override(t *testing.T) {
	v, err := OSVersion(context.Background(), "17.4")
	require.NoError(t, err)
	assert.Equal(t, "17.4", v)
}

func TestOSVersionFromInfo(t *testing.T) {
	assert.Equal(t, "24.04", osVersionFromInfo(&host.InfoStat{PlatformVersion: "24.04", KernelVersion: "6.8.0"}))
	assert.Equal(t, "6.8.0", osVersionFromInfo(&host.InfoStat{KernelVersion: "6.8.0"}))
}

func TestGetStats_OnDemand(t *testing.T) {
	stats := GetStats(context.Background())
	require.NotNil(t, stats)

	for _, v := range []int{stats.CPU, stats.Memory, stats.Disk} {
		assert.GreaterOrEqual(t, v, 0)
		assert.LessOrEqual(t, v, 100)
	}
}

func TestGetStats_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := GetStats(ctx)
	require.NotNil(t, stats)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(-3))
	assert.Equal(t, 43, percent(42.6))
	assert.Equal(t, 100, percent(130))
}
