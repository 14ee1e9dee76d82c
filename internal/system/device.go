package system

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
)

// Device describes the machine the agent manages installs for
type Device struct {
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	OSVersion string `json:"osVersion"`
	Kernel    string `json:"kernel"`
}

// GetDevice reads device facts from the host
func GetDevice(ctx context.Context) (*Device, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host info: %w", err)
	}

	return &Device{
		Hostname:  info.Hostname,
		Platform:  info.Platform,
		OSVersion: osVersionFromInfo(info),
		Kernel:    info.KernelVersion,
	}, nil
}

// OSVersion returns the version used for catalog OS bounds. A non-empty override wins.
func OSVersion(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	device, err := GetDevice(ctx)
	if err != nil {
		return "", err
	}
	if device.OSVersion == "" {
		return "", fmt.Errorf("host reports no OS version")
	}
	return device.OSVersion, nil
}

// Containers often report no platform version; the kernel version is the next best bound
func osVersionFromInfo(info *host.InfoStat) string {
	if info.PlatformVersion != "" {
		return info.PlatformVersion
	}
	return info.KernelVersion
}
