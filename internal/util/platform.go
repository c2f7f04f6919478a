package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	CPUThreads   int      `json:"cpu_threads"`
	TotalMemory  uint64   `json:"total_memory_mb"`
	GoVersion    string   `json:"go_version"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUThreads:   runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if cores, err := cpu.Counts(false); err == nil {
		info.CPUCores = cores
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// DiskUsage returns disk usage statistics for the given path.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total_gb"`
	Used        uint64  `json:"used_gb"`
	Free        uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskUsage returns disk usage for the specified path.
func GetDiskUsage(path string) (*DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}

	return &DiskUsage{
		Path:        path,
		Total:       usage.Total / (1024 * 1024 * 1024),
		Used:        usage.Used / (1024 * 1024 * 1024),
		Free:        usage.Free / (1024 * 1024 * 1024),
		UsedPercent: usage.UsedPercent,
	}, nil
}

// GetCPUUsage returns the current CPU usage percentage.
func GetCPUUsage() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) > 0 {
		return percentages[0], nil
	}
	return 0, nil
}

// MemoryUsage describes system memory.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetMemoryUsage returns current system memory usage.
func GetMemoryUsage() (*MemoryUsage, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryUsage{
		Total:       memInfo.Total / (1024 * 1024),
		Used:        memInfo.Used / (1024 * 1024),
		Available:   memInfo.Available / (1024 * 1024),
		UsedPercent: memInfo.UsedPercent,
	}, nil
}

// ProcessUsage describes this process's own resource use.
type ProcessUsage struct {
	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

var processStart = time.Now()

// GetProcessUsage returns resource usage of the running process.
func GetProcessUsage() (*ProcessUsage, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect process %d: %w", pid, err)
	}

	usage := &ProcessUsage{
		PID:        pid,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(processStart).Truncate(time.Second).String(),
	}
	if memInfo, err := p.MemoryInfo(); err == nil {
		usage.RSS = memInfo.RSS / (1024 * 1024)
	}
	if pct, err := p.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	return usage, nil
}

// HostStats bundles the live resource figures shown by the API and the
// console.
type HostStats struct {
	CPUPercent float64       `json:"cpu_percent"`
	Memory     *MemoryUsage  `json:"memory,omitempty"`
	Disk       *DiskUsage    `json:"disk,omitempty"`
	Process    *ProcessUsage `json:"process,omitempty"`
}

// CollectHostStats gathers HostStats, measuring disk usage at diskPath.
// Individual probes that fail are left empty.
func CollectHostStats(diskPath string) HostStats {
	var stats HostStats
	if pct, err := GetCPUUsage(); err == nil {
		stats.CPUPercent = pct
	}
	if m, err := GetMemoryUsage(); err == nil {
		stats.Memory = m
	}
	if diskPath != "" {
		if d, err := GetDiskUsage(diskPath); err == nil {
			stats.Disk = d
		}
	}
	if p, err := GetProcessUsage(); err == nil {
		stats.Process = p
	}
	return stats
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
