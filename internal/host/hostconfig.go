// Package host collects static information about the benchmark host. The
// info is gathered once at startup and stamped into every report so results
// from different machines stay comparable.
package host

import (
	"bufio"
	"os"
	"runtime"
	"strings"
	"sync"
)

// Info describes the machine a campaign ran on.
type Info struct {
	Hostname      string `json:"hostname"`
	OSInfo        string `json:"os_info"`
	KernelVersion string `json:"kernel_version"`
	CPUVendor     string `json:"cpu_vendor"`
	CPUModel      string `json:"cpu_model"`
	CPUCores      int    `json:"cpu_cores"`
}

var (
	globalInfo Info
	infoOnce   sync.Once
)

// GetInfo returns the host information, collecting it on first call.
func GetInfo() Info {
	infoOnce.Do(func() {
		globalInfo = collect()
	})
	return globalInfo
}

func collect() Info {
	info := Info{
		OSInfo:   runtime.GOOS + "/" + runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	info.Hostname = hostname

	if data, err := os.ReadFile("/proc/version"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 3 {
			info.KernelVersion = fields[2]
		}
	}
	if info.KernelVersion == "" {
		info.KernelVersion = "unknown"
	}

	info.CPUVendor, info.CPUModel = readCPUInfo()
	return info
}

func readCPUInfo() (vendor, model string) {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "unknown", "unknown"
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if vendor == "" && strings.HasPrefix(line, "vendor_id") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				vendor = strings.TrimSpace(parts[1])
			}
		} else if model == "" && strings.HasPrefix(line, "model name") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				model = strings.TrimSpace(parts[1])
			}
		}
		if vendor != "" && model != "" {
			break
		}
	}

	if vendor == "" {
		vendor = "unknown"
	}
	if model == "" {
		model = "unknown"
	}
	return vendor, model
}
