package extract

import (
	"encoding/json"
	"fmt"
)

type iostatOutput struct {
	Sysstat struct {
		Hosts []struct {
			Statistics []iostatSample `json:"statistics"`
		} `json:"hosts"`
	} `json:"sysstat"`
}

type iostatSample struct {
	AvgCPU struct {
		User   float64 `json:"user"`
		System float64 `json:"system"`
		Iowait float64 `json:"iowait"`
		Idle   float64 `json:"idle"`
	} `json:"avg-cpu"`
	Disk []map[string]any `json:"disk"`
}

// parseIostat reads `iostat -o JSON` output and folds the sample series into
// campaign-level averages: CPU usage plus per-device throughput.
func parseIostat(content []byte) ([]MetricRecord, error) {
	var out iostatOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("invalid iostat JSON: %w", err)
	}
	if len(out.Sysstat.Hosts) == 0 {
		return nil, fmt.Errorf("no hosts in iostat output")
	}

	samples := out.Sysstat.Hosts[0].Statistics
	if len(samples) == 0 {
		return nil, fmt.Errorf("no statistics in iostat output")
	}

	var cpuUser, cpuSystem, cpuIowait, cpuIdle float64
	deviceSums := make(map[string]map[string]float64)
	deviceCounts := make(map[string]int)

	for _, sample := range samples {
		cpuUser += sample.AvgCPU.User
		cpuSystem += sample.AvgCPU.System
		cpuIowait += sample.AvgCPU.Iowait
		cpuIdle += sample.AvgCPU.Idle

		for _, disk := range sample.Disk {
			name, _ := disk["disk_device"].(string)
			if name == "" {
				continue
			}
			if deviceSums[name] == nil {
				deviceSums[name] = make(map[string]float64)
			}
			for _, field := range []string{"tps", "kB_read/s", "kB_wrtn/s"} {
				if v, ok := disk[field].(float64); ok {
					deviceSums[name][field] += v
				}
			}
			deviceCounts[name]++
		}
	}

	n := float64(len(samples))
	records := []MetricRecord{
		record("cpu_user_avg", cpuUser/n, "%"),
		record("cpu_system_avg", cpuSystem/n, "%"),
		record("cpu_iowait_avg", cpuIowait/n, "%"),
		record("cpu_idle_avg", cpuIdle/n, "%"),
	}

	for name, sums := range deviceSums {
		count := float64(deviceCounts[name])
		records = append(records,
			record(name+"_tps_avg", sums["tps"]/count, "transfers/s"),
			record(name+"_kb_read_s_avg", sums["kB_read/s"]/count, "kB/s"),
			record(name+"_kb_wrtn_s_avg", sums["kB_wrtn/s"]/count, "kB/s"),
		)
	}

	return records, nil
}
