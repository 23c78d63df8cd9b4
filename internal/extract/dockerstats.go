package extract

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

type dockerStatsLine struct {
	Name            string  `json:"name"`
	CPUPerc         float64 `json:"cpu_perc"`
	MemUsageBytes   float64 `json:"mem_usage_bytes"`
	BlockReadBytes  float64 `json:"block_read_bytes"`
	BlockWriteBytes float64 `json:"block_write_bytes"`
	NetRxBytes      float64 `json:"net_rx_bytes"`
	NetTxBytes      float64 `json:"net_tx_bytes"`
}

// parseDockerStats folds the docker-stats monitor's JSON lines into run
// averages and totals. CPU and memory are averaged over all samples; the IO
// and network counters are cumulative per container, so the per-container
// maximum is summed.
func parseDockerStats(content []byte) ([]MetricRecord, error) {
	var (
		samples   int
		cpuSum    float64
		cpuMax    float64
		memSum    float64
		memMax    float64
		blockRead = make(map[string]float64)
		blockWrit = make(map[string]float64)
		netRx     = make(map[string]float64)
		netTx     = make(map[string]float64)
	)

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry dockerStatsLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		samples++
		cpuSum += entry.CPUPerc
		if entry.CPUPerc > cpuMax {
			cpuMax = entry.CPUPerc
		}
		memSum += entry.MemUsageBytes
		if entry.MemUsageBytes > memMax {
			memMax = entry.MemUsageBytes
		}

		if entry.BlockReadBytes > blockRead[entry.Name] {
			blockRead[entry.Name] = entry.BlockReadBytes
		}
		if entry.BlockWriteBytes > blockWrit[entry.Name] {
			blockWrit[entry.Name] = entry.BlockWriteBytes
		}
		if entry.NetRxBytes > netRx[entry.Name] {
			netRx[entry.Name] = entry.NetRxBytes
		}
		if entry.NetTxBytes > netTx[entry.Name] {
			netTx[entry.Name] = entry.NetTxBytes
		}
	}

	if samples == 0 {
		return nil, fmt.Errorf("no docker stats samples")
	}

	sum := func(m map[string]float64) float64 {
		var total float64
		for _, v := range m {
			total += v
		}
		return total
	}

	n := float64(samples)
	return []MetricRecord{
		record("cpu_perc_avg", cpuSum/n, "%"),
		record("cpu_perc_max", cpuMax, "%"),
		record("mem_usage_bytes_avg", memSum/n, "B"),
		record("mem_usage_bytes_max", memMax, "B"),
		record("block_read_bytes", sum(blockRead), "B"),
		record("block_write_bytes", sum(blockWrit), "B"),
		record("net_rx_bytes", sum(netRx), "B"),
		record("net_tx_bytes", sum(netTx), "B"),
	}, nil
}
