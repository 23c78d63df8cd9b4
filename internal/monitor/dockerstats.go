package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"golang.org/x/time/rate"
)

// statsSample is one docker-stats observation, written as a JSON line.
// Values are normalized to bytes so the extractor does not re-parse
// human-readable sizes.
type statsSample struct {
	Time            time.Time `json:"time"`
	Name            string    `json:"name"`
	CPUPerc         float64   `json:"cpu_perc"`
	MemUsageBytes   uint64    `json:"mem_usage_bytes"`
	MemLimitBytes   uint64    `json:"mem_limit_bytes"`
	BlockReadBytes  uint64    `json:"block_read_bytes"`
	BlockWriteBytes uint64    `json:"block_write_bytes"`
	NetRxBytes      uint64    `json:"net_rx_bytes"`
	NetTxBytes      uint64    `json:"net_tx_bytes"`
}

// statsMonitor samples container stats from the Docker API for every running
// container, at the configured interval, and appends JSON lines to the
// output file. Containers are discovered per sample since the workload
// containers start after monitoring begins.
type statsMonitor struct {
	spec       config.MonitorSpec
	docker     *client.Client
	outputPath string
	outFile    *os.File
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
}

func newStatsMonitor(docker *client.Client, spec config.MonitorSpec) *statsMonitor {
	return &statsMonitor{spec: spec, docker: docker}
}

func (m *statsMonitor) Name() string {
	return m.spec.Name
}

func (m *statsMonitor) OutputPath() string {
	return m.outputPath
}

func (m *statsMonitor) Start(ctx context.Context, outDir string) error {
	if m.docker == nil {
		return fmt.Errorf("docker client not available")
	}

	m.outputPath = filepath.Join(outDir, m.spec.OutputFile)
	f, err := os.Create(m.outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	m.outFile = f

	sampleCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.sampleLoop(sampleCtx)
	return nil
}

func (m *statsMonitor) sampleLoop(ctx context.Context) {
	defer close(m.done)

	limiter := rate.NewLimiter(rate.Every(m.spec.Interval()), 1)
	enc := json.NewEncoder(m.outFile)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		m.sampleOnce(ctx, enc)
	}
}

func (m *statsMonitor) sampleOnce(ctx context.Context, enc *json.Encoder) {
	logger := logging.GetLogger()

	containers, err := m.docker.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		logger.WithError(err).Debug("docker-stats monitor: container list failed")
		return
	}

	now := time.Now()
	for _, c := range containers {
		stats, err := m.docker.ContainerStats(ctx, c.ID, false)
		if err != nil {
			continue
		}

		var v types.StatsJSON
		decodeErr := json.NewDecoder(stats.Body).Decode(&v)
		stats.Body.Close()
		if decodeErr != nil {
			continue
		}

		sample := buildSample(now, &v)
		m.mu.Lock()
		if err := enc.Encode(sample); err != nil {
			logger.WithError(err).Debug("docker-stats monitor: write failed")
		}
		m.mu.Unlock()
	}
}

func buildSample(now time.Time, v *types.StatsJSON) statsSample {
	sample := statsSample{
		Time:          now,
		Name:          v.Name,
		MemUsageBytes: v.MemoryStats.Usage,
		MemLimitBytes: v.MemoryStats.Limit,
	}

	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if sysDelta > 0 && cpuDelta >= 0 {
		cpus := float64(v.CPUStats.OnlineCPUs)
		if cpus == 0 {
			cpus = float64(len(v.CPUStats.CPUUsage.PercpuUsage))
		}
		if cpus > 0 {
			sample.CPUPerc = cpuDelta / sysDelta * cpus * 100.0
		}
	}

	for _, entry := range v.BlkioStats.IoServiceBytesRecursive {
		switch entry.Op {
		case "read", "Read":
			sample.BlockReadBytes += entry.Value
		case "write", "Write":
			sample.BlockWriteBytes += entry.Value
		}
	}

	for _, net := range v.Networks {
		sample.NetRxBytes += net.RxBytes
		sample.NetTxBytes += net.TxBytes
	}

	return sample
}

func (m *statsMonitor) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()

	select {
	case <-m.done:
	case <-time.After(10 * time.Second):
		m.outFile.Close()
		return fmt.Errorf("%s sampler did not drain: %w", m.spec.Name, ErrMonitorLeak)
	}

	m.cancel = nil
	return m.outFile.Close()
}
