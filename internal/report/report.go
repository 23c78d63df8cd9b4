// Package report builds the aggregated campaign report from the raw artifact
// tree. Aggregation is driven by the configured plan, not by what happens to
// exist on disk, so every planned (filesystem, workload, iteration) tuple is
// accounted for in the output.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"storage-bench/internal/campaign"
	"storage-bench/internal/config"
	"storage-bench/internal/extract"
	"storage-bench/internal/host"
	"storage-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// Metadata identifies a campaign and the machine it ran on.
type Metadata struct {
	CampaignID  string    `json:"campaign_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Host        host.Info `json:"host"`
}

// AggregatedReport is the single-document summary of a campaign.
type AggregatedReport struct {
	Metadata Metadata               `json:"metadata"`
	Records  []extract.MetricRecord `json:"records"`
}

// runSummary mirrors the run.json artifact written after each iteration.
type runSummary struct {
	State    campaign.State `json:"state"`
	ExitCode int            `json:"exit_code"`
	Error    string         `json:"error,omitempty"`
}

// Aggregate walks every planned tuple of the campaign and extracts its
// artifacts. Tuples that never ran produce missing-status placeholders;
// failed runs produce failed-status placeholders. Aggregation itself never
// fails on a bad artifact, only on a broken plan.
func Aggregate(cfg *config.CampaignConfig, resultsDir string) ([]extract.MetricRecord, error) {
	logger := logging.GetLogger()

	var records []extract.MetricRecord
	for _, fs := range cfg.Filesystems {
		for _, ws := range cfg.Workloads {
			for i := 1; i <= ws.Iterations; i++ {
				records = append(records, aggregateRun(logger, cfg, fs, ws, i, resultsDir)...)
			}
		}
	}
	return records, nil
}

func aggregateRun(logger *logrus.Logger, cfg *config.CampaignConfig, fs config.FilesystemSpec, ws config.WorkloadSpec, iteration int, resultsDir string) []extract.MetricRecord {
	runDir := campaign.RunDir(resultsDir, ws.Name, fs.Name, iteration)

	summary, err := readRunSummary(runDir)
	if err != nil {
		// The phase never reached this tuple
		return []extract.MetricRecord{placeholder(fs, ws, iteration, ws.Tool, extract.StatusMissing)}
	}

	if summary.State != campaign.StateDone {
		return []extract.MetricRecord{placeholder(fs, ws, iteration, ws.Tool, extract.StatusFailed)}
	}

	var records []extract.MetricRecord

	stamp := func(recs []extract.MetricRecord) {
		for i := range recs {
			recs[i].Filesystem = fs.Name
			recs[i].Workload = ws.Name
			recs[i].Iteration = iteration
		}
		records = append(records, recs...)
	}

	resultPath := filepath.Join(runDir, ws.WorkloadResultFile())
	recs, err := extract.Extract(ws.Tool, resultPath)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"filesystem": fs.Name,
			"workload":   ws.Name,
			"iteration":  iteration,
		}).WithError(err).Warn("Failed to extract workload result")
		records = append(records, placeholder(fs, ws, iteration, ws.Tool, extract.StatusMissing))
	} else {
		stamp(recs)
	}

	for _, m := range cfg.Monitors {
		tool := monitorTool(m)
		if tool == "" {
			continue
		}
		recs, err := extract.Extract(tool, filepath.Join(runDir, m.OutputFile))
		if err != nil {
			logger.WithFields(logrus.Fields{
				"filesystem": fs.Name,
				"workload":   ws.Name,
				"iteration":  iteration,
				"monitor":    m.Name,
			}).WithError(err).Warn("Failed to extract monitor output")
			records = append(records, placeholder(fs, ws, iteration, tool, extract.StatusMissing))
			continue
		}
		stamp(recs)
	}

	return records
}

// monitorTool maps a monitor to its extractor. Command monitors without an
// extractor keep their raw artifact but contribute no records.
func monitorTool(m config.MonitorSpec) string {
	if m.Kind == config.MonitorKindDockerStats {
		return "docker-stats"
	}
	if extract.Supported(m.Name) {
		return m.Name
	}
	return ""
}

func placeholder(fs config.FilesystemSpec, ws config.WorkloadSpec, iteration int, tool, status string) extract.MetricRecord {
	return extract.MetricRecord{
		Tool:       tool,
		Filesystem: fs.Name,
		Workload:   ws.Name,
		Iteration:  iteration,
		Name:       "run",
		Status:     status,
	}
}

func readRunSummary(runDir string) (runSummary, error) {
	var summary runSummary
	data, err := os.ReadFile(filepath.Join(runDir, "run.json"))
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("parse run summary: %w", err)
	}
	return summary, nil
}

// Write serializes the report into the results directory, alongside a copy of
// the exact configuration the campaign ran with.
func Write(rep *AggregatedReport, resultsDir, configSnapshot string) (string, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(resultsDir, "report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	if configSnapshot != "" {
		snapPath := filepath.Join(resultsDir, "campaign_config.yaml")
		if err := os.WriteFile(snapPath, []byte(configSnapshot), 0o644); err != nil {
			return "", err
		}
	}

	return path, nil
}
