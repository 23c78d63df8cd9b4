package cmd

import (
	"fmt"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/host"
	"storage-bench/internal/logging"
	"storage-bench/internal/report"

	"github.com/google/uuid"
)

// aggregateResults rebuilds the report from an existing results tree, for
// re-running extraction after fixing a parser or for trees produced on
// another host.
func aggregateResults(configFile, resultsDir string) error {
	logger := logging.GetLogger()

	cfg, configContent, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if resultsDir == "" {
		resultsDir = cfg.Campaign.ResultsDir
	}

	records, err := report.Aggregate(cfg, resultsDir)
	if err != nil {
		return fmt.Errorf("failed to aggregate results: %w", err)
	}

	now := time.Now()
	rep := &report.AggregatedReport{
		Metadata: report.Metadata{
			CampaignID:  uuid.NewString(),
			Name:        cfg.Campaign.Name,
			Description: cfg.Campaign.Description,
			StartedAt:   now,
			FinishedAt:  now,
			Host:        host.GetInfo(),
		},
		Records: records,
	}

	path, err := report.Write(rep, resultsDir, configContent)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.WithField("path", path).Info("Aggregated report written")
	fmt.Printf("Aggregated %d records into %s\n", len(records), path)
	return nil
}
