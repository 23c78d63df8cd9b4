package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storage-bench/internal/campaign"
	"storage-bench/internal/config"
	"storage-bench/internal/database"
	"storage-bench/internal/host"
	"storage-bench/internal/logging"
	"storage-bench/internal/monitor"
	"storage-bench/internal/report"
	"storage-bench/internal/runtime"
	"storage-bench/internal/storage"
	"storage-bench/internal/workload"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

func runCampaign(configFile string, filesystems, workloads []string) error {
	logger := logging.GetLogger()

	cfg, configContent, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Campaign.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Campaign.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Campaign.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}

	cfg.FilterFilesystems(filesystems)
	cfg.FilterWorkloads(workloads)
	if len(cfg.Filesystems) == 0 {
		return fmt.Errorf("no filesystems selected")
	}
	if len(cfg.Workloads) == 0 {
		return fmt.Errorf("no workloads selected")
	}

	hostInfo := host.GetInfo()
	logger.WithFields(logrus.Fields{
		"hostname":  hostInfo.Hostname,
		"cpu_model": hostInfo.CPUModel,
		"cpu_cores": hostInfo.CPUCores,
		"kernel":    hostInfo.KernelVersion,
	}).Info("Host information collected")

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.WithError(err).Error("Failed to create Docker client")
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer dockerClient.Close()

	controller := campaign.NewController(
		cfg,
		storage.NewManager(cfg.PoolName(), cfg.Campaign.Mountpoint),
		runtime.New(dockerClient, cfg),
		workload.NewExecutor(dockerClient),
		monitor.NewSupervisor(dockerClient),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down")
		cancel()
	}()

	result, runErr := controller.Run(ctx)

	// Partial results are aggregated even after a fatal run error
	rep, repErr := buildReport(cfg, result, hostInfo)
	if repErr != nil {
		logger.WithError(repErr).Error("Failed to aggregate results")
	} else {
		path, err := report.Write(rep, cfg.Campaign.ResultsDir, configContent)
		if err != nil {
			logger.WithError(err).Error("Failed to write report")
		} else {
			logger.WithField("path", path).Info("Aggregated report written")
		}
		exportReport(cfg, rep, configContent)
		printSummary(result)
	}

	if runErr != nil {
		return runErr
	}
	if result.Failed() {
		return fmt.Errorf("campaign finished with failures")
	}
	return nil
}

func buildReport(cfg *config.CampaignConfig, result *campaign.Result, hostInfo host.Info) (*report.AggregatedReport, error) {
	records, err := report.Aggregate(cfg, cfg.Campaign.ResultsDir)
	if err != nil {
		return nil, err
	}
	return &report.AggregatedReport{
		Metadata: report.Metadata{
			CampaignID:  result.CampaignID,
			Name:        cfg.Campaign.Name,
			Description: cfg.Campaign.Description,
			StartedAt:   result.StartedAt,
			FinishedAt:  result.FinishedAt,
			Host:        hostInfo,
		},
		Records: records,
	}, nil
}

// exportReport pushes the report to InfluxDB when a database is configured.
// An unreachable database degrades to a local spool artifact, never to a
// failed campaign.
func exportReport(cfg *config.CampaignConfig, rep *report.AggregatedReport, configContent string) {
	logger := logging.GetLogger()

	if cfg.Campaign.Data.DB == nil {
		return
	}

	spool := func() {
		artifact := database.BuildSpoolArtifact(rep, configContent)
		path, err := database.WriteSpoolArtifact(database.DefaultSpoolDir(), artifact)
		if err != nil {
			logger.WithError(err).Error("Failed to write spool artifact")
			return
		}
		logger.WithField("path", path).Info("Report spooled for later upload")
	}

	dbClient, err := database.NewInfluxDBClient(*cfg.Campaign.Data.DB)
	if err != nil {
		logger.WithError(err).Warn("Database unreachable, spooling report")
		spool()
		return
	}
	defer dbClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := dbClient.WriteReport(ctx, rep); err != nil {
		logger.WithError(err).Warn("Failed to export report, spooling instead")
		spool()
		return
	}
	logger.Info("Report exported to database")
}

func printSummary(result *campaign.Result) {
	fmt.Printf("\nCampaign %s finished in %s\n", result.CampaignID, result.FinishedAt.Sub(result.StartedAt).Round(time.Second))

	for _, it := range result.Iterations {
		status := string(it.State)
		if it.Error != "" {
			status = fmt.Sprintf("%s (%s)", status, it.Error)
		}
		fmt.Printf("  %-12s %-16s run_%-3d %s\n", it.Filesystem, it.Workload, it.Iteration, status)
	}

	for fs, msg := range result.PhaseErrors {
		fmt.Printf("  %-12s phase aborted: %s\n", fs, msg)
	}
	if result.Aborted {
		fmt.Println("  campaign aborted before completion")
	}
}
