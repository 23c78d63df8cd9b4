// Package cmd wires the storage-bench CLI: campaign execution, config
// validation, and standalone re-aggregation of an existing results tree.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	// Try to load from the application directory
	if execPath, err := os.Executable(); err == nil {
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
			} else {
				logger.WithField("file", envFile).Debug("Loaded environment variables")
			}
		}
	}
}

// Execute builds the command tree and runs it.
func Execute() error {
	loadEnvironment()

	var (
		configFile  string
		logLevel    string
		filesystems []string
		workloads   []string
		resultsDir  string
	)

	rootCmd := &cobra.Command{
		Use:   "storage-bench",
		Short: "Filesystem and storage-driver benchmark orchestrator",
		Long:  "A configurable tool for benchmarking containerized workloads across filesystems and Docker storage drivers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(configFile, filesystems, workloads)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to campaign configuration file")
	runCmd.Flags().StringSliceVar(&filesystems, "filesystems", nil, "Restrict the campaign to the named filesystems")
	runCmd.Flags().StringSliceVar(&workloads, "workloads", nil, "Restrict the campaign to the named workloads")
	runCmd.MarkFlagRequired("config")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a campaign configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateCampaignConfig(configFile)
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to campaign configuration file")
	validateCmd.MarkFlagRequired("config")

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild the aggregated report from an existing results tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return aggregateResults(configFile, resultsDir)
		},
	}
	aggregateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to campaign configuration file")
	aggregateCmd.Flags().StringVar(&resultsDir, "results", "", "Results directory (defaults to the configured one)")
	aggregateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(aggregateCmd)

	return rootCmd.Execute()
}

func validateCampaignConfig(configFile string) error {
	logger := logging.GetLogger()

	_, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}
