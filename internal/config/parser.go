package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"storage-bench/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*CampaignConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent also returns the raw file content so the campaign can
// snapshot the exact configuration next to the report.
func LoadConfigWithContent(filepath string) (*CampaignConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	var config CampaignConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(config *CampaignConfig) error {
	if config.Campaign.Name == "" {
		return fmt.Errorf("campaign name is required")
	}

	if config.Campaign.Device == "" {
		return fmt.Errorf("target device is required")
	}

	if config.Campaign.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}

	if len(config.Filesystems) == 0 {
		return fmt.Errorf("at least one filesystem must be defined")
	}

	if len(config.Workloads) == 0 {
		return fmt.Errorf("at least one workload must be defined")
	}

	fsNames := make(map[string]bool)
	for _, fs := range config.Filesystems {
		if fs.Name == "" {
			return fmt.Errorf("filesystem name is required")
		}
		if fsNames[fs.Name] {
			return fmt.Errorf("filesystem %s: name is already used", fs.Name)
		}
		fsNames[fs.Name] = true

		if fs.FormatCommand == "" {
			return fmt.Errorf("filesystem %s: format_command is required", fs.Name)
		}
		if fs.StorageDriver == "" {
			return fmt.Errorf("filesystem %s: storage_driver is required", fs.Name)
		}
	}

	wlNames := make(map[string]bool)
	for _, w := range config.Workloads {
		if w.Name == "" {
			return fmt.Errorf("workload name is required")
		}
		if wlNames[w.Name] {
			return fmt.Errorf("workload %s: name is already used", w.Name)
		}
		wlNames[w.Name] = true

		if w.Iterations <= 0 {
			return fmt.Errorf("workload %s: iterations must be greater than 0", w.Name)
		}

		switch w.Mode {
		case ModeSingle:
			if w.Image == "" {
				return fmt.Errorf("workload %s: image is required for single mode", w.Name)
			}
		case ModeMulti:
			if w.App == nil || w.App.Image == "" {
				return fmt.Errorf("workload %s: app image is required for multi mode", w.Name)
			}
			if w.Generator == nil || w.Generator.Image == "" {
				return fmt.Errorf("workload %s: generator image is required for multi mode", w.Name)
			}
		default:
			return fmt.Errorf("workload %s: mode must be %q or %q", w.Name, ModeSingle, ModeMulti)
		}
	}

	for _, m := range config.Monitors {
		if m.Name == "" {
			return fmt.Errorf("monitor name is required")
		}
		if m.OutputFile == "" {
			return fmt.Errorf("monitor %s: output_file is required", m.Name)
		}
		switch m.Kind {
		case MonitorKindCommand:
			if m.Command == "" {
				return fmt.Errorf("monitor %s: command is required for command monitors", m.Name)
			}
		case MonitorKindDockerStats:
		default:
			return fmt.Errorf("monitor %s: unknown kind %q", m.Name, m.Kind)
		}
	}

	// Validate database config only when export is configured
	if db := config.Campaign.Data.DB; db != nil {
		if db.Host == "" || db.Name == "" || db.User == "" || db.Password == "" || db.Org == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	return nil
}
