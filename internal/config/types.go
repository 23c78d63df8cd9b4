package config

import (
	"time"
)

type CampaignConfig struct {
	Campaign    CampaignInfo     `yaml:"campaign"`
	Filesystems []FilesystemSpec `yaml:"filesystems"`
	Workloads   []WorkloadSpec   `yaml:"workloads"`
	Monitors    []MonitorSpec    `yaml:"monitors"`
}

type CampaignInfo struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	LogLevel    string       `yaml:"log_level"`
	Device      string       `yaml:"device"`
	Mountpoint  string       `yaml:"mountpoint"`
	ResultsDir  string       `yaml:"results_dir"`
	ZFSPool     string       `yaml:"zfs_pool"`
	Docker      DockerConfig `yaml:"docker"`
	Data        DataConfig   `yaml:"data"`
}

type DockerConfig struct {
	ConfigFile        string `yaml:"config_file"`
	Service           string `yaml:"service"`
	HealthAttempts    int    `yaml:"health_attempts"`
	HealthIntervalSec int    `yaml:"health_interval_sec"`
}

type DataConfig struct {
	DB *DatabaseConfig `yaml:"db,omitempty"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// FilesystemSpec describes one filesystem under test. Exactly one spec is
// active (formatted, mounted, runtime-configured) at any point in a campaign.
type FilesystemSpec struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type,omitempty"`
	StorageDriver string `yaml:"storage_driver"`
	FormatCommand string `yaml:"format_command"`
	MountCommand  string `yaml:"mount_command,omitempty"`
	MountOptions  string `yaml:"mount_options,omitempty"`
	// SkipMount is set for pool-backed filesystems that mount themselves
	// as part of pool creation (zfs).
	SkipMount bool `yaml:"skip_mount,omitempty"`
}

// FSType returns the filesystem type the OS is expected to report after
// mounting. Defaults to the spec name.
func (f FilesystemSpec) FSType() string {
	if f.Type != "" {
		return f.Type
	}
	return f.Name
}

type WorkloadSpec struct {
	Name       string         `yaml:"name"`
	Mode       string         `yaml:"mode"`
	Tool       string         `yaml:"tool"`
	Image      string         `yaml:"image,omitempty"`
	Command    string         `yaml:"command,omitempty"`
	Iterations int            `yaml:"iterations"`
	ResultFile string         `yaml:"result_file,omitempty"`
	App        *AppSpec       `yaml:"app,omitempty"`
	Generator  *GeneratorSpec `yaml:"generator,omitempty"`
}

const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

type AppSpec struct {
	Image           string `yaml:"image"`
	Command         string `yaml:"command,omitempty"`
	Port            string `yaml:"port,omitempty"`
	ReadyTimeoutSec int    `yaml:"ready_timeout_sec,omitempty"`
	SettleDelaySec  int    `yaml:"settle_delay_sec,omitempty"`
}

type GeneratorSpec struct {
	Image   string `yaml:"image"`
	Command string `yaml:"command,omitempty"`
}

func (a AppSpec) ReadyTimeout() time.Duration {
	if a.ReadyTimeoutSec > 0 {
		return time.Duration(a.ReadyTimeoutSec) * time.Second
	}
	return 60 * time.Second
}

type MonitorSpec struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Command     string `yaml:"command,omitempty"`
	IntervalSec int    `yaml:"interval_sec,omitempty"`
	OutputFile  string `yaml:"output_file"`
}

const (
	MonitorKindCommand     = "command"
	MonitorKindDockerStats = "docker-stats"
)

func (m MonitorSpec) Interval() time.Duration {
	if m.IntervalSec > 0 {
		return time.Duration(m.IntervalSec) * time.Second
	}
	return time.Second
}

// WorkloadResultFile returns the artifact name the workload's raw output is
// written to inside a run directory.
func (w WorkloadSpec) WorkloadResultFile() string {
	if w.ResultFile != "" {
		return w.ResultFile
	}
	return "results.txt"
}

func (c *CampaignConfig) HealthAttempts() int {
	if c.Campaign.Docker.HealthAttempts > 0 {
		return c.Campaign.Docker.HealthAttempts
	}
	return 10
}

func (c *CampaignConfig) HealthInterval() time.Duration {
	if c.Campaign.Docker.HealthIntervalSec > 0 {
		return time.Duration(c.Campaign.Docker.HealthIntervalSec) * time.Second
	}
	return 3 * time.Second
}

func (c *CampaignConfig) DockerConfigFile() string {
	if c.Campaign.Docker.ConfigFile != "" {
		return c.Campaign.Docker.ConfigFile
	}
	return "/etc/docker/daemon.json"
}

func (c *CampaignConfig) DockerService() string {
	if c.Campaign.Docker.Service != "" {
		return c.Campaign.Docker.Service
	}
	return "docker"
}

func (c *CampaignConfig) PoolName() string {
	if c.Campaign.ZFSPool != "" {
		return c.Campaign.ZFSPool
	}
	return "benchpool"
}

// FilterFilesystems narrows the configured filesystem list to the named
// subset. An empty subset keeps everything. Unknown names are ignored so a
// typo cannot silently widen the campaign.
func (c *CampaignConfig) FilterFilesystems(names []string) {
	if len(names) == 0 {
		return
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var filtered []FilesystemSpec
	for _, fs := range c.Filesystems {
		if keep[fs.Name] {
			filtered = append(filtered, fs)
		}
	}
	c.Filesystems = filtered
}

func (c *CampaignConfig) FilterWorkloads(names []string) {
	if len(names) == 0 {
		return
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var filtered []WorkloadSpec
	for _, w := range c.Workloads {
		if keep[w.Name] {
			filtered = append(filtered, w)
		}
	}
	c.Workloads = filtered
}
