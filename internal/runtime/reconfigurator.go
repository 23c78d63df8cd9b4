package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// ErrRuntimeUnhealthy is returned when the daemon does not answer health
// checks after restart. It is fatal to the current filesystem phase.
var ErrRuntimeUnhealthy = errors.New("runtime unhealthy")

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Pinger checks daemon liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dockerPinger struct {
	cli *client.Client
}

func (p dockerPinger) Ping(ctx context.Context) error {
	_, err := p.cli.Ping(ctx)
	return err
}

// daemonConfig is the subset of dockerd's daemon.json the campaign rewrites.
type daemonConfig struct {
	StorageDriver string `json:"storage-driver"`
	DataRoot      string `json:"data-root,omitempty"`
}

// Reconfigurator rewrites the Docker daemon's storage-driver configuration
// and cycles the service around filesystem transitions. The daemon must be
// stopped before the config is rewritten and before any storage lifecycle
// operation touches the device.
type Reconfigurator struct {
	runner     Runner
	pinger     Pinger
	configFile string
	service    string
	attempts   int
	interval   time.Duration

	running bool
}

func New(cli *client.Client, cfg *config.CampaignConfig) *Reconfigurator {
	return &Reconfigurator{
		runner:     execRunner{},
		pinger:     dockerPinger{cli: cli},
		configFile: cfg.DockerConfigFile(),
		service:    cfg.DockerService(),
		attempts:   cfg.HealthAttempts(),
		interval:   cfg.HealthInterval(),
		running:    true,
	}
}

// NewWithDeps wires explicit dependencies, used by tests.
func NewWithDeps(runner Runner, pinger Pinger, configFile, service string, attempts int, interval time.Duration) *Reconfigurator {
	return &Reconfigurator{
		runner:     runner,
		pinger:     pinger,
		configFile: configFile,
		service:    service,
		attempts:   attempts,
		interval:   interval,
		running:    true,
	}
}

// Stop halts the daemon, releasing its hold on the storage data-root. The
// socket unit is stopped as well so activation does not bring it straight
// back.
func (r *Reconfigurator) Stop(ctx context.Context) error {
	logger := logging.GetLogger()

	_, _ = r.runner.Run(ctx, "systemctl", "stop", r.service+".socket")
	if out, err := r.runner.Run(ctx, "systemctl", "stop", r.service); err != nil {
		logger.WithFields(logrus.Fields{
			"service": r.service,
			"output":  strings.TrimSpace(out),
		}).WithError(err).Error("Failed to stop runtime service")
		return fmt.Errorf("stop %s: %w", r.service, err)
	}

	r.running = false
	logger.WithField("service", r.service).Info("Runtime stopped")
	return nil
}

// ApplyDriver rewrites the daemon configuration for the given filesystem.
// The daemon must be stopped first; rewriting a live daemon's config risks
// inconsistent storage state.
func (r *Reconfigurator) ApplyDriver(fs config.FilesystemSpec, dataRoot string) error {
	logger := logging.GetLogger()

	if r.running {
		return fmt.Errorf("apply driver %s: runtime is still running", fs.StorageDriver)
	}

	cfg := daemonConfig{
		StorageDriver: fs.StorageDriver,
		DataRoot:      dataRoot,
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal daemon config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.configFile), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(r.configFile, data, 0o644); err != nil {
		logger.WithField("config_file", r.configFile).WithError(err).Error("Failed to write daemon config")
		return fmt.Errorf("write %s: %w", r.configFile, err)
	}

	logger.WithFields(logrus.Fields{
		"config_file":    r.configFile,
		"storage_driver": fs.StorageDriver,
		"data_root":      dataRoot,
	}).Info("Daemon configuration rewritten")
	return nil
}

// Start brings the daemon back up. Callers must follow with WaitHealthy
// before using the runtime.
func (r *Reconfigurator) Start(ctx context.Context) error {
	logger := logging.GetLogger()

	if out, err := r.runner.Run(ctx, "systemctl", "start", r.service); err != nil {
		logger.WithFields(logrus.Fields{
			"service": r.service,
			"output":  strings.TrimSpace(out),
		}).WithError(err).Error("Failed to start runtime service")
		return fmt.Errorf("start %s: %w", r.service, err)
	}

	r.running = true
	logger.WithField("service", r.service).Info("Runtime started")
	return nil
}

// WaitHealthy polls the daemon with bounded retries and fixed backoff,
// returning ErrRuntimeUnhealthy after exhaustion.
func (r *Reconfigurator) WaitHealthy(ctx context.Context) error {
	logger := logging.GetLogger()

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pingCtx, cancel := context.WithTimeout(ctx, r.interval)
		lastErr = r.pinger.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			logger.WithField("attempt", attempt).Info("Runtime is healthy")
			return nil
		}

		logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": r.attempts,
		}).WithError(lastErr).Debug("Runtime not healthy yet")

		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.interval):
			}
		}
	}

	logger.WithField("attempts", r.attempts).WithError(lastErr).Error("Runtime did not become healthy")
	return fmt.Errorf("after %d attempts: %v: %w", r.attempts, lastErr, ErrRuntimeUnhealthy)
}
