package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"
	"storage-bench/internal/monitor"
	"storage-bench/internal/runtime"
	"storage-bench/internal/workload"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDeviceUnrecoverable is the only campaign-fatal condition: the device
// could not be returned to an unmounted, wiped state.
var ErrDeviceUnrecoverable = errors.New("device could not be returned to a clean state")

// StorageManager owns the target block device lifecycle.
type StorageManager interface {
	Cleanup(ctx context.Context, device string) error
	Format(ctx context.Context, device string, fs config.FilesystemSpec) error
	Mount(ctx context.Context, device string, fs config.FilesystemSpec, mountpoint string) error
}

// RuntimeManager cycles and reconfigures the container runtime.
type RuntimeManager interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	ApplyDriver(fs config.FilesystemSpec, dataRoot string) error
	WaitHealthy(ctx context.Context) error
}

// WorkloadExecutor runs one benchmark iteration.
type WorkloadExecutor interface {
	Reset(ctx context.Context) error
	Run(ctx context.Context, ws config.WorkloadSpec, outDir string) (*workload.ExecOutcome, error)
}

// MonitorSupervisor pairs every monitor start with a stop.
type MonitorSupervisor interface {
	Start(ctx context.Context, specs []config.MonitorSpec, outDir string) (*monitor.Handle, error)
	Stop(h *monitor.Handle) error
}

// Result is everything a campaign produced: per-iteration outcomes for the
// tuples that were attempted, and the fatal error per filesystem phase that
// aborted early.
type Result struct {
	CampaignID  string
	StartedAt   time.Time
	FinishedAt  time.Time
	Iterations  []IterationResult
	PhaseErrors map[string]string
	Aborted     bool
}

// Failed reports whether any filesystem phase aborted fatally.
func (r *Result) Failed() bool {
	return len(r.PhaseErrors) > 0 || r.Aborted
}

// Controller is the top-level state machine. It holds the only handles to
// the device and the runtime daemon; no other component touches them, and no
// two lifecycle transitions ever run concurrently.
type Controller struct {
	cfg        *config.CampaignConfig
	storage    StorageManager
	rt         RuntimeManager
	exec       WorkloadExecutor
	monitors   MonitorSupervisor
	resultsDir string
}

func NewController(cfg *config.CampaignConfig, st StorageManager, rt RuntimeManager, exec WorkloadExecutor, monitors MonitorSupervisor) *Controller {
	return &Controller{
		cfg:        cfg,
		storage:    st,
		rt:         rt,
		exec:       exec,
		monitors:   monitors,
		resultsDir: cfg.Campaign.ResultsDir,
	}
}

// Run executes the full campaign: every filesystem phase in order, then a
// final cleanup that leaves the device unmounted and signature-wiped no
// matter how many phases failed. A phase failure is recorded and the next
// filesystem proceeds; only a device that cannot be cleaned aborts the
// campaign.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	logger := logging.GetLogger()

	result := &Result{
		CampaignID:  uuid.NewString(),
		StartedAt:   time.Now(),
		PhaseErrors: make(map[string]string),
	}

	logger.WithFields(logrus.Fields{
		"campaign_id": result.CampaignID,
		"name":        c.cfg.Campaign.Name,
		"filesystems": len(c.cfg.Filesystems),
		"workloads":   len(c.cfg.Workloads),
	}).Info("Starting campaign")

	for _, fs := range c.cfg.Filesystems {
		if ctx.Err() != nil {
			logger.Info("Abort requested, skipping remaining filesystems")
			result.Aborted = true
			break
		}

		iterations, err := c.runPhase(ctx, fs)
		result.Iterations = append(result.Iterations, iterations...)

		if err != nil {
			if ctx.Err() != nil {
				result.Aborted = true
				break
			}
			// Partial results from the other filesystems must survive this
			logger.WithFields(logrus.Fields{
				"filesystem": fs.Name,
			}).WithError(err).Error("Filesystem phase aborted, continuing with next filesystem")
			result.PhaseErrors[fs.Name] = err.Error()
		}
	}

	finalErr := c.finalCleanup()
	result.FinishedAt = time.Now()

	logger.WithFields(logrus.Fields{
		"campaign_id":  result.CampaignID,
		"duration":     result.FinishedAt.Sub(result.StartedAt),
		"phase_errors": len(result.PhaseErrors),
		"aborted":      result.Aborted,
	}).Info("Campaign finished")

	return result, finalErr
}

// runPhase performs one filesystem phase. The ordering below is the system's
// principal correctness invariant: the runtime is stopped before any storage
// operation, reconfigured only while stopped, and started only after the
// target filesystem is mounted.
func (c *Controller) runPhase(ctx context.Context, fs config.FilesystemSpec) ([]IterationResult, error) {
	logger := logging.GetLogger()
	device := c.cfg.Campaign.Device
	mountpoint := c.cfg.Campaign.Mountpoint

	logger.WithFields(logrus.Fields{
		"filesystem":     fs.Name,
		"device":         device,
		"storage_driver": fs.StorageDriver,
	}).Info("Starting filesystem phase")

	if err := c.rt.Stop(ctx); err != nil {
		return nil, fmt.Errorf("stop runtime: %w", err)
	}
	if err := c.storage.Cleanup(ctx, device); err != nil {
		return nil, fmt.Errorf("cleanup device: %w", err)
	}
	if err := c.storage.Format(ctx, device, fs); err != nil {
		return nil, fmt.Errorf("format device: %w", err)
	}
	if err := c.storage.Mount(ctx, device, fs, mountpoint); err != nil {
		return nil, fmt.Errorf("mount device: %w", err)
	}
	if err := c.rt.ApplyDriver(fs, filepath.Join(mountpoint, "docker")); err != nil {
		return nil, fmt.Errorf("apply storage driver: %w", err)
	}
	if err := c.rt.Start(ctx); err != nil {
		return nil, fmt.Errorf("start runtime: %w", err)
	}
	if err := c.rt.WaitHealthy(ctx); err != nil {
		return nil, fmt.Errorf("runtime health check: %w", err)
	}

	var iterations []IterationResult
	for _, ws := range c.cfg.Workloads {
		results, err := c.runWorkload(ctx, fs, ws)
		iterations = append(iterations, results...)
		if err != nil {
			c.teardownPhase(fs)
			return iterations, err
		}
	}

	c.teardownPhase(fs)
	return iterations, nil
}

// runWorkload runs all iterations of one workload sequentially. A failed
// iteration is recorded and the next one attempted; only environment-fatal
// failures abort the whole filesystem phase.
func (c *Controller) runWorkload(ctx context.Context, fs config.FilesystemSpec, ws config.WorkloadSpec) ([]IterationResult, error) {
	logger := logging.GetLogger()

	var results []IterationResult
	for i := 1; i <= ws.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := c.runIteration(ctx, fs, ws, i)
		results = append(results, result)

		if err == nil {
			continue
		}

		if fatal := c.classify(ctx, err); fatal != nil {
			logger.WithFields(logrus.Fields{
				"filesystem": fs.Name,
				"workload":   ws.Name,
				"iteration":  i,
			}).WithError(fatal).Error("Environment-fatal failure, aborting filesystem phase")
			return results, fatal
		}

		logger.WithFields(logrus.Fields{
			"filesystem": fs.Name,
			"workload":   ws.Name,
			"iteration":  i,
		}).WithError(err).Warn("Iteration failed, continuing with next iteration")
	}

	return results, nil
}

// classify decides whether an iteration failure is environment-fatal. A
// runtime that no longer answers health checks dooms every subsequent
// iteration on this filesystem, so the phase aborts.
func (c *Controller) classify(ctx context.Context, err error) error {
	if errors.Is(err, runtime.ErrRuntimeUnhealthy) {
		return err
	}
	if errors.Is(err, workload.ErrAppNotReady) {
		// Aborts the iteration only
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if healthErr := c.rt.WaitHealthy(ctx); healthErr != nil {
		return fmt.Errorf("%v: %w", err, runtime.ErrRuntimeUnhealthy)
	}
	return nil
}

// teardownPhase releases the filesystem: stop the runtime, then return the
// device to a clean state. Errors are logged here and re-checked by the
// campaign's final cleanup.
func (c *Controller) teardownPhase(fs config.FilesystemSpec) {
	logger := logging.GetLogger()

	// Teardown proceeds even when the campaign context is cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := c.rt.Stop(ctx); err != nil {
		logger.WithField("filesystem", fs.Name).WithError(err).Warn("Failed to stop runtime during teardown")
	}
	if err := c.storage.Cleanup(ctx, c.cfg.Campaign.Device); err != nil {
		logger.WithField("filesystem", fs.Name).WithError(err).Warn("Failed to clean device during teardown")
	}
}

// finalCleanup is the campaign's last word on the device. Failure here is
// the one campaign-fatal condition: a device left in an unknown state.
func (c *Controller) finalCleanup() error {
	logger := logging.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := c.rt.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Failed to stop runtime during final cleanup")
	}

	if err := c.storage.Cleanup(ctx, c.cfg.Campaign.Device); err != nil {
		logger.WithError(err).Error("Device could not be returned to a clean state")
		return fmt.Errorf("%v: %w", err, ErrDeviceUnrecoverable)
	}

	logger.Info("Device returned to unmounted, wiped state")
	return nil
}
