package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"
	"storage-bench/internal/monitor"

	"github.com/sirupsen/logrus"
)

// Iteration states. Failed is reachable from any state.
type State string

const (
	StatePending    State = "pending"
	StateResetting  State = "resetting"
	StateMonitoring State = "monitoring"
	StateExecuting  State = "executing"
	StateCollecting State = "collecting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// RunContext is the ephemeral state for one (filesystem, workload,
// iteration) execution. It is discarded only after its monitors are stopped
// and its artifacts flushed.
type RunContext struct {
	Filesystem string          `json:"filesystem"`
	Workload   string          `json:"workload"`
	Iteration  int             `json:"iteration"`
	OutputDir  string          `json:"output_dir"`
	Monitors   *monitor.Handle `json:"-"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	ExitCode   int             `json:"exit_code"`
}

// IterationResult records the terminal state of one iteration.
type IterationResult struct {
	Filesystem string        `json:"filesystem"`
	Workload   string        `json:"workload"`
	Iteration  int           `json:"iteration"`
	State      State         `json:"state"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	OutputDir  string        `json:"output_dir"`
	Error      string        `json:"error,omitempty"`
}

// runIteration drives one iteration through the state machine:
// Pending -> Resetting -> Monitoring -> Executing -> Collecting -> Done,
// with Failed reachable from any state. Monitors started here are stopped on
// every exit path.
func (c *Controller) runIteration(ctx context.Context, fs config.FilesystemSpec, ws config.WorkloadSpec, iteration int) (IterationResult, error) {
	logger := logging.GetLogger()

	result := IterationResult{
		Filesystem: fs.Name,
		Workload:   ws.Name,
		Iteration:  iteration,
		State:      StatePending,
	}

	outDir := RunDir(c.resultsDir, ws.Name, fs.Name, iteration)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		return result, fmt.Errorf("create run dir: %w", err)
	}
	result.OutputDir = outDir

	rc := &RunContext{
		Filesystem: fs.Name,
		Workload:   ws.Name,
		Iteration:  iteration,
		OutputDir:  outDir,
	}

	logger.WithFields(logrus.Fields{
		"filesystem": fs.Name,
		"workload":   ws.Name,
		"iteration":  iteration,
	}).Info("Starting iteration")

	result.State = StateResetting
	if err := c.exec.Reset(ctx); err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		c.writeRunSummary(rc, result)
		return result, fmt.Errorf("pre-run reset: %w", err)
	}

	result.State = StateMonitoring
	handle, err := c.monitors.Start(ctx, c.cfg.Monitors, outDir)
	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		c.writeRunSummary(rc, result)
		return result, fmt.Errorf("start monitors: %w", err)
	}
	rc.Monitors = handle

	// Monitors are stopped exactly once, on success, failure and abort alike
	stopMonitors := func() {
		if rc.Monitors == nil {
			return
		}
		if err := c.monitors.Stop(rc.Monitors); err != nil {
			logger.WithFields(logrus.Fields{
				"filesystem": fs.Name,
				"workload":   ws.Name,
				"iteration":  iteration,
			}).WithError(err).Warn("Monitor did not stop cleanly")
		}
		rc.Monitors = nil
	}
	defer stopMonitors()

	result.State = StateExecuting
	rc.StartTime = time.Now()
	outcome, execErr := c.exec.Run(ctx, ws, outDir)
	rc.EndTime = time.Now()

	result.State = StateCollecting
	stopMonitors()

	if execErr != nil {
		result.State = StateFailed
		result.Error = execErr.Error()
		c.writeRunSummary(rc, result)
		return result, execErr
	}

	rc.ExitCode = outcome.ExitCode
	result.ExitCode = outcome.ExitCode
	result.Duration = outcome.Duration

	if outcome.ExitCode != 0 {
		// Recorded and surfaced in the report, but not fatal to the campaign
		logger.WithFields(logrus.Fields{
			"filesystem": fs.Name,
			"workload":   ws.Name,
			"iteration":  iteration,
			"exit_code":  outcome.ExitCode,
		}).Warn("Workload exited non-zero")
		result.State = StateFailed
		result.Error = fmt.Sprintf("workload exited with code %d", outcome.ExitCode)
	} else {
		result.State = StateDone
	}

	c.writeRunSummary(rc, result)

	logger.WithFields(logrus.Fields{
		"filesystem": fs.Name,
		"workload":   ws.Name,
		"iteration":  iteration,
		"state":      result.State,
		"duration":   result.Duration,
	}).Info("Iteration finished")
	return result, nil
}

// writeRunSummary flushes the iteration's run.json artifact. Aggregation
// reads it back when building the report.
func (c *Controller) writeRunSummary(rc *RunContext, result IterationResult) {
	logger := logging.GetLogger()

	summary := struct {
		RunContext
		State    State  `json:"state"`
		Duration string `json:"duration"`
		Error    string `json:"error,omitempty"`
	}{
		RunContext: *rc,
		State:      result.State,
		Duration:   result.Duration.String(),
		Error:      result.Error,
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.WithError(err).Warn("Failed to marshal run summary")
		return
	}

	path := filepath.Join(rc.OutputDir, "run.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.WithField("path", path).WithError(err).Warn("Failed to write run summary")
	}
}

// RunDir returns the artifact directory for one (workload, filesystem,
// iteration) tuple.
func RunDir(resultsDir, workload, filesystem string, iteration int) string {
	return filepath.Join(resultsDir, workload, filesystem, fmt.Sprintf("run_%d", iteration))
}
