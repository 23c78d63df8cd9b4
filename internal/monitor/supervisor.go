package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// ErrMonitorLeak is reported when a monitor process does not terminate
// within the stop timeout and has to be killed. Monitoring is best-effort:
// a leak is logged, never fatal to the workload run.
var ErrMonitorLeak = errors.New("monitor leak")

// Monitor is one background sampling process observing a workload run.
type Monitor interface {
	Name() string
	Start(ctx context.Context, outDir string) error
	Stop() error
	OutputPath() string
}

// Handle tracks the monitors started for one run. Every Handle returned by
// Start must be passed to Stop, on every exit path.
type Handle struct {
	monitors []Monitor
	outDir   string
}

// Supervisor starts and stops the monitor set around a workload run.
type Supervisor struct {
	docker      *client.Client
	stopTimeout time.Duration
}

func NewSupervisor(docker *client.Client) *Supervisor {
	return &Supervisor{docker: docker, stopTimeout: 5 * time.Second}
}

// Start launches every configured monitor, writing output into outDir. If
// any monitor fails to start, the ones already running are stopped before
// the error is returned.
func (s *Supervisor) Start(ctx context.Context, specs []config.MonitorSpec, outDir string) (*Handle, error) {
	logger := logging.GetLogger()

	h := &Handle{outDir: outDir}
	for _, spec := range specs {
		var mon Monitor
		switch spec.Kind {
		case config.MonitorKindDockerStats:
			mon = newStatsMonitor(s.docker, spec)
		default:
			mon = newCommandMonitor(spec, s.stopTimeout)
		}

		if err := mon.Start(ctx, outDir); err != nil {
			logger.WithFields(logrus.Fields{
				"monitor": spec.Name,
				"out_dir": outDir,
			}).WithError(err).Error("Failed to start monitor")
			if stopErr := s.Stop(h); stopErr != nil {
				logger.WithError(stopErr).Warn("Error stopping monitors after failed start")
			}
			return nil, fmt.Errorf("start monitor %s: %w", spec.Name, err)
		}

		h.monitors = append(h.monitors, mon)
		logger.WithFields(logrus.Fields{
			"monitor": spec.Name,
			"output":  mon.OutputPath(),
		}).Debug("Monitor started")
	}

	return h, nil
}

// Stop terminates every monitor in the handle, escalating to a kill when a
// process ignores the termination signal, and verifies each output file was
// flushed. It returns ErrMonitorLeak if any monitor had to be killed or left
// an empty output file.
func (s *Supervisor) Stop(h *Handle) error {
	logger := logging.GetLogger()

	if h == nil {
		return nil
	}

	var leaked []string
	for _, mon := range h.monitors {
		if err := mon.Stop(); err != nil {
			logger.WithField("monitor", mon.Name()).WithError(err).Warn("Monitor did not stop cleanly")
			leaked = append(leaked, mon.Name())
			continue
		}

		if fi, err := os.Stat(mon.OutputPath()); err != nil || fi.Size() == 0 {
			logger.WithFields(logrus.Fields{
				"monitor": mon.Name(),
				"output":  mon.OutputPath(),
			}).Warn("Monitor produced no output")
		}

		logger.WithField("monitor", mon.Name()).Debug("Monitor stopped")
	}
	h.monitors = nil

	if len(leaked) > 0 {
		return fmt.Errorf("monitors %v: %w", leaked, ErrMonitorLeak)
	}
	return nil
}

// commandMonitor runs an external sampling command (iostat and friends) as a
// detached process group, stdout redirected to the output file.
type commandMonitor struct {
	spec        config.MonitorSpec
	stopTimeout time.Duration
	cmd         *exec.Cmd
	outFile     *os.File
	outputPath  string
	waitCh      chan error
}

func newCommandMonitor(spec config.MonitorSpec, stopTimeout time.Duration) *commandMonitor {
	return &commandMonitor{spec: spec, stopTimeout: stopTimeout}
}

func (m *commandMonitor) Name() string {
	return m.spec.Name
}

func (m *commandMonitor) OutputPath() string {
	return m.outputPath
}

func (m *commandMonitor) Start(ctx context.Context, outDir string) error {
	m.outputPath = filepath.Join(outDir, m.spec.OutputFile)

	f, err := os.Create(m.outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	m.outFile = f

	// Own process group so Stop can signal the whole pipeline
	cmd := exec.Command("sh", "-c", m.spec.Command)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		f.Close()
		return fmt.Errorf("start %q: %w", m.spec.Command, err)
	}
	m.cmd = cmd

	m.waitCh = make(chan error, 1)
	go func() {
		m.waitCh <- cmd.Wait()
	}()

	return nil
}

func (m *commandMonitor) Stop() error {
	if m.cmd == nil {
		return nil
	}
	defer func() {
		m.outFile.Close()
		m.cmd = nil
	}()

	pgid := m.cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-m.waitCh:
		return nil
	case <-time.After(m.stopTimeout):
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	select {
	case <-m.waitCh:
	case <-time.After(m.stopTimeout):
	}
	return fmt.Errorf("%s ignored SIGTERM: %w", m.spec.Name, ErrMonitorLeak)
}
