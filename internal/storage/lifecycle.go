package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// Storage lifecycle errors. All are fatal to the current filesystem phase,
// not to the campaign.
var (
	ErrDeviceBusy         = errors.New("device busy")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrVerificationFailed = errors.New("verification failed")
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Manager owns the lifecycle of the target block device: cleanup, format and
// mount. No two lifecycle operations run concurrently on the same device.
type Manager struct {
	runner     Runner
	pool       string
	mountpoint string
	mu         sync.Mutex
}

func NewManager(pool, mountpoint string) *Manager {
	return &Manager{runner: execRunner{}, pool: pool, mountpoint: mountpoint}
}

func NewManagerWithRunner(runner Runner, pool, mountpoint string) *Manager {
	return &Manager{runner: runner, pool: pool, mountpoint: mountpoint}
}

// Cleanup returns the device to an unmounted, signature-wiped state. It is
// idempotent: an already-clean device cleans up successfully again.
func (m *Manager) Cleanup(ctx context.Context, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := logging.GetLogger()

	if m.isMounted(ctx, device) {
		out, err := m.runner.Run(ctx, "umount", device)
		if err != nil && !strings.Contains(out, "not mounted") {
			logger.WithFields(logrus.Fields{
				"device":    device,
				"operation": "umount",
				"output":    strings.TrimSpace(out),
			}).WithError(err).Error("Failed to unmount device")
			if strings.Contains(out, "busy") {
				return fmt.Errorf("unmount %s: %w", device, ErrDeviceBusy)
			}
			return fmt.Errorf("unmount %s: %w", device, err)
		}
	}

	if err := m.destroyPool(ctx); err != nil {
		return err
	}

	if out, err := m.runner.Run(ctx, "wipefs", "-a", device); err != nil {
		logger.WithFields(logrus.Fields{
			"device":    device,
			"operation": "wipefs",
			"output":    strings.TrimSpace(out),
		}).WithError(err).Error("Failed to wipe device signatures")
		return fmt.Errorf("wipefs %s: %w", device, err)
	}

	logger.WithFields(logrus.Fields{
		"device":    device,
		"operation": "cleanup",
	}).Info("Device cleaned up")
	return nil
}

// destroyPool tears down the campaign's zfs pool if it exists. A missing pool
// is not an error.
func (m *Manager) destroyPool(ctx context.Context) error {
	logger := logging.GetLogger()

	out, err := m.runner.Run(ctx, "zpool", "list", "-H", "-o", "name")
	if err != nil {
		// zpool missing entirely means no pool-based filesystem is in play
		logger.WithField("operation", "zpool-list").Debug("zpool not available, skipping pool cleanup")
		return nil
	}

	found := false
	for _, name := range strings.Fields(out) {
		if name == m.pool {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	if out, err := m.runner.Run(ctx, "zpool", "destroy", "-f", m.pool); err != nil {
		if strings.Contains(out, "no such pool") {
			return nil
		}
		logger.WithFields(logrus.Fields{
			"pool":      m.pool,
			"operation": "zpool-destroy",
			"output":    strings.TrimSpace(out),
		}).WithError(err).Error("Failed to destroy pool")
		return fmt.Errorf("zpool destroy %s: %w", m.pool, err)
	}

	logger.WithFields(logrus.Fields{
		"pool":      m.pool,
		"operation": "zpool-destroy",
	}).Info("Pool destroyed")
	return nil
}

// Format creates the filesystem on the device. The device must be unmounted.
func (m *Manager) Format(ctx context.Context, device string, fs config.FilesystemSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := logging.GetLogger()

	if m.isMounted(ctx, device) {
		logger.WithFields(logrus.Fields{
			"device":     device,
			"filesystem": fs.Name,
			"operation":  "format",
		}).Error("Refusing to format a mounted device")
		return fmt.Errorf("format %s: device is mounted: %w", device, ErrPreconditionFailed)
	}

	command := m.expand(fs.FormatCommand, device, m.mountpoint)
	out, err := m.runner.Run(ctx, "sh", "-c", command)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"device":     device,
			"filesystem": fs.Name,
			"operation":  "format",
			"command":    command,
			"output":     strings.TrimSpace(out),
		}).WithError(err).Error("Format failed")
		return fmt.Errorf("format %s as %s: %w", device, fs.Name, err)
	}

	logger.WithFields(logrus.Fields{
		"device":     device,
		"filesystem": fs.Name,
		"operation":  "format",
	}).Info("Device formatted")
	return nil
}

// Mount mounts the device and verifies the OS reports the requested
// filesystem type on the mountpoint.
func (m *Manager) Mount(ctx context.Context, device string, fs config.FilesystemSpec, mountpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := logging.GetLogger()

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", mountpoint, err)
	}

	if !fs.SkipMount {
		var out string
		var err error
		if fs.MountCommand != "" {
			command := m.expand(fs.MountCommand, device, mountpoint)
			out, err = m.runner.Run(ctx, "sh", "-c", command)
		} else if fs.MountOptions != "" {
			out, err = m.runner.Run(ctx, "mount", "-o", fs.MountOptions, device, mountpoint)
		} else {
			out, err = m.runner.Run(ctx, "mount", device, mountpoint)
		}
		if err != nil {
			logger.WithFields(logrus.Fields{
				"device":     device,
				"filesystem": fs.Name,
				"mountpoint": mountpoint,
				"operation":  "mount",
				"output":     strings.TrimSpace(out),
			}).WithError(err).Error("Mount failed")
			return fmt.Errorf("mount %s on %s: %w", device, mountpoint, err)
		}
	}

	fstype, err := m.runner.Run(ctx, "findmnt", "-n", "-o", "FSTYPE", mountpoint)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"device":     device,
			"filesystem": fs.Name,
			"mountpoint": mountpoint,
			"operation":  "mount-verify",
		}).WithError(err).Error("Mountpoint is not accessible")
		return fmt.Errorf("verify mount of %s: %w", mountpoint, ErrVerificationFailed)
	}

	if got := strings.TrimSpace(fstype); got != fs.FSType() {
		logger.WithFields(logrus.Fields{
			"device":     device,
			"filesystem": fs.Name,
			"mountpoint": mountpoint,
			"operation":  "mount-verify",
			"expected":   fs.FSType(),
			"reported":   got,
		}).Error("Mounted filesystem type does not match")
		return fmt.Errorf("mounted %s but OS reports %q, expected %q: %w", device, got, fs.FSType(), ErrVerificationFailed)
	}

	logger.WithFields(logrus.Fields{
		"device":     device,
		"filesystem": fs.Name,
		"mountpoint": mountpoint,
		"operation":  "mount",
	}).Info("Device mounted and verified")
	return nil
}

func (m *Manager) isMounted(ctx context.Context, device string) bool {
	_, err := m.runner.Run(ctx, "findmnt", "-n", "-o", "TARGET", device)
	return err == nil
}

func (m *Manager) expand(template, device, mountpoint string) string {
	s := strings.ReplaceAll(template, "{device}", device)
	s = strings.ReplaceAll(s, "{mountpoint}", mountpoint)
	return strings.ReplaceAll(s, "{pool}", m.pool)
}
