package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"storage-bench/internal/config"
)

type scriptedResponse struct {
	out string
	err error
}

// fakeRunner records every command and answers from a script. Unscripted
// commands succeed with empty output.
type fakeRunner struct {
	calls     []string
	responses map[string]scriptedResponse
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]scriptedResponse)}
}

func (f *fakeRunner) script(cmd, out string, err error) {
	f.responses[cmd] = scriptedResponse{out: out, err: err}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmd)
	if r, ok := f.responses[cmd]; ok {
		return r.out, r.err
	}
	return "", nil
}

func (f *fakeRunner) called(cmd string) int {
	n := 0
	for _, c := range f.calls {
		if c == cmd {
			n++
		}
	}
	return n
}

const device = "/dev/sdb"

func TestCleanupIdempotent(t *testing.T) {
	runner := newFakeRunner()
	// Device is not mounted and no pool exists
	runner.script("findmnt -n -o TARGET "+device, "", errors.New("exit 1"))
	runner.script("zpool list -H -o name", "", nil)

	m := NewManagerWithRunner(runner, "benchpool", "/mnt/bench")

	for i := 0; i < 2; i++ {
		if err := m.Cleanup(context.Background(), device); err != nil {
			t.Fatalf("cleanup %d failed: %v", i+1, err)
		}
	}

	if got := runner.called("wipefs -a " + device); got != 2 {
		t.Errorf("wipefs called %d times, want 2", got)
	}
	if got := runner.called("umount " + device); got != 0 {
		t.Errorf("umount called %d times on an unmounted device", got)
	}
}

func TestCleanupUnmountsMountedDevice(t *testing.T) {
	runner := newFakeRunner()
	runner.script("findmnt -n -o TARGET "+device, "/mnt/bench", nil)

	m := NewManagerWithRunner(runner, "benchpool", "/mnt/bench")
	if err := m.Cleanup(context.Background(), device); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	if runner.called("umount "+device) != 1 {
		t.Error("expected one umount call")
	}
}

func TestCleanupBusyDevice(t *testing.T) {
	runner := newFakeRunner()
	runner.script("findmnt -n -o TARGET "+device, "/mnt/bench", nil)
	runner.script("umount "+device, "umount: /mnt/bench: target is busy", errors.New("exit 32"))

	m := NewManagerWithRunner(runner, "benchpool", "/mnt/bench")
	err := m.Cleanup(context.Background(), device)
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("err = %v, want ErrDeviceBusy", err)
	}
}

func TestCleanupDestroysExistingPool(t *testing.T) {
	runner := newFakeRunner()
	runner.script("findmnt -n -o TARGET "+device, "", errors.New("exit 1"))
	runner.script("zpool list -H -o name", "benchpool\nrpool\n", nil)

	m := NewManagerWithRunner(runner, "benchpool", "/mnt/bench")
	if err := m.Cleanup(context.Background(), device); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	if runner.called("zpool destroy -f benchpool") != 1 {
		t.Error("expected pool to be destroyed")
	}
}

func TestFormatRefusesMountedDevice(t *testing.T) {
	runner := newFakeRunner()
	runner.script("findmnt -n -o TARGET "+device, "/mnt/bench", nil)

	m := NewManagerWithRunner(runner, "benchpool", "/mnt/bench")
	fs := config.FilesystemSpec{Name: "ext4", FormatCommand: "mkfs.ext4 -F {device}"}

	err := m.Format(context.Background(), device, fs)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err = %v, want ErrPreconditionFailed", err)
	}
}

func TestFormatExpandsTemplate(t *testing.T) {
	runner := newFakeRunner()
	runner.script("findmnt -n -o TARGET "+device, "", errors.New("exit 1"))

	m := NewManagerWithRunner(runner, "tank", "/mnt/bench")
	fs := config.FilesystemSpec{
		Name:          "zfs",
		FormatCommand: "zpool create -f -m {mountpoint} {pool} {device}",
	}

	if err := m.Format(context.Background(), device, fs); err != nil {
		t.Fatalf("format failed: %v", err)
	}

	want := "sh -c zpool create -f -m /mnt/bench tank /dev/sdb"
	if runner.called(want) != 1 {
		t.Errorf("expected %q in calls %v", want, runner.calls)
	}
}

func TestMountVerifiesFilesystemType(t *testing.T) {
	runner := newFakeRunner()
	mountpoint := t.TempDir()
	runner.script(fmt.Sprintf("findmnt -n -o FSTYPE %s", mountpoint), "ext4\n", nil)

	m := NewManagerWithRunner(runner, "benchpool", mountpoint)
	fs := config.FilesystemSpec{Name: "ext4", FormatCommand: "mkfs.ext4 -F {device}"}

	if err := m.Mount(context.Background(), device, fs, mountpoint); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if runner.called(fmt.Sprintf("mount %s %s", device, mountpoint)) != 1 {
		t.Error("expected plain mount call")
	}
}

func TestMountTypeMismatch(t *testing.T) {
	runner := newFakeRunner()
	mountpoint := t.TempDir()
	runner.script(fmt.Sprintf("findmnt -n -o FSTYPE %s", mountpoint), "xfs\n", nil)

	m := NewManagerWithRunner(runner, "benchpool", mountpoint)
	fs := config.FilesystemSpec{Name: "ext4", FormatCommand: "mkfs.ext4 -F {device}"}

	err := m.Mount(context.Background(), device, fs, mountpoint)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestMountSkipsSelfMountingFilesystem(t *testing.T) {
	runner := newFakeRunner()
	mountpoint := t.TempDir()
	runner.script(fmt.Sprintf("findmnt -n -o FSTYPE %s", mountpoint), "zfs\n", nil)

	m := NewManagerWithRunner(runner, "tank", mountpoint)
	fs := config.FilesystemSpec{
		Name:          "zfs",
		FormatCommand: "zpool create -f -m {mountpoint} {pool} {device}",
		SkipMount:     true,
	}

	if err := m.Mount(context.Background(), device, fs, mountpoint); err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	for _, call := range runner.calls {
		if strings.HasPrefix(call, "mount ") {
			t.Errorf("unexpected mount call %q for skip_mount filesystem", call)
		}
	}
}

func TestMountWithOptions(t *testing.T) {
	runner := newFakeRunner()
	mountpoint := t.TempDir()
	runner.script(fmt.Sprintf("findmnt -n -o FSTYPE %s", mountpoint), "btrfs\n", nil)

	m := NewManagerWithRunner(runner, "benchpool", mountpoint)
	fs := config.FilesystemSpec{
		Name:          "btrfs",
		FormatCommand: "mkfs.btrfs -f {device}",
		MountOptions:  "compress=zstd",
	}

	if err := m.Mount(context.Background(), device, fs, mountpoint); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	want := fmt.Sprintf("mount -o compress=zstd %s %s", device, mountpoint)
	if runner.called(want) != 1 {
		t.Errorf("expected %q in calls %v", want, runner.calls)
	}
}
