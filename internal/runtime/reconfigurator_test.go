package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storage-bench/internal/config"
)

type fakeRunner struct {
	calls []string
	fail  map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmd)
	if err, ok := f.fail[cmd]; ok {
		return "", err
	}
	return "", nil
}

// fakePinger succeeds after a configured number of failures.
type fakePinger struct {
	failures int
	pings    int
}

func (p *fakePinger) Ping(_ context.Context) error {
	p.pings++
	if p.pings <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func newTestReconfigurator(runner *fakeRunner, pinger Pinger, configFile string) *Reconfigurator {
	return NewWithDeps(runner, pinger, configFile, "docker", 3, time.Millisecond)
}

func TestStopHaltsServiceAndSocket(t *testing.T) {
	runner := &fakeRunner{}
	r := newTestReconfigurator(runner, &fakePinger{}, filepath.Join(t.TempDir(), "daemon.json"))

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	want := []string{"systemctl stop docker.socket", "systemctl stop docker"}
	if len(runner.calls) != 2 || runner.calls[0] != want[0] || runner.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
}

func TestApplyDriverRequiresStoppedRuntime(t *testing.T) {
	r := newTestReconfigurator(&fakeRunner{}, &fakePinger{}, filepath.Join(t.TempDir(), "daemon.json"))

	fs := config.FilesystemSpec{Name: "btrfs", StorageDriver: "btrfs"}
	if err := r.ApplyDriver(fs, "/mnt/bench/docker"); err == nil {
		t.Fatal("expected error when applying driver to a running runtime")
	}
}

func TestApplyDriverWritesDaemonConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "docker", "daemon.json")
	r := newTestReconfigurator(&fakeRunner{}, &fakePinger{}, configFile)

	if err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	fs := config.FilesystemSpec{Name: "ext4", StorageDriver: "overlay2"}
	if err := r.ApplyDriver(fs, "/mnt/bench/docker"); err != nil {
		t.Fatalf("apply driver failed: %v", err)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatalf("daemon config not written: %v", err)
	}

	var written map[string]string
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("daemon config is not valid JSON: %v", err)
	}
	if written["storage-driver"] != "overlay2" {
		t.Errorf("storage-driver = %q, want overlay2", written["storage-driver"])
	}
	if written["data-root"] != "/mnt/bench/docker" {
		t.Errorf("data-root = %q, want /mnt/bench/docker", written["data-root"])
	}
}

func TestWaitHealthyRecovers(t *testing.T) {
	pinger := &fakePinger{failures: 2}
	r := newTestReconfigurator(&fakeRunner{}, pinger, filepath.Join(t.TempDir(), "daemon.json"))

	if err := r.WaitHealthy(context.Background()); err != nil {
		t.Fatalf("expected recovery on third attempt, got %v", err)
	}
	if pinger.pings != 3 {
		t.Errorf("pings = %d, want 3", pinger.pings)
	}
}

func TestWaitHealthyExhaustsAttempts(t *testing.T) {
	pinger := &fakePinger{failures: 100}
	r := newTestReconfigurator(&fakeRunner{}, pinger, filepath.Join(t.TempDir(), "daemon.json"))

	err := r.WaitHealthy(context.Background())
	if !errors.Is(err, ErrRuntimeUnhealthy) {
		t.Fatalf("err = %v, want ErrRuntimeUnhealthy", err)
	}
	if pinger.pings != 3 {
		t.Errorf("pings = %d, want bounded at 3", pinger.pings)
	}
}

func TestWaitHealthyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pinger := &fakePinger{failures: 100}
	r := newTestReconfigurator(&fakeRunner{}, pinger, filepath.Join(t.TempDir(), "daemon.json"))

	err := r.WaitHealthy(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
