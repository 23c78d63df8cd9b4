package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storage-bench/internal/config"
)

func TestCommandMonitorLifecycle(t *testing.T) {
	outDir := t.TempDir()
	s := NewSupervisor(nil)

	specs := []config.MonitorSpec{{
		Name:       "echoer",
		Kind:       config.MonitorKindCommand,
		Command:    "echo hello; sleep 30",
		OutputFile: "out.log",
	}}

	h, err := s.Start(context.Background(), specs, outDir)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Give the shell a moment to flush the echo
	time.Sleep(200 * time.Millisecond)

	if err := s.Stop(h); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "out.log"))
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("output = %q, want it to contain hello", data)
	}
}

func TestCommandMonitorStopIsIdempotentOnHandle(t *testing.T) {
	outDir := t.TempDir()
	s := NewSupervisor(nil)

	specs := []config.MonitorSpec{{
		Name:       "sleeper",
		Kind:       config.MonitorKindCommand,
		Command:    "sleep 30",
		OutputFile: "out.log",
	}}

	h, err := s.Start(context.Background(), specs, outDir)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := s.Stop(h); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	// Second stop on the same handle finds no monitors left
	if err := s.Stop(h); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestCommandMonitorLeakDetection(t *testing.T) {
	outDir := t.TempDir()
	s := NewSupervisor(nil)
	s.stopTimeout = 200 * time.Millisecond

	// The shell ignores SIGTERM and keeps respawning children
	specs := []config.MonitorSpec{{
		Name:       "stubborn",
		Kind:       config.MonitorKindCommand,
		Command:    "trap '' TERM; while :; do sleep 0.1; done",
		OutputFile: "out.log",
	}}

	h, err := s.Start(context.Background(), specs, outDir)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	err = s.Stop(h)
	if !errors.Is(err, ErrMonitorLeak) {
		t.Fatalf("err = %v, want ErrMonitorLeak", err)
	}
}

func TestSupervisorStopsStartedMonitorsOnFailure(t *testing.T) {
	outDir := t.TempDir()
	s := NewSupervisor(nil)

	specs := []config.MonitorSpec{
		{
			Name:       "good",
			Kind:       config.MonitorKindCommand,
			Command:    "sleep 30",
			OutputFile: "good.log",
		},
		{
			Name:       "bad",
			Kind:       config.MonitorKindCommand,
			Command:    "sleep 30",
			OutputFile: "missing-dir/bad.log",
		},
	}

	h, err := s.Start(context.Background(), specs, outDir)
	if err == nil {
		s.Stop(h)
		t.Fatal("expected start failure for unwritable output path")
	}
	if h != nil {
		t.Error("handle should be nil on start failure")
	}

	// The good monitor was started, then cleaned up again
	if _, err := os.Stat(filepath.Join(outDir, "good.log")); err != nil {
		t.Errorf("good monitor never started: %v", err)
	}
}

func TestSupervisorStopNilHandle(t *testing.T) {
	s := NewSupervisor(nil)
	if err := s.Stop(nil); err != nil {
		t.Fatalf("stop of nil handle failed: %v", err)
	}
}
