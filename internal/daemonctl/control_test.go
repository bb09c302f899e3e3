package daemonctl_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gofrs/flock"

	"fleetsync/internal/daemonctl"
	"fleetsync/internal/daemonrun"
	"fleetsync/internal/testsupport"
)

func TestInspectWithoutLockFile(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryBackend())
	state, err := daemonctl.Inspect(cfg)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if state.Running {
		t.Fatal("expected agent to be reported as stopped")
	}
}

func TestInspectDetectsHeldLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryBackend())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(cfg.DaemonLockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })
	if err := os.WriteFile(daemonrun.PIDPath(cfg), []byte(strconv.Itoa(4242)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	state, err := daemonctl.Inspect(cfg)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !state.Running || state.PID != 4242 {
		t.Fatalf("unexpected state: %#v", state)
	}

	if err := daemonctl.Trigger(cfg); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if _, err := os.Stat(cfg.TriggerPath()); err != nil {
		t.Fatalf("expected trigger file: %v", err)
	}
}

func TestTriggerRequiresRunningAgent(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryBackend())
	if err := daemonctl.Trigger(cfg); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if _, err := daemonctl.Stop(cfg, 0); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning from Stop, got %v", err)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for invalid pid file")
	}
}
