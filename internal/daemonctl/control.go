package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"fleetsync/internal/config"
	"fleetsync/internal/daemon"
	"fleetsync/internal/daemonrun"
)

// ErrDaemonNotRunning indicates no agent holds the daemon lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ProcessState describes the agent as seen from outside its process.
type ProcessState struct {
	Running  bool
	PID      int
	LockPath string
}

// Inspect reports whether an agent currently holds the daemon lock.
func Inspect(cfg *config.Config) (ProcessState, error) {
	if cfg == nil {
		return ProcessState{}, errors.New("configuration not available")
	}
	lockPath := cfg.DaemonLockPath()
	state := ProcessState{LockPath: lockPath}
	if _, err := os.Stat(lockPath); errors.Is(err, os.ErrNotExist) {
		return state, nil
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return state, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return state, nil
	}
	state.Running = true
	state.PID, _ = ReadPID(daemonrun.PIDPath(cfg))
	return state, nil
}

// Trigger asks a running agent to sync now.
func Trigger(cfg *config.Config) error {
	state, err := Inspect(cfg)
	if err != nil {
		return err
	}
	if !state.Running {
		return ErrDaemonNotRunning
	}
	return daemon.TouchTrigger(cfg.TriggerPath())
}

// ReadPID parses the pid file written by a running agent.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", path)
	}
	return pid, nil
}

// Stop sends SIGTERM to the running agent and waits up to gracePeriod for it
// to release the daemon lock. The process is killed if it does not.
func Stop(cfg *config.Config, gracePeriod time.Duration) (forced bool, err error) {
	state, err := Inspect(cfg)
	if err != nil {
		return false, err
	}
	if !state.Running {
		return false, ErrDaemonNotRunning
	}
	if state.PID <= 0 {
		return false, fmt.Errorf("unable to determine agent pid (pid file: %s)", daemonrun.PIDPath(cfg))
	}
	if state.PID == os.Getpid() {
		return false, fmt.Errorf("refusing to signal current process (pid %d)", state.PID)
	}

	proc, err := os.FindProcess(state.PID)
	if err != nil {
		return false, fmt.Errorf("locate agent process %d: %w", state.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("signal agent process %d: %w", state.PID, err)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		current, err := Inspect(cfg)
		if err == nil && !current.Running {
			return false, nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil {
		return false, fmt.Errorf("kill agent process %d: %w", state.PID, err)
	}
	_ = os.Remove(daemonrun.PIDPath(cfg))
	return true, nil
}
