package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"fleetsync/internal/logging"
)

// TouchTrigger writes the current time to the trigger file, waking a running agent.
func TouchTrigger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trigger directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(path, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write trigger file: %w", err)
	}
	return nil
}

// triggerWatcher watches the trigger file's directory. Watching the directory
// rather than the file survives editors and tools that replace the file.
type triggerWatcher struct {
	watcher   *fsnotify.Watcher
	path      string
	logger    *slog.Logger
	onTrigger func()
}

func newTriggerWatcher(path string, logger *slog.Logger, onTrigger func()) (*triggerWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &triggerWatcher{
		watcher:   watcher,
		path:      filepath.Clean(path),
		logger:    logger,
		onTrigger: onTrigger,
	}, nil
}

// Run forwards trigger file writes until ctx is cancelled.
func (w *triggerWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.logger.Debug("sync trigger received", logging.String("op", ev.Op.String()))
				w.onTrigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("trigger watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "trigger_watch_error"),
				logging.String(logging.FieldErrorHint, "check inotify limits"),
				logging.String(logging.FieldImpact, "trigger requests may be missed"),
			)
		}
	}
}

// Close releases the watcher without running.
func (w *triggerWatcher) Close() error {
	return w.watcher.Close()
}
