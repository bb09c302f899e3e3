package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"fleetsync/internal/backend"
	"fleetsync/internal/config"
	"fleetsync/internal/daemon"
	"fleetsync/internal/logging"
	"fleetsync/internal/metrics"
	"fleetsync/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the fleetsync agent and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open queue store",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_open_failed"),
			logging.String(logging.FieldErrorHint, "check queue.backend and data_dir permissions"),
		)
		return err
	}

	sender, err := backend.New(cfg)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create backend sender: %w", err)
	}

	recorder := metrics.New()
	d, err := daemon.New(cfg, store, sender, logger, daemon.WithMetrics(recorder))
	if err != nil {
		_ = sender.Close()
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("storage", store.Describe()),
		logging.String("transport", cfg.Backend.Transport),
		logging.Int("max_retries", cfg.Queue.MaxRetries),
		logging.Duration("cleanup_after", cfg.CleanupAfter()),
		logging.Bool("netlink", cfg.Sync.WatchNetlink),
		logging.Bool("notifications", cfg.Notifications.NtfyTopic != ""),
	)

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "run fleetsync doctor"),
			logging.String(logging.FieldImpact, "queued actions will not sync"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("fleetsync agent shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// PIDPath is where a running agent records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "fleetsyncd.pid")
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
