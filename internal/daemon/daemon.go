package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"fleetsync/internal/backend"
	"fleetsync/internal/config"
	"fleetsync/internal/connectivity"
	"fleetsync/internal/logging"
	"fleetsync/internal/metrics"
	"fleetsync/internal/notifications"
	"fleetsync/internal/preflight"
	"fleetsync/internal/processor"
	"fleetsync/internal/queue"
)

// ErrAlreadyRunning is returned when another agent holds the daemon lock.
var ErrAlreadyRunning = errors.New("another fleetsync agent is already running")

// Daemon coordinates background syncing and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	proc     *processor.Processor
	sender   backend.Sender
	handlers processor.Handlers
	notifier notifications.Service
	metrics  *metrics.Recorder
	monitor  *connectivity.Monitor
	prober   connectivity.Prober

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}

	metricsServer *http.Server
	metricsAddr   string

	mu      sync.Mutex
	lastRun *RunSummary
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Online       bool
	Syncing      bool
	Queue        queue.HealthSummary
	Storage      string
	LastRun      *RunSummary
	LockFilePath string
	MetricsAddr  string
}

// Option customises a Daemon.
type Option func(*Daemon)

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithMetrics attaches a metrics recorder shared with the processor.
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Daemon) {
		d.metrics = r
	}
}

// WithProber overrides the connectivity probe, which defaults to the sender's Ping.
func WithProber(p connectivity.Prober) Option {
	return func(d *Daemon) {
		if p != nil {
			d.prober = p
		}
	}
}

// WithHandlers overrides the handler map, which defaults to backend.Handlers(sender).
func WithHandlers(h processor.Handlers) Option {
	return func(d *Daemon) {
		if h != nil {
			d.handlers = h
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, sender backend.Sender, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || sender == nil {
		return nil, errors.New("daemon requires config, store, and backend sender")
	}

	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		sender:   sender,
		notifier: notifications.NewService(cfg),
		prober:   sender,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.handlers == nil {
		d.handlers = backend.Handlers(sender)
	}
	d.proc = processor.NewFromConfig(store, cfg, logger, d.metrics)
	d.monitor = connectivity.NewMonitor(d.prober,
		connectivity.WithInterval(cfg.ProbeInterval()),
		connectivity.WithNetlink(cfg.Sync.WatchNetlink),
		connectivity.WithLogger(logger),
	)
	return d, nil
}

// Start acquires the daemon lock and launches background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.preflight(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	recovered, err := d.store.RecoverInterrupted(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted actions: %w", err)
	}
	if recovered > 0 {
		d.logger.Warn("recovered actions interrupted by a previous run",
			logging.Int("count", recovered),
			logging.String(logging.FieldEventType, "interrupted_recovered"),
			logging.String(logging.FieldErrorHint, "the previous agent exited mid-sync"),
			logging.String(logging.FieldImpact, "each recovered action spent one retry"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	watcher, err := newTriggerWatcher(d.cfg.TriggerPath(), d.logger, d.requestSync)
	if err != nil {
		d.logger.Warn("trigger file watcher unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "trigger_watch_failed"),
			logging.String(logging.FieldErrorHint, "check inotify limits and data_dir permissions"),
			logging.String(logging.FieldImpact, "fleetsync trigger will not wake the agent"),
		)
	}
	if err := d.startMetricsServer(); err != nil {
		cancel()
		if watcher != nil {
			_ = watcher.Close()
		}
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.monitor.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.loop(runCtx)
	}()
	if watcher != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			watcher.Run(runCtx)
		}()
	}

	d.logger.Info("fleetsync agent started",
		logging.String("lock", d.lockPath),
		logging.String("storage", d.store.Describe()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopMetricsServer()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no agent is running"),
			logging.String(logging.FieldImpact, "the next agent start may report already running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("fleetsync agent stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.sender != nil {
		errs = append(errs, d.sender.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	last := d.lastRun
	d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		Online:       d.monitor.Online(),
		Syncing:      d.proc.Syncing(),
		Queue:        d.store.Health(ctx),
		Storage:      d.store.Describe(),
		LastRun:      last,
		LockFilePath: d.lockPath,
		MetricsAddr:  d.metricsAddr,
	}
}

// MetricsAddr returns the bound metrics listener address, if any.
func (d *Daemon) MetricsAddr() string {
	return d.metricsAddr
}

func (d *Daemon) preflight(ctx context.Context) error {
	results := preflight.RunAll(ctx, d.cfg, d.sender)
	for _, r := range results {
		if r.Passed {
			d.logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("required", r.Required),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "run fleetsync doctor for details"),
			logging.String(logging.FieldImpact, impactFor(r)),
		)
	}
	if blocking := preflight.Blocking(results); len(blocking) > 0 {
		names := make([]string, 0, len(blocking))
		for _, r := range blocking {
			names = append(names, r.Name)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
	}
	return nil
}

func impactFor(r preflight.Result) string {
	if r.Required {
		return "agent will not start"
	}
	return "actions stay queued until the check passes"
}

func (d *Daemon) startMetricsServer() error {
	bind := strings.TrimSpace(d.cfg.Paths.MetricsBind)
	if bind == "" || d.metrics == nil {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	d.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	d.metricsAddr = listener.Addr().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warn("metrics server stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "metrics_server_failed"),
				logging.String(logging.FieldErrorHint, "check metrics_bind"),
				logging.String(logging.FieldImpact, "metrics unavailable until restart"),
			)
		}
	}()
	d.logger.Info("metrics server listening", logging.String("addr", d.metricsAddr))
	return nil
}

func (d *Daemon) stopMetricsServer() {
	if d.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.metricsServer.Shutdown(ctx)
	d.metricsServer = nil
}
