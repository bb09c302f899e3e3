package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetsync/internal/logging"
)

const (
	defaultInterval = 10 * time.Second
	probeTimeout    = 5 * time.Second
)

// Prober reports whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function into a Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// Event is emitted when reachability changes.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor periodically probes the backend.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
	netlink  bool
	now      func() time.Time

	events chan Event
	kick   chan struct{}

	mu      sync.RWMutex
	known   bool
	online  bool
	lastErr error
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNetlink enables the network interface uevent listener.
func WithNetlink(enabled bool) Option {
	return func(m *Monitor) {
		m.netlink = enabled
	}
}

// NewMonitor constructs a Monitor around prober.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: defaultInterval,
		logger:   logging.NewNop(),
		now:      time.Now,
		events:   make(chan Event, 4),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "connectivity")
	return m
}

// Events delivers reachability transitions. The first probe always emits.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Online reports the result of the most recent probe.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// LastError returns the error from the most recent failed probe.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Kick requests an immediate probe. It never blocks.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run probes until ctx is cancelled, then closes the events channel.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.events)

	if m.netlink {
		listener := newNetlinkListener(m.logger, m.Kick)
		listener.Start(ctx)
		defer listener.Stop()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		case <-m.kick:
			m.probe(ctx)
		}
	}
}

// Probe runs a single check and returns the resulting state.
func (m *Monitor) Probe(ctx context.Context) bool {
	return m.probe(ctx)
}

func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.prober.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return m.Online()
	}
	online := err == nil

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.lastErr = err
	m.mu.Unlock()

	if !changed {
		return online
	}
	if online {
		m.logger.Info("backend reachable", logging.String(logging.FieldEventType, "backend_online"))
	} else {
		m.logger.Info("backend unreachable; actions will queue",
			logging.String(logging.FieldEventType, "backend_offline"),
			logging.Error(err),
		)
	}
	select {
	case m.events <- Event{Online: online, At: m.now()}:
	case <-ctx.Done():
	}
	return online
}
