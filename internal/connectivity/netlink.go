package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"fleetsync/internal/logging"
)

// netlinkListener watches network interface uevents and calls onChange so the
// monitor re-probes as soon as a link appears or disappears.
type netlinkListener struct {
	logger   *slog.Logger
	onChange func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkListener(logger *slog.Logger, onChange func()) *netlinkListener {
	return &netlinkListener{
		logger:   logging.NewComponentLogger(logger, "netlink"),
		onChange: onChange,
	}
}

// Start connects to the kernel uevent socket. Failure is logged and leaves
// the monitor on interval probing alone.
func (l *netlinkListener) Start(ctx context.Context) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		l.logger.Warn("failed to connect to netlink socket; relying on interval probes",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the agent may open netlink sockets"),
			logging.String(logging.FieldImpact, "link changes are noticed on the next probe tick"),
		)
		return
	}

	l.conn = conn
	l.quit = make(chan struct{})
	l.running = true

	quit := l.quit
	go l.loop(ctx, conn, quit)

	l.logger.Debug("netlink listener started", logging.String(logging.FieldEventType, "netlink_started"))
}

// Stop closes the socket and ends the listen loop.
func (l *netlinkListener) Stop() {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	close(l.quit)
	l.quit = nil
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.running = false
}

// Running reports whether the listener is active.
func (l *netlinkListener) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *netlinkListener) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			l.handleEvent(uevent)
		case err := <-errs:
			l.logger.Warn("netlink listener error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "link changes may be missed until the next probe"),
			)
		}
	}
}

// buildMatcher matches network interface lifecycle events.
func buildMatcher() netlink.Matcher {
	action := "add|remove|change|move|online|offline"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^net$",
		},
	})
	return rules
}

func (l *netlinkListener) handleEvent(uevent netlink.UEvent) {
	iface := uevent.Env["INTERFACE"]
	if iface == "lo" {
		return
	}
	l.logger.Debug("network interface event",
		logging.String("interface", iface),
		logging.String("action", string(uevent.Action)),
	)
	if l.onChange != nil {
		l.onChange()
	}
}
