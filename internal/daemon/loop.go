package daemon

import (
	"context"
	"time"

	"fleetsync/internal/logging"
)

// loop reacts to connectivity transitions, trigger requests, and the
// periodic interval. Syncs run on this goroutine one at a time.
func (d *Daemon) loop(ctx context.Context) {
	interval := d.cfg.SyncInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := d.monitor.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.metrics.SetOnline(ev.Online)
			if ev.Online {
				d.syncAndReport(ctx, "online")
			}
		case <-d.trigger:
			if !d.monitor.Online() {
				d.logger.Info("sync requested while offline; probing backend",
					logging.String(logging.FieldEventType, "trigger_offline"),
				)
				d.monitor.Kick()
				continue
			}
			d.syncAndReport(ctx, "trigger")
		case <-ticker.C:
			if d.monitor.Online() && d.hasWork(ctx) {
				d.syncAndReport(ctx, "interval")
			}
		}
	}
}

// requestSync asks the loop for a sync. Requests coalesce while one is queued.
func (d *Daemon) requestSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}
