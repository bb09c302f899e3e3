package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fleetsync/internal/logging"
	"fleetsync/internal/processor"
	"fleetsync/internal/queue"
)

// RunSummary describes one sync run.
type RunSummary struct {
	RunID     string
	Reason    string
	StartedAt time.Time
	Duration  time.Duration
	Retried   processor.Result
	Processed processor.Result
	Cleaned   int
	// Exhausted counts actions that spent their last retry during this run.
	Exhausted int
	Err       error
}

// Total combines retry and process counts.
func (s RunSummary) Total() processor.Result {
	return s.Retried.Add(s.Processed)
}

// SyncNow runs one sync pass: retry failed actions within budget, replay
// pending actions, then prune old completed ones. Retries run first so an
// action that fails during this pass waits for the next one.
func (d *Daemon) SyncNow(ctx context.Context, reason string) (RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		Reason:    reason,
		StartedAt: time.Now(),
	}
	logger := d.logger.With(
		logging.String(logging.FieldRunID, summary.RunID),
		logging.String("reason", reason),
	)
	maxRetries := d.cfg.Queue.MaxRetries
	if maxRetries <= 0 {
		maxRetries = processor.DefaultMaxRetries
	}

	candidates := d.candidates(ctx, maxRetries)
	if len(candidates) > 0 {
		logger.Info("sync started", logging.Int("actions", len(candidates)))
		d.notify(logger, "sync started", d.notifier.NotifySyncStarted(ctx, len(candidates)))
	}

	err := d.runPasses(ctx, &summary, maxRetries)
	summary.Exhausted = d.countExhausted(ctx, candidates, maxRetries)
	summary.Duration = time.Since(summary.StartedAt)
	summary.Err = err
	d.recordRun(summary)

	if err != nil {
		return summary, err
	}

	d.metrics.MarkSynced(time.Now())
	total := summary.Total()
	if total.Processed > 0 || summary.Cleaned > 0 {
		logger.Info("sync finished",
			logging.Int("succeeded", total.Succeeded),
			logging.Int("failed", total.Failed),
			logging.Int("cleaned", summary.Cleaned),
			logging.Int("exhausted", summary.Exhausted),
			logging.Duration("elapsed", summary.Duration),
		)
	}
	d.notify(logger, "sync completed", d.notifier.NotifySyncCompleted(ctx, total.Succeeded, total.Failed, summary.Duration))
	if summary.Exhausted > 0 {
		d.notify(logger, "retries exhausted", d.notifier.NotifyRetriesExhausted(ctx, summary.Exhausted))
	}
	return summary, nil
}

func (d *Daemon) runPasses(ctx context.Context, summary *RunSummary, maxRetries int) error {
	retried, err := d.proc.Retry(ctx, d.handlers, maxRetries)
	summary.Retried = retried
	if err != nil {
		return fmt.Errorf("retry failed actions: %w", err)
	}

	processed, err := d.proc.Process(ctx, d.handlers)
	summary.Processed = processed
	if err != nil {
		return fmt.Errorf("process pending actions: %w", err)
	}

	if d.cfg.Queue.CleanupOnSync {
		cleaned, err := d.proc.Cleanup(ctx, d.cfg.CleanupAfter())
		summary.Cleaned = cleaned
		if err != nil {
			return err
		}
	}
	return nil
}

// syncAndReport runs a sync and turns failures into log lines and notifications.
func (d *Daemon) syncAndReport(ctx context.Context, reason string) {
	summary, err := d.SyncNow(ctx, reason)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logger := d.logger.With(logging.String(logging.FieldRunID, summary.RunID))
	logger.Error("sync run failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "sync_failed"),
		logging.String(logging.FieldErrorHint, "check queue storage health with fleetsync doctor"),
		logging.String(logging.FieldImpact, "remaining actions stay queued for the next run"),
	)
	d.notify(logger, "sync error", d.notifier.NotifyError(ctx, err, "sync"))
}

func (d *Daemon) hasWork(ctx context.Context) bool {
	return len(d.candidates(ctx, d.cfg.Queue.MaxRetries)) > 0
}

// candidates returns ids a sync run would attempt.
func (d *Daemon) candidates(ctx context.Context, maxRetries int) map[string]struct{} {
	if maxRetries <= 0 {
		maxRetries = processor.DefaultMaxRetries
	}
	ids := make(map[string]struct{})
	for _, action := range d.store.Queue(ctx) {
		if action.Status == queue.StatusPending || action.Retryable(maxRetries) {
			ids[action.ID] = struct{}{}
		}
	}
	return ids
}

func (d *Daemon) countExhausted(ctx context.Context, candidates map[string]struct{}, maxRetries int) int {
	if len(candidates) == 0 {
		return 0
	}
	count := 0
	for _, action := range d.store.Failed(ctx) {
		if _, ok := candidates[action.ID]; ok && !action.Retryable(maxRetries) {
			count++
		}
	}
	return count
}

func (d *Daemon) recordRun(summary RunSummary) {
	d.mu.Lock()
	d.lastRun = &summary
	d.mu.Unlock()
}

func (d *Daemon) notify(logger *slog.Logger, what string, err error) {
	if err == nil {
		return
	}
	logger.Warn("notification failed",
		logging.String("notification", what),
		logging.Error(err),
		logging.String(logging.FieldEventType, "notification_failed"),
		logging.String(logging.FieldErrorHint, "check ntfy_topic and network access"),
		logging.String(logging.FieldImpact, "sync outcome not pushed"),
	)
}
