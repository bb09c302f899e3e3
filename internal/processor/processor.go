package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"fleetsync/internal/config"
	"fleetsync/internal/logging"
	"fleetsync/internal/metrics"
	"fleetsync/internal/queue"
)

const (
	// DefaultMaxRetries is the retry budget used when none is given.
	DefaultMaxRetries = 3
	// DefaultCleanupAge is how long completed actions are kept by default.
	DefaultCleanupAge = 24 * time.Hour

	lockRetryDelay = 100 * time.Millisecond
)

// ErrNoHandler marks actions whose type has no registered handler.
var ErrNoHandler = errors.New("no handler")

// Handler performs the side effect for one action payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Handlers maps action types to their handler.
type Handlers map[string]Handler

// Result summarizes a batch.
type Result struct {
	Processed int
	Succeeded int
	Failed    int
}

// Add accumulates another batch's counts.
func (r Result) Add(other Result) Result {
	return Result{
		Processed: r.Processed + other.Processed,
		Succeeded: r.Succeeded + other.Succeeded,
		Failed:    r.Failed + other.Failed,
	}
}

// Processor drives queued actions through their handlers.
type Processor struct {
	store          *queue.Store
	logger         *slog.Logger
	metrics        *metrics.Recorder
	lock           *flock.Flock
	handlerTimeout time.Duration
	now            func() time.Time

	mu      sync.Mutex
	syncing atomic.Bool
}

// New constructs a Processor over store.
func New(store *queue.Store, opts ...Option) *Processor {
	p := &Processor{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "processor")
	return p
}

// NewFromConfig applies the queue settings from cfg.
func NewFromConfig(store *queue.Store, cfg *config.Config, logger *slog.Logger, recorder *metrics.Recorder) *Processor {
	opts := []Option{
		WithLogger(logger),
		WithMetrics(recorder),
		WithHandlerTimeout(cfg.HandlerTimeout()),
	}
	if cfg.Queue.LockProcessing {
		opts = append(opts, WithLockFile(cfg.ProcessingLockPath()))
	}
	return New(store, opts...)
}

// Syncing reports whether a batch is currently running.
func (p *Processor) Syncing() bool {
	return p.syncing.Load()
}

// Process attempts every action that was pending when the call started.
func (p *Processor) Process(ctx context.Context, handlers Handlers) (Result, error) {
	return p.run(ctx, "process", handlers, func() []queue.Action {
		return p.store.Pending(ctx)
	})
}

// Retry re-attempts failed actions whose retry count is below maxRetries.
// A non-positive maxRetries selects DefaultMaxRetries.
func (p *Processor) Retry(ctx context.Context, handlers Handlers, maxRetries int) (Result, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return p.run(ctx, "retry", handlers, func() []queue.Action {
		var eligible []queue.Action
		for _, action := range p.store.Failed(ctx) {
			if action.Retryable(maxRetries) {
				eligible = append(eligible, action)
			}
		}
		return eligible
	})
}

// Cleanup removes completed actions created strictly before now minus
// olderThan. A non-positive olderThan selects DefaultCleanupAge.
func (p *Processor) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultCleanupAge
	}
	unlock, err := p.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cutoff := p.now().Add(-olderThan)
	removed, err := p.store.RemoveCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	p.metrics.ObserveCleanup(removed)
	p.metrics.SetQueueDepth(p.store.Health(ctx))
	if removed > 0 {
		p.logger.Info("removed completed actions",
			logging.Int("removed", removed),
			logging.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
		)
	}
	return removed, nil
}

func (p *Processor) run(ctx context.Context, kind string, handlers Handlers, snapshot func() []queue.Action) (Result, error) {
	unlock, err := p.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	p.syncing.Store(true)
	defer p.syncing.Store(false)

	actions := snapshot()
	p.metrics.ObserveBatch(kind)
	logger := p.logger.With(logging.String("batch", kind))
	if len(actions) > 0 {
		logger.Info("batch started", logging.Int("actions", len(actions)))
	}

	var result Result
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			logger.Info("batch cancelled",
				logging.Int("processed", result.Processed),
				logging.Int("remaining", len(actions)-result.Processed),
			)
			return result, err
		}
		ok, err := p.handle(ctx, logger, handlers, action)
		result.Processed++
		if err != nil {
			return result, err
		}
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	p.metrics.SetQueueDepth(p.store.Health(ctx))
	if result.Processed > 0 {
		logger.Info("batch finished",
			logging.Int("processed", result.Processed),
			logging.Int("succeeded", result.Succeeded),
			logging.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// handle drives one action to a terminal outcome for this batch. The returned
// error is reserved for storage failures.
func (p *Processor) handle(ctx context.Context, logger *slog.Logger, handlers Handlers, action queue.Action) (bool, error) {
	logger = logger.With(
		logging.String(logging.FieldActionID, action.ID),
		logging.String(logging.FieldActionType, action.Type),
	)
	if err := p.setStatus(ctx, logger, action.ID, queue.StatusProcessing, ""); err != nil {
		return false, err
	}

	started := p.now()
	handler, found := handlers[action.Type]
	var handlerErr error
	if !found {
		handlerErr = fmt.Errorf("%w for type %q", ErrNoHandler, action.Type)
	} else {
		handlerErr = p.invoke(ctx, handler, action.Payload)
	}
	elapsed := p.now().Sub(started)

	if handlerErr == nil {
		p.metrics.ObserveAction(action.Type, metrics.OutcomeSucceeded, elapsed)
		logger.Debug("action completed", logging.Duration("elapsed", elapsed))
		return true, p.setStatus(ctx, logger, action.ID, queue.StatusCompleted, "")
	}

	outcome := metrics.OutcomeFailed
	if errors.Is(handlerErr, ErrNoHandler) {
		outcome = metrics.OutcomeNoHandler
	}
	p.metrics.ObserveAction(action.Type, outcome, elapsed)
	logger.Warn("action failed",
		logging.String(logging.FieldEventType, "action_failed"),
		logging.String(logging.FieldErrorHint, "the action stays queued for retry until its budget is spent"),
		logging.Int("retry_count", action.RetryCount+1),
		logging.Error(handlerErr),
	)
	return false, p.setStatus(ctx, logger, action.ID, queue.StatusFailed, handlerErr.Error())
}

// invoke runs handler, converting panics into errors. A handler timeout
// cancels the handler's context and still waits for it to return, so at most
// one handler is ever running. A handler that finished successfully despite
// the deadline counts as a success.
func (p *Processor) invoke(ctx context.Context, handler Handler, payload json.RawMessage) error {
	if p.handlerTimeout <= 0 {
		return safeCall(ctx, handler, payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(callCtx, handler, payload)
	}()
	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
	}

	cancel()
	if err := <-done; err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("handler timed out after %s", p.handlerTimeout)
	}
	return callCtx.Err()
}

func safeCall(ctx context.Context, handler Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// setStatus persists a transition. Storage writes use a context detached from
// cancellation so an in-flight action is never left in processing because
// the caller gave up mid-handler.
func (p *Processor) setStatus(ctx context.Context, logger *slog.Logger, id string, status queue.Status, errMsg string) error {
	ok, err := p.store.UpdateStatus(context.WithoutCancel(ctx), id, status, errMsg)
	if err != nil {
		return fmt.Errorf("mark action %s %s: %w", id, status, err)
	}
	if !ok {
		logger.Debug("action removed during processing", logging.String("status", string(status)))
	}
	return nil
}

func (p *Processor) acquire(ctx context.Context) (func(), error) {
	p.mu.Lock()
	if p.lock == nil {
		return p.mu.Unlock, nil
	}
	locked, err := p.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		p.mu.Unlock()
		if err == nil {
			err = errors.New("processing lock not acquired")
		}
		return nil, fmt.Errorf("acquire processing lock: %w", err)
	}
	return func() {
		_ = p.lock.Unlock()
		p.mu.Unlock()
	}, nil
}
