package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/kvstore"
	"fleetsync/internal/processor"
	"fleetsync/internal/queue"
	"fleetsync/internal/testsupport"
)

var baseTime = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

type harness struct {
	store *queue.Store
	proc  *processor.Processor
	clock *testsupport.Clock
}

func newHarness(t *testing.T, opts ...processor.Option) harness {
	t.Helper()
	clock := testsupport.NewClock(baseTime)
	store := queue.NewStore(kvstore.NewMemory(), queue.WithClock(clock.Now))
	t.Cleanup(func() { store.Close() })
	opts = append([]processor.Option{processor.WithClock(clock.Now)}, opts...)
	return harness{store: store, proc: processor.New(store, opts...), clock: clock}
}

func (h harness) action(t *testing.T, id string) queue.Action {
	t.Helper()
	action, ok := h.store.Get(context.Background(), id)
	require.True(t, ok, "action %s missing", id)
	return action
}

func succeed(context.Context, json.RawMessage) error { return nil }

func TestProcessCompletesSuccessfulAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "save-inspection", map[string]string{"vehicleId": "V-1"})

	var got json.RawMessage
	result, err := h.proc.Process(ctx, processor.Handlers{
		"save-inspection": func(_ context.Context, payload json.RawMessage) error {
			got = payload
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 1, Succeeded: 1}, result)
	assert.JSONEq(t, `{"vehicleId":"V-1"}`, string(got))

	action := h.action(t, id)
	assert.Equal(t, queue.StatusCompleted, action.Status)
	assert.Equal(t, 0, action.RetryCount)
	assert.Empty(t, h.store.Pending(ctx))
}

func TestProcessFailureThenRetrySucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "upload-photo", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{
		"upload-photo": func(context.Context, json.RawMessage) error { return errors.New("timeout") },
	})
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 1, Failed: 1}, result)

	action := h.action(t, id)
	assert.Equal(t, queue.StatusFailed, action.Status)
	assert.Equal(t, 1, action.RetryCount)
	assert.Equal(t, "timeout", action.Error)

	result, err = h.proc.Retry(ctx, processor.Handlers{"upload-photo": succeed}, 3)
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 1, Succeeded: 1}, result)

	action = h.action(t, id)
	assert.Equal(t, queue.StatusCompleted, action.Status)
	assert.Equal(t, 1, action.RetryCount)
}

func TestProcessMissingHandlerFailsAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "unknown-type", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{})
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 1, Failed: 1}, result)

	action := h.action(t, id)
	assert.Equal(t, queue.StatusFailed, action.Status)
	assert.Equal(t, 1, action.RetryCount)
	assert.Equal(t, `no handler for type "unknown-type"`, action.Error)
}

func TestRetryStopsAtBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "save-perception", nil)

	var calls atomic.Int32
	failing := processor.Handlers{
		"save-perception": func(context.Context, json.RawMessage) error {
			calls.Add(1)
			return errors.New("backend unavailable")
		},
	}

	_, err := h.proc.Process(ctx, failing)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		result, err := h.proc.Retry(ctx, failing, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)
	}
	assert.Equal(t, 3, h.action(t, id).RetryCount)

	result, err := h.proc.Retry(ctx, failing, 3)
	require.NoError(t, err)
	assert.Equal(t, processor.Result{}, result)
	assert.EqualValues(t, 3, calls.Load())

	action := h.action(t, id)
	assert.Equal(t, queue.StatusFailed, action.Status)
	assert.Equal(t, 3, action.RetryCount)
}

func TestRetryDefaultsBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "a", nil)
	for j := 0; j < 3; j++ {
		testsupport.MustUpdateStatus(t, h.store, id, queue.StatusFailed, "x")
	}

	result, err := h.proc.Retry(ctx, processor.Handlers{"a": succeed}, 0)
	require.NoError(t, err)
	assert.Zero(t, result.Processed, "retryCount 3 is outside the default budget of 3")
}

func TestRetryIgnoresPendingAndCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := testsupport.MustEnqueue(t, h.store, "a", nil)
	done := testsupport.MustEnqueue(t, h.store, "a", nil)
	testsupport.MustUpdateStatus(t, h.store, done, queue.StatusCompleted, "")

	result, err := h.proc.Retry(ctx, processor.Handlers{"a": succeed}, 3)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Equal(t, queue.StatusPending, h.action(t, pending).Status)
}

func TestProcessPreservesQueueOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	types := []string{"save-inspection", "upload-photo", "save-inspection", "acknowledge-alert"}
	var ids []string
	for _, actionType := range types {
		ids = append(ids, testsupport.MustEnqueue(t, h.store, actionType, nil))
	}

	var order []string
	record := func(actionType string) processor.Handler {
		return func(context.Context, json.RawMessage) error {
			order = append(order, actionType)
			return nil
		}
	}
	handlers := processor.Handlers{}
	for _, actionType := range types {
		handlers[actionType] = record(actionType)
	}

	_, err := h.proc.Process(ctx, handlers)
	require.NoError(t, err)
	assert.Equal(t, types, order)
	for _, id := range ids {
		assert.Equal(t, queue.StatusCompleted, h.action(t, id).Status)
	}
}

func TestProcessIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := testsupport.MustEnqueue(t, h.store, "ok", nil)
	middle := testsupport.MustEnqueue(t, h.store, "bad", nil)
	last := testsupport.MustEnqueue(t, h.store, "ok", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{
		"ok":  succeed,
		"bad": func(context.Context, json.RawMessage) error { return errors.New("rejected") },
	})
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 3, Succeeded: 2, Failed: 1}, result)
	assert.Equal(t, queue.StatusCompleted, h.action(t, first).Status)
	assert.Equal(t, queue.StatusFailed, h.action(t, middle).Status)
	assert.Equal(t, queue.StatusCompleted, h.action(t, last).Status)
}

func TestProcessUsesSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, h.store, "spawn", nil)

	var spawned string
	result, err := h.proc.Process(ctx, processor.Handlers{
		"spawn": func(ctx context.Context, _ json.RawMessage) error {
			id, err := h.store.Enqueue(ctx, "spawn", nil)
			spawned = id
			return err
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, queue.StatusPending, h.action(t, spawned).Status)
}

func TestProcessRecoversHandlerPanic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "boom", nil)
	next := testsupport.MustEnqueue(t, h.store, "ok", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{
		"boom": func(context.Context, json.RawMessage) error { panic("nil payload") },
		"ok":   succeed,
	})
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 2, Succeeded: 1, Failed: 1}, result)

	action := h.action(t, id)
	assert.Equal(t, queue.StatusFailed, action.Status)
	assert.Equal(t, "handler panicked: nil payload", action.Error)
	assert.Equal(t, queue.StatusCompleted, h.action(t, next).Status)
}

func TestProcessHandlerTimeout(t *testing.T) {
	h := newHarness(t, processor.WithHandlerTimeout(20*time.Millisecond))
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "hang", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{
		"hang": func(ctx context.Context, _ json.RawMessage) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	action := h.action(t, id)
	assert.Equal(t, queue.StatusFailed, action.Status)
	assert.Equal(t, 1, action.RetryCount)
	assert.Contains(t, action.Error, "timed out")
}

func TestHandlerTimeoutKeepsOneActionInFlight(t *testing.T) {
	h := newHarness(t, processor.WithHandlerTimeout(20*time.Millisecond))
	ctx := context.Background()
	slow := testsupport.MustEnqueue(t, h.store, "slow", nil)
	fast := testsupport.MustEnqueue(t, h.store, "fast", nil)

	var inFlight, maxInFlight atomic.Int32
	track := func(d time.Duration) processor.Handler {
		return func(context.Context, json.RawMessage) error {
			current := inFlight.Add(1)
			for {
				seen := maxInFlight.Load()
				if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(d)
			inFlight.Add(-1)
			return nil
		}
	}

	result, err := h.proc.Process(ctx, processor.Handlers{
		"slow": track(100 * time.Millisecond),
		"fast": track(50 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)

	// A handler that ignores its deadline but succeeds is not charged a retry.
	action := h.action(t, slow)
	assert.Equal(t, queue.StatusCompleted, action.Status)
	assert.Equal(t, 0, action.RetryCount)
	assert.Equal(t, queue.StatusCompleted, h.action(t, fast).Status)
}

func TestProcessToleratesActionRemovedMidRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, h.store, "self-remove", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{
		"self-remove": func(ctx context.Context, _ json.RawMessage) error {
			_, err := h.store.Remove(ctx, id)
			return err
		},
	})
	require.NoError(t, err)
	assert.Equal(t, processor.Result{Processed: 1, Succeeded: 1}, result)
	_, ok := h.store.Get(ctx, id)
	assert.False(t, ok)
}

func TestProcessStopsOnCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := testsupport.MustEnqueue(t, h.store, "a", nil)
	second := testsupport.MustEnqueue(t, h.store, "a", nil)

	result, err := h.proc.Process(ctx, processor.Handlers{
		"a": func(context.Context, json.RawMessage) error {
			cancel()
			return nil
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, processor.Result{Processed: 1, Succeeded: 1}, result)
	assert.Equal(t, queue.StatusCompleted, h.action(t, first).Status)
	assert.Equal(t, queue.StatusPending, h.action(t, second).Status)
}

func TestProcessSurfacesWriteFailure(t *testing.T) {
	backend := testsupport.NewFlakyBackend()
	store := queue.NewStore(backend)
	proc := processor.New(store)
	testsupport.MustEnqueue(t, store, "a", nil)
	backend.FailWrites(true)

	_, err := proc.Process(context.Background(), processor.Handlers{"a": succeed})
	require.ErrorIs(t, err, testsupport.ErrInjected)
}

func TestSyncingFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, h.store, "a", nil)

	var during bool
	_, err := h.proc.Process(ctx, processor.Handlers{
		"a": func(context.Context, json.RawMessage) error {
			during = h.proc.Syncing()
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, during)
	assert.False(t, h.proc.Syncing())
}

func TestConcurrentBatchesSerialize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 6
	for j := 0; j < n; j++ {
		testsupport.MustEnqueue(t, h.store, "a", nil)
	}

	var inFlight, maxInFlight, calls atomic.Int32
	handlers := processor.Handlers{
		"a": func(context.Context, json.RawMessage) error {
			current := inFlight.Add(1)
			for {
				seen := maxInFlight.Load()
				if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			calls.Add(1)
			return nil
		},
	}

	var wg sync.WaitGroup
	results := make([]processor.Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.proc.Process(ctx, handlers)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.EqualValues(t, n, calls.Load())
	assert.Equal(t, n, results[0].Add(results[1]).Processed)
}

func TestLockFileBlocksOtherHolders(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "processing.lock")
	h := newHarness(t, processor.WithLockFile(lockPath))
	testsupport.MustEnqueue(t, h.store, "a", nil)

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = h.proc.Process(ctx, processor.Handlers{"a": succeed})
	require.Error(t, err)
	assert.Len(t, h.store.Pending(context.Background()), 1)

	require.NoError(t, other.Unlock())
	result, err := h.proc.Process(context.Background(), processor.Handlers{"a": succeed})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
}

func TestCleanupRemovesOldCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.clock.Set(baseTime.Add(-25 * time.Hour))
	old := testsupport.MustEnqueue(t, h.store, "a", nil)
	h.clock.Set(baseTime.Add(-1 * time.Hour))
	recent := testsupport.MustEnqueue(t, h.store, "a", nil)
	h.clock.Set(baseTime.Add(-48 * time.Hour))
	oldFailed := testsupport.MustEnqueue(t, h.store, "a", nil)
	h.clock.Set(baseTime)

	testsupport.MustUpdateStatus(t, h.store, old, queue.StatusCompleted, "")
	testsupport.MustUpdateStatus(t, h.store, recent, queue.StatusCompleted, "")
	testsupport.MustUpdateStatus(t, h.store, oldFailed, queue.StatusFailed, "x")

	removed, err := h.proc.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := h.store.Get(ctx, old)
	assert.False(t, ok)
	_, ok = h.store.Get(ctx, recent)
	assert.True(t, ok)
	_, ok = h.store.Get(ctx, oldFailed)
	assert.True(t, ok)
}

func TestCleanupBoundaryIsStrict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const olderThan = 2 * time.Hour

	h.clock.Set(baseTime.Add(-olderThan - time.Millisecond))
	justOlder := testsupport.MustEnqueue(t, h.store, "a", nil)
	h.clock.Set(baseTime.Add(-olderThan + time.Millisecond))
	justNewer := testsupport.MustEnqueue(t, h.store, "a", nil)
	h.clock.Set(baseTime)
	testsupport.MustUpdateStatus(t, h.store, justOlder, queue.StatusCompleted, "")
	testsupport.MustUpdateStatus(t, h.store, justNewer, queue.StatusCompleted, "")

	removed, err := h.proc.Cleanup(ctx, olderThan)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, ok := h.store.Get(ctx, justNewer)
	assert.True(t, ok)
}

func TestCleanupDefaultsToDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock.Set(baseTime.Add(-23 * time.Hour))
	id := testsupport.MustEnqueue(t, h.store, "a", nil)
	h.clock.Set(baseTime)
	testsupport.MustUpdateStatus(t, h.store, id, queue.StatusCompleted, "")

	removed, err := h.proc.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestProcessWithSQLiteStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, proc := testsupport.MustOpenProcessor(t, cfg)
	ctx := context.Background()
	id := testsupport.MustEnqueue(t, store, "mark-notification-read", map[string]string{"id": "N-1"})

	result, err := proc.Process(ctx, processor.Handlers{"mark-notification-read": succeed})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	action, ok := store.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, queue.StatusCompleted, action.Status)
}
