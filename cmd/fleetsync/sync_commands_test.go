package main

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"fleetsync/internal/backend"
	"fleetsync/internal/queue"
	"fleetsync/internal/testsupport"
)

func TestSyncReplaysAndRetries(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	store := env.store(t)
	inspection := testsupport.MustEnqueue(t, store, backend.TypeSaveInspection, map[string]string{"vehicle": "V-7"})
	photo := testsupport.MustEnqueue(t, store, backend.TypeUploadPhoto, map[string]string{"uri": "file:///p.jpg"})
	env.setFailing(backend.TypeUploadPhoto, true)

	out := env.mustRun(t, "sync")
	requireContains(t, out, "Process")

	if action, _ := store.Get(ctx, inspection); action.Status != queue.StatusCompleted {
		t.Fatalf("expected inspection completed, got %s", action.Status)
	}
	failed, _ := store.Get(ctx, photo)
	if failed.Status != queue.StatusFailed || failed.RetryCount != 1 {
		t.Fatalf("expected photo failed once, got %#v", failed)
	}
	if !strings.Contains(failed.Error, "422") {
		t.Fatalf("expected backend status in error, got %q", failed.Error)
	}

	// A plain sync leaves failed actions alone.
	env.mustRun(t, "sync")
	if action, _ := store.Get(ctx, photo); action.RetryCount != 1 {
		t.Fatalf("plain sync should not retry, got retry count %d", action.RetryCount)
	}

	env.setFailing(backend.TypeUploadPhoto, false)
	out = env.mustRun(t, "sync", "--retry")
	requireContains(t, out, "Retry")
	if action, _ := store.Get(ctx, photo); action.Status != queue.StatusCompleted {
		t.Fatalf("expected photo completed after retry, got %s", action.Status)
	}
}

func TestSyncRetryHonoursBudget(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	store := env.store(t)
	photo := testsupport.MustEnqueue(t, store, backend.TypeUploadPhoto, nil)
	testsupport.MustUpdateStatus(t, store, photo, queue.StatusFailed, "timeout")

	env.mustRun(t, "sync", "--retry", "--max-retries", "1")
	if action, _ := store.Get(ctx, photo); action.Status != queue.StatusFailed {
		t.Fatalf("exhausted action should not be retried, got %s", action.Status)
	}
}

func TestSyncDefersToRunningAgent(t *testing.T) {
	env := setupCLITestEnv(t)
	lock := flock.New(env.cfg.DaemonLockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	out := env.mustRun(t, "sync")
	requireContains(t, out, "sync requested")
	if _, err := os.Stat(env.cfg.TriggerPath()); err != nil {
		t.Fatalf("expected trigger file: %v", err)
	}

	out = env.mustRun(t, "trigger")
	requireContains(t, out, "Sync requested")

	if _, _, err := env.run(t, "queue", "recover"); err == nil {
		t.Fatal("expected recover to refuse while the agent runs")
	}
}

func TestTriggerWithoutAgent(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "trigger")
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected not running error, got %v", err)
	}
}
