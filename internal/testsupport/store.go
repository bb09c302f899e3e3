package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustEnqueue enqueues an action and fails the test on error.
func MustEnqueue(t testing.TB, store *queue.Store, actionType string, payload any) string {
	t.Helper()

	id, err := store.Enqueue(context.Background(), actionType, payload)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return id
}

// MustUpdateStatus transitions an action and fails the test when it is missing.
func MustUpdateStatus(t testing.TB, store *queue.Store, id string, status queue.Status, errMsg string) {
	t.Helper()

	ok, err := store.UpdateStatus(context.Background(), id, status, errMsg)
	if err != nil {
		t.Fatalf("store.UpdateStatus: %v", err)
	}
	if !ok {
		t.Fatalf("store.UpdateStatus: action %s not found", id)
	}
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start, truncated to millisecond precision.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC().Truncate(time.Millisecond)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
