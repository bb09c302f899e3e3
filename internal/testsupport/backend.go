package testsupport

import (
	"context"
	"errors"
	"sync"

	"fleetsync/internal/kvstore"
)

// ErrInjected is returned by FlakyBackend when a failure is armed.
var ErrInjected = errors.New("injected storage failure")

// FlakyBackend wraps a kvstore.Backend and fails reads or writes on demand.
type FlakyBackend struct {
	kvstore.Backend

	mu        sync.Mutex
	failGet   bool
	failSet   bool
	setCalls  int
	failAfter int
}

// NewFlakyBackend wraps an in-memory backend.
func NewFlakyBackend() *FlakyBackend {
	return &FlakyBackend{Backend: kvstore.NewMemory(), failAfter: -1}
}

// FailReads makes every Get return ErrInjected.
func (f *FlakyBackend) FailReads(fail bool) {
	f.mu.Lock()
	f.failGet = fail
	f.mu.Unlock()
}

// FailWrites makes every Set return ErrInjected.
func (f *FlakyBackend) FailWrites(fail bool) {
	f.mu.Lock()
	f.failSet = fail
	f.mu.Unlock()
}

// FailWritesAfter lets n more Set calls succeed and fails the rest.
func (f *FlakyBackend) FailWritesAfter(n int) {
	f.mu.Lock()
	f.setCalls = 0
	f.failAfter = n
	f.mu.Unlock()
}

func (f *FlakyBackend) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return "", false, ErrInjected
	}
	return f.Backend.Get(ctx, key)
}

func (f *FlakyBackend) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	fail := f.failSet
	if f.failAfter >= 0 {
		f.setCalls++
		if f.setCalls > f.failAfter {
			fail = true
		}
	}
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Backend.Set(ctx, key, value)
}
