package testsupport

import (
	"testing"

	"fleetsync/internal/config"
	"fleetsync/internal/processor"
	"fleetsync/internal/queue"
)

// MustOpenProcessor opens the configured store and wraps it in a Processor.
func MustOpenProcessor(t testing.TB, cfg *config.Config, opts ...processor.Option) (*queue.Store, *processor.Processor) {
	t.Helper()

	store := MustOpenStore(t, cfg)
	return store, processor.New(store, opts...)
}
