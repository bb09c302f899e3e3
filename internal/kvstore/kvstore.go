package kvstore

import (
	"context"
	"errors"
	"fmt"

	"fleetsync/internal/config"
)

// ErrClosed is returned by operations on a backend after Close.
var ErrClosed = errors.New("kvstore: backend closed")

// Backend is a durable string key-value store.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Describer is implemented by backends that can report where they store data.
type Describer interface {
	Describe() string
}

// Open constructs the backend selected by cfg.Queue.Backend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("kvstore: config is nil")
	}
	switch cfg.Queue.Backend {
	case "", "sqlite":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.QueueDBPath())
	case "postgres":
		return OpenPostgres(ctx, cfg.Queue.PostgresDSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kvstore: unsupported backend %q", cfg.Queue.Backend)
	}
}
