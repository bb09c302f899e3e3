package kvstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fleetsync/internal/config"
	"fleetsync/internal/kvstore"
)

func exerciseBackend(t *testing.T, backend kvstore.Backend) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := backend.Get(ctx, "offline-queue"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := backend.Set(ctx, "offline-queue", `[{"id":"a1"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := backend.Get(ctx, "offline-queue")
	if err != nil || !ok {
		t.Fatalf("expected stored key, got ok=%v err=%v", ok, err)
	}
	if value != `[{"id":"a1"}]` {
		t.Fatalf("unexpected value %q", value)
	}

	if err := backend.Set(ctx, "offline-queue", `[]`); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, _, _ = backend.Get(ctx, "offline-queue")
	if value != `[]` {
		t.Fatalf("expected overwritten value, got %q", value)
	}

	if err := backend.Delete(ctx, "offline-queue"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := backend.Get(ctx, "offline-queue"); ok {
		t.Fatal("expected key removed")
	}
	if err := backend.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	backend := kvstore.NewMemory()
	exerciseBackend(t, backend)

	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := backend.Set(context.Background(), "k", "v"); !errors.Is(err, kvstore.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")
	backend, err := kvstore.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	exerciseBackend(t, backend)

	ok, err := backend.IntegrityCheck(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected integrity ok, got ok=%v err=%v", ok, err)
	}
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	first, err := kvstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := first.Set(ctx, "offline-queue", "persisted"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := kvstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	value, ok, err := second.Get(ctx, "offline-queue")
	if err != nil || !ok || value != "persisted" {
		t.Fatalf("expected persisted value, got %q ok=%v err=%v", value, ok, err)
	}

	versions, err := second.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "0001_kv_entries" {
		t.Fatalf("expected migrations applied once, got %v", versions)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(cfg.Paths.DataDir, "logs")

	cfg.Queue.Backend = "memory"
	backend, err := kvstore.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	if _, ok := backend.(*kvstore.Memory); !ok {
		t.Fatalf("expected memory backend, got %T", backend)
	}

	cfg.Queue.Backend = "sqlite"
	backend, err = kvstore.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Open sqlite failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	sqlite, ok := backend.(*kvstore.SQLite)
	if !ok {
		t.Fatalf("expected sqlite backend, got %T", backend)
	}
	if sqlite.Path() != cfg.QueueDBPath() {
		t.Fatalf("unexpected sqlite path %q", sqlite.Path())
	}

	cfg.Queue.Backend = "etcd"
	if _, err := kvstore.Open(context.Background(), &cfg); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
