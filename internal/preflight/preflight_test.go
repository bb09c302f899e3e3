package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fleetsync/internal/config"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("disk", dir, 1); !result.Passed {
		t.Fatalf("expected pass with 1 byte minimum, got %s", result.Detail)
	}
	result := CheckFreeSpace("disk", dir, 1<<62)
	if result.Passed {
		t.Fatal("expected failure with an impossible minimum")
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected shortfall detail, got %q", result.Detail)
	}
	if result := CheckFreeSpace("disk", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckBackend(t *testing.T) {
	if result := CheckBackend(context.Background(), stubPinger{}); !result.Passed {
		t.Fatalf("expected reachable backend, got %s", result.Detail)
	}
	result := CheckBackend(context.Background(), stubPinger{err: errors.New("connection refused")})
	if result.Passed {
		t.Fatal("expected failure for unreachable backend")
	}
	if !strings.Contains(result.Detail, "connection refused") {
		t.Fatalf("expected cause in detail, got %q", result.Detail)
	}
}

func TestRunAllFlagsBlockingChecks(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	results := RunAll(context.Background(), &cfg, stubPinger{err: errors.New("offline")})
	blocking := Blocking(results)
	if len(blocking) == 0 {
		t.Fatal("expected missing directories to block")
	}
	for _, r := range blocking {
		if r.Name == "Fleet backend" {
			t.Fatal("backend reachability must never block")
		}
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	results = RunAll(context.Background(), &cfg, stubPinger{err: errors.New("offline")})
	if blocking := Blocking(results); len(blocking) != 0 {
		t.Fatalf("expected no blocking checks, got %#v", blocking)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(results))
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{
		512:     "512 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
