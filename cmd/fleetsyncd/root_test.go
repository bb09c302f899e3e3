package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fleetsync/internal/config"
	"fleetsync/internal/daemonrun"
)

func stubAgent(t *testing.T) (*config.Config, *daemonrun.Options) {
	t.Helper()
	var (
		gotCfg  config.Config
		gotOpts daemonrun.Options
	)
	prev := runAgent
	runAgent = func(_ context.Context, cfg *config.Config, opts daemonrun.Options) error {
		gotCfg = *cfg
		gotOpts = opts
		return nil
	}
	t.Cleanup(func() { runAgent = prev })
	return &gotCfg, &gotOpts
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\n\n[backend]\nbase_url = %q\n",
		dataDir,
		filepath.Join(base, "logs"),
		"http://127.0.0.1:9/api",
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dataDir
}

func TestRootCommandPassesFlagsToAgent(t *testing.T) {
	gotCfg, gotOpts := stubAgent(t)
	path, dataDir := writeConfig(t)

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path, "--log-level", "debug", "--dev"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotCfg.Paths.DataDir != dataDir {
		t.Fatalf("expected data dir %q, got %q", dataDir, gotCfg.Paths.DataDir)
	}
	if gotOpts.LogLevel != "debug" || !gotOpts.Development {
		t.Fatalf("unexpected options %#v", *gotOpts)
	}
}

func TestRootCommandReportsConfigErrors(t *testing.T) {
	stubAgent(t)
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("[paths\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"-c", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config load error, got %v", err)
	}
}

func TestRootCommandRejectsArguments(t *testing.T) {
	stubAgent(t)
	path, _ := writeConfig(t)

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path, "extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}
