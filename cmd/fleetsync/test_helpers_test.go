package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fleetsync/internal/config"
	"fleetsync/internal/queue"
	"fleetsync/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     *httptest.Server

	mu       sync.Mutex
	received []string
	failing  map[string]bool
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	env := &cliTestEnv{failing: make(map[string]bool)}
	env.server = httptest.NewServer(http.HandlerFunc(env.serveBackend))
	t.Cleanup(env.server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(env.server.URL+"/api"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	env.cfg = cfg
	env.configPath = filepath.Join(base, "config.toml")
	writeTestConfig(t, env.configPath, cfg)
	return env
}

func (e *cliTestEnv) serveBackend(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/health" {
		w.WriteHeader(http.StatusOK)
		return
	}
	actionType := r.Header.Get("X-Action-Type")
	e.mu.Lock()
	e.received = append(e.received, actionType)
	fail := e.failing[actionType]
	e.mu.Unlock()
	if fail {
		http.Error(w, "payload rejected", http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (e *cliTestEnv) setFailing(actionType string, fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing[actionType] = fail
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath)
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("fleetsync %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return out
}

// store opens the queue the CLI writes to. Close it before the next CLI call
// only when the test relies on exclusive access.
func (e *cliTestEnv) store(t *testing.T) *queue.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\n\n[backend]\nbase_url = %q\nrequest_timeout = 2\n\n[sync]\nwatch_netlink = false\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Backend.BaseURL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
