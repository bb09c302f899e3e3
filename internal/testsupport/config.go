package testsupport

import (
	"path/filepath"
	"testing"

	"fleetsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The queue defaults to the SQLite backend inside the temp dir.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.MetricsBind = ""
	cfgVal.Backend.BaseURL = "http://127.0.0.1:0/api"
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Sync.WatchNetlink = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMemoryBackend stores the queue in memory instead of SQLite.
func WithMemoryBackend() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Backend = "memory"
	}
}

// WithBackendURL points the HTTP transport at url.
func WithBackendURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.Transport = "http"
		b.cfg.Backend.BaseURL = url
	}
}

// WithNtfyTopic enables notifications against the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxRetries = n
	}
}

// BaseDir exposes the temporary root directory for the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
