package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir" env:"FLEETSYNC_DATA_DIR"`
	LogDir      string `toml:"log_dir" env:"FLEETSYNC_LOG_DIR"`
	MetricsBind string `toml:"metrics_bind" env:"FLEETSYNC_METRICS_BIND"`
}

// Queue contains configuration for the offline action queue.
type Queue struct {
	// Backend selects the key-value store holding the queue: sqlite, postgres, or memory.
	Backend     string `toml:"backend" env:"FLEETSYNC_QUEUE_BACKEND"`
	StorageKey  string `toml:"storage_key"`
	PostgresDSN string `toml:"postgres_dsn" env:"FLEETSYNC_POSTGRES_DSN"`
	// MaxRetries is the retry budget applied by automatic retry sweeps.
	MaxRetries        int  `toml:"max_retries"`
	CleanupAfterHours int  `toml:"cleanup_after_hours"`
	CleanupOnSync     bool `toml:"cleanup_on_sync"`
	// HandlerTimeout bounds a single handler call in seconds. Zero disables the bound.
	HandlerTimeout int  `toml:"handler_timeout"`
	LockProcessing bool `toml:"lock_processing"`
}

// Backend contains configuration for the fleet backend that receives replayed actions.
type Backend struct {
	Transport      string `toml:"transport" env:"FLEETSYNC_BACKEND_TRANSPORT"`
	BaseURL        string `toml:"base_url" env:"FLEETSYNC_BACKEND_URL"`
	APIToken       string `toml:"api_token" env:"FLEETSYNC_BACKEND_TOKEN"`
	HealthPath     string `toml:"health_path"`
	NATSURL        string `toml:"nats_url" env:"FLEETSYNC_NATS_URL"`
	SubjectPrefix  string `toml:"subject_prefix"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Sync contains configuration for the background sync agent.
type Sync struct {
	ProbeInterval int  `toml:"probe_interval"`
	Interval      int  `toml:"interval"`
	WatchNetlink  bool `toml:"watch_netlink"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" env:"FLEETSYNC_NTFY_TOPIC"`
	RequestTimeout int    `toml:"request_timeout"`
	SyncCompleted  bool   `toml:"sync_completed"`
	SyncErrors     bool   `toml:"sync_errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"FLEETSYNC_LOG_FORMAT"`
	Level  string `toml:"level" env:"FLEETSYNC_LOG_LEVEL"`
}

// Config encapsulates all configuration values for fleetsync.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and the metrics bind address
//   - Queue: storage backend, retry budget, cleanup policy
//   - Backend: transport and credentials for replaying actions
//   - Sync: connectivity probing and periodic sync cadence
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Backend       Backend       `toml:"backend"`
	Sync          Sync          `toml:"sync"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fleetsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fleetsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath is the SQLite file used by the sqlite queue backend.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// DaemonLockPath is the single-instance lock held by the sync agent.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "fleetsyncd.lock")
}

// ProcessingLockPath is the lock file serializing queue processing across processes.
func (c *Config) ProcessingLockPath() string {
	return filepath.Join(c.Paths.DataDir, "processing.lock")
}

// TriggerPath is the file the CLI touches to ask a running agent to sync.
func (c *Config) TriggerPath() string {
	return filepath.Join(c.Paths.DataDir, "sync.trigger")
}

// LogPath is the log file written alongside stdout.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "fleetsync.log")
}

// CleanupAfter returns the age beyond which completed actions are removed.
func (c *Config) CleanupAfter() time.Duration {
	return time.Duration(c.Queue.CleanupAfterHours) * time.Hour
}

// HandlerTimeout returns the per-action handler bound; zero means unbounded.
func (c *Config) HandlerTimeout() time.Duration {
	if c.Queue.HandlerTimeout <= 0 {
		return 0
	}
	return time.Duration(c.Queue.HandlerTimeout) * time.Second
}

// BackendTimeout returns the request timeout for backend calls.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeInterval) * time.Second
}

// SyncInterval returns the periodic sync cadence while online.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
