package config

const (
	defaultDataDir               = "~/.local/share/fleetsync"
	defaultLogDir                = "~/.local/share/fleetsync/logs"
	defaultQueueBackend          = "sqlite"
	defaultStorageKey            = "offline-queue"
	defaultMaxRetries            = 3
	defaultCleanupAfterHours     = 24
	defaultBackendTransport      = "http"
	defaultBackendBaseURL        = "http://127.0.0.1:3000/api"
	defaultBackendHealthPath     = "/health"
	defaultSubjectPrefix         = "fleet.actions"
	defaultBackendRequestTimeout = 15
	defaultProbeInterval         = 10
	defaultSyncInterval          = 300
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Queue: Queue{
			Backend:           defaultQueueBackend,
			StorageKey:        defaultStorageKey,
			MaxRetries:        defaultMaxRetries,
			CleanupAfterHours: defaultCleanupAfterHours,
			CleanupOnSync:     true,
			LockProcessing:    true,
		},
		Backend: Backend{
			Transport:      defaultBackendTransport,
			BaseURL:        defaultBackendBaseURL,
			HealthPath:     defaultBackendHealthPath,
			SubjectPrefix:  defaultSubjectPrefix,
			RequestTimeout: defaultBackendRequestTimeout,
		},
		Sync: Sync{
			ProbeInterval: defaultProbeInterval,
			Interval:      defaultSyncInterval,
			WatchNetlink:  true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			SyncCompleted:  true,
			SyncErrors:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
