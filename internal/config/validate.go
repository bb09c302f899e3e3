package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Queue.PostgresDSN == "" {
			return errors.New("queue.postgres_dsn must be set when queue.backend is postgres (or set FLEETSYNC_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want sqlite, postgres, or memory)", c.Queue.Backend)
	}
	if strings.TrimSpace(c.Queue.StorageKey) == "" {
		return errors.New("queue.storage_key must be set")
	}
	if c.Queue.MaxRetries <= 0 {
		return errors.New("queue.max_retries must be positive")
	}
	if c.Queue.CleanupAfterHours <= 0 {
		return errors.New("queue.cleanup_after_hours must be positive")
	}
	return nil
}

func (c *Config) validateBackend() error {
	switch c.Backend.Transport {
	case "http":
		if c.Backend.BaseURL == "" {
			return errors.New("backend.base_url must be set when backend.transport is http")
		}
		if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
			return fmt.Errorf("backend.base_url must be an http(s) URL, got %q", c.Backend.BaseURL)
		}
	case "nats":
		if c.Backend.NATSURL == "" {
			return errors.New("backend.nats_url must be set when backend.transport is nats")
		}
	default:
		return fmt.Errorf("backend.transport: unsupported value %q (want http or nats)", c.Backend.Transport)
	}
	return ensurePositiveMap(map[string]int{
		"backend.request_timeout": c.Backend.RequestTimeout,
	})
}

func (c *Config) validateSync() error {
	return ensurePositiveMap(map[string]int{
		"sync.probe_interval": c.Sync.ProbeInterval,
		"sync.interval":       c.Sync.Interval,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	return ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
