package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

func (c *Config) normalize() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeBackend()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

// applyEnv overlays FLEETSYNC_* environment variables on top of file values.
// Unset variables leave the file (or default) value untouched.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	c.Queue.StorageKey = strings.TrimSpace(c.Queue.StorageKey)
	if c.Queue.StorageKey == "" {
		c.Queue.StorageKey = defaultStorageKey
	}
	c.Queue.PostgresDSN = strings.TrimSpace(c.Queue.PostgresDSN)
	if c.Queue.HandlerTimeout < 0 {
		c.Queue.HandlerTimeout = 0
	}
}

func (c *Config) normalizeBackend() {
	c.Backend.Transport = strings.ToLower(strings.TrimSpace(c.Backend.Transport))
	if c.Backend.Transport == "" {
		c.Backend.Transport = defaultBackendTransport
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Backend.APIToken = strings.TrimSpace(c.Backend.APIToken)
	c.Backend.HealthPath = strings.TrimSpace(c.Backend.HealthPath)
	if c.Backend.HealthPath == "" {
		c.Backend.HealthPath = defaultBackendHealthPath
	}
	if !strings.HasPrefix(c.Backend.HealthPath, "/") {
		c.Backend.HealthPath = "/" + c.Backend.HealthPath
	}
	c.Backend.NATSURL = strings.TrimSpace(c.Backend.NATSURL)
	c.Backend.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Backend.SubjectPrefix), ".")
	if c.Backend.SubjectPrefix == "" {
		c.Backend.SubjectPrefix = defaultSubjectPrefix
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
