package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetsync/internal/config"
)

const userAgent = "fleetsync/0.1.0"

// Service defines the notification surface used by the sync agent and CLI.
type Service interface {
	NotifySyncStarted(ctx context.Context, pending int) error
	NotifySyncCompleted(ctx context.Context, succeeded, failed int, duration time.Duration) error
	NotifyRetriesExhausted(ctx context.Context, count int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		syncCompleted: cfg.Notifications.SyncCompleted,
		syncErrors:    cfg.Notifications.SyncErrors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	syncCompleted bool
	syncErrors    bool
}

func (n *ntfyService) NotifySyncStarted(ctx context.Context, pending int) error {
	if !n.syncCompleted || pending <= 0 {
		return nil
	}
	data := payload{
		title:    "Fleetsync - Sync Started",
		message:  fmt.Sprintf("Back online: replaying %d queued %s", pending, plural(pending, "action", "actions")),
		tags:     []string{"fleetsync", "sync", "started"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySyncCompleted(ctx context.Context, succeeded, failed int, duration time.Duration) error {
	if !n.syncCompleted || succeeded+failed == 0 {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "Fleetsync - Sync Complete"
	message := fmt.Sprintf("Synced %d %s in %s", succeeded, plural(succeeded, "action", "actions"), duration)
	tags := []string{"fleetsync", "sync", "completed"}
	if failed > 0 {
		title = "Fleetsync - Sync Complete (with errors)"
		message = fmt.Sprintf("Sync finished: %d succeeded, %d failed in %s", succeeded, failed, duration)
		tags = append(tags, "warning")
	}
	return n.send(ctx, payload{title: title, message: message, tags: tags})
}

func (n *ntfyService) NotifyRetriesExhausted(ctx context.Context, count int) error {
	if !n.syncErrors || count <= 0 {
		return nil
	}
	data := payload{
		title:    "Fleetsync - Retries Exhausted",
		message:  fmt.Sprintf("%d %s will not be retried automatically\nRun `fleetsync queue list --status failed` to review", count, plural(count, "action", "actions")),
		tags:     []string{"fleetsync", "retry", "review"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.syncErrors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Fleetsync - Error",
		message:  builder.String(),
		tags:     []string{"fleetsync", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fleetsync - Test",
		message:  "Notification system test",
		tags:     []string{"fleetsync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type noopService struct{}

func (noopService) NotifySyncStarted(context.Context, int) error                       { return nil }
func (noopService) NotifySyncCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyRetriesExhausted(context.Context, int) error                  { return nil }
func (noopService) NotifyError(context.Context, error, string) error                   { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
