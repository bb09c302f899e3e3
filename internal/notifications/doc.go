// Package notifications pushes sync agent events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never branch on whether notifications are enabled. Per-event
// toggles in the [notifications] config section are applied here as well.
package notifications
