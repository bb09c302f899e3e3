package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a queued action.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// InterruptedReason is recorded on actions found mid-processing after a restart.
const InterruptedReason = "interrupted before completion"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusFailed,
	StatusCompleted,
}

// Action is a unit of deferred work awaiting replay against the backend.
type Action struct {
	ID         string          `json:"id" yaml:"id"`
	Type       string          `json:"type" yaml:"type"`
	Payload    json.RawMessage `json:"payload" yaml:"-"`
	Timestamp  time.Time       `json:"timestamp" yaml:"timestamp"`
	RetryCount int             `json:"retryCount" yaml:"retry_count"`
	Status     Status          `json:"status" yaml:"status"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// Retryable reports whether a retry sweep with the given budget would pick the action up.
func (a Action) Retryable(maxRetries int) bool {
	return a.Status == StatusFailed && a.RetryCount < maxRetries
}
