package main

import (
	"encoding/json"
	"strconv"
	"time"

	"fleetsync/internal/queue"
)

const timestampLayout = "2006-01-02 15:04:05"

// actionView is the structured output shape of a queued action. The payload is
// decoded so YAML output shows it as a mapping rather than raw bytes.
type actionView struct {
	ID         string    `json:"id" yaml:"id"`
	Type       string    `json:"type" yaml:"type"`
	Status     string    `json:"status" yaml:"status"`
	RetryCount int       `json:"retryCount" yaml:"retry_count"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Payload    any       `json:"payload" yaml:"payload"`
}

func newActionView(a queue.Action) actionView {
	var payload any
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, &payload); err != nil {
			payload = string(a.Payload)
		}
	}
	return actionView{
		ID:         a.ID,
		Type:       a.Type,
		Status:     string(a.Status),
		RetryCount: a.RetryCount,
		Timestamp:  a.Timestamp,
		Error:      a.Error,
		Payload:    payload,
	}
}

func newActionViews(actions []queue.Action) []actionView {
	views := make([]actionView, 0, len(actions))
	for _, a := range actions {
		views = append(views, newActionView(a))
	}
	return views
}

func buildQueueListRows(actions []queue.Action) [][]string {
	rows := make([][]string, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []string{
			a.ID,
			a.Type,
			displayLabel(string(a.Status)),
			strconv.Itoa(a.RetryCount),
			a.Timestamp.Local().Format(timestampLayout),
			truncate(a.Error, 40),
		})
	}
	return rows
}

func buildQueueStatusRows(summary queue.HealthSummary) [][]string {
	counts := map[queue.Status]int{
		queue.StatusPending:    summary.Pending,
		queue.StatusProcessing: summary.Processing,
		queue.StatusFailed:     summary.Failed,
		queue.StatusCompleted:  summary.Completed,
	}
	rows := make([][]string, 0, len(counts)+1)
	for _, status := range queue.AllStatuses() {
		rows = append(rows, []string{displayLabel(string(status)), strconv.Itoa(counts[status])})
	}
	rows = append(rows, []string{"Total", strconv.Itoa(summary.Total)})
	return rows
}

func buildActionDetailRows(a queue.Action) [][]string {
	payload := string(a.Payload)
	if payload == "" {
		payload = "null"
	}
	rows := [][]string{
		{"ID", a.ID},
		{"Type", a.Type},
		{"Status", displayLabel(string(a.Status))},
		{"Retries", strconv.Itoa(a.RetryCount)},
		{"Queued", a.Timestamp.Local().Format(timestampLayout)},
	}
	if a.Error != "" {
		rows = append(rows, []string{"Error", a.Error})
	}
	return append(rows, []string{"Payload", payload})
}
