package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// record is the persisted shape of an Action. Timestamps are stored as Unix
// milliseconds so the list stays readable by the mobile client that shares it.
type record struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
}

func toRecord(a Action) record {
	payload := a.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return record{
		ID:         a.ID,
		Type:       a.Type,
		Payload:    payload,
		Timestamp:  a.Timestamp.UnixMilli(),
		RetryCount: a.RetryCount,
		Status:     a.Status,
		Error:      a.Error,
	}
}

func (r record) action() Action {
	return Action{
		ID:         r.ID,
		Type:       r.Type,
		Payload:    r.Payload,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		RetryCount: r.RetryCount,
		Status:     r.Status,
		Error:      r.Error,
	}
}

func decodeActions(raw string) ([]Action, error) {
	var records []record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	actions := make([]Action, 0, len(records))
	for _, r := range records {
		actions = append(actions, r.action())
	}
	return actions, nil
}

func encodeActions(actions []Action) (string, error) {
	records := make([]record, 0, len(actions))
	for _, a := range actions {
		records = append(records, toRecord(a))
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode queue: %w", err)
	}
	return string(data), nil
}
