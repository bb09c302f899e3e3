package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetsync/internal/config"
	"fleetsync/internal/kvstore"
	"fleetsync/internal/logging"
)

// DefaultStorageKey is the key the action list is persisted under.
const DefaultStorageKey = "offline-queue"

const maxIDAttempts = 5

// Store persists the ordered action list under a single backend key.
type Store struct {
	backend kvstore.Backend
	key     string
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithStorageKey overrides the backend key holding the action list.
func WithStorageKey(key string) Option {
	return func(s *Store) {
		if key = strings.TrimSpace(key); key != "" {
			s.key = key
		}
	}
}

// WithLogger attaches a logger for degraded reads and recovery notes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for action timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the action id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore wraps backend with queue semantics.
func NewStore(backend kvstore.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     DefaultStorageKey,
		logger:  logging.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "queue")
	return s
}

// Open builds the configured backend and wraps it in a Store.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	backend, err := kvstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, WithStorageKey(cfg.Queue.StorageKey), WithLogger(logger)), nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Describe reports where the queue is stored.
func (s *Store) Describe() string {
	location := "unknown"
	if d, ok := s.backend.(kvstore.Describer); ok {
		location = d.Describe()
	}
	return fmt.Sprintf("%s (key %q)", location, s.key)
}

// Queue returns every stored action in insertion order. Storage failures and
// unreadable data degrade to an empty list.
func (s *Store) Queue(ctx context.Context) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.read(ctx)
	if err != nil {
		s.logger.Warn("queue read failed; treating as empty",
			logging.String(logging.FieldEventType, "queue_read_failed"),
			logging.String(logging.FieldErrorHint, "check the queue database is readable"),
			logging.String(logging.FieldImpact, "queued actions are hidden until storage recovers"),
			logging.Error(err),
		)
		return []Action{}
	}
	return actions
}

// Pending returns actions awaiting their first attempt, in insertion order.
func (s *Store) Pending(ctx context.Context) []Action {
	return filterStatus(s.Queue(ctx), StatusPending)
}

// Failed returns actions whose last attempt failed, in insertion order.
func (s *Store) Failed(ctx context.Context) []Action {
	return filterStatus(s.Queue(ctx), StatusFailed)
}

// ListByStatus returns actions matching any of the provided statuses.
// With no statuses the whole queue is returned.
func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) []Action {
	return filterStatus(s.Queue(ctx), statuses...)
}

// Get returns the action with the given id.
func (s *Store) Get(ctx context.Context, id string) (Action, bool) {
	for _, action := range s.Queue(ctx) {
		if action.ID == id {
			return action, true
		}
	}
	return Action{}, false
}

// Enqueue appends a new pending action and returns its id.
func (s *Store) Enqueue(ctx context.Context, actionType string, payload any) (string, error) {
	if strings.TrimSpace(actionType) == "" {
		return "", ErrEmptyType
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.readForUpdate(ctx)
	if err != nil {
		return "", err
	}

	id, err := s.allocateID(actions)
	if err != nil {
		return "", err
	}
	actions = append(actions, Action{
		ID:        id,
		Type:      actionType,
		Payload:   raw,
		Timestamp: s.now().UTC().Truncate(time.Millisecond),
		Status:    StatusPending,
	})
	if err := s.write(ctx, actions); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateStatus sets the status of id. Entering failed increments RetryCount.
// errMsg replaces the stored error when non-empty; other fields are untouched.
// It reports false when no action has the id. Completed is terminal: leaving
// it fails with ErrCompleted.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) (bool, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.readForUpdate(ctx)
	if err != nil {
		return false, err
	}
	idx := indexOf(actions, id)
	if idx < 0 {
		return false, nil
	}
	action := &actions[idx]
	if action.Status == StatusCompleted && status != StatusCompleted {
		return false, fmt.Errorf("%w: %s", ErrCompleted, id)
	}
	action.Status = status
	if status == StatusFailed {
		action.RetryCount++
	}
	if errMsg != "" {
		action.Error = errMsg
	}
	if err := s.write(ctx, actions); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the action with id. It reports false when nothing matched.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.readForUpdate(ctx)
	if err != nil {
		return false, err
	}
	idx := indexOf(actions, id)
	if idx < 0 {
		return false, nil
	}
	actions = append(actions[:idx], actions[idx+1:]...)
	if err := s.write(ctx, actions); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveByStatus deletes every action in one of the given statuses and returns the count.
func (s *Store) RemoveByStatus(ctx context.Context, statuses ...Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	return s.removeWhere(ctx, func(a Action) bool {
		return hasStatus(a, statuses)
	})
}

// RemoveCompletedBefore deletes completed actions created strictly before cutoff.
func (s *Store) RemoveCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.removeWhere(ctx, func(a Action) bool {
		return a.Status == StatusCompleted && a.Timestamp.Before(cutoff)
	})
}

// Clear deletes the whole queue.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// RecoverInterrupted marks actions left in processing by a previous run as
// failed so the retry budget accounts for the lost attempt.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.readForUpdate(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range actions {
		if actions[i].Status != StatusProcessing {
			continue
		}
		actions[i].Status = StatusFailed
		actions[i].RetryCount++
		actions[i].Error = InterruptedReason
		recovered++
		s.logger.Info("recovered interrupted action",
			logging.String(logging.FieldActionID, actions[i].ID),
			logging.String(logging.FieldActionType, actions[i].Type),
			logging.Int("retry_count", actions[i].RetryCount),
		)
	}
	if recovered == 0 {
		return 0, nil
	}
	if err := s.write(ctx, actions); err != nil {
		return 0, err
	}
	return recovered, nil
}

// Stats returns a count of actions grouped by status.
func (s *Store) Stats(ctx context.Context) map[Status]int {
	stats := make(map[Status]int)
	for _, action := range s.Queue(ctx) {
		stats[action.Status]++
	}
	return stats
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) HealthSummary {
	health := HealthSummary{}
	for status, count := range s.Stats(ctx) {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusFailed:
			health.Failed += count
		case StatusCompleted:
			health.Completed += count
		}
	}
	return health
}

func (s *Store) removeWhere(ctx context.Context, match func(Action) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.readForUpdate(ctx)
	if err != nil {
		return 0, err
	}
	kept := actions[:0]
	removed := 0
	for _, action := range actions {
		if match(action) {
			removed++
			continue
		}
		kept = append(kept, action)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.write(ctx, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) read(ctx context.Context) ([]Action, error) {
	raw, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []Action{}, nil
	}
	return decodeActions(raw)
}

// readForUpdate loads the list ahead of a rewrite. Backend errors abort the
// mutation; an undecodable value is set aside under <key>.corrupt and the
// mutation proceeds from an empty list.
func (s *Store) readForUpdate(ctx context.Context) ([]Action, error) {
	raw, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []Action{}, nil
	}
	actions, decodeErr := decodeActions(raw)
	if decodeErr == nil {
		return actions, nil
	}

	backupKey := s.key + ".corrupt"
	if err := s.backend.Set(ctx, backupKey, raw); err != nil {
		return nil, fmt.Errorf("preserve unreadable queue: %w", errors.Join(decodeErr, err))
	}
	s.logger.Warn("queue data unreadable; starting from empty list",
		logging.String(logging.FieldEventType, "queue_corrupt"),
		logging.String(logging.FieldErrorHint, "inspect the preserved value under "+backupKey),
		logging.String(logging.FieldImpact, "previously queued actions will not be replayed"),
		logging.Error(decodeErr),
	)
	return []Action{}, nil
}

func (s *Store) write(ctx context.Context, actions []Action) error {
	encoded, err := encodeActions(actions)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, s.key, encoded); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

func (s *Store) allocateID(actions []Action) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		if id != "" && indexOf(actions, id) < 0 {
			return id, nil
		}
	}
	return "", ErrDuplicateID
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok && len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func indexOf(actions []Action, id string) int {
	for i, action := range actions {
		if action.ID == id {
			return i
		}
	}
	return -1
}

func hasStatus(a Action, statuses []Status) bool {
	for _, status := range statuses {
		if a.Status == status {
			return true
		}
	}
	return false
}

func filterStatus(actions []Action, statuses ...Status) []Action {
	if len(statuses) == 0 {
		return actions
	}
	filtered := make([]Action, 0, len(actions))
	for _, action := range actions {
		if hasStatus(action, statuses) {
			filtered = append(filtered, action)
		}
	}
	return filtered
}
