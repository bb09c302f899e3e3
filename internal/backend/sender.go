package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fleetsync/internal/config"
	"fleetsync/internal/processor"
)

// ErrUnknownType is returned when sending an action type without a route.
var ErrUnknownType = errors.New("unknown action type")

// Sender delivers one action payload to the backend.
type Sender interface {
	Send(ctx context.Context, actionType string, payload json.RawMessage) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Handlers returns a processor handler for every known action type, each
// forwarding the payload through sender.
func Handlers(sender Sender) processor.Handlers {
	handlers := make(processor.Handlers, len(routes))
	for _, actionType := range KnownTypes() {
		handlers[actionType] = forward(sender, actionType)
	}
	return handlers
}

func forward(sender Sender, actionType string) processor.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		return sender.Send(ctx, actionType, payload)
	}
}

// New builds the sender selected by cfg.Backend.Transport.
func New(cfg *config.Config) (Sender, error) {
	if cfg == nil {
		return nil, errors.New("backend: config is nil")
	}
	switch strings.ToLower(cfg.Backend.Transport) {
	case "", "http":
		return NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.APIToken, cfg.Backend.HealthPath, cfg.BackendTimeout()), nil
	case "nats":
		return DialNATS(cfg.Backend.NATSURL, cfg.Backend.SubjectPrefix, cfg.BackendTimeout())
	default:
		return nil, fmt.Errorf("backend: unsupported transport %q", cfg.Backend.Transport)
	}
}
