package processor

import (
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"fleetsync/internal/metrics"
)

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for batch and action events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(p *Processor) {
		p.metrics = recorder
	}
}

// WithLockFile serializes batches with other processes sharing path.
func WithLockFile(path string) Option {
	return func(p *Processor) {
		if path != "" {
			p.lock = flock.New(path)
		}
	}
}

// WithHandlerTimeout bounds each handler call. Zero leaves handlers unbounded.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		if timeout > 0 {
			p.handlerTimeout = timeout
		}
	}
}

// WithClock overrides the time source used for cleanup cutoffs and latency.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}
