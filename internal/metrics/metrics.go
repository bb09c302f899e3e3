// Package metrics exposes Prometheus collectors for queue processing.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// guard metric calls when metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetsync/internal/queue"
)

const namespace = "fleetsync"

// Outcome labels for processed actions.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeNoHandler = "no_handler"
)

// Recorder owns a private registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	actions       *prometheus.CounterVec
	actionSeconds *prometheus.HistogramVec
	batches       *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	cleaned       prometheus.Counter
	online        prometheus.Gauge
	lastSync      prometheus.Gauge
}

// New builds a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Queued actions attempted, by type and outcome.",
		}, []string{"type", "outcome"}),
		actionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Handler latency per action type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Processing batches run, by kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_actions",
			Help:      "Actions currently stored, by status.",
		}, []string{"status"}),
		cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Completed actions removed by cleanup.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_online",
			Help:      "1 when the last connectivity probe succeeded.",
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last completed sync run.",
		}),
	}
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		r.actions,
		r.actionSeconds,
		r.batches,
		r.queueDepth,
		r.cleaned,
		r.online,
		r.lastSync,
	)
	return r
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveAction records one handled action.
func (r *Recorder) ObserveAction(actionType, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(actionType, outcome).Inc()
	r.actionSeconds.WithLabelValues(actionType).Observe(elapsed.Seconds())
}

// ObserveBatch counts a processing batch of the given kind (process, retry).
func (r *Recorder) ObserveBatch(kind string) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(kind).Inc()
}

// ObserveCleanup adds removed completed actions.
func (r *Recorder) ObserveCleanup(removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.cleaned.Add(float64(removed))
}

// SetQueueDepth publishes per-status counts.
func (r *Recorder) SetQueueDepth(health queue.HealthSummary) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(string(queue.StatusPending)).Set(float64(health.Pending))
	r.queueDepth.WithLabelValues(string(queue.StatusProcessing)).Set(float64(health.Processing))
	r.queueDepth.WithLabelValues(string(queue.StatusFailed)).Set(float64(health.Failed))
	r.queueDepth.WithLabelValues(string(queue.StatusCompleted)).Set(float64(health.Completed))
}

// SetOnline records the connectivity state.
func (r *Recorder) SetOnline(online bool) {
	if r == nil {
		return
	}
	if online {
		r.online.Set(1)
		return
	}
	r.online.Set(0)
}

// MarkSynced stamps the last completed sync time.
func (r *Recorder) MarkSynced(at time.Time) {
	if r == nil {
		return
	}
	r.lastSync.Set(float64(at.Unix()))
}
