package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/metrics"
	"fleetsync/internal/queue"
)

func scrape(t *testing.T, r *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *metrics.Recorder
	r.ObserveAction("save-inspection", metrics.OutcomeSucceeded, time.Second)
	r.ObserveBatch("process")
	r.ObserveCleanup(3)
	r.SetQueueDepth(queue.HealthSummary{Pending: 1})
	r.SetOnline(true)
	r.MarkSynced(time.Now())
	assert.Nil(t, r.Registry())
}

func TestRecorderCounts(t *testing.T) {
	r := metrics.New()
	r.ObserveAction("upload-photo", metrics.OutcomeSucceeded, 20*time.Millisecond)
	r.ObserveAction("upload-photo", metrics.OutcomeFailed, 10*time.Millisecond)
	r.ObserveAction("upload-photo", metrics.OutcomeFailed, 10*time.Millisecond)
	r.ObserveBatch("retry")
	r.ObserveCleanup(4)
	r.SetQueueDepth(queue.HealthSummary{Total: 3, Pending: 2, Failed: 1})
	r.SetOnline(true)

	body := scrape(t, r)
	assert.Contains(t, body, `fleetsync_actions_total{outcome="failed",type="upload-photo"} 2`)
	assert.Contains(t, body, `fleetsync_actions_total{outcome="succeeded",type="upload-photo"} 1`)
	assert.Contains(t, body, `fleetsync_batches_total{kind="retry"} 1`)
	assert.Contains(t, body, `fleetsync_cleanup_removed_total 4`)
	assert.Contains(t, body, `fleetsync_queue_actions{status="pending"} 2`)
	assert.Contains(t, body, `fleetsync_queue_actions{status="failed"} 1`)
	assert.Contains(t, body, `fleetsync_backend_online 1`)
}
