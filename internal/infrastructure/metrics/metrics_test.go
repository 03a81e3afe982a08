package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-reminders/internal/queue"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveJob_CountsByTopicAndEvent(t *testing.T) {
	m := New("test")
	m.ObserveJob(queue.Event{Type: queue.EventFailed, Job: queue.Job{Topic: "notify"}})
	m.ObserveJob(queue.Event{Type: queue.EventFailed, Job: queue.Job{Topic: "notify"}})
	m.ObserveJob(queue.Event{Type: queue.EventCompleted, Job: queue.Job{Topic: "recur"}})

	assert.InDelta(t, 2, testutil.ToFloat64(m.jobEvents.WithLabelValues("notify", "failed")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobEvents.WithLabelValues("recur", "completed")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.jobEvents.WithLabelValues("notify", "completed")), 1e-9)
}

func TestHandler_ExposesRequestHistogram(t *testing.T) {
	m := New("test")
	m.ObserveHTTP(http.MethodGet, "/v1/reminders/{id}", http.StatusOK, 30*time.Millisecond)
	m.ObserveHTTP(http.MethodPost, "", http.StatusNotFound, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `http_request_duration_seconds_count{method="get",route="/v1/reminders/{id}",status="200"} 1`)
	assert.Contains(t, string(body), `http_request_duration_seconds_bucket{method="get",route="/v1/reminders/{id}",status="200",le="0.05"} 1`)
	assert.Contains(t, string(body), `route="unknown",status="404"`)
	assert.Contains(t, string(body), "test_process_")
}
