package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_JobLifecycle(t *testing.T) {
	m := New()

	m.JobSubmitted("image")
	m.JobSubmitted("video")
	assert.EqualValues(t, 2, m.QueueDepth.Load())

	m.JobStarted()
	assert.EqualValues(t, 1, m.QueueDepth.Load())
	assert.EqualValues(t, 1, m.ActiveJobs.Load())

	m.JobFinished("image", 250*time.Millisecond, 3, nil)
	m.JobStarted()
	m.JobFinished("video", time.Second, 9, errors.New("boom"))

	assert.EqualValues(t, 0, m.ActiveJobs.Load())
	assert.EqualValues(t, 3, m.DetectionsCounted.Load())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.JobSubmitted("image")
	m.JobStarted()
	m.JobFinished("image", time.Second, 2, nil)
	m.JobSubmitted("video")
	m.JobRejected("video")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `mosquito_jobs_submitted_total{kind="image"} 1`)
	assert.Contains(t, text, `mosquito_jobs_finished_total{kind="image",status="ok"} 1`)
	assert.Contains(t, text, `mosquito_jobs_finished_total{kind="video",status="rejected"} 1`)
	assert.Contains(t, text, "mosquito_detections_counted_total 2")
	assert.Contains(t, text, "mosquito_job_duration_seconds_bucket")
	assert.EqualValues(t, 0, m.QueueDepth.Load())
}

func TestMetrics_WatchViewers(t *testing.T) {
	m := New()
	viewers := 3
	m.WatchViewers(func() int { return viewers })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "mosquito_progress_viewers 3")
}
