package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	r := NewRecorder()

	for _, stage := range verify.SuccessPath {
		r.StageReached(stage)
	}
	r.StageReached(verify.StageClosed)
	r.Finished(&verify.Result{Outcome: verify.OutcomePassed, Duration: 3 * time.Second})

	r.StageReached(verify.StageFailed)
	r.Finished(&verify.Result{
		Outcome:  verify.OutcomeFailed,
		Err:      &verify.StageError{Stage: verify.StageDownloadVisible, Kind: verify.KindTimeout, Err: errors.New("late")},
		Duration: 31 * time.Second,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("download_visible", "timeout_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stages.WithLabelValues("captured")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stages.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.Finished(&verify.Result{Outcome: verify.OutcomePassed, Duration: time.Second})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `verifyq_runs_total{outcome="passed"} 1`))
	assert.Contains(t, body, "verifyq_run_duration_seconds_count 1")
	assert.Contains(t, body, "go_goroutines")
}
