package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRun(t *testing.T) {
	run := NewRun(RunRequest{IdempotencyKey: "abc"})

	assert.True(t, strings.HasPrefix(run.ID, "run_"))
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Equal(t, "abc", run.IdempotencyKey)
	assert.False(t, run.IsExpired())
	assert.InDelta(t, time.Now().Add(DefaultResultTTL).Unix(), run.ExpiresAt, 2)
}

func TestNewRunClampsDownloadTimeout(t *testing.T) {
	assert.Equal(t, 0, NewRun(RunRequest{DownloadTimeout: -4}).Request.DownloadTimeout)
	assert.Equal(t, 300, NewRun(RunRequest{DownloadTimeout: 9000}).Request.DownloadTimeout)

	run := NewRun(RunRequest{DownloadTimeout: 45})
	assert.Equal(t, 45*time.Second, run.DownloadTimeoutDuration())
	assert.Equal(t, 45*time.Second+2*time.Minute, run.TimeoutDuration(5*time.Minute))
}

func TestRunTimeoutFollowsConfiguredDownloadBound(t *testing.T) {
	run := NewRun(RunRequest{})

	assert.Equal(t, 7*time.Minute, run.TimeoutDuration(5*time.Minute), "server-wide bound plus overhead")
	assert.Equal(t, 30*time.Second+2*time.Minute, run.TimeoutDuration(30*time.Second))
	assert.Equal(t, DefaultRunTimeout, run.TimeoutDuration(0))
}

func TestRunFinish(t *testing.T) {
	passed := NewRun(RunRequest{})
	passed.Finish(verify.Summary{Outcome: verify.OutcomePassed, Stage: verify.StageCaptured})
	assert.Equal(t, RunStatusPassed, passed.Status)
	assert.Equal(t, 100, passed.Progress)
	assert.Equal(t, verify.SuccessMessage, passed.Message)
	assert.NotZero(t, passed.CompletedAt)

	failed := NewRun(RunRequest{})
	failed.Finish(verify.Summary{
		Outcome:   verify.OutcomeFailed,
		Stage:     verify.StageNavigated,
		ErrorKind: verify.KindElementNotFound,
		Error:     "select tab: element not found",
	})
	assert.Equal(t, RunStatusFailed, failed.Status)
	assert.Equal(t, verify.StageNavigated, failed.Stage)
	assert.Equal(t, "select tab: element not found", failed.Message)
	require.NotNil(t, failed.Summary)
	assert.Equal(t, verify.KindElementNotFound, failed.Summary.ErrorKind)
}

func TestRunStatusDone(t *testing.T) {
	assert.False(t, RunStatusQueued.Done())
	assert.False(t, RunStatusRunning.Done())
	assert.True(t, RunStatusPassed.Done())
	assert.True(t, RunStatusFailed.Done())
	assert.True(t, RunStatusCanceled.Done())
}

func TestRunJSON(t *testing.T) {
	run := NewRun(RunRequest{BaseURL: "http://localhost:3000"})
	data, err := run.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"`+run.ID+`"`)

	decoded, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, run.ID, decoded.ID)
	assert.Equal(t, "http://localhost:3000", decoded.Request.BaseURL)

	_, err = FromJSON([]byte("{"))
	assert.Error(t, err)
}
