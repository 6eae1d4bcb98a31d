package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ahrdadan/verifyq/internal/security"
	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressStep struct {
	stage    verify.Stage
	progress int
}

func newTestProcessor(t *testing.T, l verify.Launcher) (*VerifyProcessor, string) {
	t.Helper()
	dir := t.TempDir()
	sample := filepath.Join(dir, "sample.pdf")
	require.NoError(t, os.WriteFile(sample, []byte("%PDF-1.4"), 0o644))

	base := verify.DefaultOptions()
	base.BaseURL = "http://localhost:3000"
	base.SamplePath = sample
	base.PollInterval = time.Millisecond

	runsDir := filepath.Join(dir, "runs")
	return NewVerifyProcessor(l, base, runsDir, "http://verifyq.test/"), runsDir
}

func TestVerifyProcessorPassingRun(t *testing.T) {
	session := &pageSession{}
	p, runsDir := newTestProcessor(t, launcherFor(session))
	run := NewRun(RunRequest{BaseURL: "http://staging:8080"})

	var steps []progressStep
	summary, err := p.Process(context.Background(), run, func(stage verify.Stage, progress int, _ string) {
		steps = append(steps, progressStep{stage, progress})
	})
	require.NoError(t, err)

	assert.Equal(t, verify.OutcomePassed, summary.Outcome)
	assert.Equal(t, []string{"http://staging:8080"}, session.navigated)
	assert.Equal(t, 1, session.closes)

	want := filepath.Join(runsDir, run.ID, SuccessScreenshotName)
	assert.Equal(t, want, summary.Screenshot)
	assert.FileExists(t, want)
	assert.NoFileExists(t, filepath.Join(runsDir, run.ID, ErrorScreenshotName))

	require.Len(t, steps, len(verify.SuccessPath))
	for i, stage := range verify.SuccessPath {
		assert.Equal(t, stage, steps[i].stage)
	}
	assert.Equal(t, 95, steps[len(steps)-1].progress)
}

func TestVerifyProcessorFailedRun(t *testing.T) {
	session := &pageSession{missing: verify.DefaultJourney().Tab.Name}
	p, runsDir := newTestProcessor(t, launcherFor(session))
	run := NewRun(RunRequest{})

	summary, err := p.Process(context.Background(), run, func(verify.Stage, int, string) {})
	require.NoError(t, err)

	assert.Equal(t, verify.OutcomeFailed, summary.Outcome)
	assert.Equal(t, verify.StageTabSelected, summary.FailedStep)
	assert.Equal(t, verify.KindElementNotFound, summary.ErrorKind)
	assert.Equal(t, []string{"http://localhost:3000"}, session.navigated)
	assert.FileExists(t, filepath.Join(runsDir, run.ID, ErrorScreenshotName))
	assert.Equal(t, 1, session.closes)
}

func TestVerifyProcessorLaunchFailure(t *testing.T) {
	p, _ := newTestProcessor(t, verify.LauncherFunc(func(context.Context) (verify.Session, error) {
		return nil, errLaunch
	}))

	summary, err := p.Process(context.Background(), NewRun(RunRequest{}), func(verify.Stage, int, string) {})
	require.NoError(t, err)
	assert.Equal(t, verify.KindLaunch, summary.ErrorKind)
	assert.True(t, summary.Placeholder)
}

func TestVerifyProcessorRejectsBadBaseURL(t *testing.T) {
	p, _ := newTestProcessor(t, launcherFor(&pageSession{}))

	_, err := p.Process(context.Background(), NewRun(RunRequest{BaseURL: "localhost:3000"}), func(verify.Stage, int, string) {})
	assert.ErrorContains(t, err, "invalid base_url")
}

func TestValidateBaseURL(t *testing.T) {
	assert.NoError(t, ValidateBaseURL("http://localhost:3000"))
	assert.NoError(t, ValidateBaseURL("https://example.com/app"))
	assert.Error(t, ValidateBaseURL("ftp://example.com"))
	assert.Error(t, ValidateBaseURL("/relative"))
	assert.Error(t, ValidateBaseURL("http://[::1"))
}

func TestSendWebhookSigned(t *testing.T) {
	var (
		body      []byte
		signature string
		event     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Verifyq-Signature")
		event = r.Header.Get("X-Verifyq-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, _ := newTestProcessor(t, launcherFor(&pageSession{}))
	run := NewRun(RunRequest{Notify: &NotifyConfig{WebhookURL: srv.URL, WebhookSecret: "s3cret"}})
	run.Finish(verify.Summary{Outcome: verify.OutcomeFailed, Stage: verify.StageDownloadVisible, ErrorKind: verify.KindTimeout, Error: "wait for download link: timeout"})

	require.NoError(t, p.sendWebhook(context.Background(), run))

	assert.Equal(t, "run.failed", event)
	assert.True(t, security.VerifyWebhookSignature(body, signature, "s3cret"))
	assert.True(t, strings.HasPrefix(signature, security.SignaturePrefix))

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, run.ID, payload.RunID)
	assert.Equal(t, verify.KindTimeout, payload.ErrorKind)
	assert.Equal(t, "http://verifyq.test/verify/runs/"+run.ID+"/result", payload.ResultURL)
}

func TestSendWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := newTestProcessor(t, launcherFor(&pageSession{}))
	run := NewRun(RunRequest{Notify: &NotifyConfig{WebhookURL: srv.URL}})
	run.Finish(passingSummary())

	assert.ErrorContains(t, p.sendWebhook(context.Background(), run), "502")
}

func TestVerifyProcessorBoundsRunsByConfiguredWait(t *testing.T) {
	p, _ := newTestProcessor(t, launcherFor(&pageSession{}))

	var b downloadBounder = p
	assert.Equal(t, verify.DefaultOptions().DownloadTimeout, b.DownloadTimeout())
	assert.Equal(t, verify.DefaultOptions().DownloadTimeout+2*time.Minute, NewRun(RunRequest{}).TimeoutDuration(b.DownloadTimeout()))
}
