package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahrdadan/verifyq/internal/security"
	"github.com/ahrdadan/verifyq/internal/verify"
)

// Artifact names inside a run directory
const (
	SuccessScreenshotName = "pdf_compression_result.png"
	ErrorScreenshotName   = "error.png"
)

// stageProgress maps journey stages to a completion percentage
var stageProgress = map[verify.Stage]int{
	verify.StageLaunched:             10,
	verify.StageNavigated:            25,
	verify.StageTabSelected:          40,
	verify.StageFileAttached:         55,
	verify.StageCompressionTriggered: 70,
	verify.StageDownloadVisible:      85,
	verify.StageCaptured:             95,
}

// VerifyProcessor processes runs by driving the verification journey
type VerifyProcessor struct {
	launcher  verify.Launcher
	base      verify.Options
	runsDir   string
	publicURL string
	observers []verify.Observer
	client    *http.Client
}

// NewVerifyProcessor creates a processor. base supplies the application
// address, sample file and timing; screenshot paths are set per run under
// runsDir.
func NewVerifyProcessor(l verify.Launcher, base verify.Options, runsDir, publicURL string, observers ...verify.Observer) *VerifyProcessor {
	return &VerifyProcessor{
		launcher:  l,
		base:      base,
		runsDir:   runsDir,
		publicURL: strings.TrimRight(publicURL, "/"),
		observers: observers,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RunDir returns the artifact directory of a run
func (p *VerifyProcessor) RunDir(runID string) string {
	return filepath.Join(p.runsDir, runID)
}

// DownloadTimeout returns the configured bound of the download wait
func (p *VerifyProcessor) DownloadTimeout() time.Duration {
	return p.base.DownloadTimeout
}

// Process runs the journey once for the run
func (p *VerifyProcessor) Process(ctx context.Context, run *Run, progress ProgressFunc) (verify.Summary, error) {
	opts := p.base
	if run.Request.BaseURL != "" {
		if err := ValidateBaseURL(run.Request.BaseURL); err != nil {
			return verify.Summary{}, err
		}
		opts.BaseURL = run.Request.BaseURL
	}
	if d := run.DownloadTimeoutDuration(); d > 0 {
		opts.DownloadTimeout = d
	}

	dir := p.RunDir(run.ID)
	opts.SuccessScreenshotPath = filepath.Join(dir, SuccessScreenshotName)
	opts.ErrorScreenshotPath = filepath.Join(dir, ErrorScreenshotName)

	driverOpts := []verify.DriverOption{
		verify.WithOutput(log.Writer()),
		verify.WithObserver(stageReporter(progress)),
	}
	for _, o := range p.observers {
		driverOpts = append(driverOpts, verify.WithObserver(o))
	}

	res := verify.NewDriver(p.launcher, opts, driverOpts...).Run(ctx)
	if res.ArtifactErr != nil {
		log.Printf("Run %s: screenshot not saved: %v", run.ID, res.ArtifactErr)
	}
	return res.Summary(), nil
}

// Notify sends the webhook of a finished run, if one is configured
func (p *VerifyProcessor) Notify(run *Run) {
	if run.Request.Notify == nil || run.Request.Notify.WebhookURL == "" {
		return
	}
	cp := *run
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.sendWebhook(ctx, &cp); err != nil {
			log.Printf("Failed to send webhook for run %s: %v", cp.ID, err)
		}
	}()
}

// ValidateBaseURL accepts absolute http and https addresses
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base_url: %q is not an absolute http(s) URL", raw)
	}
	return nil
}

// stageReporter forwards success-path stages as progress updates
type stageReporter ProgressFunc

func (r stageReporter) StageReached(stage verify.Stage) {
	pct, ok := stageProgress[stage]
	if !ok {
		return
	}
	r(stage, pct, stage.Step())
}

func (r stageReporter) Finished(*verify.Result) {}

// webhookPayload is the body posted when a run finishes
type webhookPayload struct {
	RunID      string       `json:"run_id"`
	Status     RunStatus    `json:"status"`
	Stage      verify.Stage `json:"stage,omitempty"`
	ErrorKind  verify.Kind  `json:"error_kind,omitempty"`
	Error      string       `json:"error,omitempty"`
	ResultURL  string       `json:"result_url"`
	FinishedAt int64        `json:"finished_at"`
}

func (p *VerifyProcessor) sendWebhook(ctx context.Context, run *Run) error {
	payload := webhookPayload{
		RunID:      run.ID,
		Status:     run.Status,
		Stage:      run.Stage,
		ResultURL:  fmt.Sprintf("%s/verify/runs/%s/result", p.publicURL, run.ID),
		FinishedAt: run.CompletedAt,
	}
	if run.Summary != nil {
		payload.ErrorKind = run.Summary.ErrorKind
		payload.Error = run.Summary.Error
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, run.Request.Notify.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Verifyq-Event", "run."+string(run.Status))
	if secret := run.Request.Notify.WebhookSecret; secret != "" {
		req.Header.Set("X-Verifyq-Signature", security.SignaturePrefix+security.GenerateWebhookSignature(data, secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
