package queue

import (
	"encoding/json"
	"time"

	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/google/uuid"
)

// Default values for run configuration
const (
	DefaultResultTTL  = 7 * 24 * time.Hour // 7 days
	MaxDownloadWait   = 5 * time.Minute
	DefaultRunTimeout = 3 * time.Minute

	// runOverhead covers launch, navigation and capture around the wait.
	runOverhead = 2 * time.Minute
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusPassed   RunStatus = "passed"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	return s == RunStatusPassed || s == RunStatusFailed || s == RunStatusCanceled
}

// NotifyConfig holds notification settings for a run
type NotifyConfig struct {
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"` // For HMAC signature
}

// RunRequest represents a run creation request
type RunRequest struct {
	BaseURL         string        `json:"base_url,omitempty"`         // overrides the configured application address
	DownloadTimeout int           `json:"download_timeout,omitempty"` // seconds
	Notify          *NotifyConfig `json:"notify,omitempty"`
	IdempotencyKey  string        `json:"idempotency_key,omitempty"`
	ResultTTL       int           `json:"result_ttl,omitempty"` // seconds (default: 7 days)
}

// Run represents one queued execution of the verification journey
type Run struct {
	ID             string          `json:"run_id"`
	Status         RunStatus       `json:"status"`
	Stage          verify.Stage    `json:"stage,omitempty"`
	Progress       int             `json:"progress"`
	Message        string          `json:"message,omitempty"`
	Request        RunRequest      `json:"request"`
	Summary        *verify.Summary `json:"summary,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
	StartedAt      int64           `json:"started_at,omitempty"`
	CompletedAt    int64           `json:"completed_at,omitempty"`
	ExpiresAt      int64           `json:"expires_at,omitempty"` // When the result will be deleted
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// NewRun creates a new run from a request
func NewRun(req RunRequest) *Run {
	now := time.Now()

	resultTTL := DefaultResultTTL
	if req.ResultTTL > 0 {
		resultTTL = time.Duration(req.ResultTTL) * time.Second
	}

	if req.DownloadTimeout < 0 {
		req.DownloadTimeout = 0
	}
	if max := int(MaxDownloadWait.Seconds()); req.DownloadTimeout > max {
		req.DownloadTimeout = max
	}

	return &Run{
		ID:             generateRunID(),
		Status:         RunStatusQueued,
		Request:        req,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      now.Add(resultTTL).Unix(),
		IdempotencyKey: req.IdempotencyKey,
	}
}

// SetStatus updates the run status
func (r *Run) SetStatus(status RunStatus) {
	now := time.Now().Unix()
	r.Status = status
	r.UpdatedAt = now

	if status == RunStatusRunning && r.StartedAt == 0 {
		r.StartedAt = now
	}

	if status.Done() {
		r.CompletedAt = now
	}
}

// SetProgress updates the run progress
func (r *Run) SetProgress(stage verify.Stage, progress int, message string) {
	r.Stage = stage
	r.Progress = progress
	r.Message = message
	r.UpdatedAt = time.Now().Unix()
}

// Finish records the journey summary and the matching terminal status
func (r *Run) Finish(summary verify.Summary) {
	r.Summary = &summary
	r.Stage = summary.Stage
	if summary.Outcome == verify.OutcomePassed {
		r.Progress = 100
		r.Message = verify.SuccessMessage
		r.SetStatus(RunStatusPassed)
		return
	}
	r.Message = summary.Error
	r.SetStatus(RunStatusFailed)
}

// IsExpired checks if the run result has expired
func (r *Run) IsExpired() bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() > r.ExpiresAt
}

// DownloadTimeoutDuration returns the requested download bound, or zero to
// use the configured one.
func (r *Run) DownloadTimeoutDuration() time.Duration {
	if r.Request.DownloadTimeout <= 0 {
		return 0
	}
	return time.Duration(r.Request.DownloadTimeout) * time.Second
}

// TimeoutDuration bounds the whole run: the download wait plus time for
// launch, navigation and capture. fallback is the configured download bound,
// used when the request carries no override.
func (r *Run) TimeoutDuration(fallback time.Duration) time.Duration {
	d := r.DownloadTimeoutDuration()
	if d <= 0 {
		d = fallback
	}
	if d <= 0 {
		return DefaultRunTimeout
	}
	return d + runOverhead
}

// ToJSON serializes a run to JSON
func (r *Run) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes a run from JSON
func FromJSON(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunCreatedResponse represents the response when a run is created
type RunCreatedResponse struct {
	RunID         string    `json:"run_id"`
	Status        RunStatus `json:"status"`
	StatusURL     string    `json:"status_url"`
	ResultURL     string    `json:"result_url"`
	ScreenshotURL string    `json:"screenshot_url"`
	Events        struct {
		SSEURL string `json:"sse_url"`
		WSURL  string `json:"ws_url"`
	} `json:"events"`
}

// RunResultResponse represents a run result response
type RunResultResponse struct {
	RunID   string          `json:"run_id"`
	Status  RunStatus       `json:"status"`
	Summary *verify.Summary `json:"summary,omitempty"`
}

func generateRunID() string {
	return "run_" + uuid.New().String()[:8]
}
