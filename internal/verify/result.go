package verify

import (
	"errors"
	"time"
)

// Outcome is the pass/fail verdict of a run.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
)

// Result describes a finished run.
type Result struct {
	Outcome Outcome
	// Stage is the last success-path stage reached.
	Stage       Stage
	Transitions []Stage
	// Err is a *StageError when the run failed.
	Err            error
	ScreenshotPath string
	// Placeholder is set when the error artifact is a stand-in image
	// because no page could be captured.
	Placeholder bool
	ArtifactErr error
	StartedAt   time.Time
	Duration    time.Duration
}

// Passed reports whether the journey completed.
func (r *Result) Passed() bool {
	return r.Outcome == OutcomePassed
}

// StageError returns the failure detail, or nil on success.
func (r *Result) StageError() *StageError {
	var se *StageError
	if errors.As(r.Err, &se) {
		return se
	}
	return nil
}

// Summary is the serialisable form of a Result.
type Summary struct {
	Outcome     Outcome `json:"outcome"`
	Stage       Stage   `json:"stage"`
	FailedStep  Stage   `json:"failed_step,omitempty"`
	ErrorKind   Kind    `json:"error_kind,omitempty"`
	Error       string  `json:"error,omitempty"`
	Screenshot  string  `json:"screenshot,omitempty"`
	Placeholder bool    `json:"placeholder,omitempty"`
	StartedAt   int64   `json:"started_at"`
	DurationMs  int64   `json:"duration_ms"`
}

// Summary flattens the result.
func (r *Result) Summary() Summary {
	s := Summary{
		Outcome:     r.Outcome,
		Stage:       r.Stage,
		Screenshot:  r.ScreenshotPath,
		Placeholder: r.Placeholder,
		StartedAt:   r.StartedAt.Unix(),
		DurationMs:  r.Duration.Milliseconds(),
	}
	if se := r.StageError(); se != nil {
		s.FailedStep = se.Stage
		s.ErrorKind = se.Kind
		s.Error = se.Error()
	}
	return s
}
