package verify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ahrdadan/verifyq/internal/browser"
)

// Stage is a state of the verification journey.
type Stage string

const (
	StageInit                 Stage = "init"
	StageLaunched             Stage = "launched"
	StageNavigated            Stage = "navigated"
	StageTabSelected          Stage = "tab_selected"
	StageFileAttached         Stage = "file_attached"
	StageCompressionTriggered Stage = "compression_triggered"
	StageDownloadVisible      Stage = "download_visible"
	StageCaptured             Stage = "captured"
	StageFailed               Stage = "failed"
	StageClosed               Stage = "closed"
)

// SuccessPath lists the stages a passing run reaches, in order.
var SuccessPath = []Stage{
	StageLaunched,
	StageNavigated,
	StageTabSelected,
	StageFileAttached,
	StageCompressionTriggered,
	StageDownloadVisible,
	StageCaptured,
}

// Kind classifies why a journey failed.
type Kind string

const (
	KindLaunch          Kind = "launch"
	KindNavigation      Kind = "navigation"
	KindElementNotFound Kind = "element_not_found"
	KindTimeout         Kind = "timeout_exceeded"
	KindFilesystem      Kind = "filesystem"
	KindCanceled        Kind = "canceled"
	KindAction          Kind = "action"
)

// ErrDownloadTimeout is returned when the result control never shows up
// within the download bound.
var ErrDownloadTimeout = errors.New("download link not visible before timeout")

// StageError records the step that was being attempted when the journey
// failed. Stage is the step, not the last step reached.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage.Step(), e.Err)
}

var stepNames = map[Stage]string{
	StageLaunched:             "launch browser",
	StageNavigated:            "navigate",
	StageTabSelected:          "select tab",
	StageFileAttached:         "attach file",
	StageCompressionTriggered: "trigger compression",
	StageDownloadVisible:      "wait for download link",
	StageCaptured:             "capture screenshot",
}

// Step names the action that leads into the stage.
func (s Stage) Step() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return string(s)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a StageError of kind k.
func IsKind(err error, k Kind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}

func classify(stage Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}

	kind := KindAction
	var pathErr *os.PathError
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, browser.ErrLaunch):
		kind = KindLaunch
	case errors.Is(err, browser.ErrNavigation):
		kind = KindNavigation
	case errors.Is(err, browser.ErrElementNotFound):
		kind = KindElementNotFound
	case errors.Is(err, ErrDownloadTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &pathErr):
		kind = KindFilesystem
	case stage == StageLaunched:
		kind = KindLaunch
	case stage == StageNavigated:
		kind = KindNavigation
	}

	return &StageError{Stage: stage, Kind: kind, Err: err}
}
