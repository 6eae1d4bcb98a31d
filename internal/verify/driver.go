package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ahrdadan/verifyq/internal/browser"
)

const (
	// SuccessMessage is printed when the journey passes.
	SuccessMessage = "Verification script completed successfully."

	errorCaptureTimeout = 10 * time.Second
)

// Session is one exclusively owned browser/context/page triple.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, loc browser.Locator) error
	SetFiles(ctx context.Context, loc browser.Locator, paths []string) error
	IsVisible(ctx context.Context, loc browser.Locator) (bool, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// Launcher acquires a fresh Session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context) (Session, error) { return f(ctx) }

// ChromeLauncher launches real Chrome sessions through rod.
func ChromeLauncher(l *browser.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context) (Session, error) {
		s, err := l.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Observer is told about every stage transition and the final result.
type Observer interface {
	StageReached(stage Stage)
	Finished(res *Result)
}

// Journey names the controls the driver interacts with.
type Journey struct {
	Tab       browser.Locator
	FileInput browser.Locator
	Compress  browser.Locator
	Download  browser.Locator
}

// DefaultJourney returns the PDF Compression journey.
func DefaultJourney() Journey {
	return Journey{
		Tab:       browser.ByRole("button", "PDF Compression"),
		FileInput: browser.ByCSS(`input[type="file"]`),
		Compress:  browser.ByRole("button", "Compress PDF"),
		Download:  browser.ByRole("link", "Download PDF"),
	}
}

// Options configures a single run.
type Options struct {
	BaseURL               string
	SamplePath            string
	SuccessScreenshotPath string
	ErrorScreenshotPath   string
	DownloadTimeout       time.Duration
	PollInterval          time.Duration
	FullPage              bool
}

// DefaultOptions mirrors the fixed values of the original verification script.
func DefaultOptions() Options {
	return Options{
		BaseURL:               "http://localhost:5173",
		SamplePath:            "jules-scratch/verification/sample.pdf",
		SuccessScreenshotPath: "jules-scratch/verification/pdf_compression_result.png",
		ErrorScreenshotPath:   "jules-scratch/verification/error.png",
		DownloadTimeout:       30 * time.Second,
		PollInterval:          100 * time.Millisecond,
		FullPage:              true,
	}
}

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithOutput sets where the human-readable outcome line goes.
func WithOutput(w io.Writer) DriverOption {
	return func(d *Driver) { d.out = w }
}

// WithClock replaces the clock used by the visibility wait.
func WithClock(c Clock) DriverOption {
	return func(d *Driver) { d.clock = c }
}

// WithJourney replaces the default locators.
func WithJourney(j Journey) DriverOption {
	return func(d *Driver) { d.journey = j }
}

// WithObserver adds an observer.
func WithObserver(o Observer) DriverOption {
	return func(d *Driver) { d.observers = append(d.observers, o) }
}

// Driver runs the verification journey. A Driver may be reused, but runs
// must not overlap.
type Driver struct {
	launcher  Launcher
	journey   Journey
	opts      Options
	out       io.Writer
	clock     Clock
	observers []Observer
}

// NewDriver creates a driver. Zero-valued timing options fall back to the
// defaults.
func NewDriver(l Launcher, opts Options, options ...DriverOption) *Driver {
	defaults := DefaultOptions()
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = defaults.DownloadTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}

	d := &Driver{
		launcher: l,
		journey:  DefaultJourney(),
		opts:     opts,
		out:      os.Stdout,
		clock:    RealClock(),
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Run performs the journey once. It never returns an error: the outcome,
// the failing step and the artifact written are all on the Result. The
// session is released exactly once on every path, including panics.
func (d *Driver) Run(ctx context.Context) (res *Result) {
	started := time.Now()
	res = &Result{StartedAt: started, Stage: StageInit}

	var session Session
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				log.Printf("Warning: failed to release browser session: %v", err)
			}
		}
		d.reach(res, StageClosed)
		res.Duration = time.Since(started)
		for _, o := range d.observers {
			o.Finished(res)
		}
	}()

	s, err := d.launcher.Launch(ctx)
	if err != nil {
		d.fail(ctx, nil, res, classify(StageLaunched, err))
		return res
	}
	session = s
	d.reach(res, StageLaunched)

	if err := d.steps(ctx, session, res); err != nil {
		d.fail(ctx, session, res, err)
		return res
	}

	res.Outcome = OutcomePassed
	fmt.Fprintln(d.out, SuccessMessage)
	return res
}

// steps runs the journey after launch. Every failure is already classified.
func (d *Driver) steps(ctx context.Context, s Session, res *Result) *StageError {
	step := func(stage Stage, fn func() error) *StageError {
		if err := ctx.Err(); err != nil {
			return classify(stage, err)
		}
		if err := fn(); err != nil {
			return classify(stage, err)
		}
		d.reach(res, stage)
		return nil
	}

	if err := step(StageNavigated, func() error {
		return s.Navigate(ctx, d.opts.BaseURL)
	}); err != nil {
		return err
	}

	if err := step(StageTabSelected, func() error {
		return s.Click(ctx, d.journey.Tab)
	}); err != nil {
		return err
	}

	if err := step(StageFileAttached, func() error {
		sample, err := filepath.Abs(d.opts.SamplePath)
		if err != nil {
			return err
		}
		if _, err := os.Stat(sample); err != nil {
			return err
		}
		return s.SetFiles(ctx, d.journey.FileInput, []string{sample})
	}); err != nil {
		return err
	}

	if err := step(StageCompressionTriggered, func() error {
		return s.Click(ctx, d.journey.Compress)
	}); err != nil {
		return err
	}

	if err := step(StageDownloadVisible, func() error {
		return waitUntil(ctx, d.clock, d.opts.DownloadTimeout, d.opts.PollInterval, func(ctx context.Context) (bool, error) {
			visible, err := s.IsVisible(ctx, d.journey.Download)
			if errors.Is(err, browser.ErrSessionClosed) {
				return false, &fatalProbeError{err: err}
			}
			return visible, err
		})
	}); err != nil {
		return err
	}

	return step(StageCaptured, func() error {
		data, err := s.Screenshot(ctx, d.opts.FullPage)
		if err != nil {
			return err
		}
		if err := removeStale(d.opts.ErrorScreenshotPath); err != nil {
			return err
		}
		if err := writeArtifact(d.opts.SuccessScreenshotPath, data); err != nil {
			return err
		}
		res.ScreenshotPath = d.opts.SuccessScreenshotPath
		return nil
	})
}

// fail reports the error and leaves the error screenshot behind.
func (d *Driver) fail(ctx context.Context, s Session, res *Result, se *StageError) {
	res.Outcome = OutcomeFailed
	res.Err = se
	d.reach(res, StageFailed)

	fmt.Fprintf(d.out, "An error occurred: %v\n", se)
	log.Printf("Journey failed at %s (%s): %v", se.Stage, se.Kind, se.Err)

	data, placeholder := d.captureError(ctx, s)

	if err := removeStale(d.opts.SuccessScreenshotPath); err != nil {
		log.Printf("Warning: failed to remove stale screenshot: %v", err)
	}
	if err := writeArtifact(d.opts.ErrorScreenshotPath, data); err != nil {
		log.Printf("Warning: failed to write error screenshot: %v", err)
		res.ArtifactErr = err
		return
	}

	res.ScreenshotPath = d.opts.ErrorScreenshotPath
	res.Placeholder = placeholder
}

// captureError screenshots the page under a fresh bound, so a timed-out or
// canceled run can still show where it stopped.
func (d *Driver) captureError(ctx context.Context, s Session) ([]byte, bool) {
	if s == nil {
		return placeholderPNG(), true
	}

	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorCaptureTimeout)
	defer cancel()

	data, err := s.Screenshot(captureCtx, d.opts.FullPage)
	if err != nil || len(data) == 0 {
		log.Printf("Warning: failed to capture error screenshot: %v", err)
		return placeholderPNG(), true
	}
	return data, false
}

func (d *Driver) reach(res *Result, stage Stage) {
	res.Transitions = append(res.Transitions, stage)
	if stage != StageFailed && stage != StageClosed {
		res.Stage = stage
	}
	for _, o := range d.observers {
		o.StageReached(stage)
	}
}
