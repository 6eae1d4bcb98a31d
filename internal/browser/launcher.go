package browser

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// LaunchOptions controls how Chrome is started for a session.
type LaunchOptions struct {
	Bin           string
	Headless      bool
	ActionTimeout time.Duration
}

// DefaultLaunchOptions returns headless Chrome with a 30s implicit timeout.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Headless:      true,
		ActionTimeout: 30 * time.Second,
	}
}

// Launcher starts a fresh Chrome process per session. Sessions never share
// a process.
type Launcher struct {
	opts LaunchOptions
}

// NewLauncher creates a new Chrome launcher.
func NewLauncher(opts LaunchOptions) *Launcher {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultLaunchOptions().ActionTimeout
	}
	return &Launcher{opts: opts}
}

// Launch starts Chrome, connects via CDP and opens a page inside a new
// incognito browsing context. Anything acquired before a failure is released.
// ctx only gates the start: the process lives until Session.Close so that a
// canceled run can still capture its error screenshot.
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	ln := launcher.New().Headless(l.opts.Headless)
	if l.opts.Bin != "" {
		ln.Bin(l.opts.Bin)
	}

	wsURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to launch chrome: %w", ErrLaunch, err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("%w: failed to connect to chrome: %w", ErrLaunch, err)
	}

	s := &Session{
		launcher:      ln,
		browser:       b,
		actionTimeout: l.opts.ActionTimeout,
	}

	incognito, err := b.Incognito()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create browsing context: %w", ErrLaunch, err)
	}
	s.context = incognito

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create new page: %w", ErrLaunch, err)
	}
	s.page = page

	log.Printf("Chrome started with endpoint %s", wsURL)
	return s, nil
}
