package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Session owns one browser/context/page triple. It is not safe for
// concurrent use; Close may be called from any goroutine.
type Session struct {
	launcher      *launcher.Launcher
	browser       *rod.Browser
	context       *rod.Browser
	page          *rod.Page
	actionTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, cancel := s.pageFor(ctx)
	defer cancel()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, s.annotate(err))
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: failed to wait for page load: %w", ErrNavigation, s.annotate(err))
	}
	return nil
}

// Click waits for the located element and clicks it.
func (s *Session) Click(ctx context.Context, loc Locator) error {
	el, cancel, err := s.element(ctx, loc)
	if err != nil {
		return err
	}
	defer cancel()

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", loc, s.annotate(err))
	}
	return nil
}

// SetFiles attaches local files to the located file input. Hidden inputs
// are fine.
func (s *Session) SetFiles(ctx context.Context, loc Locator, paths []string) error {
	el, cancel, err := s.element(ctx, loc)
	if err != nil {
		return err
	}
	defer cancel()

	if err := el.SetFiles(paths); err != nil {
		return fmt.Errorf("failed to set files on %s: %w", loc, s.annotate(err))
	}
	return nil
}

// IsVisible reports whether the located element is currently rendered and
// visible. It never waits for the element to appear.
func (s *Session) IsVisible(ctx context.Context, loc Locator) (bool, error) {
	sel, err := loc.Selector()
	if err != nil {
		return false, err
	}

	page := s.page.Context(ctx).Sleeper(rod.NotFoundSleeper)

	var el *rod.Element
	if pattern := loc.TextPattern(); pattern != "" {
		el, err = page.ElementR(sel, pattern)
	} else {
		el, err = page.Element(sel)
	}
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, s.annotate(err)
	}

	visible, err := el.Visible()
	if err != nil {
		return false, s.annotate(err)
	}
	return visible, nil
}

// Screenshot captures the page as PNG.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, cancel := s.pageFor(ctx)
	defer cancel()

	data, err := page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", s.annotate(err))
	}
	return data, nil
}

// Close releases the page, browsing context and Chrome process. Only the
// first call does any work; later calls return the same error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				log.Printf("Warning: failed to close chrome: %v", err)
				s.closeErr = fmt.Errorf("failed to close chrome: %w", err)
			}
		}

		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}

		log.Println("Chrome stopped")
	})
	return s.closeErr
}

func (s *Session) pageFor(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := withTimeout(ctx, s.actionTimeout)
	return s.page.Context(ctx), cancel
}

func (s *Session) element(ctx context.Context, loc Locator) (*rod.Element, context.CancelFunc, error) {
	sel, err := loc.Selector()
	if err != nil {
		return nil, nil, err
	}

	page, cancel := s.pageFor(ctx)

	var el *rod.Element
	if pattern := loc.TextPattern(); pattern != "" {
		el, err = page.ElementR(sel, pattern)
	} else {
		el, err = page.Element(sel)
	}
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrElementNotFound, loc, s.annotate(err))
	}
	return el, cancel, nil
}

func (s *Session) annotate(err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
