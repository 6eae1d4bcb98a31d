package verify

import (
	"context"
	"sync"
	"time"

	"github.com/ahrdadan/verifyq/internal/browser"
)

// fakeClock advances only when the code under test waits on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// fakeSession scripts the application under test.
type fakeSession struct {
	clock   *fakeClock
	journey Journey

	navigateErr   error
	tabErr        error
	fileErr       error
	compressErr   error
	visibleErr    error
	// visibleErrAt fails single probes, keyed by 1-based probe number.
	visibleErrAt map[int]error
	probes       int
	screenshotErr error
	panicOnTab    bool

	// visibleAfter is measured from the compress click; negative means never.
	visibleAfter time.Duration
	triggeredAt  time.Time

	onVisibleProbe func()

	navigatedTo     string
	attached        []string
	screenshots     int
	screenshotCtxOK bool
	closes          int
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigatedTo = url
	return s.navigateErr
}

func (s *fakeSession) Click(_ context.Context, loc browser.Locator) error {
	switch loc {
	case s.journey.Tab:
		if s.panicOnTab {
			panic("tab exploded")
		}
		return s.tabErr
	case s.journey.Compress:
		if s.compressErr != nil {
			return s.compressErr
		}
		s.triggeredAt = s.clock.Now()
		return nil
	}
	return nil
}

func (s *fakeSession) SetFiles(_ context.Context, _ browser.Locator, paths []string) error {
	if s.fileErr != nil {
		return s.fileErr
	}
	s.attached = paths
	return nil
}

func (s *fakeSession) IsVisible(_ context.Context, _ browser.Locator) (bool, error) {
	if s.onVisibleProbe != nil {
		s.onVisibleProbe()
	}
	s.probes++
	if err := s.visibleErrAt[s.probes]; err != nil {
		return false, err
	}
	if s.visibleErr != nil {
		return false, s.visibleErr
	}
	if s.visibleAfter < 0 {
		return false, nil
	}
	return !s.clock.Now().Before(s.triggeredAt.Add(s.visibleAfter)), nil
}

func (s *fakeSession) Screenshot(ctx context.Context, _ bool) ([]byte, error) {
	s.screenshots++
	s.screenshotCtxOK = ctx.Err() == nil
	if s.screenshotErr != nil {
		return nil, s.screenshotErr
	}
	return []byte("\x89PNG-fake"), nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

type recordingObserver struct {
	stages   []Stage
	finished []*Result
}

func (o *recordingObserver) StageReached(stage Stage) { o.stages = append(o.stages, stage) }
func (o *recordingObserver) Finished(res *Result)     { o.finished = append(o.finished, res) }
