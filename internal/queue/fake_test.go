package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/nats-io/nats.go/jetstream"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(p.payloads))}, nil
}

type processFunc func(ctx context.Context, run *Run, progress ProgressFunc) (verify.Summary, error)

type fakeProcessor struct {
	process         processFunc
	downloadTimeout time.Duration
	calls           int
	notified        []*Run
}

func (p *fakeProcessor) DownloadTimeout() time.Duration {
	return p.downloadTimeout
}

func (p *fakeProcessor) Process(ctx context.Context, run *Run, progress ProgressFunc) (verify.Summary, error) {
	p.calls++
	return p.process(ctx, run, progress)
}

func (p *fakeProcessor) Notify(run *Run) {
	p.notified = append(p.notified, run)
}

// pageSession stands in for a browser page that completes the journey.
type pageSession struct {
	mu        sync.Mutex
	navigated []string
	closes    int
	missing   string
}

func (s *pageSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *pageSession) Click(_ context.Context, loc browser.Locator) error {
	if loc.Name != "" && loc.Name == s.missing {
		return browser.ErrElementNotFound
	}
	return nil
}

func (s *pageSession) SetFiles(context.Context, browser.Locator, []string) error { return nil }

func (s *pageSession) IsVisible(context.Context, browser.Locator) (bool, error) { return true, nil }

func (s *pageSession) Screenshot(context.Context, bool) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (s *pageSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func launcherFor(s *pageSession) verify.Launcher {
	return verify.LauncherFunc(func(context.Context) (verify.Session, error) {
		return s, nil
	})
}

var errLaunch = errors.New("chrome unavailable")
