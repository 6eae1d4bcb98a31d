package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the JetStream stream
	StreamName = "VERIFYQ_RUNS"
	// SubjectName is the subject for run messages
	SubjectName = "verifyq.runs"
	// ConsumerName is the name of the durable consumer
	ConsumerName = "verifyq-worker"

	fetchRetryDelay = time.Second
)

// ProgressFunc receives stage changes of a running run
type ProgressFunc func(stage verify.Stage, progress int, message string)

// RunProcessor executes one run. A journey failure is reported in the
// summary; the error return is for runs that could not be attempted at all.
type RunProcessor interface {
	Process(ctx context.Context, run *Run, progress ProgressFunc) (verify.Summary, error)
}

// Notifier is implemented by processors that announce finished runs
type Notifier interface {
	Notify(run *Run)
}

// downloadBounder is implemented by processors with a configured download
// wait; runs without an override are bounded by it.
type downloadBounder interface {
	DownloadTimeout() time.Duration
}

type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Manager manages the run queue. Runs are processed one at a time so no two
// browser sessions ever overlap.
type Manager struct {
	js        jetstream.JetStream
	pub       publisher
	store     *Store
	events    *EventHub
	stream    jetstream.Stream
	consumer  jetstream.Consumer
	mu        sync.Mutex
	active    map[string]context.CancelFunc
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a new queue manager
func NewManager(js jetstream.JetStream) (*Manager, error) {
	m := newManager(js)
	m.js = js

	if err := m.setupStream(); err != nil {
		m.cancel()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	return m, nil
}

func newManager(pub publisher) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		pub:    pub,
		store:  NewStore(),
		events: NewEventHub(),
		active: make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// setupStream creates or updates the JetStream stream
func (m *Manager) setupStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Verifyq run queue",
		Subjects:    []string{SubjectName},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	m.stream = stream

	// A failed journey is a result, not a delivery problem: no redelivery.
	consumer, err := m.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          ConsumerName,
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
		MaxAckPending: 1,
		AckWait:       MaxDownloadWait + 5*time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	m.consumer = consumer

	return nil
}

// Start starts processing runs from the queue
func (m *Manager) Start(processor RunProcessor) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	if m.consumer == nil {
		m.mu.Unlock()
		return fmt.Errorf("queue consumer not configured")
	}
	m.isRunning = true
	m.mu.Unlock()

	log.Println("Starting run queue worker...")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			default:
				msgs, err := m.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
				if err != nil {
					if !m.pause(fetchRetryDelay) {
						return
					}
					continue
				}

				for msg := range msgs.Messages() {
					m.processMessage(msg, processor)
				}
			}
		}
	}()

	return nil
}

// pause waits d unless the manager stops first. It reports whether the
// worker should keep going.
func (m *Manager) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop stops the worker, cancelling the active run, and waits for its
// browser session to be released.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		m.cancel()
		m.store.Stop()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.events.Close()
	m.store.Stop()
	log.Println("Run queue worker stopped")
}

// Enqueue adds a run to the queue
func (m *Manager) Enqueue(run *Run) error {
	if err := m.store.Save(run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	data, err := run.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.pub.Publish(ctx, SubjectName, data); err != nil {
		_ = m.store.Delete(run.ID)
		return fmt.Errorf("failed to publish run: %w", err)
	}

	m.events.Emit(run.ID, Event{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run queued",
	})

	return nil
}

// EnqueueWithIdempotency enqueues a run unless one with the same
// idempotency key exists. The second return value reports a duplicate.
func (m *Manager) EnqueueWithIdempotency(run *Run) (*Run, bool, error) {
	if run.IdempotencyKey != "" {
		if existing, ok := m.store.GetByIdempotencyKey(run.IdempotencyKey); ok {
			cp := *existing
			return &cp, true, nil
		}
	}

	if err := m.Enqueue(run); err != nil {
		return nil, false, err
	}

	return run, false, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(runID string) (*Run, error) {
	return m.store.Get(runID)
}

// ListRuns returns all stored runs, newest first
func (m *Manager) ListRuns() []*Run {
	return m.store.List()
}

// CancelRun cancels a queued or running run. A running run has its context
// cancelled; the journey then fails and releases its browser session.
func (m *Manager) CancelRun(runID string) (*Run, error) {
	m.mu.Lock()
	run, err := m.store.Get(runID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if run.Status != RunStatusQueued && run.Status != RunStatusRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("cannot cancel run with status: %s", run.Status)
	}

	run.SetStatus(RunStatusCanceled)
	run.Message = "Run canceled"
	if err := m.store.Update(run); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if stop, ok := m.active[runID]; ok {
		stop()
	}
	m.mu.Unlock()

	m.emit(run)
	return run, nil
}

// Subscribe subscribes to run events
func (m *Manager) Subscribe(runID string) <-chan Event {
	return m.events.Subscribe(runID)
}

// Unsubscribe unsubscribes from run events
func (m *Manager) Unsubscribe(runID string, ch <-chan Event) {
	m.events.Unsubscribe(runID, ch)
}

// GetStore returns the run store
func (m *Manager) GetStore() *Store {
	return m.store
}

func (m *Manager) emit(run *Run) {
	m.events.Emit(run.ID, Event{
		RunID:    run.ID,
		Status:   run.Status,
		Stage:    run.Stage,
		Progress: run.Progress,
		Message:  run.Message,
	})
}

func (m *Manager) processMessage(msg jetstream.Msg, processor RunProcessor) {
	var queued Run
	if err := json.Unmarshal(msg.Data(), &queued); err != nil {
		log.Printf("Failed to unmarshal run: %v", err)
		_ = msg.Term()
		return
	}

	if err := m.execute(queued.ID, processor); err != nil {
		log.Printf("Dropping run %s: %v", queued.ID, err)
		_ = msg.Term()
		return
	}
	_ = msg.Ack()
}

// execute runs a stored run to completion. It returns an error only when the
// run is unknown; canceled runs are skipped.
func (m *Manager) execute(runID string, processor RunProcessor) error {
	var fallback time.Duration
	if b, ok := processor.(downloadBounder); ok {
		fallback = b.DownloadTimeout()
	}

	run, ctx, cancel, err := m.begin(runID, fallback)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	defer cancel()

	m.emit(run)

	summary, procErr := processor.Process(ctx, run, func(stage verify.Stage, progress int, message string) {
		m.mu.Lock()
		stored, err := m.store.Get(runID)
		if err != nil {
			m.mu.Unlock()
			return
		}
		stored.SetProgress(stage, progress, message)
		_ = m.store.Update(stored)
		m.mu.Unlock()
		m.emit(stored)
	})

	finished := m.finish(runID, summary, procErr)
	if finished == nil {
		return nil
	}
	m.emit(finished)

	if n, ok := processor.(Notifier); ok {
		n.Notify(finished)
	}
	return nil
}

func (m *Manager) begin(runID string, downloadTimeout time.Duration) (*Run, context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.store.Get(runID)
	if err != nil {
		return nil, nil, nil, err
	}
	if run.Status != RunStatusQueued {
		return nil, nil, nil, nil
	}

	run.SetStatus(RunStatusRunning)
	run.SetProgress(verify.StageInit, 0, "Run started")
	if err := m.store.Update(run); err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(m.ctx, run.TimeoutDuration(downloadTimeout))
	m.active[runID] = cancel
	return run, ctx, cancel, nil
}

func (m *Manager) finish(runID string, summary verify.Summary, procErr error) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, runID)

	run, err := m.store.Get(runID)
	if err != nil {
		return nil
	}

	switch {
	case run.Status == RunStatusCanceled:
		if summary.Outcome != "" {
			run.Summary = &summary
			run.Stage = summary.Stage
		}
	case procErr != nil:
		run.Message = procErr.Error()
		run.SetStatus(RunStatusFailed)
	default:
		run.Finish(summary)
	}

	if err := m.store.Update(run); err != nil {
		return nil
	}
	return run
}

// Active returns the number of runs currently holding a browser session
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
