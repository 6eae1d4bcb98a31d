package queue

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Store is an in-memory run store with TTL support
type Store struct {
	runs           map[string]*Run
	idempotencyMap map[string]string // idempotency_key -> run_id
	mu             sync.RWMutex
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

// NewStore creates a new run store
func NewStore() *Store {
	s := &Store{
		runs:           make(map[string]*Run),
		idempotencyMap: make(map[string]string),
		stopCleanup:    make(chan struct{}),
	}

	go s.cleanupLoop(time.Hour)

	return s
}

func (s *Store) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired runs
func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, run := range s.runs {
		if run.IsExpired() {
			if run.IdempotencyKey != "" {
				delete(s.idempotencyMap, run.IdempotencyKey)
			}
			delete(s.runs, id)
			deleted++
		}
	}

	if deleted > 0 {
		log.Printf("Cleaned up %d expired runs", deleted)
	}
	return deleted
}

// Stop stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Save saves a run to the store
func (s *Store) Save(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	if run.IdempotencyKey != "" {
		s.idempotencyMap[run.IdempotencyKey] = run.ID
	}

	return nil
}

// GetByIdempotencyKey retrieves a run by idempotency key
func (s *Store) GetByIdempotencyKey(key string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.idempotencyMap[key]
	if !exists {
		return nil, false
	}

	run, exists := s.runs[id]
	if !exists || run.IsExpired() {
		return nil, false
	}

	return run, true
}

// Get retrieves a copy of a run by ID
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if run.IsExpired() {
		return nil, fmt.Errorf("run expired: %s", id)
	}

	cp := *run
	return &cp, nil
}

// Update replaces a stored run
func (s *Store) Update(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// Delete removes a run from the store
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[id]; ok && run.IdempotencyKey != "" {
		delete(s.idempotencyMap, run.IdempotencyKey)
	}
	delete(s.runs, id)
	return nil
}

// List returns all runs, newest first
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].ID > runs[j].ID
	})
	return runs
}
