package security

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding window rate limiter with a per-second
// burst cap
type RateLimiter struct {
	windows  map[string]*window
	mu       sync.Mutex
	limit    int
	span     time.Duration
	burstMax int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	requests []time.Time
	lastSeen time.Time
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window
	RequestsPerWindow int
	// WindowDuration is the duration of the rate limit window
	WindowDuration time.Duration
	// BurstMax is the maximum number of requests within one second
	BurstMax int
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
		BurstMax:          5,
	}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = def.RequestsPerWindow
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = def.WindowDuration
	}
	if config.BurstMax <= 0 {
		config.BurstMax = config.RequestsPerWindow
	}

	rl := &RateLimiter{
		windows:  make(map[string]*window),
		limit:    config.RequestsPerWindow,
		span:     config.WindowDuration,
		burstMax: config.BurstMax,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop(5 * time.Minute)

	return rl
}

// Stop ends the background cleanup
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow records a request for key (client ID or IP) if it fits the window
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok {
		w = &window{requests: make([]time.Time, 0, rl.limit)}
		rl.windows[key] = w
	}
	w.lastSeen = now
	w.prune(now.Add(-rl.span))

	if len(w.requests) >= rl.limit {
		return false
	}
	if w.countAfter(now.Add(-time.Second)) >= rl.burstMax {
		return false
	}

	w.requests = append(w.requests, now)
	return true
}

// Reset forgets all requests of a key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, key)
}

// RateLimitInfo contains rate limit information for response headers
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// GetInfo returns rate limit info for a key
func (rl *RateLimiter) GetInfo(key string) RateLimitInfo {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info := RateLimitInfo{Limit: rl.limit, Remaining: rl.limit, ResetAt: now}

	w, ok := rl.windows[key]
	if !ok {
		return info
	}

	cutoff := now.Add(-rl.span)
	used := w.countAfter(cutoff)
	if remaining := rl.limit - used; remaining > 0 {
		info.Remaining = remaining
	} else {
		info.Remaining = 0
	}

	// the oldest live request leaves the window first
	for _, t := range w.requests {
		if t.After(cutoff) {
			info.ResetAt = t.Add(rl.span)
			break
		}
	}
	return info
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops windows idle for two spans
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.span)
	for key, w := range rl.windows {
		if w.lastSeen.Before(cutoff) {
			delete(rl.windows, key)
		}
	}
}

func (w *window) prune(cutoff time.Time) {
	valid := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	w.requests = valid
}

func (w *window) countAfter(cutoff time.Time) int {
	n := 0
	for _, t := range w.requests {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
