package verify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Clock is the time source for the visibility wait.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// probe reports whether the awaited condition currently holds.
type probe func(ctx context.Context) (bool, error)

// fatalProbeError ends a wait early. Any other probe error counts as
// "not yet" and is retried until the deadline.
type fatalProbeError struct {
	err error
}

func (e *fatalProbeError) Error() string { return e.err.Error() }
func (e *fatalProbeError) Unwrap() error { return e.err }

// waitUntil polls check every interval until it returns true or timeout
// elapses on clock. The condition is always checked at least once, and once
// more at the deadline. Each check is bounded by the time left, but never by
// less than one interval.
func waitUntil(ctx context.Context, clock Clock, timeout, interval time.Duration, check probe) error {
	deadline := clock.Now().Add(timeout)
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		bound := deadline.Sub(clock.Now())
		if bound < interval {
			bound = interval
		}
		probeCtx, cancel := context.WithTimeout(ctx, bound)
		ok, err := check(probeCtx)
		cancel()

		if err != nil {
			var fatal *fatalProbeError
			if errors.As(err, &fatal) {
				return fatal.err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			lastErr = err
			ok = false
		}
		if ok {
			return nil
		}

		now := clock.Now()
		if !now.Before(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w (%s), last error: %v", ErrDownloadTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w (%s)", ErrDownloadTimeout, timeout)
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(wait):
		}
	}
}
