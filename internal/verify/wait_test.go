package verify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitUntilChecksImmediately(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()

	err := waitUntil(context.Background(), clock, 30*time.Second, time.Second, func(context.Context) (bool, error) {
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, start, clock.Now(), "no waiting when already visible")
}

func TestWaitUntilClampsLastSleepToDeadline(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	checks := 0

	err := waitUntil(context.Background(), clock, 2500*time.Millisecond, time.Second, func(context.Context) (bool, error) {
		checks++
		return false, nil
	})

	require.ErrorIs(t, err, ErrDownloadTimeout)
	assert.Equal(t, 2500*time.Millisecond, clock.Now().Sub(start))
	assert.Equal(t, 4, checks, "t=0, 1s, 2s and the deadline")
}

func TestWaitUntilRetriesTransientProbeError(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	checks := 0

	err := waitUntil(context.Background(), clock, 30*time.Second, time.Second, func(context.Context) (bool, error) {
		checks++
		if checks == 2 {
			return false, errors.New("Cannot find context with specified id")
		}
		return !clock.Now().Before(start.Add(5 * time.Second)), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, clock.Now().Sub(start))
}

func TestWaitUntilTimeoutKeepsLastProbeError(t *testing.T) {
	err := waitUntil(context.Background(), newFakeClock(), 3*time.Second, time.Second, func(context.Context) (bool, error) {
		return false, errors.New("Cannot find context with specified id")
	})

	require.ErrorIs(t, err, ErrDownloadTimeout)
	assert.Contains(t, err.Error(), "Cannot find context with specified id")
	assert.Equal(t, KindTimeout, classify(StageDownloadVisible, err).Kind)
}

func TestWaitUntilStopsOnFatalProbeError(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	closed := fmt.Errorf("%w: broken pipe", browser.ErrSessionClosed)

	err := waitUntil(context.Background(), clock, time.Minute, time.Second, func(context.Context) (bool, error) {
		return false, &fatalProbeError{err: closed}
	})

	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.NotErrorIs(t, err, ErrDownloadTimeout)
	assert.Equal(t, start, clock.Now())
}

func TestWaitUntilBoundsEachProbe(t *testing.T) {
	start := time.Now()

	err := waitUntil(context.Background(), RealClock(), 50*time.Millisecond, 10*time.Millisecond, func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})

	require.ErrorIs(t, err, ErrDownloadTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "a hung probe must not outlive the deadline")
}

func TestWaitUntilStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitUntil(ctx, newFakeClock(), time.Minute, time.Second, func(context.Context) (bool, error) {
		t.Fatal("probe must not run after cancellation")
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitUntilRealClock(t *testing.T) {
	start := time.Now()
	err := waitUntil(context.Background(), RealClock(), 50*time.Millisecond, 10*time.Millisecond, func(context.Context) (bool, error) {
		return time.Since(start) > 20*time.Millisecond, nil
	})
	require.NoError(t, err)
}
