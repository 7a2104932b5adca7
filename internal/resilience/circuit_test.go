package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/resilience"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(2, 0.5, time.Second).WithClock(clock.Now)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	clock.now = clock.now.Add(2 * time.Second)
	require.True(t, breaker.Allow(ctx), "breaker should admit a probe after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerDoIgnoresNonFailures(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	business := errors.New("insufficient stock")

	err := breaker.Do(ctx, func(context.Context) error { return business }, func(err error) bool {
		return !errors.Is(err, business)
	})
	require.ErrorIs(t, err, business)
	require.Equal(t, resilience.Closed, breaker.State())

	err = breaker.Do(ctx, func(context.Context) error { return errors.New("dial tcp") }, nil)
	require.Error(t, err)
	require.Equal(t, resilience.Open, breaker.State())

	err = breaker.Do(ctx, func(context.Context) error { return nil }, nil)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	d1 := resilience.Backoff(base, 1, 0)
	require.Equal(t, base, d1)

	d2 := resilience.Backoff(base, 3, 0)
	require.Equal(t, base*4, d2)

	d3 := resilience.Backoff(base, 2, 0.2)
	min := base*2 - (base * 2 / 5)
	max := base*2 + (base * 2 / 5)
	require.GreaterOrEqual(t, d3, min)
	require.LessOrEqual(t, d3, max)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	transient := errors.New("conflict")
	fatal := errors.New("fatal")
	calls := 0
	err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		MaxRetries: 5,
		Base:       time.Millisecond,
		Retryable:  func(err error) bool { return errors.Is(err, transient) },
	}, func(attempt int) error {
		calls++
		if attempt < 3 {
			return transient
		}
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 3, calls)
}

func TestRetryExhausts(t *testing.T) {
	transient := errors.New("conflict")
	var retried []int
	err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		MaxRetries: 2,
		Base:       time.Millisecond,
		Retryable:  func(error) bool { return true },
		OnRetry:    func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func(int) error { return transient })
	require.ErrorIs(t, err, transient)
	require.Equal(t, []int{1, 2}, retried)
}

func TestBreakerWindowForgetsOldOutcomes(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.75, time.Minute)
	ctx := context.Background()

	breaker.Report(ctx, false)
	breaker.Report(ctx, true)
	breaker.Report(ctx, true)
	breaker.Report(ctx, true)
	require.Equal(t, 1, breaker.Snapshot().Failures)

	// the ring holds four calls, so the first failure has aged out
	breaker.Report(ctx, false)
	snap := breaker.Snapshot()
	require.Equal(t, 4, snap.Calls)
	require.Equal(t, 1, snap.Failures)
	require.Equal(t, resilience.Closed, snap.State)
}

func TestBreakerProbeForReadiness(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(1, 0.5, time.Second).WithClock(clock.Now).WithTarget("docstore")
	ctx := context.Background()
	require.NoError(t, breaker.Probe(ctx))

	breaker.Report(ctx, false)
	require.ErrorIs(t, breaker.Probe(ctx), resilience.ErrOpenCircuit)

	clock.now = clock.now.Add(time.Second)
	require.NoError(t, breaker.Probe(ctx), "cool-off elapsed, next call may probe")
}
