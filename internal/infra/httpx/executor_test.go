package httpx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutor(t *testing.T, policy RetryPolicy) (*Executor, *[]time.Duration) {
	t.Helper()
	e := NewExecutor(policy, zerolog.Nop())
	var sleeps []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return e, &sleeps
}

func TestDoSucceedsFirstTry(t *testing.T) {
	e, sleeps := testExecutor(t, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute})

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	e, sleeps := testExecutor(t, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute})

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &TransientError{Op: "op", Err: errors.New("boom")}
	})

	assert.Equal(t, 3, calls)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)

	var te *TransientError
	assert.ErrorAs(t, err, &te)
	// Two delays for three attempts, each within its exponential window and
	// never shrinking.
	require.Len(t, *sleeps, 2)
	assert.GreaterOrEqual(t, (*sleeps)[0], time.Second)
	assert.LessOrEqual(t, (*sleeps)[0], 1250*time.Millisecond)
	assert.GreaterOrEqual(t, (*sleeps)[1], 2*time.Second)
	assert.LessOrEqual(t, (*sleeps)[1], 2500*time.Millisecond)
	assert.GreaterOrEqual(t, (*sleeps)[1], (*sleeps)[0])
}

func TestDoReportsEachRetry(t *testing.T) {
	retries := 0
	e, _ := testExecutor(t, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		OnRetry:     func() { retries++ },
	})

	_ = e.Do(context.Background(), "op", func(context.Context) error {
		return &TransientError{Op: "op", Err: errors.New("boom")}
	})
	assert.Equal(t, 2, retries, "three attempts are two retries")

	retries = 0
	require.NoError(t, e.Do(context.Background(), "op", func(context.Context) error {
		return nil
	}))
	assert.Zero(t, retries, "first-try success is not a retry")
}

func TestDoDelayCappedAtMax(t *testing.T) {
	e, sleeps := testExecutor(t, RetryPolicy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 2 * time.Second})

	_ = e.Do(context.Background(), "op", func(context.Context) error {
		return &TransientError{Op: "op", Err: errors.New("boom")}
	})
	require.Len(t, *sleeps, 5)
	for i, d := range *sleeps {
		assert.LessOrEqual(t, d, 2*time.Second, "delay %d over cap", i)
	}
}

func TestDoDoesNotRetryNotFound(t *testing.T) {
	e, sleeps := testExecutor(t, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fmt.Errorf("fetch: %w", ErrNotFound)
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestDoDoesNotRetryParseError(t *testing.T) {
	e, _ := testExecutor(t, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &ParseError{URL: "http://x", Reason: "no content"}
	})
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, calls)
}

func TestThrottleUsesFloorAndArmsCooldown(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		ThrottleFloor: 5 * time.Second,
		Cooldown:      30 * time.Second,
	}
	e, sleeps := testExecutor(t, policy)
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &ThrottleError{Op: "op", Err: errors.New("429")}
	})

	// Exactly MaxAttempts tries, final error still carries the throttle class.
	assert.Equal(t, 3, calls)
	var th *ThrottleError
	require.ErrorAs(t, err, &th)

	// Every inter-attempt delay sits on the throttle floor, strictly above
	// the transient backoff for the same attempt numbers.
	require.Len(t, *sleeps, 2)
	for _, d := range *sleeps {
		assert.GreaterOrEqual(t, d, policy.ThrottleFloor)
	}
	assert.Equal(t, policy.Cooldown, e.CooldownRemaining())

	// The next operation waits out the cooldown before its first attempt.
	*sleeps = nil
	calls = 0
	require.NoError(t, e.Do(context.Background(), "op2", func(context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, policy.Cooldown, (*sleeps)[0])
}

func TestThrottleRespectsRetryAfter(t *testing.T) {
	e, sleeps := testExecutor(t, RetryPolicy{
		MaxAttempts:   2,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		ThrottleFloor: 2 * time.Second,
	})

	_ = e.Do(context.Background(), "op", func(context.Context) error {
		return &ThrottleError{Op: "op", RetryAfter: 10 * time.Second, Err: errors.New("429")}
	})
	require.Len(t, *sleeps, 1)
	assert.GreaterOrEqual(t, (*sleeps)[0], 10*time.Second)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errc := make(chan error, 1)
	go func() {
		errc <- e.Do(ctx, "op", func(context.Context) error {
			calls++
			return &TransientError{Op: "op", Err: errors.New("boom")}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("executor did not observe cancellation")
	}
}

func TestFromStatusClassification(t *testing.T) {
	assert.ErrorIs(t, FromStatus("op", 404, 0), ErrNotFound)
	assert.ErrorIs(t, FromStatus("op", 410, 0), ErrNotFound)

	var th *ThrottleError
	require.ErrorAs(t, FromStatus("op", 429, 7*time.Second), &th)
	assert.Equal(t, 7*time.Second, th.RetryAfter)
	assert.ErrorAs(t, FromStatus("op", 403, 0), &th)

	var te *TransientError
	assert.ErrorAs(t, FromStatus("op", 503, 0), &te)

	err := FromStatus("op", 418, 0)
	assert.False(t, Retryable(err))
}
