package httpx

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy is the executor's knobs, built once from config.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration // first backoff step
	MaxDelay      time.Duration // cap for any single delay
	ThrottleFloor time.Duration // minimum delay after a throttle signal
	Cooldown      time.Duration // quiet period imposed on the caller after a throttle

	// OnRetry, when set, is called once per re-attempt before its backoff
	// sleep; it feeds the retry counter.
	OnRetry func()
}

// Executor runs one network operation at a time under a uniform retry and
// backoff policy. A throttle signal additionally arms a cooldown that delays
// the caller's next operation, whichever it is; share one Executor per
// logical caller (walker, detail fetcher, phone resolver), not globally.
type Executor struct {
	policy RetryPolicy
	log    zerolog.Logger

	mu        sync.Mutex
	coolUntil time.Time

	// seams for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewExecutor(policy RetryPolicy, log zerolog.Logger) *Executor {
	return &Executor{
		policy: policy,
		log:    log.With().Str("component", "executor").Logger(),
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The delay before attempt i+1 is the exponential
// backoff step for i plus up to 25% jitter, capped at MaxDelay; throttle
// errors raise the step to at least ThrottleFloor (or the server's
// Retry-After) and arm the cooldown for subsequent operations.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := e.awaitCooldown(ctx); err != nil {
		return err
	}

	var last error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
		last = err

		var th *ThrottleError
		if errors.As(err, &th) {
			e.armCooldown()
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		if e.policy.OnRetry != nil {
			e.policy.OnRetry()
		}

		delay := e.backoff(attempt, err)
		e.log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying")
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return &ExhaustedError{Op: op, Attempts: e.policy.MaxAttempts, Last: last}
}

// backoff computes the delay after the given failed attempt (1-based).
// Jitter stays under one exponential step so delays never shrink between
// consecutive attempts.
func (e *Executor) backoff(attempt int, cause error) time.Duration {
	step := e.policy.BaseDelay << (attempt - 1)
	if step <= 0 || step > e.policy.MaxDelay {
		step = e.policy.MaxDelay
	}
	delay := step + time.Duration(rand.Int64N(int64(step)/4+1))

	var th *ThrottleError
	if errors.As(cause, &th) {
		floor := e.policy.ThrottleFloor
		if th.RetryAfter > floor {
			floor = th.RetryAfter
		}
		if delay < floor {
			delay = floor
		}
		return delay
	}
	if delay > e.policy.MaxDelay {
		delay = e.policy.MaxDelay
	}
	return delay
}

func (e *Executor) armCooldown() {
	if e.policy.Cooldown <= 0 {
		return
	}
	until := e.now().Add(e.policy.Cooldown)
	e.mu.Lock()
	if until.After(e.coolUntil) {
		e.coolUntil = until
	}
	e.mu.Unlock()
}

// awaitCooldown blocks out the remainder of a previously armed cooldown
// before the first attempt of a new operation.
func (e *Executor) awaitCooldown(ctx context.Context) error {
	e.mu.Lock()
	wait := e.coolUntil.Sub(e.now())
	e.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	e.log.Debug().Dur("wait", wait).Msg("throttle cooldown active")
	return e.sleep(ctx, wait)
}

// CooldownRemaining exposes the active cooldown for instrumentation.
func (e *Executor) CooldownRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.coolUntil.Sub(e.now()); r > 0 {
		return r
	}
	return 0
}
