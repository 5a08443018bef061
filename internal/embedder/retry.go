package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds how long a rate limited batch keeps being retried.
// The wait before retry n (0-based) is BaseDelay * 2^n.
type RetryPolicy struct {
	MaxRetries int           // Retries after the first call; 0 disables retrying
	BaseDelay  time.Duration // Wait before the first retry
}

// DefaultRetryPolicy waits 1s, 2s, 4s... for up to 8 retries
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  time.Second,
	}
}

// Sleeper blocks for d. It returns early with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper is the default Sleeper, backed by a real timer
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type retryOutcome int

const (
	retryPending retryOutcome = iota
	retrySucceeded
	retryFailed    // non retryable error
	retryExhausted // rate limited past MaxRetries
)

// retryState tracks one batch through its calls. observe feeds it the result
// of a call; while the outcome is pending, delay holds the wait before the
// next one.
type retryState struct {
	policy  RetryPolicy
	attempt int // rate limited calls seen so far
	delay   time.Duration
	outcome retryOutcome
	err     error
}

func (s *retryState) observe(err error) {
	switch {
	case err == nil:
		s.outcome = retrySucceeded
		s.err = nil
	case !errors.Is(err, ErrRateLimited):
		s.outcome = retryFailed
		s.err = err
	case s.attempt >= s.policy.MaxRetries:
		s.outcome = retryExhausted
		s.err = fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, s.attempt, err)
	default:
		s.delay = s.policy.BaseDelay << s.attempt
		s.attempt++
		s.err = err
	}
}

func (s *retryState) done() bool {
	return s.outcome != retryPending
}

// retryRateLimited calls fn until it succeeds, fails with an error other than
// ErrRateLimited, or exhausts the policy
func retryRateLimited[T any](ctx context.Context, policy RetryPolicy, sleeper Sleeper, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	state := retryState{policy: policy}

	for {
		result, err := fn()
		state.observe(err)
		if state.done() {
			if state.outcome == retrySucceeded {
				return result, nil
			}
			return zero, state.err
		}

		logger.Warn("rate limited, backing off",
			"attempt", state.attempt, "max_retries", policy.MaxRetries, "delay", state.delay)

		if err := sleeper.Sleep(ctx, state.delay); err != nil {
			return zero, fmt.Errorf("waiting after rate limit: %w", err)
		}
	}
}
